package jobs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opListWorkers       = "jobs.list_workers"
	opGetWorker         = "jobs.get_worker"
	opCreateWorker      = "jobs.create_worker"
	opUpdateWorker      = "jobs.update_worker"
	opDeleteWorker      = "jobs.delete_worker"
	opAddWorkHistory    = "jobs.add_work_history"
	opUpdateWorkHistory = "jobs.update_work_history"
	opDeleteWorkHistory = "jobs.delete_work_history"
	opAddSkill          = "jobs.add_skill"
	opUpdateSkill       = "jobs.update_skill"
	opDeleteSkill       = "jobs.delete_skill"
	opAddDocument       = "jobs.add_document"
	opDeleteDocument    = "jobs.delete_document"
)

// WorkerInput creates or replaces the editable fields of a directory worker.
type WorkerInput struct {
	FirstName        string     `json:"firstName"`
	LastName         string     `json:"lastName"`
	Email            *string    `json:"email"`
	PhoneNumber      *string    `json:"phoneNumber"`
	Birthdate        *time.Time `json:"birthdate"`
	Address          *string    `json:"address"`
	EmergencyContact *string    `json:"emergencyContact"`
	EmergencyPhone   *string    `json:"emergencyPhone"`
	Role             *string    `json:"role"`
}

// WorkHistoryInput is one employment record for a directory worker.
type WorkHistoryInput struct {
	WorkerID         string     `json:"workerId"`
	Employer         string     `json:"employer"`
	Position         string     `json:"position"`
	StartDate        time.Time  `json:"startDate"`
	EndDate          *time.Time `json:"endDate"`
	Responsibilities *string    `json:"responsibilities"`
}

// SkillInput is one skill for a directory worker.
type SkillInput struct {
	WorkerID         string  `json:"workerId"`
	SkillName        string  `json:"skillName"`
	ProficiencyLevel *string `json:"proficiencyLevel"`
}

// DocumentInput points at an uploaded document for a directory worker.
type DocumentInput struct {
	WorkerID     string  `json:"workerId"`
	DocumentName string  `json:"documentName"`
	DocumentType *string `json:"documentType"`
	DocumentURL  string  `json:"documentUrl"`
}

// ListWorkers returns the directory, newest first.
func (s *Service) ListWorkers(ctx context.Context) ([]Worker, error) {
	workers := []Worker{}
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&workers).Error; err != nil {
		s.logError(opListWorkers, "query_failed", err)
		return nil, apperr.New(opListWorkers, "query_failed", apperr.KindInternal, err)
	}
	return workers, nil
}

// GetWorker loads a worker with work history, skills and documents.
func (s *Service) GetWorker(ctx context.Context, workerID string) (Worker, error) {
	var worker Worker
	err := s.db.WithContext(ctx).
		Preload("WorkHistory", func(db *gorm.DB) *gorm.DB { return db.Order("start_date DESC") }).
		Preload("Skills").
		Preload("Documents").
		Where("id = ?", strings.TrimSpace(workerID)).
		Take(&worker).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Worker{}, apperr.New(opGetWorker, "worker_not_found", apperr.KindNotFound, err)
	}
	if err != nil {
		s.logError(opGetWorker, "query_failed", err, zap.String("worker_id", workerID))
		return Worker{}, apperr.New(opGetWorker, "query_failed", apperr.KindInternal, err)
	}
	return worker, nil
}

// CreateWorker adds a worker to the directory.
func (s *Service) CreateWorker(ctx context.Context, input WorkerInput) (Worker, error) {
	firstName, err := requireText(opCreateWorker, "first_name", input.FirstName)
	if err != nil {
		return Worker{}, err
	}
	lastName, err := requireText(opCreateWorker, "last_name", input.LastName)
	if err != nil {
		return Worker{}, err
	}
	id, err := s.generateID(opCreateWorker)
	if err != nil {
		return Worker{}, err
	}
	now := s.now()
	worker := Worker{
		ID:               id,
		FirstName:        firstName,
		LastName:         lastName,
		Email:            optionalText(input.Email),
		PhoneNumber:      optionalText(input.PhoneNumber),
		Birthdate:        input.Birthdate,
		Address:          optionalText(input.Address),
		EmergencyContact: optionalText(input.EmergencyContact),
		EmergencyPhone:   optionalText(input.EmergencyPhone),
		Role:             optionalText(input.Role),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.db.WithContext(ctx).Omit("WorkHistory", "Skills", "Documents").Create(&worker).Error; err != nil {
		s.logError(opCreateWorker, "insert_failed", err)
		return Worker{}, apperr.New(opCreateWorker, "insert_failed", apperr.KindInternal, err)
	}
	return worker, nil
}

// UpdateWorker replaces the editable fields of a directory worker.
func (s *Service) UpdateWorker(ctx context.Context, workerID string, input WorkerInput) (Worker, error) {
	firstName, err := requireText(opUpdateWorker, "first_name", input.FirstName)
	if err != nil {
		return Worker{}, err
	}
	lastName, err := requireText(opUpdateWorker, "last_name", input.LastName)
	if err != nil {
		return Worker{}, err
	}
	changes := map[string]interface{}{
		"first_name":        firstName,
		"last_name":         lastName,
		"email":             optionalText(input.Email),
		"phone_number":      optionalText(input.PhoneNumber),
		"birthdate":         input.Birthdate,
		"address":           optionalText(input.Address),
		"emergency_contact": optionalText(input.EmergencyContact),
		"emergency_phone":   optionalText(input.EmergencyPhone),
		"role":              optionalText(input.Role),
		"updated_at":        s.now(),
	}
	if err := s.updateRow(ctx, opUpdateWorker, &Worker{}, workerID, changes); err != nil {
		return Worker{}, err
	}
	return s.GetWorker(ctx, workerID)
}

// DeleteWorker removes a worker and everything attached to it.
func (s *Service) DeleteWorker(ctx context.Context, workerID string) error {
	id := strings.TrimSpace(workerID)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, child := range []interface{}{&WorkHistory{}, &Skill{}, &Document{}} {
			if err := tx.Where("worker_id = ?", id).Delete(child).Error; err != nil {
				return err
			}
		}
		result := tx.Where("id = ?", id).Delete(&Worker{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if errors.Is(txErr, gorm.ErrRecordNotFound) {
		return apperr.New(opDeleteWorker, "worker_not_found", apperr.KindNotFound, txErr)
	}
	if txErr != nil {
		s.logError(opDeleteWorker, "delete_failed", txErr, zap.String("worker_id", id))
		return apperr.New(opDeleteWorker, "delete_failed", apperr.KindInternal, txErr)
	}
	return nil
}

// AddWorkHistory records employment for a directory worker.
func (s *Service) AddWorkHistory(ctx context.Context, input WorkHistoryInput) (WorkHistory, error) {
	employer, err := requireText(opAddWorkHistory, "employer", input.Employer)
	if err != nil {
		return WorkHistory{}, err
	}
	position, err := requireText(opAddWorkHistory, "position", input.Position)
	if err != nil {
		return WorkHistory{}, err
	}
	if input.StartDate.IsZero() {
		return WorkHistory{}, apperr.Invalid(opAddWorkHistory, "start_date", errors.New("required"))
	}
	if err := s.requireWorker(ctx, opAddWorkHistory, input.WorkerID); err != nil {
		return WorkHistory{}, err
	}
	id, err := s.generateID(opAddWorkHistory)
	if err != nil {
		return WorkHistory{}, err
	}
	record := WorkHistory{
		ID:               id,
		WorkerID:         input.WorkerID,
		Employer:         employer,
		Position:         position,
		StartDate:        input.StartDate,
		EndDate:          input.EndDate,
		Responsibilities: optionalText(input.Responsibilities),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opAddWorkHistory, "insert_failed", err)
		return WorkHistory{}, apperr.New(opAddWorkHistory, "insert_failed", apperr.KindInternal, err)
	}
	return record, nil
}

// UpdateWorkHistory replaces an employment record.
func (s *Service) UpdateWorkHistory(ctx context.Context, recordID string, input WorkHistoryInput) error {
	employer, err := requireText(opUpdateWorkHistory, "employer", input.Employer)
	if err != nil {
		return err
	}
	position, err := requireText(opUpdateWorkHistory, "position", input.Position)
	if err != nil {
		return err
	}
	changes := map[string]interface{}{
		"employer":         employer,
		"position":         position,
		"end_date":         input.EndDate,
		"responsibilities": optionalText(input.Responsibilities),
	}
	if !input.StartDate.IsZero() {
		changes["start_date"] = input.StartDate
	}
	return s.updateRow(ctx, opUpdateWorkHistory, &WorkHistory{}, recordID, changes)
}

// DeleteWorkHistory removes an employment record.
func (s *Service) DeleteWorkHistory(ctx context.Context, recordID string) error {
	return s.deleteRow(ctx, opDeleteWorkHistory, &WorkHistory{}, recordID)
}

// AddSkill records a skill for a directory worker.
func (s *Service) AddSkill(ctx context.Context, input SkillInput) (Skill, error) {
	name, err := requireText(opAddSkill, "skill_name", input.SkillName)
	if err != nil {
		return Skill{}, err
	}
	if err := s.requireWorker(ctx, opAddSkill, input.WorkerID); err != nil {
		return Skill{}, err
	}
	id, err := s.generateID(opAddSkill)
	if err != nil {
		return Skill{}, err
	}
	skill := Skill{ID: id, WorkerID: input.WorkerID, SkillName: name, ProficiencyLevel: optionalText(input.ProficiencyLevel)}
	if err := s.db.WithContext(ctx).Create(&skill).Error; err != nil {
		s.logError(opAddSkill, "insert_failed", err)
		return Skill{}, apperr.New(opAddSkill, "insert_failed", apperr.KindInternal, err)
	}
	return skill, nil
}

// UpdateSkill renames a skill or changes its proficiency.
func (s *Service) UpdateSkill(ctx context.Context, skillID string, input SkillInput) error {
	name, err := requireText(opUpdateSkill, "skill_name", input.SkillName)
	if err != nil {
		return err
	}
	changes := map[string]interface{}{"skill_name": name, "proficiency_level": optionalText(input.ProficiencyLevel)}
	return s.updateRow(ctx, opUpdateSkill, &Skill{}, skillID, changes)
}

// DeleteSkill removes a skill.
func (s *Service) DeleteSkill(ctx context.Context, skillID string) error {
	return s.deleteRow(ctx, opDeleteSkill, &Skill{}, skillID)
}

// AddDocument attaches an uploaded document to a directory worker.
func (s *Service) AddDocument(ctx context.Context, input DocumentInput) (Document, error) {
	name, err := requireText(opAddDocument, "document_name", input.DocumentName)
	if err != nil {
		return Document{}, err
	}
	url, err := requireText(opAddDocument, "document_url", input.DocumentURL)
	if err != nil {
		return Document{}, err
	}
	if err := s.requireWorker(ctx, opAddDocument, input.WorkerID); err != nil {
		return Document{}, err
	}
	id, err := s.generateID(opAddDocument)
	if err != nil {
		return Document{}, err
	}
	document := Document{
		ID:           id,
		WorkerID:     input.WorkerID,
		DocumentName: name,
		DocumentType: optionalText(input.DocumentType),
		DocumentURL:  url,
		UploadedAt:   s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&document).Error; err != nil {
		s.logError(opAddDocument, "insert_failed", err)
		return Document{}, apperr.New(opAddDocument, "insert_failed", apperr.KindInternal, err)
	}
	return document, nil
}

// DeleteDocument removes a document record.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	return s.deleteRow(ctx, opDeleteDocument, &Document{}, documentID)
}

func (s *Service) requireWorker(ctx context.Context, operation, workerID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Worker{}).Where("id = ?", strings.TrimSpace(workerID)).Count(&count).Error; err != nil {
		s.logError(operation, "worker_query_failed", err, zap.String("worker_id", workerID))
		return apperr.New(operation, "worker_query_failed", apperr.KindInternal, err)
	}
	if count == 0 {
		return apperr.New(operation, "worker_not_found", apperr.KindNotFound, nil)
	}
	return nil
}

func (s *Service) updateRow(ctx context.Context, operation string, model interface{}, id string, changes map[string]interface{}) error {
	result := s.db.WithContext(ctx).Model(model).Where("id = ?", strings.TrimSpace(id)).Updates(changes)
	if result.Error != nil {
		s.logError(operation, "update_failed", result.Error, zap.String("id", id))
		return apperr.New(operation, "update_failed", apperr.KindInternal, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	// MySQL reports zero affected rows when nothing changed.
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Where("id = ?", strings.TrimSpace(id)).Count(&count).Error; err != nil {
		s.logError(operation, "query_failed", err, zap.String("id", id))
		return apperr.New(operation, "query_failed", apperr.KindInternal, err)
	}
	if count == 0 {
		return apperr.New(operation, "not_found", apperr.KindNotFound, nil)
	}
	return nil
}

func (s *Service) deleteRow(ctx context.Context, operation string, model interface{}, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).Delete(model)
	if result.Error != nil {
		s.logError(operation, "delete_failed", result.Error, zap.String("id", id))
		return apperr.New(operation, "delete_failed", apperr.KindInternal, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.New(operation, "not_found", apperr.KindNotFound, nil)
	}
	return nil
}
