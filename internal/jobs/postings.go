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
	opListPostings   = "jobs.list_postings"
	opListMyPostings = "jobs.list_my_postings"
	opGetPosting     = "jobs.get_posting"
	opCreatePosting  = "jobs.create_posting"
	opUpdatePosting  = "jobs.update_posting"
	opDeletePosting  = "jobs.delete_posting"

	applicationCountColumn = "(SELECT COUNT(*) FROM job_applications WHERE job_applications.job_id = job_postings.id) AS application_count"
)

// NewPosting is the employer's request to create a posting.
type NewPosting struct {
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Location      *string    `json:"location"`
	PayRate       *string    `json:"payRate"`
	Requirements  *string    `json:"requirements"`
	StartDate     *time.Time `json:"startDate"`
	EndDate       *time.Time `json:"endDate"`
	WorkersNeeded int        `json:"workersNeeded"`
}

// PostingUpdate changes the fields that are set.
type PostingUpdate struct {
	Title         *string    `json:"title"`
	Description   *string    `json:"description"`
	Location      *string    `json:"location"`
	PayRate       *string    `json:"payRate"`
	Requirements  *string    `json:"requirements"`
	StartDate     *time.Time `json:"startDate"`
	EndDate       *time.Time `json:"endDate"`
	WorkersNeeded *int       `json:"workersNeeded"`
	Status        *string    `json:"status"`
}

// ListPostings returns every posting, newest first, with application counts.
func (s *Service) ListPostings(ctx context.Context) ([]PostingWithCount, error) {
	return s.listPostings(ctx, opListPostings, "")
}

// ListMyPostings returns the postings created by employerID.
func (s *Service) ListMyPostings(ctx context.Context, employerID string) ([]PostingWithCount, error) {
	return s.listPostings(ctx, opListMyPostings, employerID)
}

func (s *Service) listPostings(ctx context.Context, operation, employerID string) ([]PostingWithCount, error) {
	query := s.db.WithContext(ctx).Model(&JobPosting{}).Select("job_postings.*, " + applicationCountColumn)
	if employerID != "" {
		query = query.Where("job_postings.employer_id = ?", employerID)
	}
	postings := []PostingWithCount{}
	if err := query.Order("job_postings.created_at DESC").Scan(&postings).Error; err != nil {
		s.logError(operation, "query_failed", err)
		return nil, apperr.New(operation, "query_failed", apperr.KindInternal, err)
	}
	return postings, nil
}

// GetPosting loads one posting.
func (s *Service) GetPosting(ctx context.Context, postingID string) (JobPosting, error) {
	return s.loadPosting(ctx, opGetPosting, postingID)
}

// CreatePosting stores a new active posting owned by employerID.
func (s *Service) CreatePosting(ctx context.Context, employerID string, input NewPosting) (JobPosting, error) {
	title, err := requireText(opCreatePosting, "title", input.Title)
	if err != nil {
		return JobPosting{}, err
	}
	description, err := requireText(opCreatePosting, "description", input.Description)
	if err != nil {
		return JobPosting{}, err
	}
	workersNeeded := input.WorkersNeeded
	if workersNeeded == 0 {
		workersNeeded = 1
	}
	if workersNeeded < 1 {
		return JobPosting{}, apperr.Invalid(opCreatePosting, "workers_needed", errors.New("must be positive"))
	}
	if err := validateDateRange(opCreatePosting, input.StartDate, input.EndDate); err != nil {
		return JobPosting{}, err
	}
	id, err := s.generateID(opCreatePosting)
	if err != nil {
		return JobPosting{}, err
	}
	now := s.now()
	posting := JobPosting{
		ID:            id,
		EmployerID:    employerID,
		Title:         title,
		Description:   description,
		Location:      optionalText(input.Location),
		PayRate:       optionalText(input.PayRate),
		Requirements:  optionalText(input.Requirements),
		StartDate:     input.StartDate,
		EndDate:       input.EndDate,
		WorkersNeeded: workersNeeded,
		Status:        StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.db.WithContext(ctx).Create(&posting).Error; err != nil {
		s.logError(opCreatePosting, "insert_failed", err, zap.String("employer_id", employerID))
		return JobPosting{}, apperr.New(opCreatePosting, "insert_failed", apperr.KindInternal, err)
	}
	return posting, nil
}

// UpdatePosting applies update to a posting owned by employerID.
func (s *Service) UpdatePosting(ctx context.Context, employerID, postingID string, update PostingUpdate) (JobPosting, error) {
	posting, err := s.ownedPosting(ctx, opUpdatePosting, employerID, postingID)
	if err != nil {
		return JobPosting{}, err
	}

	changes := map[string]interface{}{}
	if update.Title != nil {
		title, err := requireText(opUpdatePosting, "title", *update.Title)
		if err != nil {
			return JobPosting{}, err
		}
		changes["title"] = title
	}
	if update.Description != nil {
		description, err := requireText(opUpdatePosting, "description", *update.Description)
		if err != nil {
			return JobPosting{}, err
		}
		changes["description"] = description
	}
	if update.Location != nil {
		changes["location"] = optionalText(update.Location)
	}
	if update.PayRate != nil {
		changes["pay_rate"] = optionalText(update.PayRate)
	}
	if update.Requirements != nil {
		changes["requirements"] = optionalText(update.Requirements)
	}
	startDate, endDate := posting.StartDate, posting.EndDate
	if update.StartDate != nil {
		startDate = update.StartDate
		changes["start_date"] = update.StartDate
	}
	if update.EndDate != nil {
		endDate = update.EndDate
		changes["end_date"] = update.EndDate
	}
	if err := validateDateRange(opUpdatePosting, startDate, endDate); err != nil {
		return JobPosting{}, err
	}
	if update.WorkersNeeded != nil {
		if *update.WorkersNeeded < 1 {
			return JobPosting{}, apperr.Invalid(opUpdatePosting, "workers_needed", errors.New("must be positive"))
		}
		changes["workers_needed"] = *update.WorkersNeeded
	}
	if update.Status != nil {
		status, ok := ParsePostingStatus(strings.TrimSpace(*update.Status))
		if !ok {
			return JobPosting{}, apperr.Invalid(opUpdatePosting, "status", errors.New("unknown status"))
		}
		changes["status"] = status
	}
	changes["updated_at"] = s.now()

	if err := s.db.WithContext(ctx).Model(&JobPosting{}).Where("id = ?", posting.ID).Updates(changes).Error; err != nil {
		s.logError(opUpdatePosting, "update_failed", err, zap.String("posting_id", posting.ID))
		return JobPosting{}, apperr.New(opUpdatePosting, "update_failed", apperr.KindInternal, err)
	}
	return s.loadPosting(ctx, opUpdatePosting, posting.ID)
}

// DeletePosting removes a posting owned by employerID and its applications.
func (s *Service) DeletePosting(ctx context.Context, employerID, postingID string) error {
	posting, err := s.ownedPosting(ctx, opDeletePosting, employerID, postingID)
	if err != nil {
		return err
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", posting.ID).Delete(&JobApplication{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", posting.ID).Delete(&JobPosting{}).Error
	})
	if txErr != nil {
		s.logError(opDeletePosting, "delete_failed", txErr, zap.String("posting_id", posting.ID))
		return apperr.New(opDeletePosting, "delete_failed", apperr.KindInternal, txErr)
	}
	return nil
}

func (s *Service) ownedPosting(ctx context.Context, operation, employerID, postingID string) (JobPosting, error) {
	posting, err := s.loadPosting(ctx, operation, postingID)
	if err != nil {
		return JobPosting{}, err
	}
	if posting.EmployerID != employerID {
		return JobPosting{}, apperr.New(operation, "not_owner", apperr.KindForbidden, nil)
	}
	return posting, nil
}

func (s *Service) loadPosting(ctx context.Context, operation, postingID string) (JobPosting, error) {
	var posting JobPosting
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(postingID)).Take(&posting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return JobPosting{}, apperr.New(operation, "posting_not_found", apperr.KindNotFound, err)
	}
	if err != nil {
		s.logError(operation, "posting_query_failed", err, zap.String("posting_id", postingID))
		return JobPosting{}, apperr.New(operation, "posting_query_failed", apperr.KindInternal, err)
	}
	return posting, nil
}

func validateDateRange(operation string, start, end *time.Time) error {
	if start != nil && end != nil && end.Before(*start) {
		return apperr.Invalid(operation, "end_date", errors.New("before start date"))
	}
	return nil
}
