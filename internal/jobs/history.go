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
	opListMyHistory = "jobs.list_my_history"
	opAddHistory    = "jobs.add_history"
	opUpdateHistory = "jobs.update_history"
	opDeleteHistory = "jobs.delete_history"
)

// HistoryEntry describes a past job.
type HistoryEntry struct {
	Employer         string     `json:"employer"`
	Position         string     `json:"position"`
	StartDate        time.Time  `json:"startDate"`
	EndDate          *time.Time `json:"endDate"`
	Responsibilities *string    `json:"responsibilities"`
}

// HistoryUpdate changes the fields that are set.
type HistoryUpdate struct {
	Employer         *string    `json:"employer"`
	Position         *string    `json:"position"`
	StartDate        *time.Time `json:"startDate"`
	EndDate          *time.Time `json:"endDate"`
	Responsibilities *string    `json:"responsibilities"`
}

// ListMyHistory returns workerID's job history, most recent start first.
func (s *Service) ListMyHistory(ctx context.Context, workerID string) ([]WorkerJobHistory, error) {
	history := []WorkerJobHistory{}
	err := s.db.WithContext(ctx).Where("worker_id = ?", workerID).Order("start_date DESC").Find(&history).Error
	if err != nil {
		s.logError(opListMyHistory, "query_failed", err, zap.String("worker_id", workerID))
		return nil, apperr.New(opListMyHistory, "query_failed", apperr.KindInternal, err)
	}
	return history, nil
}

// AddHistory stores a history entry for workerID.
func (s *Service) AddHistory(ctx context.Context, workerID string, entry HistoryEntry) (WorkerJobHistory, error) {
	employer, err := requireText(opAddHistory, "employer", entry.Employer)
	if err != nil {
		return WorkerJobHistory{}, err
	}
	position, err := requireText(opAddHistory, "position", entry.Position)
	if err != nil {
		return WorkerJobHistory{}, err
	}
	if entry.StartDate.IsZero() {
		return WorkerJobHistory{}, apperr.Invalid(opAddHistory, "start_date", errors.New("required"))
	}
	if err := validateDateRange(opAddHistory, &entry.StartDate, entry.EndDate); err != nil {
		return WorkerJobHistory{}, err
	}
	id, err := s.generateID(opAddHistory)
	if err != nil {
		return WorkerJobHistory{}, err
	}
	record := WorkerJobHistory{
		ID:               id,
		WorkerID:         workerID,
		Employer:         employer,
		Position:         position,
		StartDate:        entry.StartDate,
		EndDate:          entry.EndDate,
		Responsibilities: optionalText(entry.Responsibilities),
		CreatedAt:        s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opAddHistory, "insert_failed", err, zap.String("worker_id", workerID))
		return WorkerJobHistory{}, apperr.New(opAddHistory, "insert_failed", apperr.KindInternal, err)
	}
	return record, nil
}

// UpdateHistory applies update to an entry owned by workerID.
func (s *Service) UpdateHistory(ctx context.Context, workerID, entryID string, update HistoryUpdate) (WorkerJobHistory, error) {
	record, err := s.ownedHistory(ctx, opUpdateHistory, workerID, entryID)
	if err != nil {
		return WorkerJobHistory{}, err
	}
	changes := map[string]interface{}{}
	if update.Employer != nil {
		employer, err := requireText(opUpdateHistory, "employer", *update.Employer)
		if err != nil {
			return WorkerJobHistory{}, err
		}
		changes["employer"] = employer
	}
	if update.Position != nil {
		position, err := requireText(opUpdateHistory, "position", *update.Position)
		if err != nil {
			return WorkerJobHistory{}, err
		}
		changes["position"] = position
	}
	start, end := record.StartDate, record.EndDate
	if update.StartDate != nil {
		start = *update.StartDate
		changes["start_date"] = start
	}
	if update.EndDate != nil {
		end = update.EndDate
		changes["end_date"] = end
	}
	if err := validateDateRange(opUpdateHistory, &start, end); err != nil {
		return WorkerJobHistory{}, err
	}
	if update.Responsibilities != nil {
		changes["responsibilities"] = optionalText(update.Responsibilities)
	}
	if len(changes) > 0 {
		if err := s.db.WithContext(ctx).Model(&WorkerJobHistory{}).Where("id = ?", record.ID).Updates(changes).Error; err != nil {
			s.logError(opUpdateHistory, "update_failed", err, zap.String("entry_id", record.ID))
			return WorkerJobHistory{}, apperr.New(opUpdateHistory, "update_failed", apperr.KindInternal, err)
		}
	}
	return s.loadHistory(ctx, opUpdateHistory, record.ID)
}

// DeleteHistory removes an entry owned by workerID.
func (s *Service) DeleteHistory(ctx context.Context, workerID, entryID string) error {
	record, err := s.ownedHistory(ctx, opDeleteHistory, workerID, entryID)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("id = ?", record.ID).Delete(&WorkerJobHistory{}).Error; err != nil {
		s.logError(opDeleteHistory, "delete_failed", err, zap.String("entry_id", record.ID))
		return apperr.New(opDeleteHistory, "delete_failed", apperr.KindInternal, err)
	}
	return nil
}

func (s *Service) ownedHistory(ctx context.Context, operation, workerID, entryID string) (WorkerJobHistory, error) {
	record, err := s.loadHistory(ctx, operation, entryID)
	if err != nil {
		return WorkerJobHistory{}, err
	}
	if record.WorkerID != workerID {
		return WorkerJobHistory{}, apperr.New(operation, "not_owner", apperr.KindForbidden, nil)
	}
	return record, nil
}

func (s *Service) loadHistory(ctx context.Context, operation, entryID string) (WorkerJobHistory, error) {
	var record WorkerJobHistory
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(entryID)).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return WorkerJobHistory{}, apperr.New(operation, "history_not_found", apperr.KindNotFound, err)
	}
	if err != nil {
		s.logError(operation, "history_query_failed", err, zap.String("entry_id", entryID))
		return WorkerJobHistory{}, apperr.New(operation, "history_query_failed", apperr.KindInternal, err)
	}
	return record, nil
}
