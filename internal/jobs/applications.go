package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opApplyToJob                  = "jobs.apply"
	opWithdrawApplication         = "jobs.withdraw_application"
	opListMyApplications          = "jobs.list_my_applications"
	opListJobApplications         = "jobs.list_job_applications"
	opListApplicationsWithWorkers = "jobs.list_applicants"
	opHasApplied                  = "jobs.has_applied"

	// The insert only happens while the posting is active and below capacity,
	// so concurrent applicants cannot overshoot workers_needed.
	conditionalApplicationInsert = `INSERT INTO job_applications (id, job_id, worker_id, status, applied_at)
SELECT ?, ?, ?, ?, ?%s
WHERE EXISTS (
	SELECT 1 FROM job_postings
	WHERE job_postings.id = ?
	AND job_postings.status = ?
	AND (SELECT COUNT(*) FROM job_applications WHERE job_applications.job_id = ?) < job_postings.workers_needed
)`
)

var (
	// ErrCapacityReached reports that a posting already has as many
	// applications as workers needed.
	ErrCapacityReached = errors.New("job has reached its worker limit")
	// ErrNotAccepting reports that a posting is closed or filled.
	ErrNotAccepting = errors.New("job is no longer accepting applications")
	// ErrAlreadyApplied reports a second application by the same worker.
	ErrAlreadyApplied = errors.New("already applied to this job")
)

// applicationInsertSQL renders the conditional insert for dialect. MySQL
// before 8.0 needs a FROM clause on a SELECT carrying a WHERE.
func applicationInsertSQL(dialect string) string {
	fromClause := ""
	if dialect == "mysql" {
		fromClause = " FROM DUAL"
	}
	return fmt.Sprintf(conditionalApplicationInsert, fromClause)
}

// ApplyToJob records workerID's application to jobID.
func (s *Service) ApplyToJob(ctx context.Context, workerID, jobID string) (application JobApplication, err error) {
	defer func() {
		metrics.JobApplicationsTotal.WithLabelValues(applicationOutcome(err)).Inc()
	}()

	posting, err := s.loadPosting(ctx, opApplyToJob, jobID)
	if err != nil {
		return JobApplication{}, err
	}
	if posting.Status != StatusActive {
		return JobApplication{}, apperr.New(opApplyToJob, "not_active", apperr.KindValidation, ErrNotAccepting)
	}
	applied, err := s.HasApplied(ctx, workerID, posting.ID)
	if err != nil {
		return JobApplication{}, err
	}
	if applied {
		return JobApplication{}, apperr.New(opApplyToJob, "already_applied", apperr.KindConflict, ErrAlreadyApplied)
	}

	id, err := s.generateID(opApplyToJob)
	if err != nil {
		return JobApplication{}, err
	}
	application = JobApplication{
		ID:        id,
		JobID:     posting.ID,
		WorkerID:  workerID,
		Status:    ApplicationPending,
		AppliedAt: s.now(),
	}

	var inserted int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() != "sqlite" {
			// Serializes applicants for the same posting.
			var locked JobPosting
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", posting.ID).Take(&locked).Error; err != nil {
				return err
			}
		}
		result := tx.Exec(applicationInsertSQL(tx.Dialector.Name()),
			application.ID, application.JobID, application.WorkerID, application.Status, application.AppliedAt,
			posting.ID, StatusActive, posting.ID)
		inserted = result.RowsAffected
		return result.Error
	})
	if txErr != nil {
		if errors.Is(txErr, gorm.ErrDuplicatedKey) {
			return JobApplication{}, apperr.New(opApplyToJob, "already_applied", apperr.KindConflict, ErrAlreadyApplied)
		}
		s.logError(opApplyToJob, "insert_failed", txErr, zap.String("job_id", posting.ID))
		return JobApplication{}, apperr.New(opApplyToJob, "insert_failed", apperr.KindInternal, txErr)
	}
	if inserted == 0 {
		return JobApplication{}, apperr.New(opApplyToJob, "capacity_reached", apperr.KindConflict, ErrCapacityReached)
	}
	return application, nil
}

func applicationOutcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrCapacityReached):
		return "capacity_reached"
	case errors.Is(err, ErrAlreadyApplied):
		return "duplicate"
	case errors.Is(err, ErrNotAccepting):
		return "not_active"
	default:
		return "error"
	}
}

// WithdrawApplication deletes workerID's application to jobID and returns it.
func (s *Service) WithdrawApplication(ctx context.Context, workerID, jobID string) (JobApplication, error) {
	var application JobApplication
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("job_id = ? AND worker_id = ?", strings.TrimSpace(jobID), workerID).Take(&application).Error
		if err != nil {
			return err
		}
		return tx.Where("id = ?", application.ID).Delete(&JobApplication{}).Error
	})
	if errors.Is(txErr, gorm.ErrRecordNotFound) {
		return JobApplication{}, apperr.New(opWithdrawApplication, "application_not_found", apperr.KindNotFound, txErr)
	}
	if txErr != nil {
		s.logError(opWithdrawApplication, "delete_failed", txErr, zap.String("job_id", jobID))
		return JobApplication{}, apperr.New(opWithdrawApplication, "delete_failed", apperr.KindInternal, txErr)
	}
	return application, nil
}

// ListMyApplications returns workerID's applications joined with their postings.
func (s *Service) ListMyApplications(ctx context.Context, workerID string) ([]ApplicationWithJob, error) {
	applications := []ApplicationWithJob{}
	err := s.db.WithContext(ctx).
		Table("job_applications").
		Select(`job_applications.id AS id,
			job_applications.job_id AS job_id,
			job_applications.worker_id AS worker_id,
			job_applications.status AS status,
			job_applications.applied_at AS applied_at,
			job_postings.title AS job_title,
			job_postings.description AS job_description,
			job_postings.location AS job_location,
			job_postings.pay_rate AS job_pay_rate,
			job_postings.status AS job_status`).
		Joins("JOIN job_postings ON job_postings.id = job_applications.job_id").
		Where("job_applications.worker_id = ?", workerID).
		Order("job_applications.applied_at DESC").
		Scan(&applications).Error
	if err != nil {
		s.logError(opListMyApplications, "query_failed", err, zap.String("worker_id", workerID))
		return nil, apperr.New(opListMyApplications, "query_failed", apperr.KindInternal, err)
	}
	return applications, nil
}

// ListJobApplications returns the applications to a posting owned by employerID.
func (s *Service) ListJobApplications(ctx context.Context, employerID, jobID string) ([]JobApplication, error) {
	posting, err := s.ownedPosting(ctx, opListJobApplications, employerID, jobID)
	if err != nil {
		return nil, err
	}
	applications := []JobApplication{}
	err = s.db.WithContext(ctx).Where("job_id = ?", posting.ID).Order("applied_at ASC").Find(&applications).Error
	if err != nil {
		s.logError(opListJobApplications, "query_failed", err, zap.String("job_id", posting.ID))
		return nil, apperr.New(opListJobApplications, "query_failed", apperr.KindInternal, err)
	}
	return applications, nil
}

// ListApplicationsWithWorkers returns applicants to a posting owned by
// employerID with their display names.
func (s *Service) ListApplicationsWithWorkers(ctx context.Context, employerID, jobID string) ([]Applicant, error) {
	posting, err := s.ownedPosting(ctx, opListApplicationsWithWorkers, employerID, jobID)
	if err != nil {
		return nil, err
	}
	applicants := []Applicant{}
	err = s.db.WithContext(ctx).
		Table("job_applications").
		Select(`job_applications.id AS application_id,
			job_applications.worker_id AS worker_id,
			job_applications.status AS status,
			job_applications.applied_at AS applied_at,
			profiles.display_name AS worker_name,
			profiles.username AS worker_username`).
		Joins("JOIN profiles ON profiles.id = job_applications.worker_id").
		Where("job_applications.job_id = ?", posting.ID).
		Order("job_applications.applied_at ASC").
		Scan(&applicants).Error
	if err != nil {
		s.logError(opListApplicationsWithWorkers, "query_failed", err, zap.String("job_id", posting.ID))
		return nil, apperr.New(opListApplicationsWithWorkers, "query_failed", apperr.KindInternal, err)
	}
	return applicants, nil
}

// HasApplied reports whether workerID already applied to jobID.
func (s *Service) HasApplied(ctx context.Context, workerID, jobID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&JobApplication{}).
		Where("job_id = ? AND worker_id = ?", strings.TrimSpace(jobID), workerID).
		Count(&count).Error
	if err != nil {
		s.logError(opHasApplied, "query_failed", err, zap.String("job_id", jobID))
		return false, apperr.New(opHasApplied, "query_failed", apperr.KindInternal, err)
	}
	return count > 0, nil
}
