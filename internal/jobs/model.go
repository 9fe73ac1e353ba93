package jobs

import "time"

// PostingStatus is the lifecycle state of a job posting.
type PostingStatus string

const (
	StatusActive PostingStatus = "active"
	StatusClosed PostingStatus = "closed"
	StatusFilled PostingStatus = "filled"
)

// ParsePostingStatus accepts the known statuses.
func ParsePostingStatus(raw string) (PostingStatus, bool) {
	switch status := PostingStatus(raw); status {
	case StatusActive, StatusClosed, StatusFilled:
		return status, true
	default:
		return "", false
	}
}

// ApplicationStatus tracks an application after it is made.
type ApplicationStatus string

const ApplicationPending ApplicationStatus = "pending"

// JobPosting is a job offered by an employer.
type JobPosting struct {
	ID            string        `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	EmployerID    string        `gorm:"column:employer_id;size:190;not null;index" json:"employerId"`
	Title         string        `gorm:"column:title;size:255;not null" json:"title"`
	Description   string        `gorm:"column:description;type:text;not null" json:"description"`
	Location      *string       `gorm:"column:location;size:255" json:"location"`
	PayRate       *string       `gorm:"column:pay_rate;size:255" json:"payRate"`
	Requirements  *string       `gorm:"column:requirements;type:text" json:"requirements"`
	StartDate     *time.Time    `gorm:"column:start_date" json:"startDate"`
	EndDate       *time.Time    `gorm:"column:end_date" json:"endDate"`
	WorkersNeeded int           `gorm:"column:workers_needed;not null;default:1" json:"workersNeeded"`
	Status        PostingStatus `gorm:"column:status;size:16;not null;default:active;index" json:"status"`
	CreatedAt     time.Time     `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt     time.Time     `gorm:"column:updated_at;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (JobPosting) TableName() string {
	return "job_postings"
}

// PostingWithCount is a posting plus the number of applications it has.
type PostingWithCount struct {
	JobPosting
	ApplicationCount int `gorm:"column:application_count" json:"applicationCount"`
}

// JobApplication is one worker applying to one posting.
type JobApplication struct {
	ID        string            `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	JobID     string            `gorm:"column:job_id;size:190;not null;uniqueIndex:idx_job_applications_job_worker,priority:1" json:"jobId"`
	WorkerID  string            `gorm:"column:worker_id;size:190;not null;uniqueIndex:idx_job_applications_job_worker,priority:2;index" json:"workerId"`
	Status    ApplicationStatus `gorm:"column:status;size:16;not null;default:pending" json:"status"`
	AppliedAt time.Time         `gorm:"column:applied_at;not null" json:"appliedAt"`
}

// TableName provides the explicit table binding for GORM.
func (JobApplication) TableName() string {
	return "job_applications"
}

// ApplicationWithJob is a worker's application joined with the posting.
type ApplicationWithJob struct {
	ID             string            `json:"id"`
	JobID          string            `json:"jobId"`
	WorkerID       string            `json:"workerId"`
	Status         ApplicationStatus `json:"status"`
	AppliedAt      time.Time         `json:"appliedAt"`
	JobTitle       string            `json:"jobTitle"`
	JobDescription string            `json:"jobDescription"`
	JobLocation    *string           `json:"jobLocation"`
	JobPayRate     *string           `json:"jobPayRate"`
	JobStatus      PostingStatus     `json:"jobStatus"`
}

// Applicant is an application joined with the applying worker's profile.
type Applicant struct {
	ApplicationID  string            `json:"applicationId"`
	WorkerID       string            `json:"workerId"`
	Status         ApplicationStatus `json:"status"`
	AppliedAt      time.Time         `json:"appliedAt"`
	WorkerName     string            `json:"workerName"`
	WorkerUsername string            `json:"workerUsername"`
}

// WorkerJobHistory is a past job a worker lists on their profile.
type WorkerJobHistory struct {
	ID               string     `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	WorkerID         string     `gorm:"column:worker_id;size:190;not null;index" json:"workerId"`
	Employer         string     `gorm:"column:employer;size:255;not null" json:"employer"`
	Position         string     `gorm:"column:position;size:255;not null" json:"position"`
	StartDate        time.Time  `gorm:"column:start_date;not null" json:"startDate"`
	EndDate          *time.Time `gorm:"column:end_date" json:"endDate"`
	Responsibilities *string    `gorm:"column:responsibilities;type:text" json:"responsibilities"`
	CreatedAt        time.Time  `gorm:"column:created_at;not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (WorkerJobHistory) TableName() string {
	return "worker_job_history"
}

// Worker is a record in the standalone worker directory.
type Worker struct {
	ID               string        `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	FirstName        string        `gorm:"column:first_name;size:120;not null" json:"firstName"`
	LastName         string        `gorm:"column:last_name;size:120;not null" json:"lastName"`
	Email            *string       `gorm:"column:email;size:320" json:"email"`
	PhoneNumber      *string       `gorm:"column:phone_number;size:64" json:"phoneNumber"`
	Birthdate        *time.Time    `gorm:"column:birthdate" json:"birthdate"`
	Address          *string       `gorm:"column:address;size:512" json:"address"`
	EmergencyContact *string       `gorm:"column:emergency_contact;size:255" json:"emergencyContact"`
	EmergencyPhone   *string       `gorm:"column:emergency_phone;size:64" json:"emergencyPhone"`
	Role             *string       `gorm:"column:role;size:120" json:"role"`
	CreatedAt        time.Time     `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt        time.Time     `gorm:"column:updated_at;not null" json:"updatedAt"`
	WorkHistory      []WorkHistory `gorm:"foreignKey:WorkerID;references:ID" json:"workHistory,omitempty"`
	Skills           []Skill       `gorm:"foreignKey:WorkerID;references:ID" json:"skills,omitempty"`
	Documents        []Document    `gorm:"foreignKey:WorkerID;references:ID" json:"documents,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Worker) TableName() string {
	return "workers"
}

// WorkHistory is one entry in a directory worker's employment record.
type WorkHistory struct {
	ID               string     `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	WorkerID         string     `gorm:"column:worker_id;size:190;not null;index" json:"workerId"`
	Employer         string     `gorm:"column:employer;size:255;not null" json:"employer"`
	Position         string     `gorm:"column:position;size:255;not null" json:"position"`
	StartDate        time.Time  `gorm:"column:start_date;not null" json:"startDate"`
	EndDate          *time.Time `gorm:"column:end_date" json:"endDate"`
	Responsibilities *string    `gorm:"column:responsibilities;type:text" json:"responsibilities"`
}

// TableName provides the explicit table binding for GORM.
func (WorkHistory) TableName() string {
	return "work_history"
}

// Skill is a named skill with an optional proficiency level.
type Skill struct {
	ID               string  `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	WorkerID         string  `gorm:"column:worker_id;size:190;not null;index" json:"workerId"`
	SkillName        string  `gorm:"column:skill_name;size:120;not null" json:"skillName"`
	ProficiencyLevel *string `gorm:"column:proficiency_level;size:64" json:"proficiencyLevel"`
}

// TableName provides the explicit table binding for GORM.
func (Skill) TableName() string {
	return "skills"
}

// Document points at a file stored for a directory worker.
type Document struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	WorkerID     string    `gorm:"column:worker_id;size:190;not null;index" json:"workerId"`
	DocumentName string    `gorm:"column:document_name;size:255;not null" json:"documentName"`
	DocumentType *string   `gorm:"column:document_type;size:120" json:"documentType"`
	DocumentURL  string    `gorm:"column:document_url;size:1024;not null" json:"documentUrl"`
	UploadedAt   time.Time `gorm:"column:uploaded_at;not null" json:"uploadedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// Models lists the persisted job board types in migration order.
func Models() []interface{} {
	return []interface{}{
		&JobPosting{},
		&JobApplication{},
		&WorkerJobHistory{},
		&Worker{},
		&WorkHistory{},
		&Skill{},
		&Document{},
	}
}
