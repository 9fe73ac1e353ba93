package users

import (
	"strings"
	"time"
)

// AccountType distinguishes job seekers from the people posting jobs.
type AccountType string

const (
	AccountTypeWorker   AccountType = "worker"
	AccountTypeEmployer AccountType = "employer"
)

// ParseAccountType normalizes raw input, defaulting to worker.
func ParseAccountType(raw string) (AccountType, bool) {
	switch AccountType(strings.ToLower(normalize(raw))) {
	case AccountTypeEmployer:
		return AccountTypeEmployer, true
	case AccountTypeWorker, "":
		return AccountTypeWorker, true
	default:
		return "", false
	}
}

// Profile is the public face of a user.
type Profile struct {
	ID          string      `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	DisplayName string      `gorm:"column:display_name;size:190;not null" json:"displayName"`
	Username    string      `gorm:"column:username;size:190;not null;uniqueIndex" json:"username"`
	AvatarURL   *string     `gorm:"column:avatar_url;size:512" json:"avatarUrl"`
	AccountType AccountType `gorm:"column:account_type;size:16;not null;default:worker" json:"accountType"`
	CreatedAt   time.Time   `gorm:"column:created_at;autoCreateTime" json:"-"`
}

// TableName exposes the table backing profiles.
func (Profile) TableName() string {
	return "profiles"
}

// BlockedEmail records an address that may not register until CanRegisterAt.
type BlockedEmail struct {
	Email         string    `gorm:"column:email;primaryKey;size:320;not null" json:"email"`
	Birthdate     time.Time `gorm:"column:birthdate;not null" json:"birthdate"`
	CanRegisterAt time.Time `gorm:"column:can_register_at;not null;index" json:"canRegisterAt"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"-"`
}

// TableName exposes the table backing blocked e-mail addresses.
func (BlockedEmail) TableName() string {
	return "blocked_emails"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
