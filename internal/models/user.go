package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a portal account
type User struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	Username     string     `json:"username" db:"username"`
	PasswordHash string     `json:"-" db:"password_hash"` // Never expose
	FullName     string     `json:"full_name" db:"full_name"`
	Plan         string     `json:"plan" db:"plan"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at" db:"last_login_at"`
}

// Plan constants
const (
	PlanFree = "free"
	PlanPro  = "pro"
	// PlanUnlimited has no usage limit
	PlanUnlimited = "unlimited"
)

// UserContext is the authenticated caller stored in request locals
type UserContext struct {
	UserID   uuid.UUID
	Username string
	Email    string
	Plan     string
}

// ValidPlan reports whether plan is a known plan name
func ValidPlan(plan string) bool {
	switch plan {
	case PlanFree, PlanPro, PlanUnlimited:
		return true
	}
	return false
}

// IsPro reports whether the user is on a paid plan
func (u *User) IsPro() bool {
	return u.Plan == PlanPro || u.Plan == PlanUnlimited
}
