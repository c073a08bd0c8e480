package users

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Status is the lifecycle state of an account.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	// StatusPurged is terminal; purged accounts no longer have a row.
	StatusPurged Status = "purged"
)

var transitions = map[Status][]Status{
	StatusActive:    {StatusCancelled},
	StatusCancelled: {StatusActive, StatusPurged},
}

// CanTransition reports whether the lifecycle permits moving from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// User is an account. The password digest is deliberately absent so it never
// reaches the cache or the event bus.
type User struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	Nickname  string     `json:"nickname,omitempty"`
	Avatar    string     `json:"avatar,omitempty"`
	Hometown  string     `json:"hometown,omitempty"`
	Birthday  *time.Time `json:"birthday,omitempty"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// EntityID implements entitystore.Entity.
func (u User) EntityID() string { return u.ID }

// Credentials pairs a user with its stored digest for login.
type Credentials struct {
	User         User
	PasswordHash string
}

// CreateInput carries registration fields. Password is plaintext and is
// hashed by the service before it reaches the repository.
type CreateInput struct {
	Username string     `json:"username" validate:"required,min=3,max=32"`
	Password string     `json:"password" validate:"required,min=8,max=128"`
	Email    string     `json:"email" validate:"omitempty,email"`
	Phone    string     `json:"phone" validate:"omitempty,max=32"`
	Nickname string     `json:"nickname" validate:"omitempty,max=64"`
	Avatar   string     `json:"avatar" validate:"omitempty,url"`
	Hometown string     `json:"hometown" validate:"omitempty,max=128"`
	Birthday *time.Time `json:"birthday"`
}

// NewUser is the row handed to the repository.
type NewUser struct {
	Username     string
	Email        string
	Phone        string
	Nickname     string
	Avatar       string
	Hometown     string
	Birthday     *time.Time
	PasswordHash string
}

// Patch carries optional profile updates; nil fields are left untouched.
type Patch struct {
	Username *string    `json:"username" validate:"omitempty,min=3,max=32"`
	Email    *string    `json:"email" validate:"omitempty,email"`
	Phone    *string    `json:"phone" validate:"omitempty,max=32"`
	Nickname *string    `json:"nickname" validate:"omitempty,max=64"`
	Avatar   *string    `json:"avatar" validate:"omitempty,url"`
	Hometown *string    `json:"hometown" validate:"omitempty,max=128"`
	Birthday *time.Time `json:"birthday"`
	Password *string    `json:"password" validate:"omitempty,min=8,max=128"`

	PasswordHash *string `json:"-"`
}

func (p Patch) empty() bool {
	return p.Username == nil && p.Email == nil && p.Phone == nil && p.Nickname == nil &&
		p.Avatar == nil && p.Hometown == nil && p.Birthday == nil && p.Password == nil
}

// Fold normalises usernames and emails so lookups are case-insensitive.
func Fold(value string) string {
	return cases.Fold().String(strings.TrimSpace(value))
}

func (in *CreateInput) normalize() error {
	in.Username = Fold(in.Username)
	in.Email = Fold(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Nickname = strings.TrimSpace(in.Nickname)
	if in.Username == "" {
		return shared.Validation("username", "username is required")
	}
	if strings.Contains(in.Username, "@") {
		return shared.Validation("username", "username cannot contain @")
	}
	if len(in.Password) < 8 {
		return shared.Validation("password", "password must be at least 8 characters")
	}
	return nil
}

func (p *Patch) normalize() error {
	if p.empty() {
		return shared.Validation("body", "nothing to update")
	}
	if p.Username != nil {
		folded := Fold(*p.Username)
		if folded == "" || strings.Contains(folded, "@") {
			return shared.Validation("username", "username is invalid")
		}
		p.Username = &folded
	}
	if p.Email != nil {
		folded := Fold(*p.Email)
		p.Email = &folded
	}
	if p.Password != nil && len(*p.Password) < 8 {
		return shared.Validation("password", "password must be at least 8 characters")
	}
	return nil
}

func transitionError(from, to Status) error {
	return &shared.Error{
		Kind:    shared.ErrConflict,
		Field:   "status",
		Message: fmt.Sprintf("account cannot move from %s to %s", from, to),
	}
}
