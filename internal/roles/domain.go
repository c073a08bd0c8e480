package roles

import (
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Type is the tier a role belongs to.
type Type string

const (
	TypeAdministrator Type = "administrator"
	TypeEditor        Type = "editor"
	TypeMember        Type = "member"
	TypeGuest         Type = "guest"
)

// Valid reports whether t is a known role type.
func (t Type) Valid() bool {
	switch t {
	case TypeAdministrator, TypeEditor, TypeMember, TypeGuest:
		return true
	}
	return false
}

// Role groups permissions assignable to users.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        Type      `json:"type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EntityID implements entitystore.Entity.
func (r Role) EntityID() string { return r.ID }

// CreateInput carries the fields of a new role.
type CreateInput struct {
	Name        string `json:"name" validate:"required,max=64"`
	Type        Type   `json:"type" validate:"omitempty,oneof=administrator editor member guest"`
	Description string `json:"description" validate:"max=255"`
}

// Normalize trims the input, defaults the type to member and validates it.
func (in *CreateInput) Normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.Type == "" {
		in.Type = TypeMember
	}
	if in.Name == "" {
		return shared.Validation("name", "name is required")
	}
	if !in.Type.Valid() {
		return shared.Validation("type", "unknown role type")
	}
	return nil
}

// Patch carries optional updates; nil fields are left untouched.
type Patch struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=64"`
	Type        *Type   `json:"type" validate:"omitempty,oneof=administrator editor member guest"`
	Description *string `json:"description" validate:"omitempty,max=255"`
}

// Normalize trims and validates the patch.
func (p *Patch) Normalize() error {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return shared.Validation("name", "name cannot be blank")
		}
		p.Name = &name
	}
	if p.Type != nil && !p.Type.Valid() {
		return shared.Validation("type", "unknown role type")
	}
	if p.Name == nil && p.Type == nil && p.Description == nil {
		return shared.Validation("body", "nothing to update")
	}
	return nil
}

// IDsInput names related ids in relation requests.
type IDsInput struct {
	IDs []string `json:"ids" validate:"omitempty,dive,required"`
}
