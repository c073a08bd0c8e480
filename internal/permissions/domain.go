package permissions

import (
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Type classifies what a permission grants.
type Type string

const (
	TypeAdmin  Type = "admin"
	TypeCreate Type = "create"
	TypeEdit   Type = "edit"
	TypeDelete Type = "delete"
	TypeView   Type = "view"
)

// Valid reports whether t is a known permission type.
func (t Type) Valid() bool {
	switch t {
	case TypeAdmin, TypeCreate, TypeEdit, TypeDelete, TypeView:
		return true
	}
	return false
}

// Permission is a named capability assignable to roles.
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        Type      `json:"type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EntityID implements entitystore.Entity.
func (p Permission) EntityID() string { return p.ID }

// CreateInput carries the fields of a new permission.
type CreateInput struct {
	Name        string `json:"name" validate:"required,max=64"`
	Type        Type   `json:"type" validate:"required,oneof=admin create edit delete view"`
	Description string `json:"description" validate:"max=255"`
}

// Normalize trims and validates the input.
func (in *CreateInput) Normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.Name == "" {
		return shared.Validation("name", "name is required")
	}
	if !in.Type.Valid() {
		return shared.Validation("type", "unknown permission type")
	}
	return nil
}

// Patch carries optional updates; nil fields are left untouched.
type Patch struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=64"`
	Type        *Type   `json:"type" validate:"omitempty,oneof=admin create edit delete view"`
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
		return shared.Validation("type", "unknown permission type")
	}
	if p.Name == nil && p.Type == nil && p.Description == nil {
		return shared.Validation("body", "nothing to update")
	}
	return nil
}
