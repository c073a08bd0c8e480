// Package events defines the domain event envelope, the topics emitted by the
// mutating services and the publish/subscribe ports that carry them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Topics. Every relational mutation publishes exactly one of these after commit.
const (
	UserCreated      = "user.created"
	UserUpdated      = "user.updated"
	UserCancelled    = "user.cancelled"
	UserUncancelled  = "user.uncancelled"
	UserDeleted      = "user.deleted"
	UserAddedRoles   = "user.added_roles"
	UserUpdatedRoles = "user.updated_roles"

	RoleCreated            = "role.created"
	RoleUpdated            = "role.updated"
	RoleDeleted            = "role.deleted"
	RoleAddedPermissions   = "role.added_permissions"
	RoleUpdatedPermissions = "role.updated_permissions"

	PermissionCreated = "permission.created"
	PermissionUpdated = "permission.updated"
	PermissionDeleted = "permission.deleted"
)

// MetaInitialPassword is the meta key carrying a new account's plaintext
// password on user.created when welcome mails are configured to quote it.
// Consumers other than the mailer must drop it.
const MetaInitialPassword = "initial_password"

// AllTopics lists every topic in a stable order.
func AllTopics() []string {
	return []string{
		UserCreated, UserUpdated, UserCancelled, UserUncancelled, UserDeleted, UserAddedRoles, UserUpdatedRoles,
		RoleCreated, RoleUpdated, RoleDeleted, RoleAddedPermissions, RoleUpdatedPermissions,
		PermissionCreated, PermissionUpdated, PermissionDeleted,
	}
}

// Event is the envelope carried on the bus.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Actor      string            `json:"actor,omitempty"`
	Subject    string            `json:"subject"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// New builds an event with a fresh id.
func New(topic, actor, subject string, payload any, meta map[string]string) (Event, error) {
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("events: encode %s payload: %w", topic, err)
		}
		raw = encoded
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       topic,
		Actor:      actor,
		Subject:    subject,
		Payload:    raw,
		Meta:       meta,
		OccurredAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into dst.
func (e Event) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("events: %s has no payload", e.Type)
	}
	return json.Unmarshal(e.Payload, dst)
}

// RelationPayload is carried by relation-changing events.
type RelationPayload struct {
	OwnerID    string   `json:"owner_id"`
	RelatedIDs []string `json:"related_ids"`
}

// Publisher hands events to the broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Handler consumes one event.
type Handler func(ctx context.Context, event Event) error
