package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Entry is one persisted domain event.
type Entry struct {
	EventID    string            `json:"event_id"`
	Topic      string            `json:"topic"`
	Actor      string            `json:"actor,omitempty"`
	Subject    string            `json:"subject"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Page is one slice of a subject's history.
type Page struct {
	Entries []Entry    `json:"entries"`
	Paging  PagingInfo `json:"paging"`
}

// PagingInfo describes the position of a Page.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	NextPage int  `json:"next_page,omitempty"`
	PrevPage int  `json:"prev_page,omitempty"`
}

// Store persists audit entries through database/sql.
type Store struct {
	db *sql.DB
}

// NewStore constructs a Store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record appends entry. Redelivered events produce duplicate rows, which the
// log tolerates.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	if s.db == nil {
		return fmt.Errorf("audit: database not configured")
	}
	if strings.TrimSpace(entry.Topic) == "" {
		return fmt.Errorf("audit: topic required")
	}
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return fmt.Errorf("audit: encode meta: %w", err)
	}
	payload := []byte(entry.Payload)
	if len(payload) == 0 {
		payload = []byte("null")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (event_id, topic, actor, subject, payload, meta, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.EventID, entry.Topic, entry.Actor, entry.Subject, payload, meta, entry.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// ListBySubject returns the subject's history newest first.
func (s *Store) ListBySubject(ctx context.Context, subject string, page, pageSize int) (Page, error) {
	if s.db == nil {
		return Page{}, fmt.Errorf("audit: database not configured")
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, topic, actor, subject, payload, meta, occurred_at
		 FROM audit_logs WHERE subject = $1
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		subject, pageSize+1, offset)
	if err != nil {
		return Page{}, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, pageSize)
	for rows.Next() {
		var (
			e       Entry
			payload []byte
			meta    []byte
		)
		if err := rows.Scan(&e.EventID, &e.Topic, &e.Actor, &e.Subject, &payload, &meta, &e.OccurredAt); err != nil {
			return Page{}, fmt.Errorf("audit: scan: %w", err)
		}
		if len(payload) > 0 && string(payload) != "null" {
			e.Payload = json.RawMessage(payload)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return Page{}, fmt.Errorf("audit: decode meta: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("audit: rows: %w", err)
	}

	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Page{Entries: entries, Paging: paging}, nil
}
