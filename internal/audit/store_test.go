package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs("evt-1", "user.created", "admin", "u1", []byte(`{"id":"u1"}`), []byte(`{"ip":"1.2.3.4"}`), at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewStore(db)
	err = store.Record(context.Background(), Entry{
		EventID:    "evt-1",
		Topic:      "user.created",
		Actor:      "admin",
		Subject:    "u1",
		Payload:    json.RawMessage(`{"id":"u1"}`),
		Meta:       map[string]string{"ip": "1.2.3.4"},
		OccurredAt: at,
	})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnError(errors.New("conn reset"))
	err = store.Record(context.Background(), Entry{Topic: "user.updated", Subject: "u1", OccurredAt: at})
	require.ErrorContains(t, err, "conn reset")

	require.Error(t, store.Record(context.Background(), Entry{Subject: "u1"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListBySubjectPaging(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{"event_id", "topic", "actor", "subject", "payload", "meta", "occurred_at"}
	at := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT event_id, topic, actor, subject, payload, meta, occurred_at FROM audit_logs").
		WithArgs("u1", 3, 2).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("e3", "user.updated", "u1", "u1", []byte(`{"id":"u1"}`), []byte(`null`), at).
			AddRow("e2", "user.added_roles", "admin", "u1", []byte(`null`), []byte(`{}`), at.Add(-time.Hour)).
			AddRow("e1", "user.created", "", "u1", []byte(`{"id":"u1"}`), []byte(`{"source":"register"}`), at.Add(-2*time.Hour)))

	page, err := NewStore(db).ListBySubject(context.Background(), "u1", 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	require.True(t, page.Paging.HasNext)
	require.Equal(t, 3, page.Paging.NextPage)
	require.Equal(t, 1, page.Paging.PrevPage)
	require.Equal(t, "e3", page.Entries[0].EventID)
	require.JSONEq(t, `{"id":"u1"}`, string(page.Entries[0].Payload))
	require.Nil(t, page.Entries[1].Payload)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlerHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM audit_logs").
		WithArgs("u9", 21, 0).
		WillReturnRows(sqlmock.NewRows([]string{"event_id", "topic", "actor", "subject", "payload", "meta", "occurred_at"}))

	h := NewHandler(nil, NewStore(db))
	r := chi.NewRouter()
	for _, route := range h.Routes() {
		r.Method(route.Method, route.Pattern, route.Handler)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/u9", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"entries":[]`)
	require.NoError(t, mock.ExpectationsWereMet())
}
