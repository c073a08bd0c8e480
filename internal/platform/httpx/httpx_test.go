package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) ProblemDetail {
	t.Helper()
	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	return problem
}

func TestRespondErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{shared.Validation("email", "bad"), http.StatusBadRequest},
		{&shared.Error{Kind: shared.ErrConflict, Field: "username"}, http.StatusBadRequest},
		{shared.NotFound("role", "r1"), http.StatusNotFound},
		{shared.ErrTokenSuperseded, http.StatusUnauthorized},
		{shared.ErrForbidden, http.StatusForbidden},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, nil, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())
	}
}

func TestRespondErrorNamesFieldAndHidesInternals(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, nil, &shared.Error{Kind: shared.ErrConflict, Field: "email", Message: "email already exists"})
	problem := decodeProblem(t, rec)
	require.Equal(t, "email", problem.Field)
	require.Equal(t, "email already exists", problem.Detail)

	rec = httptest.NewRecorder()
	RespondError(rec, nil, errors.New("pq: password authentication failed"))
	require.Empty(t, decodeProblem(t, rec).Detail)
}

func TestDecodeAndValidate(t *testing.T) {
	type body struct {
		Email string `json:"email" validate:"required,email"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"nope"}`))
	var b body
	err := DecodeAndValidate(req, &b)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, "email", shared.FieldOf(err))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	require.ErrorIs(t, DecodeAndValidate(req, &b), shared.ErrValidation)
}
