package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnauthorizedSubCasesStayDistinct(t *testing.T) {
	err := fmt.Errorf("refresh: %w", ErrTokenSuperseded)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.ErrorIs(t, err, ErrTokenSuperseded)
	require.False(t, errors.Is(err, ErrTokenExpired))
	require.False(t, errors.Is(err, ErrTokenInvalid))
}

func TestKindOf(t *testing.T) {
	require.Equal(t, ErrNotFound, KindOf(NotFound("user", "01H")))
	require.Equal(t, ErrValidation, KindOf(fmt.Errorf("wrap: %w", Validation("email", "bad"))))
	require.Equal(t, ErrTransient, KindOf(Transient("cache get", errors.New("timeout"))))
	require.Equal(t, ErrConflict, KindOf(fmt.Errorf("x: %w", ErrConflict)))
	require.Equal(t, ErrFatal, KindOf(errors.New("boom")))
}

func TestInvalidReferenceMatchesNotFound(t *testing.T) {
	err := InvalidReference("role", "r-404")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, err, ErrInvalidReference)
	require.Equal(t, "r-404", FieldOf(err))
	require.Equal(t, "role does not exist", MessageOf(err))
}
