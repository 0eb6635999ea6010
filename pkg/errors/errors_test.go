package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloneMatchesTemplateByCode(t *testing.T) {
	err := Clone(ErrInvalidTransition, "event is already submitted")

	require.ErrorIs(t, err, ErrInvalidTransition)
	require.NotErrorIs(t, err, ErrEmptySelection)
	require.Equal(t, "event is already submitted", err.Message)
	require.Equal(t, "transition not allowed in current state", ErrInvalidTransition.Message)
}

func TestFromErrorWrapsUnknownErrors(t *testing.T) {
	wrapped := fmt.Errorf("save: %w", Clone(ErrConflict, "stale"))
	require.Equal(t, ErrConflict.Code, FromError(wrapped).Code)

	plain := FromError(errors.New("boom"))
	require.Equal(t, ErrInternal.Code, plain.Code)
	require.Equal(t, http.StatusInternalServerError, plain.Status)
	require.Nil(t, FromError(nil))
}
