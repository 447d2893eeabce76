package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("handler: %w", E(Forbidden, "owner privileges required"))
	assert.Equal(t, Forbidden, KindOf(err))
	assert.Equal(t, "owner privileges required", MessageOf(err))

	assert.Equal(t, ServerError, KindOf(errors.New("boom")))
	assert.Equal(t, "internal server error", MessageOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestInternalHidesCause(t *testing.T) {
	cause := errors.New("pq: connection refused")
	err := Internal(cause)
	assert.Equal(t, "internal server error", MessageOf(err))
	assert.ErrorIs(t, err, cause)
}

func TestIsMatchesKind(t *testing.T) {
	err := E(Expired, "invite expired at %s", "yesterday")
	assert.True(t, errors.Is(err, E(Expired, "")))
	assert.False(t, errors.Is(err, E(NotFound, "")))
}

func TestStatus(t *testing.T) {
	assert.Equal(t, http.StatusGone, Expired.Status())
	assert.Equal(t, http.StatusConflict, AlreadyAccepted.Status())
	assert.Equal(t, http.StatusUnprocessableEntity, InvalidOperation.Status())
	assert.Equal(t, http.StatusInternalServerError, ServerError.Status())
}
