package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDataAccessIsDetectedThroughWrapping(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := fmt.Errorf("evaluate pvls-routine: %w", DataAccess("observations", cause))

	assert.True(t, IsDataAccess(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "observations")
}

func TestHasCodeFollowsNestedAppErrors(t *testing.T) {
	err := Internal(DataAccess("first encounters", stderrors.New("timeout")))

	assert.True(t, HasCode(err, ErrInternal))
	assert.True(t, IsDataAccess(err))
	assert.False(t, HasCode(err, ErrNotFound))
	assert.False(t, IsDataAccess(stderrors.New("plain")))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, NotFound("calculation", nil).StatusCode())
	assert.Equal(t, http.StatusBadRequest, BadRequest("bad", nil).StatusCode())
	assert.Equal(t, http.StatusUnauthorized, Unauthorized(nil).StatusCode())
	assert.Equal(t, http.StatusServiceUnavailable, DataAccess("obs", nil).StatusCode())
	assert.Equal(t, http.StatusInternalServerError, Internal(nil).StatusCode())
}
