package errutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReasonOf(t *testing.T) {
	err := Conflict("job already assigned", WithReason("already_assigned"))
	assert.Equal(t, "already_assigned", ReasonOf(err))

	wrapped := fmt.Errorf("settle: %w", err)
	assert.Equal(t, "already_assigned", ReasonOf(wrapped))

	assert.Empty(t, ReasonOf(errors.New("plain")))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusNotFound, StatusOf(NotFound("missing")))
	assert.Equal(t, StatusInternal, StatusOf(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusValidationFailed.HTTPStatus())
	assert.Equal(t, http.StatusUnprocessableEntity, StatusUnprocessableEntity.HTTPStatus())
	assert.Equal(t, http.StatusConflict, StatusConflict.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, StatusUnknown.HTTPStatus())
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Internal("lookup failed", WithErr(cause))

	assert.Contains(t, err.Error(), "lookup failed")
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)
}

func TestJSONEnvelope(t *testing.T) {
	err := ValidationFailed("invalid campaign",
		WithDetails(Detail{Field: "requested_views", Message: "must be at least 1"}),
	)

	var be BaseError
	assert.ErrorAs(t, err, &be)

	body := be.JSON().(map[string]interface{})
	inner := body["error"].(map[string]interface{})
	assert.Equal(t, StatusValidationFailed, inner["code"])
	assert.Len(t, inner["details"], 1)
}
