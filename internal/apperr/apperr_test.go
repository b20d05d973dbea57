package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf_Wrapped(t *testing.T) {
	base := NotFound("plan not found")
	wrapped := fmt.Errorf("loading plan: %w", base)

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindNotFound))
	assert.False(t, Is(wrapped, KindValidation))
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
	assert.False(t, Is(nil, KindNotFound))
}

func TestUnavailable_Unwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Unavailable("fetching usage", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindStorageUnavailable, err.Kind)
	assert.Equal(t, "fetching usage: connection refused", err.Error())
}

func TestQuotaExceeded_Details(t *testing.T) {
	err := QuotaExceeded("input_tokens", 1001, 1000)

	require.NotNil(t, err.Details)
	assert.Equal(t, "input_tokens", err.Details["metric"])
	assert.Equal(t, int64(1001), err.Details["current"])
	assert.Equal(t, int64(1000), err.Details["limit"])
	assert.Contains(t, err.Error(), "1001/1000")
}
