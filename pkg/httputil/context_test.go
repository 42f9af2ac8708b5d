package httputil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	_, ok := RequestID(ctx)
	assert.False(t, ok)
	_, ok = RequestID(WithRequestID(ctx, ""))
	assert.False(t, ok)

	id, ok := RequestID(WithRequestID(ctx, "req-1"))
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)

	logger := zap.NewNop()
	got, ok := Logger(WithLogger(ctx, logger))
	assert.True(t, ok)
	assert.Same(t, logger, got)

	user, ok := BasicAuthUser(WithBasicAuthUser(ctx, "admin"))
	assert.True(t, ok)
	assert.Equal(t, "admin", user)
}

func TestErrorIncludesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set(RequestIDHeader, "req-9")
	Error(w, http.StatusUnprocessableEntity, "bad filter")

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, ErrorResponse{Message: "bad filter", Code: 422, RequestID: "req-9"}, body)
}
