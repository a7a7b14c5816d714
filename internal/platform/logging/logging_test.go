package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	logger := New("cybernetic-core", "debug", "json")
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	return logger, &buf
}

func TestWithContextIncludesTenantAndTrace(t *testing.T) {
	logger, buf := newTestLogger(t)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithTenantID(ctx, "tenant-a")
	ctx = WithUserID(ctx, "user-1")

	logger.WithContext(ctx).Info("hello")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "trace-1", decoded["trace_id"])
	assert.Equal(t, "tenant-a", decoded["tenant_id"])
	assert.Equal(t, "user-1", decoded["user_id"])
	assert.Equal(t, "cybernetic-core", decoded["service"])
}

func TestLogProviderCall(t *testing.T) {
	logger, buf := newTestLogger(t)
	ctx := context.Background()

	logger.LogProviderCall(ctx, "openai", 0, nil)
	var ok map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &ok))
	assert.Equal(t, "openai", ok["provider"])
	assert.Equal(t, "info", ok["level"])

	buf.Reset()
	logger.LogProviderCall(ctx, "openai", 0, errors.New("rate_limited"))
	var failed map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &failed))
	assert.Equal(t, "warning", failed["level"])
}

func TestTraceIDRoundTrip(t *testing.T) {
	traceID := NewTraceID()
	ctx := WithTraceID(context.Background(), traceID)
	assert.Equal(t, traceID, GetTraceID(ctx))
	assert.Empty(t, GetTraceID(context.Background()))
}
