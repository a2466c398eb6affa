package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
		} else {
			assert.NoError(t, err, tt.in)
		}
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func newBufferLogger(buf *bytes.Buffer) *Logger {
	return New(Config{
		Component: ComponentApp,
		Handler:   slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	})
}

func TestLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf).WithComponent(ComponentPipeline)

	logger.Info("snapshot published", FieldGeneration, 3)

	out := buf.String()
	assert.Contains(t, out, "component=pipeline")
	assert.Contains(t, out, "generation=3")
	assert.Equal(t, ComponentPipeline, logger.Component())
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf)

	ctx := context.WithValue(context.Background(), LoggerContextKey, logger)
	assert.Same(t, logger, FromContext(ctx))

	fallback := FromContext(context.Background())
	require.NotNil(t, fallback)
	assert.Equal(t, "unknown", fallback.Component())
}

func TestStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(newBufferLogger(&buf))
	ctx := context.Background()

	sl.LogExpenseCreated(ctx, 7, "12.5", "Hrana", "BAM")
	sl.LogError(ctx, "store failed", errors.New("disk full"), ComponentStorage, OpUpdate, nil)

	r := httptest.NewRequest("PUT", "/api/filter", nil)
	sl.LogHTTPEnd(ctx, r, 422, 3, "10.0.0.1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "expense_id=7")
	assert.Contains(t, lines[0], "currency=BAM")
	assert.Contains(t, lines[1], "level=ERROR")
	assert.Contains(t, lines[1], `error="disk full"`)
	assert.Contains(t, lines[2], "level=WARN")
	assert.Contains(t, lines[2], "status_code=422")
}
