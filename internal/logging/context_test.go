package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	// Initially empty.
	assert.Equal(t, "", GraphID(ctx))
	assert.Equal(t, "", NodeID(ctx))

	// Set values.
	ctx = WithGraphID(ctx, "g-123")
	ctx = WithNodeID(ctx, "fetch")

	// Round-trip.
	assert.Equal(t, "g-123", GraphID(ctx))
	assert.Equal(t, "fetch", NodeID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := context.Background()
	ctx = WithGraphID(ctx, "g-abc")
	ctx = WithNodeID(ctx, "sma")

	enriched := LogWith(ctx, logger)
	enriched.Info("test message")

	output := buf.String()
	assert.Contains(t, output, "graph_id=g-abc")
	assert.Contains(t, output, "node_id=sma")
	assert.Contains(t, output, "test message")
}

func TestLogWithMissingKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Only set graph ID — node should not appear.
	ctx := WithGraphID(context.Background(), "g-only")

	enriched := LogWith(ctx, logger)
	enriched.Info("partial context")

	output := buf.String()
	assert.Contains(t, output, "graph_id=g-only")
	assert.NotContains(t, output, "node_id")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	ctx := WithNodeID(WithGraphID(context.Background(), "g-7"), "display")
	logger.InfoContext(ctx, "handled")

	output := buf.String()
	assert.Contains(t, output, "graph_id=g-7")
	assert.Contains(t, output, "node_id=display")
}
