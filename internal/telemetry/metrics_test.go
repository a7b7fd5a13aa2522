package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sreyakumar/metadata-embeddings/internal/config"
)

func TestInitMetrics(t *testing.T) {
	m, err := InitMetrics()
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.RecordDocument(context.Background(), "ok", 3, 1)
		m.RecordBatch(context.Background(), 100, 0.5, true)
		m.RecordDatabaseOperation(context.Background(), "insert_many", "chunks", false)
	})
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDocument(context.Background(), "failed", 0, 0)
		m.RecordBatch(context.Background(), 1, 0, false)
		m.RecordDatabaseOperation(context.Background(), "find", "assets", true)
	})
}

func TestInitTracer_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracer(&config.Config{})
	require.NoError(t, err)
	assert.NotPanics(t, shutdown)
}
