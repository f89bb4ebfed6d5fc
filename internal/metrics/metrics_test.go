package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Ingestion("ok", time.Second, 7)
	m.Ingestion("parse_error", time.Second, 0)
	m.OCR("low_confidence")
	m.OCR("low_confidence")
	m.EmbedBatch(errors.New("down"))
	m.Query("no_grounding")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestions.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestions.WithLabelValues("parse_error")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.chunksCreated))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ocrResults.WithLabelValues("low_confidence")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.embedBatches.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queries.WithLabelValues("no_grounding")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Ingestion("ok", time.Second, 1)
		m.OCR("failed")
		m.EmbedBatch(nil)
		m.Query("answered")
		m.LLMCall(time.Second, nil)
		m.HTTPRequest("GET", "/health", "200", time.Millisecond)
	})
}
