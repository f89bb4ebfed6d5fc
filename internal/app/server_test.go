package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/citedoc/internal/config"
	"github.com/markdave123-py/citedoc/internal/core/ingestion_engine"
	"github.com/markdave123-py/citedoc/internal/core/vectorindex"
	"github.com/markdave123-py/citedoc/internal/logger"
	"github.com/markdave123-py/citedoc/internal/metrics"
	"github.com/markdave123-py/citedoc/internal/models"
	"github.com/markdave123-py/citedoc/internal/services"
)

type stubDocs struct{}

func (stubDocs) Upload(context.Context, string, []byte, string) (*models.IngestResult, error) {
	return &models.IngestResult{}, nil
}
func (stubDocs) Get(context.Context, string) (*models.Document, error) { return &models.Document{}, nil }
func (stubDocs) List(context.Context) ([]models.Document, error)      { return []models.Document{}, nil }
func (stubDocs) Delete(context.Context, string) error                 { return nil }
func (stubDocs) Reindex(context.Context, string) (*models.IngestResult, error) {
	return &models.IngestResult{}, nil
}
func (stubDocs) Rebuild(context.Context) (*ingestion_engine.RebuildReport, error) {
	return &ingestion_engine.RebuildReport{}, nil
}

type stubAnswers struct{}

func (stubAnswers) Answer(context.Context, string) (*models.Answer, error) {
	return &models.Answer{Answer: "ok", Citations: []models.Citation{}}, nil
}

func testServer(t *testing.T, secret string) (http.Handler, *services.StatsService) {
	t.Helper()
	cfg := config.Defaults()
	cfg.JWTSecret = secret
	cfg.RequestTimeout = 10 * time.Second

	reg := prometheus.NewRegistry()
	index := vectorindex.NewMemory("", vectorindex.Cosine, 4, logger.Nop())
	stats := services.NewStatsService(index, "hash", "none")
	s := NewServer(cfg, logger.Nop(), reg, metrics.New(reg), stubDocs{}, stubAnswers{}, stats)
	return s.Handler(), stats
}

func TestPublicRoutesSkipAuth(t *testing.T) {
	h, _ := testServer(t, "secret")
	for _, path := range []string{"/", "/health", "/stats", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestAPIRoutesRequireToken(t *testing.T) {
	h, stats := testServer(t, "secret")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "analyst",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/query", strings.NewReader(`{"question":"What was revenue?"}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"answer":"ok"`)

	snap, err := stats.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.TotalQueries)
}

func TestMetricsEndpointExposesRequests(t *testing.T) {
	h, _ := testServer(t, "")
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/health"`)
}

func TestOpenIndexResetsCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.snapshot")
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0o644))

	cfg := config.Defaults()
	cfg.IndexPath = path
	cfg.EmbedDim = 4
	a := &App{Config: cfg, Log: logger.Nop()}

	index, err := a.openIndex(context.Background())
	require.NoError(t, err)
	defer index.Close()
	assert.True(t, a.needsRebuild)

	st, err := index.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Documents)

	// the reset rewrote a valid snapshot
	again := &App{Config: cfg, Log: logger.Nop()}
	_, err = again.openIndex(context.Background())
	require.NoError(t, err)
	assert.False(t, again.needsRebuild)
}

func TestOpenIndexUnknownBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.IndexBackend = "faiss"
	_, err := (&App{Config: cfg, Log: logger.Nop()}).openIndex(context.Background())
	require.Error(t, err)
}
