package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.IndexBackend)
	assert.Equal(t, "cosine", cfg.SimilarityMetric)
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, 0.6, cfg.OCRConfidenceThreshold)
	assert.Equal(t, filepath.Join(cfg.DataDir, "index", "index.snapshot"), filepath.Clean(cfg.IndexPath))
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("CHUNK_SIZE", "600")
	t.Setenv("CHUNK_OVERLAP", "50")
	t.Setenv("RETRIEVAL_K", "12")
	t.Setenv("SIMILARITY_METRIC", "L2")
	t.Setenv("LLM_TIMEOUT", "5s")
	t.Setenv("OCR_CONFIDENCE_THRESHOLD", "0.75")
	t.Setenv("API_KEY_HASHES", " a , b ,")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 600, cfg.ChunkSize)
	assert.Equal(t, 50, cfg.ChunkOverlap)
	assert.Equal(t, 12, cfg.RetrievalK)
	assert.Equal(t, "l2", cfg.SimilarityMetric)
	assert.Equal(t, 5*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 0.75, cfg.OCRConfidenceThreshold)
	assert.Equal(t, []string{"a", "b"}, cfg.APIKeyHashes)
}

func TestLoadConfigInvalidNumberFallsBack(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("CHUNK_SIZE", "lots")

	t.Setenv("LLM_TIMEOUT", "soon")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 60*time.Second, cfg.LLMTimeout)
	assert.Equal(t, []string{
		`LLM_TIMEOUT="soon" is invalid, using default 1m0s`,
		`CHUNK_SIZE="lots" is invalid, using default 1000`,
	}, cfg.Warnings)
}

func TestLoadConfigCleanHasNoWarnings(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadConfigFiles(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "citedoc.yaml",
			content: `chunk_size: 800
llm_timeout: 30s
ocr_languages:
  - eng
  - deu
`,
		},
		{
			name: "toml",
			file: "citedoc.toml",
			content: `chunk_size = 800
llm_timeout = "30s"
ocr_languages = ["eng", "deu"]
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			t.Setenv("CONFIG_FILE", path)
			t.Setenv("DATA_DIR", dir)

			cfg, err := LoadConfig()
			require.NoError(t, err)
			assert.Equal(t, 800, cfg.ChunkSize)
			assert.Equal(t, 30*time.Second, cfg.LLMTimeout)
			assert.Equal(t, []string{"eng", "deu"}, cfg.OCRLanguages)
		})
	}
}

func TestEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "citedoc.yml")
	require.NoError(t, os.WriteFile(path, []byte("chunk_size: 800\n"), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DATA_DIR", dir)
	t.Setenv("CHUNK_SIZE", "900")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 900, cfg.ChunkSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"overlap not below size", func(c *Config) { c.ChunkOverlap = c.ChunkSize }, false},
		{"unknown metric", func(c *Config) { c.SimilarityMetric = "dot" }, false},
		{"context larger than retrieval", func(c *Config) { c.ContextK = c.RetrievalK + 1 }, false},
		{"s3 without credentials", func(c *Config) { c.StorageBackend = "s3" }, false},
		{"pgvector without url", func(c *Config) { c.IndexBackend = "pgvector" }, false},
		{"chromem with l2", func(c *Config) { c.IndexBackend = "chromem"; c.SimilarityMetric = "l2" }, false},
		{"threshold above one", func(c *Config) { c.OCRConfidenceThreshold = 1.5 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestUnsupportedConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "citedoc.ini")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0o644))
	_, err := readFile(path)
	assert.Error(t, err)
}
