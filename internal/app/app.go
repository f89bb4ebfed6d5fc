package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/markdave123-py/citedoc/internal/config"
	"github.com/markdave123-py/citedoc/internal/core"
	db "github.com/markdave123-py/citedoc/internal/core/database"
	"github.com/markdave123-py/citedoc/internal/core/ingestion_engine"
	"github.com/markdave123-py/citedoc/internal/core/llm"
	objectclient "github.com/markdave123-py/citedoc/internal/core/object-client"
	"github.com/markdave123-py/citedoc/internal/core/ocr"
	"github.com/markdave123-py/citedoc/internal/core/vectorindex"
	"github.com/markdave123-py/citedoc/internal/metrics"
	"github.com/markdave123-py/citedoc/internal/services"
)

const watchSettle = 2 * time.Second

type App struct {
	Config       *config.Config
	Log          zerolog.Logger
	Registry     *prometheus.Registry
	Index        core.VectorIndex
	ObjectClient core.ObjectClient
	DocProcessor *ingestion_engine.DocumentIngestor
	Stats        *services.StatsService
	Server       *Server

	providers    *llm.Providers
	closers      []io.Closer
	needsRebuild bool
}

// loader is implemented by every index backend; it restores persisted state.
type loader interface {
	Load() error
}

func NewApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{Config: cfg, Log: log, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.Registry)

	objClient, err := objectclient.New(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("object client: %w", err)
	}
	a.ObjectClient = objClient
	log.Info().Str("backend", cfg.StorageBackend).Msg("object client initialized and ready")

	providers, err := llm.NewProviders(appCtx, cfg, log, m)
	if err != nil {
		return nil, err
	}
	a.providers = providers
	log.Info().Str("embed", cfg.EmbedProvider).Str("llm", cfg.LLMProvider).Msg("model providers ready")

	index, err := a.openIndex(appCtx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Index = index

	engine, err := a.ocrEngine(appCtx)
	if err != nil {
		a.Close()
		return nil, err
	}
	recognizer := ocr.NewRecognizer(engine, log,
		ocr.WithThreshold(cfg.OCRConfidenceThreshold),
		ocr.WithTimeout(cfg.OCRTimeout),
		ocr.WithWorkers(cfg.OCRWorkers),
		ocr.WithMetrics(m),
	)

	chunker := ingestion_engine.NewChunker(
		ingestion_engine.WithChunkSize(cfg.ChunkSize),
		ingestion_engine.WithOverlap(cfg.ChunkOverlap),
		ingestion_engine.WithSlack(cfg.ChunkSlack),
	)
	ingCfg := &ingestion_engine.IngestConfig{
		BatchSize: cfg.EmbedBatchSize,
		EmbedDim:  cfg.EmbedDim,
	}
	a.DocProcessor = ingestion_engine.NewDocumentIngestor(index, objClient, providers.Embedder,
		ingestion_engine.NewPDFExtractor(log), recognizer, chunker, ingCfg, log, m)

	retriever := services.NewRetriever(index, providers.Embedder, services.RetrieverConfig{
		RetrievalK:  cfg.RetrievalK,
		ContextK:    cfg.ContextK,
		MinScore:    cfg.MinScore,
		TableWeight: cfg.TableWeight,
		ImageWeight: cfg.ImageWeight,
	}, log)
	answers := services.NewAnswerService(retriever, providers.LLM, cfg.LLMTimeout, log, m)
	a.Stats = services.NewStatsService(index, providers.Embedder.ModelName(), recognizer.Engine())
	docs := services.NewDocumentService(a.DocProcessor, index, a.Stats)

	a.Server = NewServer(cfg, log, a.Registry, m, docs, answers, a.Stats)
	return a, nil
}

func (a *App) openIndex(ctx context.Context) (core.VectorIndex, error) {
	cfg := a.Config
	metric, err := vectorindex.ParseMetric(cfg.SimilarityMetric)
	if err != nil {
		return nil, err
	}

	var index core.VectorIndex
	switch cfg.IndexBackend {
	case "memory":
		index = vectorindex.NewMemory(cfg.IndexPath, metric, cfg.EmbedDim, a.Log)
	case "chromem":
		key, err := vectorindex.DeriveSnapshotKey(cfg.SnapshotKey)
		if err != nil {
			return nil, err
		}
		c, err := vectorindex.NewChromem(cfg.IndexPath, key, cfg.EmbedDim, a.Log)
		if err != nil {
			return nil, err
		}
		index = c
	case "pgvector":
		sqlDB, err := db.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		index = db.NewPgVectorIndex(sqlDB, metric, cfg.EmbedDim, a.Log)
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
	}

	if l, ok := index.(loader); ok {
		if err := l.Load(); err != nil {
			if !errors.Is(err, core.ErrIndexCorrupt) {
				_ = index.Close()
				return nil, err
			}
			a.Log.Warn().Err(err).Msg("index unusable, resetting and rebuilding from stored files")
			if err := index.Reset(ctx); err != nil {
				_ = index.Close()
				return nil, err
			}
			a.needsRebuild = true
		}
	}
	a.Log.Info().Str("backend", cfg.IndexBackend).Str("metric", string(metric)).Int("dim", cfg.EmbedDim).Msg("vector index ready")
	return index, nil
}

func (a *App) ocrEngine(ctx context.Context) (core.OCREngine, error) {
	switch a.Config.OCREngine {
	case "tesseract":
		t, err := ocr.NewTesseract(a.Config.OCRLanguages)
		if errors.Is(err, core.ErrOCRUnavailable) {
			a.Log.Error().Err(err).
				Msg("OCR disabled, images will be indexed without text; build with -tags tesseract or set OCR_ENGINE=gemini or OCR_ENGINE=none")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return t, nil
	case "gemini":
		g, err := llm.NewGeminiOCR(ctx, a.Config.AIAPIKey, a.Config.GenModel)
		if err != nil {
			return nil, fmt.Errorf("gemini ocr: %w", err)
		}
		a.closers = append(a.closers, g)
		return g, nil
	default:
		return nil, nil
	}
}

// Run starts the background workers and the HTTP server and blocks until ctx
// ends, then drains the server.
func (a *App) Run(ctx context.Context) error {
	a.DocProcessor.Start(ctx, a.Config.IngestWorkers)

	if a.needsRebuild {
		go func() {
			report, err := a.DocProcessor.Rebuild(ctx)
			if err != nil {
				a.Log.Error().Err(err).Msg("index rebuild failed")
				return
			}
			a.Log.Info().Int("indexed", len(report.Indexed)).Int("skipped", len(report.Skipped)).Msg("index rebuilt")
		}()
	}

	if a.Config.WatchDir != "" {
		w := ingestion_engine.NewWatcher(a.Config.WatchDir, watchSettle, a.DocProcessor.Enqueue, a.Log)
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Log.Error().Err(err).Str("dir", a.Config.WatchDir).Msg("inbox watcher stopped")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.Server.Shutdown(shutdownCtx)
}

func (a *App) Close() {
	if a.Index != nil {
		if err := a.Index.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("closing index")
		}
	}
	for _, c := range a.closers {
		_ = c.Close()
	}
	if a.providers != nil {
		_ = a.providers.Close()
	}
}
