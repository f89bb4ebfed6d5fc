package ocr

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/citedoc/internal/core"
	"github.com/markdave123-py/citedoc/internal/metrics"
	"github.com/markdave123-py/citedoc/internal/models"
)

// Summary counts OCR outcomes for one document.
type Summary struct {
	Images        int
	LowConfidence int
	Failed        int
}

// Recognizer fills image elements with OCR text. A nil engine leaves images empty.
type Recognizer struct {
	engine    core.OCREngine
	threshold float64
	timeout   time.Duration
	workers   int
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Recognizer)

func WithThreshold(t float64) Option { return func(r *Recognizer) { r.threshold = t } }

func WithTimeout(d time.Duration) Option { return func(r *Recognizer) { r.timeout = d } }

func WithWorkers(n int) Option {
	return func(r *Recognizer) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option { return func(r *Recognizer) { r.metrics = m } }

func NewRecognizer(engine core.OCREngine, log zerolog.Logger, opts ...Option) *Recognizer {
	r := &Recognizer{
		engine:    engine,
		threshold: 0.6,
		timeout:   30 * time.Second,
		workers:   4,
		log:       log.With().Str("component", "ocr").Logger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Engine names the engine in use, "none" when OCR is disabled.
func (r *Recognizer) Engine() string {
	if r.engine == nil {
		return "none"
	}
	return r.engine.Name()
}

// Recognize runs OCR on one image element. Engine failures never abort ingestion:
// the element keeps empty text and is flagged OCRFailed. Only cancellation of ctx is returned.
func (r *Recognizer) Recognize(ctx context.Context, el *models.PageElement) error {
	if el.Type != models.ElementImage || r.engine == nil {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	res, err := r.engine.Recognize(callCtx, el.Image, el.ImageFormat)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = core.OCRFailure("recognize", err)
		r.log.Warn().Err(err).Int("page", el.Page).Str("ref", el.Ref).Msg("ocr failed, keeping empty image text")
		el.Content = ""
		el.OCRFailed = true
		r.metrics.OCR("failed")
		return nil
	}

	conf := min(max(res.Confidence, 0), 1)
	el.Content = normalize(res.Text)
	el.Confidence = &conf
	el.LowConfidence = el.Content != "" && conf < r.threshold
	switch {
	case el.LowConfidence:
		r.metrics.OCR("low_confidence")
	case el.Content == "":
		r.metrics.OCR("empty")
	default:
		r.metrics.OCR("ok")
	}
	return nil
}

// RecognizeAll runs OCR over every image of doc with bounded parallelism.
// Each result is written back to its own element, so page order is preserved.
func (r *Recognizer) RecognizeAll(ctx context.Context, doc *models.ExtractedDocument) (Summary, error) {
	var targets []*models.PageElement
	for p := range doc.Pages {
		for i := range doc.Pages[p] {
			if doc.Pages[p][i].Type == models.ElementImage {
				targets = append(targets, &doc.Pages[p][i])
			}
		}
	}
	sum := Summary{Images: len(targets)}
	if len(targets) == 0 || r.engine == nil {
		return sum, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, el := range targets {
		g.Go(func() error {
			return r.Recognize(gctx, el)
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return sum, err
		}
		return sum, core.OCRFailure("recognize all", err)
	}

	for _, el := range targets {
		if el.OCRFailed {
			sum.Failed++
		}
		if el.LowConfidence {
			sum.LowConfidence++
		}
	}
	r.log.Debug().Int("images", sum.Images).Int("low_confidence", sum.LowConfidence).Int("failed", sum.Failed).Msg("ocr complete")
	return sum, nil
}

// normalize trims lines and collapses runs of blank lines.
func normalize(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func meanConfidence(c []float64) float64 {
	if len(c) == 0 {
		return 0
	}
	var sum float64
	for _, v := range c {
		sum += v
	}
	return sum / float64(len(c))
}
