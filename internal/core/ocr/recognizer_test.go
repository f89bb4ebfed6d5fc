package ocr

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/citedoc/internal/core"
	"github.com/markdave123-py/citedoc/internal/models"
)

type fakeEngine struct {
	results map[string]models.OCRResult
	fail    map[string]bool
	delay   time.Duration
	active  atomic.Int32
	peak    atomic.Int32
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Recognize(ctx context.Context, image []byte, _ string) (models.OCRResult, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return models.OCRResult{}, ctx.Err()
		}
	}
	key := string(image)
	if f.fail[key] {
		return models.OCRResult{}, errors.New("engine crashed")
	}
	return f.results[key], nil
}

func image(page int, ref, data string) models.PageElement {
	return models.PageElement{Page: page, Type: models.ElementImage, Ref: ref, Image: []byte(data), ImageFormat: "png"}
}

func TestRecognizeSetsConfidenceFlags(t *testing.T) {
	eng := &fakeEngine{results: map[string]models.OCRResult{
		"good": {Text: "Revenue  by\n\n\n quarter", Confidence: 0.93},
		"poor": {Text: "R3v3nue", Confidence: 0.41},
	}}
	r := NewRecognizer(eng, zerolog.Nop(), WithThreshold(0.6))

	good := image(1, "Image 1", "good")
	require.NoError(t, r.Recognize(context.Background(), &good))
	assert.Equal(t, "Revenue by\n\nquarter", good.Content)
	assert.False(t, good.LowConfidence)
	require.NotNil(t, good.Confidence)
	assert.InDelta(t, 0.93, *good.Confidence, 1e-9)

	poor := image(1, "Image 2", "poor")
	require.NoError(t, r.Recognize(context.Background(), &poor))
	assert.Equal(t, "R3v3nue", poor.Content)
	assert.True(t, poor.LowConfidence)
}

func TestRecognizeFailureKeepsEmptyText(t *testing.T) {
	eng := &fakeEngine{fail: map[string]bool{"bad": true}}
	r := NewRecognizer(eng, zerolog.Nop())

	el := image(2, "Image 1", "bad")
	require.NoError(t, r.Recognize(context.Background(), &el))
	assert.True(t, el.OCRFailed)
	assert.Empty(t, el.Content)
}

func TestRecognizeTimeout(t *testing.T) {
	eng := &fakeEngine{delay: time.Second, results: map[string]models.OCRResult{"slow": {Text: "x", Confidence: 1}}}
	r := NewRecognizer(eng, zerolog.Nop(), WithTimeout(10*time.Millisecond))

	el := image(1, "Image 1", "slow")
	require.NoError(t, r.Recognize(context.Background(), &el))
	assert.True(t, el.OCRFailed)
}

func TestRecognizeAllKeepsOrderAndLimitsWorkers(t *testing.T) {
	eng := &fakeEngine{
		delay: 5 * time.Millisecond,
		results: map[string]models.OCRResult{
			"a": {Text: "alpha", Confidence: 0.9},
			"b": {Text: "beta", Confidence: 0.2},
			"c": {Text: "gamma", Confidence: 0.9},
			"d": {Text: "delta", Confidence: 0.9},
		},
		fail: map[string]bool{"e": true},
	}
	r := NewRecognizer(eng, zerolog.Nop(), WithWorkers(2))

	doc := &models.ExtractedDocument{PageCount: 2, Pages: [][]models.PageElement{
		{{Page: 1, Type: models.ElementText, Content: "intro"}, image(1, "Image 1", "a"), image(1, "Image 2", "b")},
		{image(2, "Image 1", "c"), image(2, "Image 2", "d"), image(2, "Image 3", "e")},
	}}

	sum, err := r.RecognizeAll(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, Summary{Images: 5, LowConfidence: 1, Failed: 1}, sum)
	assert.LessOrEqual(t, eng.peak.Load(), int32(2))

	assert.Equal(t, "intro", doc.Pages[0][0].Content)
	assert.Equal(t, "alpha", doc.Pages[0][1].Content)
	assert.Equal(t, "beta", doc.Pages[0][2].Content)
	assert.Equal(t, "gamma", doc.Pages[1][0].Content)
	assert.Equal(t, "delta", doc.Pages[1][1].Content)
	assert.True(t, doc.Pages[1][2].OCRFailed)
}

func TestRecognizeAllCancelled(t *testing.T) {
	eng := &fakeEngine{delay: time.Second}
	r := NewRecognizer(eng, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	doc := &models.ExtractedDocument{PageCount: 1, Pages: [][]models.PageElement{{image(1, "Image 1", "a")}}}
	_, err := r.RecognizeAll(ctx, doc)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNilEngineLeavesImagesEmpty(t *testing.T) {
	r := NewRecognizer(nil, zerolog.Nop())
	assert.Equal(t, "none", r.Engine())

	doc := &models.ExtractedDocument{PageCount: 1, Pages: [][]models.PageElement{{image(1, "Image 1", "a")}}}
	sum, err := r.RecognizeAll(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Images)
	assert.Empty(t, doc.Pages[0][0].Content)
	assert.False(t, doc.Pages[0][0].OCRFailed)
}

func TestStubTesseractIsUnavailable(t *testing.T) {
	if _, err := NewTesseract([]string{"eng"}); err != nil {
		assert.ErrorIs(t, err, core.ErrOCRUnavailable)
	}
}

func TestMeanConfidence(t *testing.T) {
	assert.Zero(t, meanConfidence(nil))
	assert.InDelta(t, 0.5, meanConfidence([]float64{0.25, 0.75}), 1e-9)
}
