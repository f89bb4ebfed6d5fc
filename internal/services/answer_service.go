package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/markdave123-py/citedoc/internal/core"
	"github.com/markdave123-py/citedoc/internal/metrics"
	"github.com/markdave123-py/citedoc/internal/models"
)

// NoAnswerSentinel is the exact reply the model is told to give when the excerpts
// do not contain the answer.
const NoAnswerSentinel = "NOT_IN_DOCUMENTS"

const NoGroundingMessage = "The answer is not available in the indexed documents."

const systemPrompt = `You are a professional research analyst.

Answer the question strictly using the information contained in the numbered document excerpts.
Do not mention the excerpts themselves, the "context", or similar meta-references.
Do not include conversational language, assumptions or external knowledge.

Writing guidelines:
- Use a formal, neutral and analytical tone.
- Present information directly and concisely.

Citation rules:
- Cite every statement with the number of the excerpt it comes from, in square brackets, e.g. [1] or [2][3].
- Only cite excerpts you actually used.

If the excerpts do not contain the answer, reply with exactly ` + NoAnswerSentinel + ` and nothing else.`

var (
	citeRe = regexp.MustCompile(`\[(\d+(?:\s*,\s*\d+)*)\]`)
	pageRe = regexp.MustCompile(`(?i)\bpages?\s+(\d+)`)
)

type AnswerService struct {
	retriever ChunkRetriever
	llm       core.LLMProvider
	timeout   time.Duration
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

// NewAnswerService answers questions from retrieved chunks. timeout bounds each
// LLM attempt.
func NewAnswerService(r ChunkRetriever, llm core.LLMProvider, timeout time.Duration, log zerolog.Logger, m *metrics.Metrics) *AnswerService {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AnswerService{
		retriever: r,
		llm:       llm,
		timeout:   timeout,
		log:       log.With().Str("component", "answer").Logger(),
		metrics:   m,
	}
}

// Answer retrieves context for question and asks the LLM for a cited answer.
// An empty retrieval is a successful, ungrounded answer. LLM failures are never
// replaced by a made-up answer: they come back as ServiceUnavailable.
func (s *AnswerService) Answer(ctx context.Context, question string) (ans *models.Answer, err error) {
	defer func() {
		switch {
		case err == nil && ans.Grounded:
			s.metrics.Query("answered")
		case err == nil:
			s.metrics.Query("no_grounding")
		case errors.Is(err, core.ErrServiceUnavailable):
			s.metrics.Query("unavailable")
		default:
			s.metrics.Query("error")
		}
	}()

	question = strings.TrimSpace(question)
	ranked, err := s.retriever.Retrieve(ctx, question)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return ungrounded(), nil
	}

	reply, err := s.generate(ctx, buildUserPrompt(question, ranked))
	if err != nil {
		return nil, err
	}
	return parseAnswer(reply, ranked), nil
}

// generate calls the LLM with one immediate re-attempt.
func (s *AnswerService) generate(ctx context.Context, userPrompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		out, err := s.llm.Generate(callCtx, systemPrompt, userPrompt)
		cancel()

		if err == nil && strings.TrimSpace(out) != "" {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if err == nil {
			err = errors.New("empty completion")
		}
		lastErr = err
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("llm call failed")
	}
	if errors.Is(lastErr, core.ErrServiceUnavailable) {
		return "", lastErr
	}
	return "", core.ServiceUnavailable("generate answer", lastErr)
}

func ungrounded() *models.Answer {
	return &models.Answer{Answer: NoGroundingMessage, Grounded: false, Citations: []models.Citation{}}
}

// excerptLabel renders "(Pages 2, 3, Table 1 on page 3, r.pdf)" style source labels.
func excerptLabel(c models.Chunk) string {
	var b strings.Builder
	b.WriteString("(")
	if src := c.SourcePages(); len(src) == 1 {
		fmt.Fprintf(&b, "Page %d", src[0])
	} else {
		pages := make([]string, len(src))
		for i, p := range src {
			pages[i] = strconv.Itoa(p)
		}
		b.WriteString("Pages " + strings.Join(pages, ", "))
	}
	for _, ref := range c.Refs {
		b.WriteString(", " + ref.String())
	}
	if c.FileName != "" {
		b.WriteString(", " + c.FileName)
	}
	b.WriteString(")")
	return b.String()
}

func buildUserPrompt(question string, ranked []models.RankedChunk) string {
	var b strings.Builder
	b.WriteString("<Document Excerpts>\n")
	for i, rc := range ranked {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, excerptLabel(rc.Chunk), rc.Chunk.Text)
	}
	b.WriteString("</Document Excerpts>\n\nQuestion:\n")
	b.WriteString(question)
	return b.String()
}

// parseAnswer turns the model reply into an answer with citations. Citations come
// from [n] markers in order of first use; without markers, from "Page N" mentions;
// failing both, every excerpt supplied is cited.
func parseAnswer(reply string, ranked []models.RankedChunk) *models.Answer {
	text := strings.TrimSpace(reply)
	if strings.Contains(text, NoAnswerSentinel) {
		return ungrounded()
	}

	var picked []int
	seen := map[int]bool{}
	pick := func(i int) {
		if i >= 0 && i < len(ranked) && !seen[i] {
			seen[i] = true
			picked = append(picked, i)
		}
	}

	for _, m := range citeRe.FindAllStringSubmatch(text, -1) {
		for _, n := range strings.Split(m[1], ",") {
			if v, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
				pick(v - 1)
			}
		}
	}
	if len(picked) == 0 {
		for _, m := range pageRe.FindAllStringSubmatch(text, -1) {
			page, _ := strconv.Atoi(m[1])
			for i, rc := range ranked {
				if slices.Contains(rc.Chunk.SourcePages(), page) {
					pick(i)
				}
			}
		}
	}
	if len(picked) == 0 {
		for i := range ranked {
			pick(i)
		}
	}

	cites := make([]models.Citation, 0, len(picked))
	for _, i := range picked {
		cites = append(cites, citationFor(i+1, ranked[i]))
	}
	return &models.Answer{Answer: text, Grounded: true, Citations: cites}
}

func citationFor(excerpt int, rc models.RankedChunk) models.Citation {
	c := rc.Chunk
	cite := models.Citation{
		Excerpt:       excerpt,
		DocumentID:    c.DocumentID,
		FileName:      c.FileName,
		Pages:         c.Pages,
		Type:          c.PrimaryType(),
		Score:         rc.Score,
		LowConfidence: c.LowConfidence,
	}
	// a table or image citation names the page that unit sits on
	for _, ref := range c.Refs {
		if ref.Type == cite.Type {
			cite.Page, cite.Ref = ref.Page, ref.Ref
			return cite
		}
	}
	if src := c.SourcePages(); len(src) > 0 {
		cite.Page = src[0]
	}
	return cite
}
