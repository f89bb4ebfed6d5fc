package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"
	"github.com/yuin/goldmark"

	"github.com/markdave123-py/citedoc/internal/models"
)

type Answerer interface {
	Answer(ctx context.Context, question string) (*models.Answer, error)
}

type ChatHandler struct {
	answers  Answerer
	onQuery  func()
	markdown goldmark.Markdown
}

// NewChatHandler serves questions. onQuery, if set, is called once per accepted question.
func NewChatHandler(answers Answerer, onQuery func()) *ChatHandler {
	return &ChatHandler{answers: answers, onQuery: onQuery, markdown: goldmark.New()}
}

type ChatRequest struct {
	Question string `json:"question"`
}

type ChatResponse struct {
	*models.Answer
	AnswerHTML string `json:"answer_html,omitempty"`
}

// QueryDocuments answers a question from the indexed documents. ?format=html adds
// the answer rendered from markdown.
func (h *ChatHandler) QueryDocuments(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		badRequest(w, "question is required")
		return
	}
	if h.onQuery != nil {
		h.onQuery()
	}

	ans, err := h.answers.Answer(r.Context(), req.Question)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := ChatResponse{Answer: ans}
	if r.URL.Query().Get("format") == "html" {
		var buf bytes.Buffer
		if err := h.markdown.Convert([]byte(ans.Answer), &buf); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("markdown rendering failed")
		} else {
			resp.AnswerHTML = buf.String()
		}
	}
	hlog.FromRequest(r).Info().Bool("grounded", ans.Grounded).Int("citations", len(ans.Citations)).Msg("question answered")
	writeJSON(w, http.StatusOK, resp)
}
