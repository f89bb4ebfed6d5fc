package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/markdave123-py/citedoc/internal/core/ingestion_engine"
	"github.com/markdave123-py/citedoc/internal/models"
)

// DocumentAPI is what the document routes need from the service layer.
type DocumentAPI interface {
	Upload(ctx context.Context, fileName string, data []byte, password string) (*models.IngestResult, error)
	Get(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context) ([]models.Document, error)
	Delete(ctx context.Context, id string) error
	Reindex(ctx context.Context, id string) (*models.IngestResult, error)
	Rebuild(ctx context.Context) (*ingestion_engine.RebuildReport, error)
}

type DocumentHandler struct {
	docs           DocumentAPI
	maxUploadBytes int64
}

func NewDocumentHandler(docs DocumentAPI, maxUploadMB int) *DocumentHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	return &DocumentHandler{docs: docs, maxUploadBytes: int64(maxUploadMB) << 20}
}

// UploadDocument stores, parses and indexes a multipart "file" before responding.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	limit := h.maxUploadBytes + 1<<20 // room for the form envelope
	if r.ContentLength > limit {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "upload too large", Kind: "invalid_file"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "upload too large", Kind: "invalid_file"})
			return
		}
		badRequest(w, "expected a multipart form with a file field")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "missing file field")
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "upload too large", Kind: "invalid_file"})
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(w, "could not read upload")
		return
	}

	res, err := h.docs.Upload(r.Context(), header.Filename, data, r.FormValue("password"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	hlog.FromRequest(r).Info().Str("document_id", res.Document.ID).Int("chunks", res.Chunks).Msg("upload indexed")
	writeJSON(w, http.StatusCreated, res)
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.docs.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument removes the index entries and the stored file.
func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.docs.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) ReindexDocument(w http.ResponseWriter, r *http.Request) {
	res, err := h.docs.Reindex(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *DocumentHandler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	report, err := h.docs.Rebuild(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
