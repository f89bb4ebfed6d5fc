package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	err := ParseError("extract", ErrEncrypted)

	assert.True(t, errors.Is(err, ErrParse))
	assert.True(t, errors.Is(err, ErrEncrypted))
	assert.False(t, errors.Is(err, ErrEmbedding))
	assert.Equal(t, "extract: parse failure: pdf is encrypted and no valid password was supplied", err.Error())

	var typed *Error
	require.True(t, errors.As(fmt.Errorf("upload: %w", err), &typed))
	assert.Equal(t, "extract", typed.Op)
}

func TestErrorWithoutCause(t *testing.T) {
	err := NotFoundError("document", nil)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "document: not found", err.Error())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"invalid", InvalidFileError("upload", errors.New("not a pdf")), "invalid_file"},
		{"parse", ParseError("extract", ErrNoContent), "parse_error"},
		{"embedding", EmbeddingError("embed", errors.New("down")), "embedding_error"},
		{"unavailable wraps embedding", ServiceUnavailable("retrieve", EmbeddingError("embed", errors.New("down"))), "service_unavailable"},
		{"index", IndexError("load", ErrIndexCorrupt), "index_error"},
		{"storage", StorageError("put", errors.New("disk full")), "storage_error"},
		{"not found", NotFoundError("get", nil), "not_found"},
		{"wrapped", fmt.Errorf("outer: %w", StorageError("put", nil)), "storage_error"},
		{"plain", errors.New("boom"), "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}
