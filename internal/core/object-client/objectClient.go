package objectclient

import (
	"context"
	"fmt"
	"path"
	"strings"

	cfg "github.com/markdave123-py/citedoc/internal/config"
	"github.com/markdave123-py/citedoc/internal/core"
)

const documentPrefix = "documents/"

// New returns the object client selected by STORAGE_BACKEND.
func New(ctx context.Context, c *cfg.Config) (core.ObjectClient, error) {
	switch c.StorageBackend {
	case "s3":
		client, err := NewS3Client(ctx, c)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "local", "":
		client, err := NewLocalClient(path.Join(c.DataDir, "objects"))
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
}

// DocumentPrefix is the key prefix under which raw uploads live.
func DocumentPrefix() string { return documentPrefix }

// DocumentKey is the storage key of a document's raw file.
func DocumentKey(documentID, fileName string) string {
	return documentPrefix + documentID + "/" + cleanFileName(fileName)
}

// ParseDocumentKey splits a key produced by DocumentKey.
func ParseDocumentKey(key string) (documentID, fileName string, ok bool) {
	rest, found := strings.CutPrefix(key, documentPrefix)
	if !found {
		return "", "", false
	}
	documentID, fileName, found = strings.Cut(rest, "/")
	if !found || documentID == "" || fileName == "" || strings.Contains(fileName, "/") {
		return "", "", false
	}
	return documentID, fileName, true
}

func cleanFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." || name == "" {
		return "document.pdf"
	}
	return name
}
