package objectclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/markdave123-py/citedoc/internal/core"
	"github.com/markdave123-py/citedoc/internal/models"
)

// LocalClient keeps objects as files below a root directory.
type LocalClient struct {
	root string
}

func NewLocalClient(root string) (*LocalClient, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &LocalClient{root: abs}, nil
}

func (c *LocalClient) resolve(key string) (string, error) {
	p := filepath.Join(c.root, filepath.FromSlash(key))
	if p == c.root || !strings.HasPrefix(p, c.root+string(filepath.Separator)) {
		return "", core.StorageError("resolve", fmt.Errorf("invalid key %q", key))
	}
	return p, nil
}

// UploadFile writes data to a temp file and renames it into place.
func (c *LocalClient) UploadFile(ctx context.Context, key string, data io.Reader, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst, err := c.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", core.StorageError("upload", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", core.StorageError("upload", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		_ = tmp.Close()
		return "", core.StorageError("upload", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", core.StorageError("upload", err)
	}
	if err := tmp.Close(); err != nil {
		return "", core.StorageError("upload", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", core.StorageError("upload", err)
	}
	return "file://" + filepath.ToSlash(dst), nil
}

func (c *LocalClient) GetFile(_ context.Context, key string) ([]byte, error) {
	p, err := c.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, core.NotFoundError("get", fmt.Errorf("object %s", key))
	}
	if err != nil {
		return nil, core.StorageError("get", err)
	}
	return data, nil
}

// DeleteFile removes the object and any directories it leaves empty.
func (c *LocalClient) DeleteFile(_ context.Context, key string) error {
	p, err := c.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return core.StorageError("delete", err)
	}
	for dir := filepath.Dir(p); dir != c.root; dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

func (c *LocalClient) ListFiles(_ context.Context, prefix string) ([]models.StoredObject, error) {
	var out []models.StoredObject
	err := filepath.WalkDir(c.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(c.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, models.StoredObject{Key: key, Size: info.Size(), ModifiedAt: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, core.StorageError("list", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
