package vectorindex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/markdave123-py/citedoc/internal/core"
)

// Snapshot files are: magic (4 bytes) | crc32 of payload (4 bytes, big endian) | msgpack payload.
var snapshotMagic = []byte("CDIX")

const snapshotVersion = 1

// writeSnapshot encodes v and replaces path atomically: the payload goes to a temp file in the
// same directory which is synced and renamed over path. A crash leaves the previous file intact.
func writeSnapshot(path string, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	header := make([]byte, 8)
	copy(header, snapshotMagic)
	binary.BigEndian.PutUint32(header[4:], crc32.ChecksumIEEE(payload))
	if _, err := tmp.Write(header); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	committed = true

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// readSnapshot decodes path into v. It returns os.ErrNotExist untouched when there is no
// snapshot and an IndexError wrapping ErrIndexCorrupt for anything unreadable.
func readSnapshot(path string, v any) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err != nil {
		return core.IndexError("load snapshot", fmt.Errorf("%w: %v", core.ErrIndexCorrupt, err))
	}
	if len(raw) < 8 || !bytes.Equal(raw[:4], snapshotMagic) {
		return core.IndexError("load snapshot", fmt.Errorf("%w: bad header", core.ErrIndexCorrupt))
	}
	payload := raw[8:]
	if crc32.ChecksumIEEE(payload) != binary.BigEndian.Uint32(raw[4:8]) {
		return core.IndexError("load snapshot", fmt.Errorf("%w: checksum mismatch", core.ErrIndexCorrupt))
	}
	if err := msgpack.NewDecoder(bytes.NewReader(payload)).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return core.IndexError("load snapshot", fmt.Errorf("%w: %v", core.ErrIndexCorrupt, err))
	}
	return nil
}
