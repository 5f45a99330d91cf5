// internal/cache/key.go
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"tcrflow/internal/chunk"
	"tcrflow/internal/tool"
)

// Key is the deterministic fingerprint of one (chunk, tool parameters)
// pair: hex SHA-256 over the chunk files' identity (canonical path, size,
// mtime) and the canonical parameter encoding. Identical inputs always
// produce identical keys.
type Key string

// NewKey fingerprints ch under p. It stats both chunk files, so the chunk
// must already be materialized locally.
func NewKey(ch chunk.Chunk, p tool.Params) (Key, error) {
	h := sha256.New()
	for _, f := range []string{ch.R1, ch.R2} {
		abs, err := filepath.Abs(f)
		if err != nil {
			return "", fmt.Errorf("cache key: %w", err)
		}
		fi, err := os.Stat(f)
		if err != nil {
			return "", fmt.Errorf("cache key: %w", err)
		}
		fmt.Fprintf(h, "file=%s\nsize=%d\nmtime=%d\n", abs, fi.Size(), fi.ModTime().UnixNano())
	}
	_, _ = io.WriteString(h, p.Canonical())
	return Key(hex.EncodeToString(h.Sum(nil))), nil
}

// shard returns the two-character directory prefix for the key.
func (k Key) shard() string {
	if len(k) < 2 {
		return "xx"
	}
	return string(k[:2])
}
