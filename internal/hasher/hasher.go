// Package hasher derives content identifiers by streaming a source through
// an incremental hash in fixed-size windows.
package hasher

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/dmitrijs2005/uploadkeeper/internal/common"
	"golang.org/x/crypto/blake2b"
)

const (
	MD5     = "md5"
	SHA256  = "sha256"
	BLAKE2b = "blake2b"
)

// Hasher computes a content hash. Only one window of the source is resident
// at a time. It is safe for concurrent use.
type Hasher struct {
	algorithm string
	window    int64
}

// New returns a Hasher for algorithm. A non-positive window selects
// common.DefaultWindowSize.
func New(algorithm string, window int64) (*Hasher, error) {
	if window <= 0 {
		window = common.DefaultWindowSize
	}
	h := &Hasher{algorithm: algorithm, window: window}
	if _, err := h.newHash(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Hasher) Algorithm() string {
	return h.algorithm
}

func (h *Hasher) newHash() (hash.Hash, error) {
	switch h.algorithm {
	case MD5, "":
		return md5.New(), nil
	case SHA256:
		return sha256.New(), nil
	case BLAKE2b:
		return blake2b.New256(nil)
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", h.algorithm)
	}
}

// Hash folds size bytes of r into a lowercase hex digest. Any read failure
// yields common.ErrSourceReadFailed and no digest.
func (h *Hasher) Hash(ctx context.Context, r io.ReaderAt, size int64) (string, error) {
	acc, err := h.newHash()
	if err != nil {
		return "", err
	}

	buf := make([]byte, min(h.window, max(size, 1)))
	for off := int64(0); off < size; {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n := min(int64(len(buf)), size-off)
		read, err := r.ReadAt(buf[:n], off)
		// ReadAt may return io.EOF together with a full final window
		if int64(read) < n || (err != nil && !errors.Is(err, io.EOF)) {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return "", fmt.Errorf("%w: offset %d: %w", common.ErrSourceReadFailed, off, err)
		}

		acc.Write(buf[:n])
		off += n
	}

	return hex.EncodeToString(acc.Sum(nil)), nil
}
