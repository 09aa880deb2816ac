// Package sources produces upload work: a recursive directory watcher for
// newly created files and a throttled, one-shot enumerator over a media
// library.
package sources

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/uploadkeeper/internal/common"
)

// Source is an opened item whose bytes can be read at arbitrary offsets.
type Source interface {
	ReadAt(p []byte, off int64) (int, error)
	Close() error
	Size() int64
}

// Opener opens the item behind a source reference.
type Opener interface {
	Open(ctx context.Context, ref string) (Source, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, ref string) (Source, error)

func (f OpenerFunc) Open(ctx context.Context, ref string) (Source, error) { return f(ctx, ref) }

type fileSource struct {
	*os.File
	size int64
}

func (f *fileSource) Size() int64 { return f.size }

// FileOpener opens local files by path.
type FileOpener struct{}

func (FileOpener) Open(ctx context.Context, ref string) (Source, error) {
	f, err := os.Open(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrSourceReadFailed, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %w", common.ErrSourceReadFailed, err)
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", common.ErrSourceReadFailed, ref)
	}
	return &fileSource{File: f, size: st.Size()}, nil
}
