package sources

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/uploadkeeper/internal/common"
	"github.com/dmitrijs2005/uploadkeeper/internal/models"
	"github.com/gabriel-vasile/mimetype"
)

// Library is an enumerable media collection.
type Library interface {
	List(ctx context.Context) ([]models.SourceEvent, error)
	Open(ctx context.Context, ref string) (Source, error)
}

// DirLibrary treats the images and videos below Root as a media library,
// listed in lexical path order.
type DirLibrary struct {
	Root string
}

func NewDirLibrary(root string) *DirLibrary {
	return &DirLibrary{Root: filepath.Clean(root)}
}

func (l *DirLibrary) List(ctx context.Context) ([]models.SourceEvent, error) {
	var out []models.SourceEvent

	err := filepath.WalkDir(l.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() == 0 {
			return nil
		}

		m, err := mimetype.DetectFile(path)
		if err != nil {
			return nil
		}
		if !isMedia(m) {
			return nil
		}

		out = append(out, models.SourceEvent{
			SourceRef:   path,
			DisplayName: d.Name(),
			MimeType:    m.String(),
			SizeHint:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list library %s: %w", l.Root, err)
	}
	return out, nil
}

func isMedia(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") || strings.HasPrefix(m.String(), "video/") {
			return true
		}
	}
	return false
}

// Open refuses references outside Root.
func (l *DirLibrary) Open(ctx context.Context, ref string) (Source, error) {
	if !within(l.Root, filepath.Clean(ref)) {
		return nil, fmt.Errorf("%w: %s is outside the library", common.ErrSourceReadFailed, ref)
	}
	return FileOpener{}.Open(ctx, ref)
}
