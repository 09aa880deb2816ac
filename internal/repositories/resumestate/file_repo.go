package resumestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dmitrijs2005/uploadkeeper/internal/filex"
	"github.com/dmitrijs2005/uploadkeeper/internal/logging"
	"github.com/dmitrijs2005/uploadkeeper/internal/models"
)

const recordExt = ".json"

// FileRepository keeps each record in <dir>/<hash>.json.
type FileRepository struct {
	dir    string
	logger logging.Logger
}

// NewFileRepository creates dir if needed.
func NewFileRepository(dir string) (*FileRepository, error) {
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, err
	}
	return &FileRepository{dir: abs, logger: logging.Nop()}, nil
}

// WithLogger sets where List reports records it had to skip.
func (r *FileRepository) WithLogger(logger logging.Logger) *FileRepository {
	r.logger = logger
	return r
}

func (r *FileRepository) path(hash string) (string, error) {
	if hash == "" || strings.ContainsAny(hash, `/\.`) {
		return "", fmt.Errorf("invalid content hash %q", hash)
	}
	return filepath.Join(r.dir, hash+recordExt), nil
}

func (r *FileRepository) Load(ctx context.Context, hash string) (*models.ResumeRecord, error) {
	p, err := r.path(hash)
	if err != nil {
		return nil, err
	}
	return readRecord(p)
}

func (r *FileRepository) Save(ctx context.Context, rec *models.ResumeRecord) error {
	if rec == nil {
		return errors.New("nil resume record")
	}
	p, err := r.path(rec.ContentHash)
	if err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode resume record: %w", err)
	}
	return filex.WriteFileAtomic(p, data, 0o600)
}

func (r *FileRepository) Delete(ctx context.Context, hash string) error {
	p, err := r.path(hash)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete resume record: %w", err)
	}
	return nil
}

// List returns every readable record. A record that cannot be decoded is
// logged and left out so the others can still resume.
func (r *FileRepository) List(ctx context.Context) ([]*models.ResumeRecord, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("list resume records: %w", err)
	}

	var out []*models.ResumeRecord
	for _, e := range entries {
		name := e.Name()
		// temp files from an interrupted write start with a dot
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != recordExt {
			continue
		}
		rec, err := readRecord(filepath.Join(r.dir, name))
		if err != nil {
			r.logger.Warn(ctx, "skipping unreadable resume record", "file", name, "error", err)
			continue
		}
		if rec != nil {
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ContentHash < out[j].ContentHash })
	return out, nil
}

func readRecord(path string) (*models.ResumeRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read resume record: %w", err)
	}

	var rec models.ResumeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode resume record %s: %w", filepath.Base(path), err)
	}
	return &rec, nil
}
