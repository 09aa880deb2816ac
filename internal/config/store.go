package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dmitrijs2005/uploadkeeper/internal/filex"
	"github.com/tidwall/jsonc"
)

// Store writes back to sys.conf. Keys it does not own are preserved; comments
// are not, since the file is re-encoded.
type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// SetHost persists host as the "host" key, creating the file if needed.
func (s *Store) SetHost(host string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := map[string]json.RawMessage{}

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("read config %s: %w", s.path, err)
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
			return fmt.Errorf("parse config %s: %w", s.path, err)
		}
	}

	raw, err := json.Marshal(host)
	if err != nil {
		return err
	}
	doc["host"] = raw

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if _, err := filex.EnsureDir(filepath.Dir(s.path)); err != nil {
		return err
	}
	return filex.WriteFileAtomic(s.path, out, 0o600)
}
