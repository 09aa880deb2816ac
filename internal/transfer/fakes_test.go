package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/uploadkeeper/internal/hasher"
	"github.com/dmitrijs2005/uploadkeeper/internal/logging"
	"github.com/dmitrijs2005/uploadkeeper/internal/models"
	"github.com/dmitrijs2005/uploadkeeper/internal/retryx"
	"github.com/dmitrijs2005/uploadkeeper/internal/sources"
	"github.com/stretchr/testify/require"
)

const mib = 1 << 20

type memSource struct {
	*bytes.Reader
	closed atomic.Bool
}

func (m *memSource) Close() error {
	m.closed.Store(true)
	return nil
}

// memOpener serves byte slices by reference.
type memOpener map[string][]byte

func (o memOpener) Open(ctx context.Context, ref string) (sources.Source, error) {
	b, ok := o[ref]
	if !ok {
		return nil, errors.New("no such item")
	}
	return &memSource{Reader: bytes.NewReader(b)}, nil
}

func payload(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i) ^ seed
	}
	return b
}

type fakeRemote struct {
	mu sync.Mutex

	fileID   string
	plan     []models.Chunk
	regErr   error
	failIdx  map[int]bool
	attempts map[int]int
	uploads  map[int]int
	bodies   map[int][]byte
	finals   int

	gate        chan struct{} // when set, each upload waits on it
	started     chan int
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
	slowIdx     map[int]time.Duration
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		fileID:   "file-1",
		failIdx:  map[int]bool{},
		attempts: map[int]int{},
		uploads:  map[int]int{},
		bodies:   map[int][]byte{},
	}
}

func (f *fakeRemote) RegisterMetadata(ctx context.Context, meta Metadata) (*Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.regErr != nil {
		return nil, f.regErr
	}
	return &Registration{FileID: f.fileID, Chunks: f.plan}, nil
}

func (f *fakeRemote) UploadChunk(ctx context.Context, fileID string, c models.Chunk, total int64, body io.Reader) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if f.started != nil {
		f.started <- c.Index
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if d := f.slowIdx[c.Index]; d > 0 {
		time.Sleep(d)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[c.Index]++
	if f.failIdx[c.Index] {
		return errors.New("503 service unavailable")
	}
	if int64(len(data)) != c.Size {
		return errors.New("short body")
	}
	f.uploads[c.Index]++
	f.bodies[c.Index] = data
	return nil
}

func (f *fakeRemote) uploadCount(idx int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads[idx]
}

func (f *fakeRemote) totalUploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.uploads {
		n += v
	}
	return n
}

type finalizingRemote struct {
	*fakeRemote
	err error
}

func (f *finalizingRemote) Finalize(ctx context.Context, fileID string, chunkCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finals++
	return f.err
}

// memStore is an in-memory resumestate.Repository with failure injection.
type memStore struct {
	mu      sync.Mutex
	recs    map[string]*models.ResumeRecord
	saveErr error
	saves   int
}

func newMemStore() *memStore {
	return &memStore{recs: map[string]*models.ResumeRecord{}}
}

func (m *memStore) Load(ctx context.Context, hash string) (*models.ResumeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recs[hash].Clone(), nil
}

func (m *memStore) Save(ctx context.Context, rec *models.ResumeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.recs[rec.ContentHash] = rec.Clone()
	return nil
}

func (m *memStore) Delete(ctx context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, hash)
	return nil
}

func (m *memStore) List(ctx context.Context) ([]*models.ResumeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ResumeRecord
	for _, r := range m.recs {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (m *memStore) get(hash string) *models.ResumeRecord {
	rec, _ := m.Load(context.Background(), hash)
	return rec
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

type recorder struct {
	mu     sync.Mutex
	events []models.Progress
}

func (r *recorder) OnProgress(p models.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
}

func (r *recorder) statuses() []models.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Status
	for _, e := range r.events {
		out = append(out, e.Status)
	}
	return out
}

func (r *recorder) terminal() []models.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Progress
	for _, e := range r.events {
		if e.Status.Terminal() {
			out = append(out, e)
		}
	}
	return out
}

func testOptions() Options {
	return Options{
		ChunkSize:            2 * mib,
		MaxConcurrentChunks:  3,
		Retry:                retryx.Policy{Attempts: 3, Delay: time.Millisecond},
		RequestTimeout:       5 * time.Second,
		KeepCompletedRecords: true,
	}
}

func newEngine(t *testing.T, store *memStore, remote Remote, obs Observer, opts Options) *Engine {
	t.Helper()
	h, err := hasher.New(hasher.MD5, 0)
	require.NoError(t, err)
	return New(store, remote, h, obs, logging.Nop(), opts)
}

func submit(t *testing.T, e *Engine, opener sources.Opener, ref string) *Job {
	t.Helper()
	job, err := e.Submit(context.Background(), models.SourceEvent{SourceRef: ref, DisplayName: ref}, opener)
	require.NoError(t, err)
	t.Cleanup(func() { _ = job.Close() })
	return job
}
