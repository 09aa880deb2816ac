package sources

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/uploadkeeper/internal/common"
	"github.com/dmitrijs2005/uploadkeeper/internal/logging"
	"github.com/dmitrijs2005/uploadkeeper/internal/models"
)

// Handler processes one library item to completion.
type Handler func(ctx context.Context, ev models.SourceEvent) error

// Stats summarises the current or last enumeration.
type Stats struct {
	Running   bool
	Total     int
	Processed int
	Succeeded int
	Skipped   int
	Failed    int
	Failures  []models.Failure
}

// Enumerator walks a Library once per Run, one item at a time, pausing
// between items. Only one Run may be active.
type Enumerator struct {
	lib    Library
	delay  time.Duration
	logger logging.Logger
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	stats  Stats
}

func NewEnumerator(lib Library, delay time.Duration, logger logging.Logger) *Enumerator {
	return &Enumerator{lib: lib, delay: delay, logger: logger, now: time.Now}
}

func (e *Enumerator) Library() Library { return e.lib }

// Run lists the library and hands each item to handle. It returns
// common.ErrJobStoppedByUser when stopped before the last item, and
// common.ErrAlreadyRunning when another Run is active. An item whose handler
// fails is recorded in Stats and not handed over again.
func (e *Enumerator) Run(ctx context.Context, handle Handler) error {
	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return common.ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.stats = Stats{Running: true}
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.cancel = nil
		e.stats.Running = false
		e.mu.Unlock()
	}()

	items, err := e.lib.List(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.stats.Total = len(items)
	e.mu.Unlock()
	e.logger.Info(ctx, "library enumeration started", "items", len(items))

	for i, item := range items {
		if i > 0 {
			t := time.NewTimer(e.delay)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
		if ctx.Err() != nil {
			e.logger.Info(ctx, "library enumeration stopped", "processed", i, "total", len(items))
			return common.ErrJobStoppedByUser
		}

		err := handle(ctx, item)
		e.record(item, err)

		if errors.Is(err, common.ErrJobStoppedByUser) || ctx.Err() != nil {
			e.logger.Info(ctx, "library enumeration stopped", "processed", i+1, "total", len(items))
			return common.ErrJobStoppedByUser
		}
	}

	e.logger.Info(ctx, "library enumeration finished", "total", len(items))
	return nil
}

func (e *Enumerator) record(item models.SourceEvent, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.Processed++
	switch {
	case err == nil:
		e.stats.Succeeded++
	case errors.Is(err, common.ErrEmptySource), errors.Is(err, common.ErrJobStoppedByUser),
		errors.Is(err, context.Canceled):
		e.stats.Skipped++
	default:
		e.stats.Failed++
		e.stats.Failures = append(e.stats.Failures, models.Failure{SourceRef: item.SourceRef, Err: err, Timestamp: e.now()})
	}
}

// Stop halts the active Run before its next item. It is a no-op when idle.
func (e *Enumerator) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Enumerator) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancel != nil
}

func (e *Enumerator) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.Failures = append([]models.Failure(nil), e.stats.Failures...)
	return s
}
