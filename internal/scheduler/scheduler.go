// Package scheduler feeds source adapter output into the transfer engine.
//
// Watcher events each get their own goroutine and run as they arrive;
// library items run strictly one after another through the enumerator. A
// failed job never affects its siblings; failures are collected and can be
// read with Failures.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/uploadkeeper/internal/common"
	"github.com/dmitrijs2005/uploadkeeper/internal/logging"
	"github.com/dmitrijs2005/uploadkeeper/internal/models"
	"github.com/dmitrijs2005/uploadkeeper/internal/repositories/resumestate"
	"github.com/dmitrijs2005/uploadkeeper/internal/sources"
	"github.com/dmitrijs2005/uploadkeeper/internal/transfer"
)

// Engine is the part of transfer.Engine the scheduler drives.
type Engine interface {
	Submit(ctx context.Context, event models.SourceEvent, opener sources.Opener) (*transfer.Job, error)
	Run(ctx context.Context, job *transfer.Job) error
}

// EventSource is a continuous producer such as sources.Watcher.
type EventSource interface {
	Events() <-chan models.SourceEvent
}

type Scheduler struct {
	engine Engine
	logger logging.Logger
	now    func() time.Time

	wg       sync.WaitGroup
	mu       sync.Mutex
	failures []models.Failure
}

func New(engine Engine, logger logging.Logger) *Scheduler {
	return &Scheduler{engine: engine, logger: logger, now: time.Now}
}

// Process submits and runs one item to a terminal state. Skips and stops
// are returned but not recorded as failures.
func (s *Scheduler) Process(ctx context.Context, ev models.SourceEvent, opener sources.Opener) error {
	err := s.process(ctx, ev, opener)
	if err != nil && !isSkip(err) {
		s.recordFailure(ev.SourceRef, err)
	}
	return err
}

func (s *Scheduler) process(ctx context.Context, ev models.SourceEvent, opener sources.Opener) error {
	job, err := s.engine.Submit(ctx, ev, opener)
	if err == nil {
		err = s.engine.Run(ctx, job)
		_ = job.Close()
	}

	switch {
	case err == nil:
	case isSkip(err):
		s.logger.Debug(ctx, "item not uploaded", "source", ev.SourceRef, "reason", err)
	default:
		s.logger.Error(ctx, "upload failed", "source", ev.SourceRef, "error", err)
	}
	return err
}

func isSkip(err error) bool {
	return errors.Is(err, common.ErrEmptySource) ||
		errors.Is(err, common.ErrJobStoppedByUser) ||
		errors.Is(err, context.Canceled)
}

func (s *Scheduler) recordFailure(ref string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, models.Failure{SourceRef: ref, Err: err, Timestamp: s.now()})
}

// RunWatcher starts a job for every event until the source closes its
// channel or ctx is done. It does not wait for the jobs; use Wait.
func (s *Scheduler) RunWatcher(ctx context.Context, src EventSource, opener sources.Opener) {
	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.spawn(ctx, ev, opener)
		}
	}
}

func (s *Scheduler) spawn(ctx context.Context, ev models.SourceEvent, opener sources.Opener) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.Process(ctx, ev, opener)
	}()
}

// RunLibrary runs one enumeration, each item handled to completion before
// the next. Items that still fail after the enumerator's retries are added
// to Failures.
func (s *Scheduler) RunLibrary(ctx context.Context, e *sources.Enumerator) error {
	lib := e.Library()
	err := e.Run(ctx, func(ctx context.Context, ev models.SourceEvent) error {
		return s.process(ctx, ev, lib)
	})
	if errors.Is(err, common.ErrAlreadyRunning) {
		return err
	}

	s.mu.Lock()
	s.failures = append(s.failures, e.Stats().Failures...)
	s.mu.Unlock()
	return err
}

// ResumePending restarts every unfinished record whose source can still be
// opened. The jobs run concurrently like watcher jobs.
func (s *Scheduler) ResumePending(ctx context.Context, store resumestate.Repository, opener sources.Opener) (int, error) {
	recs, err := store.List(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, rec := range recs {
		if rec.Status == models.StatusCompleted || rec.SourceRef == "" {
			continue
		}
		src, err := opener.Open(ctx, rec.SourceRef)
		if err != nil {
			s.logger.Debug(ctx, "pending source gone, leaving record", "source", rec.SourceRef, "error", err)
			continue
		}
		_ = src.Close()

		s.spawn(ctx, models.SourceEvent{SourceRef: rec.SourceRef, SizeHint: rec.FileSize}, opener)
		n++
	}
	s.logger.Info(ctx, "resuming unfinished uploads", "count", n)
	return n, nil
}

// Failures returns a copy of the failures so far.
func (s *Scheduler) Failures() []models.Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Failure(nil), s.failures...)
}

// Wait blocks until every job started by RunWatcher or ResumePending is done.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
