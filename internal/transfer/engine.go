// Package transfer runs resumable chunked uploads.
//
// A job moves PENDING → UPLOADING → COMPLETED, PAUSED or FAILED. Progress is
// keyed by content hash and persisted after every accepted chunk, so a later
// run of the same content, from any path, only sends what is missing.
// Cancelling the context passed to Run is the stop signal: no new chunk
// attempt starts afterwards, while requests already on the wire finish.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/uploadkeeper/internal/common"
	"github.com/dmitrijs2005/uploadkeeper/internal/config"
	"github.com/dmitrijs2005/uploadkeeper/internal/hasher"
	"github.com/dmitrijs2005/uploadkeeper/internal/logging"
	"github.com/dmitrijs2005/uploadkeeper/internal/models"
	"github.com/dmitrijs2005/uploadkeeper/internal/repositories/resumestate"
	"github.com/dmitrijs2005/uploadkeeper/internal/retryx"
	"github.com/dmitrijs2005/uploadkeeper/internal/sources"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// errSiblingFailed ends the retries of a chunk once another chunk of the
// same run has failed for good.
var errSiblingFailed = errors.New("another chunk failed")

type Options struct {
	ChunkSize            int64
	MaxConcurrentChunks  int
	Retry                retryx.Policy
	RequestTimeout       time.Duration
	KeepCompletedRecords bool
}

// OptionsFromConfig maps the relevant config fields.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ChunkSize:            cfg.ChunkSize,
		MaxConcurrentChunks:  cfg.MaxConcurrentChunks,
		Retry:                retryx.Policy{Attempts: cfg.MaxRetry, Delay: cfg.RetryDelay},
		RequestTimeout:       cfg.RequestTimeout,
		KeepCompletedRecords: cfg.KeepCompletedRecords,
	}
}

type Engine struct {
	store    resumestate.Repository
	remote   Remote
	hasher   *hasher.Hasher
	observer Observer
	logger   logging.Logger
	opts     Options
	hashes   *keyedMutex
	now      func() time.Time
}

func New(store resumestate.Repository, remote Remote, h *hasher.Hasher, observer Observer, logger logging.Logger, opts Options) *Engine {
	if observer == nil {
		observer = nopObserver{}
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = common.DefaultWindowSize
	}
	if opts.MaxConcurrentChunks < 1 {
		opts.MaxConcurrentChunks = 1
	}
	return &Engine{
		store:    store,
		remote:   remote,
		hasher:   h,
		observer: observer,
		logger:   logger,
		opts:     opts,
		hashes:   newKeyedMutex(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Submit opens and hashes the source behind event and returns a job bound
// to the stored record for that hash, creating the record when there is
// none or when the stored size disagrees with the source. The caller must
// Close the job.
func (e *Engine) Submit(ctx context.Context, event models.SourceEvent, opener sources.Opener) (*Job, error) {
	src, err := opener.Open(ctx, event.SourceRef)
	if err != nil {
		if errors.Is(err, common.ErrSourceReadFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", common.ErrSourceReadFailed, err)
	}

	size := src.Size()
	if size <= 0 {
		_ = src.Close()
		return nil, fmt.Errorf("%w: %s", common.ErrEmptySource, event.SourceRef)
	}

	hash, err := e.hasher.Hash(ctx, src, size)
	if err != nil {
		_ = src.Close()
		return nil, err
	}

	unlock := e.hashes.Lock(hash)
	defer unlock()

	rec := e.load(ctx, hash)
	if rec != nil && rec.FileSize != size {
		e.logger.Warn(ctx, "stored record size mismatch, starting over",
			"hash", hash, "stored", rec.FileSize, "actual", size)
		rec = nil
	}

	if rec == nil {
		rec = &models.ResumeRecord{
			SourceRef:   event.SourceRef,
			FileSize:    size,
			ChunkSize:   e.opts.ChunkSize,
			ChunkCount:  ChunkCount(size, e.opts.ChunkSize),
			ContentHash: hash,
			Status:      models.StatusPending,
			LastUpdated: e.now(),
		}
		e.persist(ctx, rec)
	} else {
		if rec.ChunkSize <= 0 {
			rec.ChunkSize = e.opts.ChunkSize
		}
		rec.SourceRef = event.SourceRef
	}

	e.logger.Debug(ctx, "job submitted", "source", event.SourceRef, "hash", hash,
		"size", humanize.IBytes(uint64(size)), "status", rec.Status)

	return newJob(event, src, hash, rec), nil
}

// Run drives job to a terminal state. Runs for the same content hash are
// serialised; each run starts from the latest stored record.
func (e *Engine) Run(ctx context.Context, job *Job) error {
	unlock := e.hashes.Lock(job.hash)
	defer unlock()

	log := e.logger.With("run", uuid.NewString(), "hash", job.hash)

	if stored := e.load(ctx, job.hash); stored != nil && stored.FileSize == job.size {
		if stored.ChunkSize <= 0 {
			stored.ChunkSize = e.opts.ChunkSize
		}
		stored.SourceRef = job.SourceRef()
		job.mu.Lock()
		job.adopt(stored)
		job.mu.Unlock()
	}

	if job.Status() == models.StatusCompleted && job.complete() {
		log.Debug(ctx, "already completed, skipping")
		e.observer.OnProgress(job.progress(nil))
		return nil
	}

	if job.Record().RemoteFileID == "" {
		if ctx.Err() != nil {
			return e.pause(ctx, log, job)
		}
		if err := e.register(ctx, log, job); err != nil {
			return err
		}
	}

	snap := job.update(e.now(), func(rec *models.ResumeRecord) { rec.Status = models.StatusUploading })
	e.persist(ctx, snap)
	e.observer.OnProgress(job.progress(nil))

	missing := job.missing()
	log.Info(ctx, "uploading", "source", snap.SourceRef, "missing", len(missing), "total", snap.ChunkCount)

	var (
		g         errgroup.Group
		failed    atomic.Bool
		failedErr atomic.Pointer[error]
	)
	g.SetLimit(e.opts.MaxConcurrentChunks)

	for _, c := range missing {
		if ctx.Err() != nil || failed.Load() {
			break
		}
		g.Go(func() error {
			err := e.opts.Retry.Do(ctx, func(ctx context.Context) error {
				if failed.Load() {
					return retryx.Permanent(errSiblingFailed)
				}
				return e.uploadChunk(ctx, job, snap.RemoteFileID, c)
			})
			if err == nil {
				e.recordChunk(ctx, job, c.Index)
				return nil
			}
			if errors.Is(err, errSiblingFailed) {
				return nil
			}
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			log.Warn(ctx, "chunk failed", "index", c.Index, "error", err)
			err = fmt.Errorf("%w: chunk %d: %w", common.ErrChunkUploadFailed, c.Index, err)
			if failed.CompareAndSwap(false, true) {
				failedErr.Store(&err)
			}
			return err
		})
	}
	_ = g.Wait()

	if failed.Load() {
		err := *failedErr.Load()
		snap := job.update(e.now(), func(rec *models.ResumeRecord) {
			rec.Status = models.StatusFailed
			rec.ErrorCount++
		})
		e.persist(ctx, snap)
		e.observer.OnProgress(job.progress(err))
		log.Error(ctx, "upload failed", "uploaded", len(snap.UploadedChunks), "total", snap.ChunkCount, "error", err)
		return err
	}

	if !job.complete() {
		return e.pause(ctx, log, job)
	}

	return e.finish(ctx, log, job)
}

func (e *Engine) register(ctx context.Context, log logging.Logger, job *Job) error {
	rec := job.Record()
	meta := Metadata{
		Filename:    filepath.Base(rec.SourceRef),
		TotalSize:   rec.FileSize,
		Description: job.event.DisplayName,
		Checksum:    job.hash,
		ChunkSize:   rec.ChunkSize,
	}

	reqCtx, cancel := e.requestContext(ctx)
	reg, err := e.remote.RegisterMetadata(reqCtx, meta)
	cancel()
	if err != nil {
		err = fmt.Errorf("%w: %w", common.ErrMetadataRegistrationFailed, err)
		log.Warn(ctx, "metadata registration failed", "error", err)
		e.observer.OnProgress(job.progress(err))
		return err
	}

	job.mu.Lock()
	if len(reg.Chunks) > 0 {
		if cs := uniformChunkSize(reg.Chunks, job.size); cs > 0 {
			if cs != job.rec.ChunkSize || len(reg.Chunks) != len(job.plan) {
				log.Info(ctx, "remote chunk plan differs, resetting progress", "chunkSize", cs, "chunks", len(reg.Chunks))
				job.rec.UploadedChunks = nil
			}
			job.rec.ChunkSize = cs
			job.adopt(job.rec)
		} else {
			log.Warn(ctx, "ignoring malformed remote chunk plan", "chunks", len(reg.Chunks))
		}
	}
	job.rec.RemoteFileID = reg.FileID
	job.mu.Unlock()

	log.Debug(ctx, "registered", "fileID", reg.FileID)
	return nil
}

func (e *Engine) uploadChunk(ctx context.Context, job *Job, fileID string, c models.Chunk) error {
	reqCtx, cancel := e.requestContext(ctx)
	defer cancel()

	body := io.NewSectionReader(job.source, c.StartOffset, c.Size)
	return e.remote.UploadChunk(reqCtx, fileID, c, job.size, body)
}

// recordChunk adds idx to the uploaded set and persists the record in the
// same critical section.
func (e *Engine) recordChunk(ctx context.Context, job *Job, idx int) {
	job.mu.Lock()
	defer job.mu.Unlock()

	job.uploaded[idx] = struct{}{}
	job.syncRecord()
	job.rec.LastUpdated = e.now()
	e.persist(ctx, job.rec.Clone())

	e.observer.OnProgress(models.Progress{
		SourceRef:   job.rec.SourceRef,
		ContentHash: job.hash,
		Percent:     job.rec.Progress,
		Status:      job.rec.Status,
	})
}

func (e *Engine) pause(ctx context.Context, log logging.Logger, job *Job) error {
	snap := job.update(e.now(), func(rec *models.ResumeRecord) { rec.Status = models.StatusPaused })
	e.persist(ctx, snap)
	e.observer.OnProgress(job.progress(common.ErrJobStoppedByUser))
	log.Info(ctx, "upload paused", "uploaded", len(snap.UploadedChunks), "total", snap.ChunkCount)
	return common.ErrJobStoppedByUser
}

func (e *Engine) finish(ctx context.Context, log logging.Logger, job *Job) error {
	rec := job.Record()

	if f, ok := e.remote.(Finalizer); ok {
		reqCtx, cancel := e.requestContext(ctx)
		err := f.Finalize(reqCtx, rec.RemoteFileID, rec.ChunkCount)
		cancel()
		if err != nil {
			err = fmt.Errorf("%w: finalize: %w", common.ErrChunkUploadFailed, err)
			snap := job.update(e.now(), func(rec *models.ResumeRecord) {
				rec.Status = models.StatusFailed
				rec.ErrorCount++
			})
			e.persist(ctx, snap)
			e.observer.OnProgress(job.progress(err))
			return err
		}
	}

	snap := job.update(e.now(), func(rec *models.ResumeRecord) {
		rec.Status = models.StatusCompleted
		rec.Progress = 100
	})
	e.persist(ctx, snap)
	e.observer.OnProgress(job.progress(nil))
	log.Info(ctx, "upload completed", "source", snap.SourceRef, "size", humanize.IBytes(uint64(snap.FileSize)))

	if !e.opts.KeepCompletedRecords {
		if err := e.store.Delete(context.WithoutCancel(ctx), job.hash); err != nil {
			log.Warn(ctx, "failed to delete completed record", "error", err)
		}
	}
	return nil
}

// requestContext detaches a single network call from the stop signal and
// bounds it by the request timeout.
func (e *Engine) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if e.opts.RequestTimeout > 0 {
		return context.WithTimeout(ctx, e.opts.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func (e *Engine) load(ctx context.Context, hash string) *models.ResumeRecord {
	rec, err := e.store.Load(context.WithoutCancel(ctx), hash)
	if err != nil {
		e.logger.Warn(ctx, "resume state unreadable, treating as absent", "hash", hash,
			"error", fmt.Errorf("%w: %w", common.ErrPersistenceFailed, err))
		return nil
	}
	return rec
}

// persist never fails a transfer; at worst a chunk is sent twice later.
func (e *Engine) persist(ctx context.Context, rec *models.ResumeRecord) {
	if err := e.store.Save(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Warn(ctx, "failed to persist resume state", "hash", rec.ContentHash,
			"error", fmt.Errorf("%w: %w", common.ErrPersistenceFailed, err))
	}
}
