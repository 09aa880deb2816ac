// Package agent wires the upload agent together: the resume store, the
// endpoint resolver, the remote client, the transfer engine and the source
// adapters, and keeps them in step with sys.conf while running.
package agent

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/dmitrijs2005/uploadkeeper/internal/client"
	"github.com/dmitrijs2005/uploadkeeper/internal/config"
	"github.com/dmitrijs2005/uploadkeeper/internal/filex"
	"github.com/dmitrijs2005/uploadkeeper/internal/hasher"
	"github.com/dmitrijs2005/uploadkeeper/internal/logging"
	"github.com/dmitrijs2005/uploadkeeper/internal/models"
	"github.com/dmitrijs2005/uploadkeeper/internal/repositories/resumestate"
	"github.com/dmitrijs2005/uploadkeeper/internal/resolver"
	"github.com/dmitrijs2005/uploadkeeper/internal/s3remote"
	"github.com/dmitrijs2005/uploadkeeper/internal/scheduler"
	"github.com/dmitrijs2005/uploadkeeper/internal/sources"
	"github.com/dmitrijs2005/uploadkeeper/internal/transfer"
	"go.uber.org/multierr"
)

type Mode string

const (
	ModeUnknown Mode = ""
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

const (
	stateDBName    = "state.db"
	statusInterval = 30 * time.Second
	pingTimeout    = 3 * time.Second
)

// Pinger reports whether the remote service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	config *config.Config
	args   []string
	logger logging.Logger

	db        *sql.DB
	store     resumestate.Repository
	resolver  *resolver.Resolver
	pinger    Pinger
	engine    *transfer.Engine
	scheduler *scheduler.Scheduler
	watcher   *sources.Watcher
	opener    sources.Opener

	statusInterval time.Duration

	mu    sync.Mutex
	mode  Mode
	album *albumRun

	// last album setting applied; guarded by mu
	albumApplied bool
	albumEnabled bool
	albumDir     string
}

type albumRun struct {
	dir        string
	enumerator *sources.Enumerator
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewApp builds every component from cfg. args are the command line
// arguments cfg was loaded from; config reloads apply them again.
func NewApp(ctx context.Context, cfg *config.Config, args []string, logger logging.Logger) (*App, error) {
	app := &App{
		config:         cfg,
		args:           args,
		logger:         logger,
		opener:         sources.FileOpener{},
		statusInterval: statusInterval,
	}

	if err := app.openStore(ctx); err != nil {
		return nil, err
	}

	remote, err := app.newRemote(ctx)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	h, err := hasher.New(cfg.HashAlgorithm, cfg.ChunkSize)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	app.engine = transfer.New(app.store, remote, h, progressLogger(logger), logger.With("component", "engine"), transfer.OptionsFromConfig(cfg))
	app.scheduler = scheduler.New(app.engine, logger.With("component", "scheduler"))

	app.watcher, err = sources.NewWatcher(cfg.Interval, logger.With("component", "watcher"))
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	return app, nil
}

func (app *App) openStore(ctx context.Context) error {
	if _, err := filex.EnsureDir(app.config.StateDir); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}

	switch app.config.StateBackend {
	case config.StateBackendFile:
		repo, err := resumestate.NewFileRepository(app.config.StateDir)
		if err != nil {
			return fmt.Errorf("resume store: %w", err)
		}
		app.store = repo.WithLogger(app.logger.With("component", "store"))
	default:
		repo, db, err := resumestate.OpenSQLite(ctx, filepath.Join(app.config.StateDir, stateDBName))
		if err != nil {
			return fmt.Errorf("resume store: %w", err)
		}
		app.store, app.db = repo, db
	}
	return nil
}

func (app *App) newRemote(ctx context.Context) (transfer.Remote, error) {
	if app.config.Backend == config.BackendS3 {
		return s3remote.NewFromConfig(ctx, app.config.S3)
	}

	store := config.NewStore(app.config.Path)
	discoverer := resolver.NewZeroconfDiscoverer(app.config.ServiceType, app.config.DiscoveryTimeout)
	app.resolver = resolver.New(
		resolver.OptionsFromConfig(app.config),
		&http.Client{},
		discoverer,
		store,
		app.logger.With("component", "resolver"),
	)

	hc := client.NewHTTPClient(app.resolver, app.config.RequestTimeout)
	app.pinger = hc
	return hc, nil
}

// progressLogger reports engine progress: terminal states at info, the rest
// at debug.
func progressLogger(logger logging.Logger) transfer.Observer {
	return transfer.ObserverFunc(func(p models.Progress) {
		args := []any{"source", p.SourceRef, "hash", p.ContentHash, "status", p.Status, "percent", p.Percent}
		switch {
		case p.Err != nil:
			logger.Warn(context.Background(), "upload progress", append(args, "error", p.Err)...)
		case p.Status.Terminal():
			logger.Info(context.Background(), "upload progress", args...)
		default:
			logger.Debug(context.Background(), "upload progress", args...)
		}
	})
}

func (app *App) setMode(ctx context.Context, mode Mode) {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.mode != mode {
		app.mode = mode
		app.logger.Info(ctx, "switched mode", "mode", mode)
	}
}

// Mode is the last state seen by the online status watcher.
func (app *App) Mode() Mode {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.mode
}

// StartOnlineStatusWatcher pings the remote every interval until ctx is done.
func (app *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	if app.pinger == nil {
		return
	}

	check := func() {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := app.pinger.Ping(pctx)
		cancel()

		if err != nil {
			app.setMode(ctx, ModeOffline)
		} else {
			app.setMode(ctx, ModeOnline)
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	check()
	for {
		select {
		case <-ticker.C:
			check()
		case <-ctx.Done():
			return
		}
	}
}

// Run resumes unfinished uploads, then watches the configured sources until
// ctx is done. Jobs still running at that point are paused, not failed.
func (app *App) Run(ctx context.Context) error {
	app.logger.Info(ctx, "starting agent", "backend", app.config.Backend, "state", app.config.StateBackend)

	if _, err := app.scheduler.ResumePending(ctx, app.store, app.opener); err != nil {
		app.logger.Warn(ctx, "cannot list unfinished uploads", "error", err)
	}

	if err := app.watcher.SetRoots(app.config.WatchDirs); err != nil {
		app.logger.Warn(ctx, "some watch directories are unavailable", "error", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.watcher.Run(ctx); err != nil {
			app.logger.Error(ctx, "watcher stopped", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.scheduler.RunWatcher(ctx, app.watcher, app.opener)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.StartOnlineStatusWatcher(ctx, app.statusInterval)
	}()

	if app.config.Path != "" {
		cw := config.NewWatcher(app.config.Path, app.args, app.config.Interval, app.logger.With("component", "config"), func(cfg *config.Config) {
			app.ApplyConfig(ctx, cfg)
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := cw.Run(ctx); err != nil {
				app.logger.Warn(ctx, "config watch disabled", "error", err)
			}
		}()
	}

	app.applyAlbum(ctx, app.config.AutoUploadAlbum, app.config.LibraryDir)

	<-ctx.Done()
	app.logger.Info(ctx, "stopping agent")

	app.stopAlbum()
	wg.Wait()
	app.scheduler.Wait()

	if failures := app.scheduler.Failures(); len(failures) > 0 {
		app.logger.Warn(ctx, "uploads failed during this session", "count", len(failures))
	}
	return nil
}

// ApplyConfig hands a reloaded config to every component that can change at
// runtime.
func (app *App) ApplyConfig(ctx context.Context, cfg *config.Config) {
	if app.resolver != nil {
		app.resolver.OnConfigChange(cfg)
	}

	app.watcher.SetDebounce(cfg.Interval)
	if err := app.watcher.SetRoots(cfg.WatchDirs); err != nil {
		app.logger.Warn(ctx, "some watch directories are unavailable", "error", err)
	}

	app.mu.Lock()
	app.config.AutoUploadAlbum = cfg.AutoUploadAlbum
	app.config.LibraryDir = cfg.LibraryDir
	app.config.WatchDirs = cfg.WatchDirs
	app.config.Host = cfg.Host
	app.mu.Unlock()

	app.applyAlbum(ctx, cfg.AutoUploadAlbum, cfg.LibraryDir)
}

// applyAlbum acts only when the album setting differs from the last one
// applied. A finished pass is not repeated by reloads that leave
// autoUploadAlbum and libraryDir alone.
func (app *App) applyAlbum(ctx context.Context, enabled bool, dir string) {
	app.mu.Lock()
	changed := !app.albumApplied || enabled != app.albumEnabled || dir != app.albumDir
	app.albumApplied, app.albumEnabled, app.albumDir = true, enabled, dir
	app.mu.Unlock()

	if changed {
		app.setAlbum(ctx, enabled, dir)
	}
}

// setAlbum starts one library pass when enabled and stops a running pass
// when disabled. A new directory restarts the pass.
func (app *App) setAlbum(ctx context.Context, enabled bool, dir string) {
	app.mu.Lock()
	run := app.album
	if run != nil && (!enabled || run.dir != dir) {
		app.album = nil
		app.mu.Unlock()
		app.stopRun(run)
		app.mu.Lock()
	}
	defer app.mu.Unlock()

	if !enabled || dir == "" || app.album != nil {
		return
	}

	actx, cancel := context.WithCancel(ctx)
	run = &albumRun{
		dir: dir,
		enumerator: sources.NewEnumerator(
			sources.NewDirLibrary(dir),
			app.config.ItemDelay,
			app.logger.With("component", "library"),
		),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	app.album = run

	go func() {
		defer close(run.done)
		defer cancel()

		err := app.scheduler.RunLibrary(actx, run.enumerator)
		stats := run.enumerator.Stats()
		app.logger.Info(ctx, "library pass finished", "dir", dir,
			"total", stats.Total, "succeeded", stats.Succeeded, "skipped", stats.Skipped, "failed", stats.Failed, "error", err)

		app.mu.Lock()
		if app.album == run {
			app.album = nil
		}
		app.mu.Unlock()
	}()
}

func (app *App) stopAlbum() {
	app.mu.Lock()
	run := app.album
	app.album = nil
	app.mu.Unlock()
	if run != nil {
		app.stopRun(run)
	}
}

func (app *App) stopRun(run *albumRun) {
	run.enumerator.Stop()
	run.cancel()
	<-run.done
}

// Close releases the resume store.
func (app *App) Close() error {
	var err error
	if app.db != nil {
		err = multierr.Append(err, app.db.Close())
	}
	return err
}
