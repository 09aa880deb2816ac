// Package resolver finds and caches the base URL of the upload service.
//
// A cached resolution is served without network I/O until its TTL expires
// or the configuration changes. Otherwise the configured host is probed,
// and when it is absent or unreachable the LAN is browsed over DNS-SD and
// the candidates are probed in the order they arrived. The first candidate
// that answers is written back to the configuration.
package resolver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/uploadkeeper/internal/common"
	"github.com/dmitrijs2005/uploadkeeper/internal/config"
	"github.com/dmitrijs2005/uploadkeeper/internal/logging"
	"github.com/dmitrijs2005/uploadkeeper/internal/models"
	"github.com/dmitrijs2005/uploadkeeper/internal/netx"
	"github.com/dmitrijs2005/uploadkeeper/internal/retryx"
)

// Discoverer lists candidate hosts advertised on the network, in the order
// the advertisements were received.
type Discoverer interface {
	Discover(ctx context.Context) ([]string, error)
}

// HostWriter persists an accepted host back into the configuration.
type HostWriter interface {
	SetHost(host string) error
}

type Options struct {
	Host         string
	APIPath      string
	TTL          time.Duration
	ProbeTimeout time.Duration
	Retry        retryx.Policy
}

// OptionsFromConfig maps the relevant config fields.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Host:         cfg.Host,
		APIPath:      cfg.APIPath,
		TTL:          cfg.EndpointTTL,
		ProbeTimeout: cfg.ProbeTimeout,
		Retry:        retryx.Policy{Attempts: cfg.MaxRetry, Delay: cfg.RetryDelay},
	}
}

type Resolver struct {
	// mu guards host, cached and cachedHost. resolveMu serialises the slow
	// path so only one resolution runs at a time.
	mu         sync.RWMutex
	host       string
	cached     *models.EndpointResolution
	cachedHost string

	resolveMu sync.Mutex

	opts       Options
	client     *http.Client
	discoverer Discoverer
	writer     HostWriter
	logger     logging.Logger
	now        func() time.Time
}

func New(opts Options, client *http.Client, discoverer Discoverer, writer HostWriter, logger logging.Logger) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{
		host:       netx.NormalizeHost(opts.Host),
		opts:       opts,
		client:     client,
		discoverer: discoverer,
		writer:     writer,
		logger:     logger,
		now:        time.Now,
	}
}

func (r *Resolver) cachedURL() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cached.Valid(r.now()) {
		return r.cached.BaseURL, true
	}
	return "", false
}

// Resolve returns the API base URL, e.g. "http://192.168.1.20:8080/api".
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	if u, ok := r.cachedURL(); ok {
		return u, nil
	}

	r.resolveMu.Lock()
	defer r.resolveMu.Unlock()

	// someone else may have finished while we waited
	if u, ok := r.cachedURL(); ok {
		return u, nil
	}

	r.mu.RLock()
	host := r.host
	r.mu.RUnlock()

	if host != "" {
		err := r.probe(ctx, host)
		if err == nil {
			return r.store(host), nil
		}
		r.logger.Warn(ctx, "configured host unreachable, falling back to discovery", "host", host, "error", err)
	}

	if r.discoverer == nil {
		return "", fmt.Errorf("%w: no host configured and discovery disabled", common.ErrNoReachableCandidate)
	}

	candidates, err := r.discoverer.Discover(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: discovery: %w", common.ErrNoReachableCandidate, err)
	}
	r.logger.Debug(ctx, "discovery finished", "candidates", len(candidates))

	var lastErr error
	for _, c := range candidates {
		c = netx.NormalizeHost(c)
		err := r.opts.Retry.Do(ctx, func(ctx context.Context) error {
			return r.probe(ctx, c)
		})
		if err == nil {
			if r.writer != nil {
				if werr := r.writer.SetHost(c); werr != nil {
					r.logger.Warn(ctx, "failed to persist discovered host", "host", c, "error", werr)
				}
			}
			r.logger.Info(ctx, "discovered upload service", "host", c)
			return r.store(c), nil
		}
		r.logger.Debug(ctx, "candidate unreachable", "host", c, "error", err)
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	if lastErr == nil {
		return "", fmt.Errorf("%w: no services advertised", common.ErrNoReachableCandidate)
	}
	return "", fmt.Errorf("%w: %w", common.ErrNoReachableCandidate, lastErr)
}

func (r *Resolver) probe(ctx context.Context, host string) error {
	return netx.Probe(ctx, r.client, host+r.opts.APIPath+common.HelloPath, r.opts.ProbeTimeout)
}

func (r *Resolver) store(host string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.host = host
	r.cachedHost = host
	r.cached = &models.EndpointResolution{
		BaseURL:    host + r.opts.APIPath,
		ResolvedAt: r.now(),
		TTL:        r.opts.TTL,
	}
	return r.cached.BaseURL
}

// Invalidate drops the cached resolution.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

// OnConfigChange adopts the new configured host and drops the cache, unless
// the new host is the one already cached (as after our own write-back).
func (r *Resolver) OnConfigChange(cfg *config.Config) {
	host := netx.NormalizeHost(cfg.Host)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.host = host
	if r.cached != nil && host == r.cachedHost {
		return
	}
	r.cached = nil
}
