package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/dmitrijs2005/uploadkeeper/internal/common"
	"github.com/dmitrijs2005/uploadkeeper/internal/flagx"
)

const (
	StateBackendSQLite = "sqlite"
	StateBackendFile   = "file"

	BackendHTTP = "http"
	BackendS3   = "s3"

	appDirName     = "uploadkeeper"
	configFileName = "sys.conf"
)

// S3Config configures the optional S3 multipart backend.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	Prefix    string
	AccessKey string
	SecretKey string
}

// Config holds runtime settings for the agent. It is validated once at load
// time; components read it and never default values themselves.
type Config struct {
	// Path is the sys.conf file this config was read from.
	Path string

	WatchDirs       []string
	Interval        time.Duration
	Host            string
	AutoUploadAlbum bool

	StateDir     string
	StateBackend string
	Backend      string

	ChunkSize            int64
	MaxConcurrentChunks  int
	MaxRetry             int
	RetryDelay           time.Duration
	ItemDelay            time.Duration
	ProbeTimeout         time.Duration
	RequestTimeout       time.Duration
	EndpointTTL          time.Duration
	DiscoveryTimeout     time.Duration
	ServiceType          string
	APIPath              string
	HashAlgorithm        string
	LibraryDir           string
	KeepCompletedRecords bool
	LogLevel             string

	S3 S3Config
}

// LoadDefaults populates c with defaults.
func (c *Config) LoadDefaults() {
	c.Interval = 2 * time.Second
	c.StateDir = filepath.Join(userConfigDir(), appDirName, "state")
	c.StateBackend = StateBackendSQLite
	c.Backend = BackendHTTP
	c.ChunkSize = common.DefaultWindowSize
	c.MaxConcurrentChunks = 3
	c.MaxRetry = 3
	c.RetryDelay = 2 * time.Second
	c.ItemDelay = 10 * time.Second
	c.ProbeTimeout = 2 * time.Second
	c.RequestTimeout = 60 * time.Second
	c.EndpointTTL = 10 * time.Minute
	c.DiscoveryTimeout = 5 * time.Second
	c.ServiceType = "_nascraft._tcp"
	c.APIPath = "/api"
	c.HashAlgorithm = "md5"
	c.KeepCompletedRecords = true
	c.LogLevel = "info"
}

// DefaultPath is where sys.conf lives when no -config flag is given.
func DefaultPath() string {
	return filepath.Join(userConfigDir(), appDirName, configFileName)
}

func userConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return dir
}

// LoadConfig builds a Config from defaults, the sys.conf named on the command
// line (or DefaultPath), and flags, then validates it.
func LoadConfig(args []string) (*Config, error) {
	return Load(flagx.ConfigPath(args, DefaultPath()), args)
}

// Load is LoadConfig with an explicit file path. A missing file is not an
// error: the agent then runs on defaults and flags only.
func Load(path string, args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	cfg.Path = path

	if err := parseFile(path, cfg); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting, wrapped in common.ErrInvalidConfig.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", common.ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	for _, dir := range c.WatchDirs {
		if !filepath.IsAbs(dir) {
			return invalid("watchDir %q is not an absolute path", dir)
		}
	}
	if c.Interval <= 0 {
		return invalid("interval must be positive, got %s", c.Interval)
	}
	if c.ChunkSize <= 0 {
		return invalid("chunkSize must be positive, got %d", c.ChunkSize)
	}
	if c.MaxConcurrentChunks < 1 {
		return invalid("maxConcurrentChunks must be at least 1, got %d", c.MaxConcurrentChunks)
	}
	if c.MaxRetry < 1 {
		return invalid("maxRetry must be at least 1, got %d", c.MaxRetry)
	}
	for name, d := range map[string]time.Duration{
		"retryDelay":       c.RetryDelay,
		"itemDelay":        c.ItemDelay,
		"probeTimeout":     c.ProbeTimeout,
		"requestTimeout":   c.RequestTimeout,
		"endpointTTL":      c.EndpointTTL,
		"discoveryTimeout": c.DiscoveryTimeout,
	} {
		if d < 0 {
			return invalid("%s must not be negative", name)
		}
	}
	if c.ProbeTimeout == 0 || c.RequestTimeout == 0 {
		return invalid("probeTimeout and requestTimeout must be set")
	}
	if !slices.Contains([]string{StateBackendSQLite, StateBackendFile}, c.StateBackend) {
		return invalid("unknown stateBackend %q", c.StateBackend)
	}
	if !slices.Contains([]string{BackendHTTP, BackendS3}, c.Backend) {
		return invalid("unknown backend %q", c.Backend)
	}
	if c.Backend == BackendS3 && c.S3.Bucket == "" {
		return invalid("s3 backend requires s3.bucket")
	}
	if !slices.Contains([]string{"md5", "sha256", "blake2b"}, c.HashAlgorithm) {
		return invalid("unknown hashAlgorithm %q", c.HashAlgorithm)
	}
	if c.ServiceType == "" {
		return invalid("serviceType must not be empty")
	}
	if c.StateDir == "" {
		return invalid("stateDir must not be empty")
	}
	return nil
}
