package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/uploadkeeper/internal/common"
	"github.com/dmitrijs2005/uploadkeeper/internal/timex"
	"github.com/tidwall/jsonc"
)

// JsonConfig is the on-disk shape of sys.conf. Pointer fields distinguish
// "absent" from zero so that absent keys keep their defaults.
type JsonConfig struct {
	WatchDir        []string `json:"watchDir"`
	Interval        *int     `json:"interval"`
	Host            *string  `json:"host"`
	AutoUploadAlbum *bool    `json:"autoUploadAlbum"`

	StateDir             *string         `json:"stateDir"`
	StateBackend         *string         `json:"stateBackend"`
	Backend              *string         `json:"backend"`
	ChunkSize            *int64          `json:"chunkSize"`
	MaxConcurrentChunks  *int            `json:"maxConcurrentChunks"`
	MaxRetry             *int            `json:"maxRetry"`
	RetryDelay           *timex.Duration `json:"retryDelay"`
	ItemDelay            *timex.Duration `json:"itemDelay"`
	ProbeTimeout         *timex.Duration `json:"probeTimeout"`
	RequestTimeout       *timex.Duration `json:"requestTimeout"`
	EndpointTTL          *timex.Duration `json:"endpointTTL"`
	DiscoveryTimeout     *timex.Duration `json:"discoveryTimeout"`
	ServiceType          *string         `json:"serviceType"`
	APIPath              *string         `json:"apiPath"`
	HashAlgorithm        *string         `json:"hashAlgorithm"`
	LibraryDir           *string         `json:"libraryDir"`
	KeepCompletedRecords *bool           `json:"keepCompletedRecords"`
	LogLevel             *string         `json:"logLevel"`

	S3 *struct {
		Bucket    string `json:"bucket"`
		Region    string `json:"region"`
		Endpoint  string `json:"endpoint"`
		Prefix    string `json:"prefix"`
		AccessKey string `json:"accessKey"`
		SecretKey string `json:"secretKey"`
	} `json:"s3"`
}

// parseFile overlays cfg with the values present in the file at path.
func parseFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return parseJson(data, cfg)
}

func parseJson(data []byte, cfg *Config) error {
	var jc JsonConfig
	if err := json.Unmarshal(jsonc.ToJSON(data), &jc); err != nil {
		return fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}

	if jc.WatchDir != nil {
		cfg.WatchDirs = jc.WatchDir
	}
	if jc.Interval != nil {
		cfg.Interval = time.Duration(*jc.Interval) * time.Second
	}
	setIf(&cfg.Host, jc.Host)
	setIf(&cfg.AutoUploadAlbum, jc.AutoUploadAlbum)
	setIf(&cfg.StateDir, jc.StateDir)
	setIf(&cfg.StateBackend, jc.StateBackend)
	setIf(&cfg.Backend, jc.Backend)
	setIf(&cfg.ChunkSize, jc.ChunkSize)
	setIf(&cfg.MaxConcurrentChunks, jc.MaxConcurrentChunks)
	setIf(&cfg.MaxRetry, jc.MaxRetry)
	setDuration(&cfg.RetryDelay, jc.RetryDelay)
	setDuration(&cfg.ItemDelay, jc.ItemDelay)
	setDuration(&cfg.ProbeTimeout, jc.ProbeTimeout)
	setDuration(&cfg.RequestTimeout, jc.RequestTimeout)
	setDuration(&cfg.EndpointTTL, jc.EndpointTTL)
	setDuration(&cfg.DiscoveryTimeout, jc.DiscoveryTimeout)
	setIf(&cfg.ServiceType, jc.ServiceType)
	setIf(&cfg.APIPath, jc.APIPath)
	setIf(&cfg.HashAlgorithm, jc.HashAlgorithm)
	setIf(&cfg.LibraryDir, jc.LibraryDir)
	setIf(&cfg.KeepCompletedRecords, jc.KeepCompletedRecords)
	setIf(&cfg.LogLevel, jc.LogLevel)

	if jc.S3 != nil {
		cfg.S3 = S3Config{
			Bucket:    jc.S3.Bucket,
			Region:    jc.S3.Region,
			Endpoint:  jc.S3.Endpoint,
			Prefix:    jc.S3.Prefix,
			AccessKey: jc.S3.AccessKey,
			SecretKey: jc.S3.SecretKey,
		}
	}
	return nil
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}
