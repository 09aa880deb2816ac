// Package common defines shared constants and sentinel errors used across
// the transfer engine, resolver and source adapters. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Source errors.
	ErrSourceReadFailed = errors.New("source read failed")
	ErrEmptySource      = errors.New("source is empty")

	// Transfer errors.
	ErrMetadataRegistrationFailed = errors.New("metadata registration failed")
	ErrChunkUploadFailed          = errors.New("chunk upload failed")
	ErrJobStoppedByUser           = errors.New("upload stopped by user")
	ErrPersistenceFailed          = errors.New("persistence failed")

	// Endpoint resolution errors.
	ErrNoReachableCandidate = errors.New("no reachable candidate")
	ErrProbeTimeout         = errors.New("probe timeout")

	// Adapter / configuration errors.
	ErrAlreadyRunning = errors.New("already running")
	ErrInvalidConfig  = errors.New("invalid config")
)
