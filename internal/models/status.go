// Package models defines the data shared between the transfer engine, the
// resume state store, the source adapters and the endpoint resolver.
package models

// Status is the lifecycle state of a transfer.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s ends a run. Paused and failed transfers may be
// resumed by a later run; only completed ones are done for good.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPaused, StatusFailed:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusUploading, StatusPaused, StatusCompleted, StatusFailed:
		return true
	}
	return false
}
