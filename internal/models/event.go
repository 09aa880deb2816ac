package models

import "time"

// SourceEvent announces an item that a source adapter wants uploaded.
type SourceEvent struct {
	SourceRef   string
	DisplayName string
	MimeType    string
	SizeHint    int64
}

// EndpointResolution is the cached outcome of a successful endpoint lookup.
type EndpointResolution struct {
	BaseURL    string
	ResolvedAt time.Time
	TTL        time.Duration
}

// Valid reports whether e can still be used at now.
func (e *EndpointResolution) Valid(now time.Time) bool {
	if e == nil || e.BaseURL == "" {
		return false
	}
	return now.Before(e.ResolvedAt.Add(e.TTL))
}

// Progress is delivered to observers on every state change of a transfer.
type Progress struct {
	SourceRef   string
	ContentHash string
	Percent     float64
	Status      Status
	Err         error
}

// Failure is one entry of the scheduler's failure list.
type Failure struct {
	SourceRef string
	Err       error
	Timestamp time.Time
}
