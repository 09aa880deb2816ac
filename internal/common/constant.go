// Package common contains shared constants and sentinel errors used across
// uploadkeeper components.
package common

// Wire headers understood by the remote upload service.
const (
	FileIDHeaderName      = "X-File-ID"
	StartOffsetHeaderName = "X-Start-Offset"
	ContentRangeHeader    = "Content-Range"
)

// Remote endpoints relative to the API prefix.
const (
	HelloPath          = "/hello"
	SubmitMetadataPath = "/submit_metadata"
	UploadPath         = "/upload"
)

// DefaultWindowSize is both the hashing window and the default chunk size (2 MiB).
const DefaultWindowSize int64 = 2 * 1024 * 1024
