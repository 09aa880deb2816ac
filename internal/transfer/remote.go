package transfer

import (
	"context"
	"io"

	"github.com/dmitrijs2005/uploadkeeper/internal/models"
)

// Metadata describes a file when registering it with the remote service.
type Metadata struct {
	Filename    string
	TotalSize   int64
	Description string
	Checksum    string
	ChunkSize   int64
}

// Registration is the remote's answer to a metadata registration. An empty
// Chunks lets the engine keep its local plan.
type Registration struct {
	FileID string
	Chunks []models.Chunk
}

// Remote is the upload service as seen by the engine.
type Remote interface {
	RegisterMetadata(ctx context.Context, meta Metadata) (*Registration, error)

	// UploadChunk sends the bytes of chunk, read from body. total is the
	// size of the whole file.
	UploadChunk(ctx context.Context, fileID string, chunk models.Chunk, total int64, body io.Reader) error
}

// Finalizer is implemented by remotes that need an explicit commit once
// every chunk has been accepted.
type Finalizer interface {
	Finalize(ctx context.Context, fileID string, chunkCount int) error
}
