package resumestate

import (
	"context"

	"github.com/dmitrijs2005/uploadkeeper/internal/models"
)

// Repository is the durable store of resume records.
type Repository interface {
	// Load returns the record for hash, or nil and no error when none exists.
	Load(ctx context.Context, hash string) (*models.ResumeRecord, error)

	// Save atomically creates or replaces the record for rec.ContentHash.
	Save(ctx context.Context, rec *models.ResumeRecord) error

	// Delete removes the record for hash. Deleting a missing record is not an error.
	Delete(ctx context.Context, hash string) error

	// List returns every stored record ordered by content hash.
	List(ctx context.Context) ([]*models.ResumeRecord, error)
}
