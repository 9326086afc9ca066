package repository

import (
	"context"

	"image-edit-service/internal/domain/model"
)

// JobRepository persists generation jobs keyed by UUID. All operations are
// atomic with respect to a single job row; callers re-fetch to observe
// concurrent updates.
type JobRepository interface {
	Create(ctx context.Context, job *model.GenerationJob) error
	FindByID(ctx context.Context, id string) (*model.GenerationJob, error)
	// Update applies only the set fields of upd and returns the stored row.
	// Returns domain.ErrNotFound when the id is unknown.
	Update(ctx context.Context, id string, upd model.JobUpdate) (*model.GenerationJob, error)
	// Delete is idempotent and reports whether a row existed.
	Delete(ctx context.Context, id string) (bool, error)
}
