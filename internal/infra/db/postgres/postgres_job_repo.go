package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"image-edit-service/internal/domain"
	"image-edit-service/internal/domain/model"
	"image-edit-service/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

const jobColumns = `id, prompt, initial_image_key, reference_image_key, generated_image_key, status, last_error, created_at, updated_at`

func (r *jobRepo) Create(ctx context.Context, job *model.GenerationJob) error {
	const q = `
INSERT INTO generation_jobs (id, prompt, initial_image_key, reference_image_key, generated_image_key, status, last_error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`

	_, err := r.pool.Exec(ctx, q,
		job.ID, job.Prompt, job.InitialImageKey, job.ReferenceImageKey,
		job.GeneratedImageKey, string(job.Status), job.LastError,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *jobRepo) FindByID(ctx context.Context, id string) (*model.GenerationJob, error) {
	q := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = $1;`
	return scanJob(r.pool.QueryRow(ctx, q, id))
}

// Update applies only the fields set on upd; unset fields keep their stored
// values. An empty update still refreshes updated_at.
func (r *jobRepo) Update(ctx context.Context, id string, upd model.JobUpdate) (*model.GenerationJob, error) {
	sets := []string{"updated_at = $1"}
	args := []interface{}{time.Now()}

	if upd.Status != nil {
		args = append(args, string(*upd.Status))
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if upd.GeneratedImageKey != nil {
		args = append(args, *upd.GeneratedImageKey)
		sets = append(sets, fmt.Sprintf("generated_image_key = $%d", len(args)))
	}
	if upd.LastError != nil {
		args = append(args, *upd.LastError)
		sets = append(sets, fmt.Sprintf("last_error = $%d", len(args)))
	}
	args = append(args, id)

	q := fmt.Sprintf(`UPDATE generation_jobs SET %s WHERE id = $%d RETURNING %s;`,
		joinSets(sets), len(args), jobColumns)
	return scanJob(r.pool.QueryRow(ctx, q, args...))
}

func (r *jobRepo) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM generation_jobs WHERE id = $1;`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanJob(row pgx.Row) (*model.GenerationJob, error) {
	var job model.GenerationJob
	var statusStr string
	err := row.Scan(
		&job.ID, &job.Prompt, &job.InitialImageKey, &job.ReferenceImageKey,
		&job.GeneratedImageKey, &statusStr, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan job row: %w", err)
	}
	job.Status = model.JobStatus(statusStr)
	return &job, nil
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}
