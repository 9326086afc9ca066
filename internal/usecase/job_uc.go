package usecase

import (
	"bytes"
	"context"
	"path"
	"time"

	"github.com/rs/zerolog"

	"image-edit-service/internal/domain"
	"image-edit-service/internal/domain/model"
	"image-edit-service/internal/domain/ports/adapter"
	"image-edit-service/internal/domain/ports/repository"
	"image-edit-service/internal/domain/ports/storage"
	"image-edit-service/internal/infra/metrics"
)

// processLockTTL bounds how long a crashed Process call can keep a job
// locked before another driver may retry it.
const processLockTTL = 10 * time.Minute

// Locker serializes Process calls per job id.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// JobUseCase owns the job state machine: Pending -> Processing ->
// {Completed, Failed}. Terminal states never transition; a failed job is not
// retried in place.
type JobUseCase struct {
	jobs     repository.JobRepository
	blobs    storage.BlobStore
	imageGen adapter.ImageGenerationAdapter
	locker   Locker
	signTTL  time.Duration
	log      *zerolog.Logger
}

func NewJobUseCase(
	jobs repository.JobRepository,
	blobs storage.BlobStore,
	imageGen adapter.ImageGenerationAdapter,
	locker Locker,
	signTTL time.Duration,
	log *zerolog.Logger,
) *JobUseCase {
	if signTTL <= 0 {
		signTTL = time.Hour
	}
	return &JobUseCase{
		jobs:     jobs,
		blobs:    blobs,
		imageGen: imageGen,
		locker:   locker,
		signTTL:  signTTL,
		log:      log,
	}
}

// Create persists a new pending job. No upstream call happens here.
func (uc *JobUseCase) Create(ctx context.Context, prompt, initialKey, referenceKey string) (*model.GenerationJob, error) {
	job, err := model.NewGenerationJob(prompt, initialKey, referenceKey)
	if err != nil {
		return nil, err
	}
	if err := uc.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	uc.log.Info().Str("job_id", job.ID).Msg("generation job created")
	return job, nil
}

// Get retrieves a job by id.
func (uc *JobUseCase) Get(ctx context.Context, id string) (*model.GenerationJob, error) {
	return uc.jobs.FindByID(ctx, id)
}

// Delete removes a job if present. Absence is not an error.
func (uc *JobUseCase) Delete(ctx context.Context, id string) (bool, error) {
	return uc.jobs.Delete(ctx, id)
}

// Process drives one job through the upstream call and blob upload. It
// accepts jobs in Pending (first run) or Processing (idempotent driver
// retry); terminal jobs are rejected. Every failure path marks the job
// Failed and returns the underlying error - a job is never left Processing.
func (uc *JobUseCase) Process(ctx context.Context, id string) (*model.GenerationJob, error) {
	token, err := uc.locker.TryLock(ctx, "job:process:"+id, processLockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := uc.locker.Unlock(context.Background(), "job:process:"+id, token); err != nil {
			uc.log.Warn().Err(err).Str("job_id", id).Msg("failed to release process lock")
		}
	}()

	job, err := uc.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, domain.ErrJobTerminal
	}

	job, err = uc.jobs.Update(ctx, id, model.StatusUpdate(model.JobStatusProcessing))
	if err != nil {
		return nil, err
	}
	uc.log.Info().Str("job_id", id).Msg("processing generation job")
	start := time.Now()

	data, genErr := uc.generate(ctx, job)
	if genErr != nil {
		return uc.markFailed(ctx, id, genErr)
	}

	contentType, ext := sniffImage(data)
	genKey := generatedKey(job.InitialImageKey, ext)
	if _, err := uc.blobs.Upload(ctx, genKey, data, contentType); err != nil {
		return uc.markFailed(ctx, id, err)
	}

	completed := model.JobStatusCompleted
	noErr := ""
	job, err = uc.jobs.Update(ctx, id, model.JobUpdate{
		Status:            &completed,
		GeneratedImageKey: &genKey,
		LastError:         &noErr,
	})
	if err != nil {
		return uc.markFailed(ctx, id, err)
	}

	metrics.IncJobProcessed(string(model.JobStatusCompleted))
	uc.log.Info().
		Str("job_id", id).
		Str("generated_key", genKey).
		Dur("duration", time.Since(start)).
		Msg("generation job completed")
	return job, nil
}

// generate signs read URLs for the stored inputs and invokes the upstream
// adapter. Steps within one job run strictly sequentially.
func (uc *JobUseCase) generate(ctx context.Context, job *model.GenerationJob) ([]byte, error) {
	initialURL, err := uc.blobs.SignedURL(ctx, job.InitialImageKey, uc.signTTL)
	if err != nil {
		return nil, err
	}
	var referenceURL string
	if job.ReferenceImageKey != "" {
		referenceURL, err = uc.blobs.SignedURL(ctx, job.ReferenceImageKey, uc.signTTL)
		if err != nil {
			return nil, err
		}
	}
	return uc.imageGen.GenerateImage(ctx, adapter.GenerationRequest{
		Prompt:       job.Prompt,
		InitialURL:   initialURL,
		ReferenceURL: referenceURL,
	})
}

// markFailed records the terminal Failed state and hands the original error
// back to the caller for reporting.
func (uc *JobUseCase) markFailed(ctx context.Context, id string, cause error) (*model.GenerationJob, error) {
	failed := model.JobStatusFailed
	lastErr := cause.Error()
	job, err := uc.jobs.Update(ctx, id, model.JobUpdate{Status: &failed, LastError: &lastErr})
	if err != nil {
		uc.log.Error().Err(err).Str("job_id", id).Msg("could not mark job failed")
	}
	metrics.IncJobProcessed(string(model.JobStatusFailed))
	uc.log.Error().Err(cause).Str("job_id", id).Msg("generation job failed")
	return job, cause
}

// generatedKey derives the deterministic output key next to the initial
// image, e.g. "u/1/initial.jpg" -> "u/1/generated.png".
func generatedKey(initialKey, ext string) string {
	dir := path.Dir(initialKey)
	if dir == "." {
		return "generated." + ext
	}
	return dir + "/generated." + ext
}

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	jpegMagic = []byte{0xff, 0xd8}
)

// sniffImage picks a content type and key extension from magic bytes.
func sniffImage(data []byte) (contentType, ext string) {
	switch {
	case bytes.HasPrefix(data, pngMagic):
		return "image/png", "png"
	case bytes.HasPrefix(data, jpegMagic):
		return "image/jpeg", "jpg"
	default:
		return "application/octet-stream", "bin"
	}
}
