package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"image-edit-service/internal/domain"
	"image-edit-service/internal/domain/model"
	"image-edit-service/internal/domain/ports/adapter"
	red "image-edit-service/internal/infra/redis"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0xde, 0xad}

func newTestUC(repo *memJobRepo, blobs *memBlobStore, gen *fakeImageGen) *JobUseCase {
	logger := zerolog.Nop()
	return NewJobUseCase(repo, blobs, gen, red.NewMemoryLocker(), time.Hour, &logger)
}

func TestJobUseCase_CreateThenGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newMemJobRepo()
	uc := newTestUC(repo, newMemBlobStore(), nil)

	job, err := uc.Create(ctx, "swap background", "u/1/initial.jpg", "")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected job ID to be set")
	}

	got, err := uc.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Status != model.JobStatusPending {
		t.Fatalf("expected status pending, got %s", got.Status)
	}
	if got.GeneratedImageKey != "" {
		t.Fatalf("expected no generated key on a pending job, got %q", got.GeneratedImageKey)
	}
	if got.Prompt != "swap background" || got.InitialImageKey != "u/1/initial.jpg" {
		t.Fatalf("unexpected job fields: %+v", got)
	}
}

func TestJobUseCase_CreateValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	uc := newTestUC(newMemJobRepo(), newMemBlobStore(), nil)

	if _, err := uc.Create(ctx, "", "u/1/initial.jpg", ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty prompt, got %v", err)
	}
	if _, err := uc.Create(ctx, "prompt", "", ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty initial key, got %v", err)
	}
}

func TestJobUseCase_ProcessSuccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newMemJobRepo()
	blobs := newMemBlobStore()
	gen := &fakeImageGen{fn: func(ctx context.Context, req adapter.GenerationRequest) ([]byte, error) {
		return pngBytes, nil
	}}
	uc := newTestUC(repo, blobs, gen)

	job, err := uc.Create(ctx, "swap background", "u/1/initial.jpg", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	done, err := uc.Process(ctx, job.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if done.Status != model.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if done.GeneratedImageKey != "u/1/generated.png" {
		t.Fatalf("unexpected generated key: %q", done.GeneratedImageKey)
	}
	if string(blobs.objects["u/1/generated.png"]) != string(pngBytes) {
		t.Fatal("blob store does not hold the generated bytes under the expected key")
	}
	if ct := blobs.contentTypes["u/1/generated.png"]; ct != "image/png" {
		t.Fatalf("unexpected content type: %q", ct)
	}

	if len(gen.requests) != 1 {
		t.Fatalf("expected one upstream call, got %d", len(gen.requests))
	}
	req := gen.requests[0]
	if req.Prompt != "swap background" {
		t.Fatalf("unexpected prompt: %q", req.Prompt)
	}
	if req.InitialURL != "https://blobs.local/u/1/initial.jpg" {
		t.Fatalf("unexpected initial url: %q", req.InitialURL)
	}
	if req.ReferenceURL != "" {
		t.Fatalf("expected no reference url, got %q", req.ReferenceURL)
	}
}

func TestJobUseCase_ProcessPassesReferenceURL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gen := &fakeImageGen{fn: func(ctx context.Context, req adapter.GenerationRequest) ([]byte, error) {
		return pngBytes, nil
	}}
	uc := newTestUC(newMemJobRepo(), newMemBlobStore(), gen)

	job, err := uc.Create(ctx, "use the style", "u/2/initial.jpg", "u/2/reference.jpg")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := uc.Process(ctx, job.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	req := gen.requests[0]
	if req.ReferenceURL != "https://blobs.local/u/2/reference.jpg" {
		t.Fatalf("unexpected reference url: %q", req.ReferenceURL)
	}
}

func TestJobUseCase_ProcessUpstreamFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newMemJobRepo()
	gen := &fakeImageGen{fn: func(ctx context.Context, req adapter.GenerationRequest) ([]byte, error) {
		return nil, domain.Transient("provider returned http 500")
	}}
	uc := newTestUC(repo, newMemBlobStore(), gen)

	job, err := uc.Create(ctx, "p", "u/1/initial.jpg", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	failed, err := uc.Process(ctx, job.ID)
	if err == nil {
		t.Fatal("expected the upstream failure to propagate")
	}
	if !domain.IsTransient(err) {
		t.Fatalf("expected the original transient error, got %v", err)
	}
	if failed.Status != model.JobStatusFailed {
		t.Fatalf("expected failed, got %s", failed.Status)
	}
	if failed.GeneratedImageKey != "" {
		t.Fatalf("generated key must stay unset on failure, got %q", failed.GeneratedImageKey)
	}
	if failed.LastError == "" {
		t.Fatal("expected last error to be recorded")
	}
}

func TestJobUseCase_ProcessUploadFailureMarksFailed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newMemJobRepo()
	blobs := newMemBlobStore()
	blobs.uploadErr = &domain.StorageError{Op: "put", Key: "x", Err: errors.New("connection refused")}
	gen := &fakeImageGen{fn: func(ctx context.Context, req adapter.GenerationRequest) ([]byte, error) {
		return pngBytes, nil
	}}
	uc := newTestUC(repo, blobs, gen)

	job, err := uc.Create(ctx, "p", "u/1/initial.jpg", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	failed, err := uc.Process(ctx, job.ID)
	if err == nil {
		t.Fatal("expected the storage failure to propagate")
	}
	var se *domain.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	// A successful generation followed by a failed upload must still end
	// Failed, never stay Processing.
	if failed.Status != model.JobStatusFailed {
		t.Fatalf("expected failed, got %s", failed.Status)
	}
}

func TestJobUseCase_ProcessTerminalRejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newMemJobRepo()
	gen := &fakeImageGen{fn: func(ctx context.Context, req adapter.GenerationRequest) ([]byte, error) {
		return pngBytes, nil
	}}
	uc := newTestUC(repo, newMemBlobStore(), gen)

	job, err := uc.Create(ctx, "p", "u/1/initial.jpg", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := uc.Process(ctx, job.ID); err != nil {
		t.Fatalf("first Process: %v", err)
	}

	if _, err := uc.Process(ctx, job.ID); !errors.Is(err, domain.ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal on a completed job, got %v", err)
	}
	if len(gen.requests) != 1 {
		t.Fatalf("terminal job must not reach the upstream, got %d calls", len(gen.requests))
	}
}

func TestJobUseCase_ProcessUnknownJob(t *testing.T) {
	t.Parallel()

	uc := newTestUC(newMemJobRepo(), newMemBlobStore(), nil)
	if _, err := uc.Process(context.Background(), "no-such-id"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJobUseCase_ProcessLockContention(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newMemJobRepo()
	locker := red.NewMemoryLocker()
	logger := zerolog.Nop()
	gen := &fakeImageGen{fn: func(ctx context.Context, req adapter.GenerationRequest) ([]byte, error) {
		return pngBytes, nil
	}}
	uc := NewJobUseCase(repo, newMemBlobStore(), gen, locker, time.Hour, &logger)

	job, err := uc.Create(ctx, "p", "u/1/initial.jpg", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Simulate a concurrent driver holding the job.
	token, err := locker.TryLock(ctx, "job:process:"+job.ID, time.Minute)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if _, err := uc.Process(ctx, job.ID); !errors.Is(err, domain.ErrJobLocked) {
		t.Fatalf("expected ErrJobLocked, got %v", err)
	}

	// Released lock lets processing proceed.
	if err := locker.Unlock(ctx, "job:process:"+job.ID, token); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if _, err := uc.Process(ctx, job.ID); err != nil {
		t.Fatalf("Process after unlock: %v", err)
	}
}

func TestJobUseCase_DeleteIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	uc := newTestUC(newMemJobRepo(), newMemBlobStore(), nil)

	job, err := uc.Create(ctx, "p", "u/1/initial.jpg", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	existed, err := uc.Delete(ctx, job.ID)
	if err != nil || !existed {
		t.Fatalf("expected first delete to report existence, got existed=%v err=%v", existed, err)
	}
	existed, err = uc.Delete(ctx, job.ID)
	if err != nil {
		t.Fatalf("second delete must not error: %v", err)
	}
	if existed {
		t.Fatal("second delete must report absence")
	}
}

func TestSniffImage(t *testing.T) {
	t.Parallel()

	ct, ext := sniffImage(pngBytes)
	if ct != "image/png" || ext != "png" {
		t.Fatalf("png: got %s/%s", ct, ext)
	}
	ct, ext = sniffImage([]byte{0xff, 0xd8, 0xff, 0xe0})
	if ct != "image/jpeg" || ext != "jpg" {
		t.Fatalf("jpeg: got %s/%s", ct, ext)
	}
	ct, ext = sniffImage([]byte("not an image"))
	if ct != "application/octet-stream" || ext != "bin" {
		t.Fatalf("fallback: got %s/%s", ct, ext)
	}
}

func TestGeneratedKey(t *testing.T) {
	t.Parallel()

	if got := generatedKey("u/1/initial.jpg", "png"); got != "u/1/generated.png" {
		t.Fatalf("unexpected key: %q", got)
	}
	if got := generatedKey("initial.jpg", "jpg"); got != "generated.jpg" {
		t.Fatalf("unexpected key for bare file: %q", got)
	}
}
