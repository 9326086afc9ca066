package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"image-edit-service/internal/domain"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition may leave this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// GenerationJob tracks one image-edit request through its lifecycle.
// GeneratedImageKey is set exactly when Status is completed.
type GenerationJob struct {
	ID                string
	Prompt            string
	InitialImageKey   string
	ReferenceImageKey string
	GeneratedImageKey string
	Status            JobStatus
	LastError         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewGenerationJob validates inputs and builds a pending job with a fresh ID.
func NewGenerationJob(prompt, initialImageKey, referenceImageKey string) (*GenerationJob, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, domain.ErrInvalidArgument
	}
	initialImageKey = strings.TrimSpace(initialImageKey)
	if initialImageKey == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &GenerationJob{
		ID:                uuid.NewString(),
		Prompt:            prompt,
		InitialImageKey:   initialImageKey,
		ReferenceImageKey: strings.TrimSpace(referenceImageKey),
		Status:            JobStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// JobUpdate carries a partial update; nil fields are left untouched by the
// repository. Status-only and status+key updates share this one path.
type JobUpdate struct {
	Status            *JobStatus
	GeneratedImageKey *string
	LastError         *string
}

// IsEmpty reports whether the update would change nothing but updated_at.
func (u JobUpdate) IsEmpty() bool {
	return u.Status == nil && u.GeneratedImageKey == nil && u.LastError == nil
}

// Apply copies the set fields onto the job and refreshes UpdatedAt.
func (u JobUpdate) Apply(job *GenerationJob) {
	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.GeneratedImageKey != nil {
		job.GeneratedImageKey = *u.GeneratedImageKey
	}
	if u.LastError != nil {
		job.LastError = *u.LastError
	}
	job.UpdatedAt = time.Now()
}

// StatusUpdate is a convenience for the common status-only transition.
func StatusUpdate(s JobStatus) JobUpdate {
	return JobUpdate{Status: &s}
}
