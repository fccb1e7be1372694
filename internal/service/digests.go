package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dailyclearing/digest-back/internal/domain"
	"github.com/dailyclearing/digest-back/internal/jobs"
	"github.com/dailyclearing/digest-back/internal/queue"
	"github.com/dailyclearing/digest-back/internal/repository"
)

var (
	ErrNoTopicsEnabled = errors.New("preferences enable no topics")
	ErrResultNotReady  = errors.New("digest result not available yet")
)

// JobCanceller releases any compute still attached to a job. The ephemeral
// runner implements it; local runs have nothing to release.
type JobCanceller interface {
	CancelJob(ctx context.Context, jobID string)
}

// DigestService ties the HTTP surface to the job controller and the
// dispatch queue. Start admits a run and enqueues it; the worker picks it
// up from there.
type DigestService struct {
	controller *jobs.Controller
	artifacts  repository.ArtifactsRepository
	producer   queue.Producer
	canceller  JobCanceller
	defaults   *domain.UserPreferences
}

// NewDigestService wires the service. defaults may be nil; when set, start
// requests that carry no topics fall back to these server-side preferences.
func NewDigestService(
	controller *jobs.Controller,
	artifacts repository.ArtifactsRepository,
	producer queue.Producer,
	canceller JobCanceller,
	defaults *domain.UserPreferences,
) *DigestService {
	return &DigestService{
		controller: controller,
		artifacts:  artifacts,
		producer:   producer,
		canceller:  canceller,
		defaults:   defaults,
	}
}

// StartDigest admits a new run for the owner and dispatches it. Returns
// jobs.ErrJobConflict (wrapped) when the owner already has a live run.
func (s *DigestService) StartDigest(
	ctx context.Context,
	ownerID string,
	preferences domain.UserPreferences,
) (*domain.Job, error) {
	if len(preferences.Topics) == 0 && s.defaults != nil {
		preferences = *s.defaults
	}
	if len(preferences.EnabledTopics()) == 0 {
		return nil, ErrNoTopicsEnabled
	}

	encoded, err := json.Marshal(preferences)
	if err != nil {
		return nil, fmt.Errorf("encode preferences: %w", err)
	}

	jobID := uuid.NewString()
	job, err := s.controller.Start(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}

	message := domain.QueueMessage{
		JobID:       jobID,
		OwnerID:     ownerID,
		Preferences: encoded,
		Attempt:     0,
		RequestedAt: time.Now().UTC(),
	}
	if err := s.producer.Enqueue(ctx, message); err != nil {
		if failErr := s.controller.Fail(ctx, ownerID, jobID, "dispatch failed: "+err.Error()); failErr != nil {
			return nil, fmt.Errorf("enqueue job: %w (mark failed: %v)", err, failErr)
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	return job, nil
}

func (s *DigestService) Progress(ctx context.Context, jobID string) (*jobs.ProgressView, error) {
	return s.controller.Progress(ctx, jobID)
}

// Result returns the stored digest artifact for a job. Only complete jobs
// have one; anything earlier is ErrResultNotReady.
func (s *DigestService) Result(ctx context.Context, jobID string) (*domain.DigestArtifact, error) {
	job, err := s.controller.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusComplete || job.ResultRef == "" {
		return nil, ErrResultNotReady
	}

	ownerID, digestID, ok := splitResultRef(job.ResultRef)
	if !ok {
		return nil, fmt.Errorf("malformed result reference %q", job.ResultRef)
	}
	return s.artifacts.GetArtifact(ctx, ownerID, digestID)
}

// Cancel discards the owner's current run. Any compute still attached to
// the active job is released first so nothing keeps reporting into a job
// that no longer exists.
func (s *DigestService) Cancel(ctx context.Context, ownerID string) error {
	if s.canceller != nil {
		if job, err := s.controller.GetOwnerJob(ctx, ownerID); err == nil {
			s.canceller.CancelJob(ctx, job.ID)
		}
	}
	return s.controller.Reset(ctx, ownerID)
}

func splitResultRef(ref string) (ownerID, digestID string, ok bool) {
	idx := strings.Index(ref, "/")
	if idx <= 0 || idx == len(ref)-1 {
		return "", "", false
	}
	return ref[:idx], ref[idx+1:], true
}
