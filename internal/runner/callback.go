package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dailyclearing/digest-back/internal/domain"
	"github.com/dailyclearing/digest-back/internal/jobs"
	"github.com/dailyclearing/digest-back/internal/notify"
	"github.com/dailyclearing/digest-back/internal/repository"
)

// CallbackPayload is what the ephemeral instance POSTs back: a terminal
// status report or a teardown request. The destroy action always arrives
// eventually, regardless of how the run ended.
type CallbackPayload struct {
	JobID    string          `json:"job_id"`
	Status   string          `json:"status,omitempty"`
	Action   string          `json:"action,omitempty"`
	Error    string          `json:"error,omitempty"`
	Digest   json.RawMessage `json:"digest,omitempty"`
	Markdown string          `json:"markdown,omitempty"`
}

const (
	CallbackStatusCompleted = "completed"
	CallbackStatusFailed    = "failed"
	CallbackActionDestroy   = "destroy"
)

// CallbackProcessor applies ephemeral-executor callbacks. Handling is
// idempotent per job id: terminal transitions are applied once, teardown is
// infrastructure cleanup and never alters job status.
type CallbackProcessor struct {
	controller *jobs.Controller
	artifacts  repository.ArtifactsRepository
	ephemeral  *EphemeralRunner
	notifier   notify.Notifier
	logger     *log.Logger
}

func NewCallbackProcessor(
	controller *jobs.Controller,
	artifacts repository.ArtifactsRepository,
	ephemeral *EphemeralRunner,
	notifier notify.Notifier,
	logger *log.Logger,
) *CallbackProcessor {
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &CallbackProcessor{
		controller: controller,
		artifacts:  artifacts,
		ephemeral:  ephemeral,
		notifier:   notifier,
		logger:     logger,
	}
}

func (p *CallbackProcessor) Handle(ctx context.Context, payload CallbackPayload) error {
	if payload.JobID == "" {
		return errors.New("callback missing job_id")
	}

	if payload.Action == CallbackActionDestroy {
		return p.handleDestroy(ctx, payload.JobID)
	}

	switch payload.Status {
	case CallbackStatusCompleted:
		return p.handleCompleted(ctx, payload)
	case CallbackStatusFailed:
		return p.handleFailed(ctx, payload)
	default:
		return fmt.Errorf("unknown callback status %q", payload.Status)
	}
}

func (p *CallbackProcessor) handleDestroy(ctx context.Context, jobID string) error {
	if p.ephemeral == nil {
		return nil
	}
	if err := p.ephemeral.Teardown(ctx, jobID); err != nil {
		return err
	}
	p.logf("destroy callback handled job=%s", jobID)
	return nil
}

func (p *CallbackProcessor) handleCompleted(ctx context.Context, payload CallbackPayload) error {
	job, err := p.controller.Get(ctx, payload.JobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			p.logf("completed callback for unknown job %s, discarded", payload.JobID)
			return nil
		}
		return err
	}

	var digest domain.Digest
	if err := json.Unmarshal(payload.Digest, &digest); err != nil {
		failErr := fmt.Errorf("decode callback digest: %w", err)
		if markErr := p.controller.Fail(ctx, job.OwnerID, job.ID, failErr.Error()); markErr != nil && !errors.Is(markErr, jobs.ErrStaleJob) {
			p.logf("mark job %s failed: %v", job.ID, markErr)
		}
		return failErr
	}

	artifact := &domain.DigestArtifact{
		OwnerID:   job.OwnerID,
		DigestID:  digest.Metadata.DigestID,
		Digest:    payload.Digest,
		Markdown:  payload.Markdown,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.artifacts.SaveArtifact(ctx, artifact); err != nil {
		return fmt.Errorf("persist callback artifact: %w", err)
	}

	// Complete is a no-op on an already-terminal job, which makes duplicate
	// callbacks harmless.
	if err := p.controller.Complete(ctx, job.OwnerID, job.ID, artifact.Key()); err != nil {
		if errors.Is(err, jobs.ErrStaleJob) {
			p.logf("job %s gone before callback completion, discarded", job.ID)
			return nil
		}
		return err
	}

	event := notify.CompletionEvent{
		OwnerID:     job.OwnerID,
		JobID:       job.ID,
		DigestID:    digest.Metadata.DigestID,
		ResultRef:   artifact.Key(),
		GeneratedAt: digest.Metadata.GeneratedAt,
	}
	if err := p.notifier.DigestCompleted(ctx, "", event); err != nil {
		p.logf("completion notification failed job=%s: %v", job.ID, err)
	}
	return nil
}

func (p *CallbackProcessor) handleFailed(ctx context.Context, payload CallbackPayload) error {
	job, err := p.controller.Get(ctx, payload.JobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			p.logf("failed callback for unknown job %s, discarded", payload.JobID)
			return nil
		}
		return err
	}

	message := payload.Error
	if message == "" {
		message = "ephemeral run failed without detail"
	}
	if err := p.controller.Fail(ctx, job.OwnerID, job.ID, message); err != nil && !errors.Is(err, jobs.ErrStaleJob) {
		return err
	}
	return nil
}

func (p *CallbackProcessor) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}
