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
	"github.com/dailyclearing/digest-back/internal/pipeline"
	"github.com/dailyclearing/digest-back/internal/repository"
)

// Runner executes one requested digest run, in-process or on ephemeral
// compute. The queue processor does not care which.
type Runner interface {
	Run(ctx context.Context, message domain.QueueMessage) error
}

// DigestGenerator is the pipeline surface the local runner needs.
type DigestGenerator interface {
	Generate(ctx context.Context, preferences domain.UserPreferences, options pipeline.Options, progress pipeline.ProgressFunc) (*pipeline.Result, error)
}

// LocalRunner drives the pipeline inside this process, mirroring every
// stage into the job record and persisting the artifact on success.
type LocalRunner struct {
	generator  DigestGenerator
	controller *jobs.Controller
	artifacts  repository.ArtifactsRepository
	notifier   notify.Notifier
	logger     *log.Logger
}

func NewLocalRunner(
	generator DigestGenerator,
	controller *jobs.Controller,
	artifacts repository.ArtifactsRepository,
	notifier notify.Notifier,
	logger *log.Logger,
) *LocalRunner {
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &LocalRunner{
		generator:  generator,
		controller: controller,
		artifacts:  artifacts,
		notifier:   notifier,
		logger:     logger,
	}
}

func (r *LocalRunner) Run(ctx context.Context, message domain.QueueMessage) error {
	var preferences domain.UserPreferences
	if err := json.Unmarshal(message.Preferences, &preferences); err != nil {
		failErr := fmt.Errorf("decode preferences: %w", err)
		r.fail(ctx, message, failErr)
		return failErr
	}

	progress := func(ctx context.Context, update pipeline.Update) {
		if update.Status == domain.JobStatusComplete {
			// Terminal transition happens after the artifact is stored.
			return
		}
		err := r.controller.UpdateStatus(ctx, message.OwnerID, jobs.StatusUpdate{
			JobID:            message.JobID,
			Status:           update.Status,
			CurrentTopic:     update.CurrentTopic,
			ArticlesFound:    update.ArticlesFound,
			ArticlesParsed:   update.ArticlesParsed,
			ArticlesAnalyzed: update.ArticlesAnalyzed,
		})
		if err != nil && !errors.Is(err, jobs.ErrStaleJob) {
			r.logf("progress update failed job=%s: %v", message.JobID, err)
		}
	}

	result, err := r.generator.Generate(ctx, preferences, pipeline.Options{}, progress)
	if err != nil {
		r.fail(ctx, message, err)
		return err
	}

	if err := r.persist(ctx, message, result); err != nil {
		r.fail(ctx, message, err)
		return err
	}

	event := notify.CompletionEvent{
		OwnerID:     message.OwnerID,
		JobID:       message.JobID,
		DigestID:    result.Digest.Metadata.DigestID,
		ResultRef:   message.OwnerID + "/" + result.Digest.Metadata.DigestID,
		GeneratedAt: result.Digest.Metadata.GeneratedAt,
	}
	if err := r.notifier.DigestCompleted(ctx, preferences.Delivery.WebhookURL, event); err != nil {
		r.logf("completion notification failed job=%s: %v", message.JobID, err)
	}
	return nil
}

func (r *LocalRunner) persist(ctx context.Context, message domain.QueueMessage, result *pipeline.Result) error {
	encoded, err := json.Marshal(result.Digest)
	if err != nil {
		return fmt.Errorf("encode digest: %w", err)
	}

	artifact := &domain.DigestArtifact{
		OwnerID:   message.OwnerID,
		DigestID:  result.Digest.Metadata.DigestID,
		Digest:    encoded,
		Markdown:  result.Markdown,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.artifacts.SaveArtifact(ctx, artifact); err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}

	if err := r.controller.Complete(ctx, message.OwnerID, message.JobID, artifact.Key()); err != nil {
		if errors.Is(err, jobs.ErrStaleJob) {
			r.logf("job %s gone before completion, result discarded", message.JobID)
			return nil
		}
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

func (r *LocalRunner) fail(ctx context.Context, message domain.QueueMessage, cause error) {
	if err := r.controller.Fail(ctx, message.OwnerID, message.JobID, cause.Error()); err != nil && !errors.Is(err, jobs.ErrStaleJob) {
		r.logf("mark job %s failed: %v", message.JobID, err)
	}
}

func (r *LocalRunner) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
