package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dailyclearing/digest-back/internal/domain"
	"github.com/dailyclearing/digest-back/internal/repository"
)

// ErrJobConflict signals that the owner already has a run in flight.
var ErrJobConflict = errors.New("a job for this owner is already in progress")

// ErrStaleJob signals a write against a job record that no longer exists,
// usually because the owner reset or restarted while work was in flight.
// The write is discarded; in-flight work is never forcibly aborted.
var ErrStaleJob = errors.New("job record no longer current, write discarded")

// StatusUpdate is one forward step reported by the running pipeline. Counter
// fields only ever raise the stored values; zero means "no change".
type StatusUpdate struct {
	JobID            string
	Status           domain.JobStatus
	CurrentTopic     string
	ArticlesFound    int
	ArticlesParsed   int
	ArticlesAnalyzed int
}

// ProgressView is the poll-friendly snapshot of one job.
type ProgressView struct {
	JobID            string           `json:"job_id"`
	OwnerID          string           `json:"owner_id"`
	Status           domain.JobStatus `json:"status"`
	ProgressPercent  int              `json:"progress_percent"`
	CurrentStep      string           `json:"current_step"`
	CurrentTopic     string           `json:"current_topic,omitempty"`
	ArticlesFound    int              `json:"articles_found"`
	ArticlesParsed   int              `json:"articles_parsed"`
	ArticlesAnalyzed int              `json:"articles_analyzed"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	ResultRef        string           `json:"result_ref,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
}

// Controller owns the job state machine. All mutating operations for one
// owner are routed through that owner's actor goroutine, so exactly one
// writer touches a given job record at a time without locking any table.
type Controller struct {
	repo      repository.JobsRepository
	artifacts repository.ArtifactsRepository
	logger    *log.Logger
	now       func() time.Time

	mu     sync.Mutex
	actors map[string]*ownerActor
}

func NewController(repo repository.JobsRepository, artifacts repository.ArtifactsRepository, logger *log.Logger) *Controller {
	return &Controller{
		repo:      repo,
		artifacts: artifacts,
		logger:    logger,
		now:       time.Now,
		actors:    make(map[string]*ownerActor),
	}
}

type command struct {
	ctx   context.Context
	run   func(ctx context.Context) error
	reply chan error
}

type ownerActor struct {
	commands chan command
}

func (c *Controller) actor(ownerID string) *ownerActor {
	c.mu.Lock()
	defer c.mu.Unlock()

	actor, ok := c.actors[ownerID]
	if !ok {
		actor = &ownerActor{commands: make(chan command, 16)}
		c.actors[ownerID] = actor
		go actor.loop()
	}
	return actor
}

func (a *ownerActor) loop() {
	for cmd := range a.commands {
		if cmd.ctx.Err() != nil {
			cmd.reply <- cmd.ctx.Err()
			continue
		}
		cmd.reply <- cmd.run(cmd.ctx)
	}
}

// do routes one mutating operation through the owner's actor and waits for
// the result.
func (c *Controller) do(ctx context.Context, ownerID string, run func(ctx context.Context) error) error {
	cmd := command{ctx: ctx, run: run, reply: make(chan error, 1)}

	select {
	case c.actor(ownerID).commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start rejects when the owner has a non-terminal job, otherwise clears all
// prior records for the owner and inserts a fresh pending job.
func (c *Controller) Start(ctx context.Context, ownerID, jobID string) (*domain.Job, error) {
	var started *domain.Job

	err := c.do(ctx, ownerID, func(ctx context.Context) error {
		existing, err := c.repo.GetOwnerJob(ctx, ownerID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("load owner job: %w", err)
		}
		if existing != nil && !existing.Status.Terminal() {
			return fmt.Errorf("%w: job %s is %s", ErrJobConflict, existing.ID, existing.Status)
		}

		if err := c.repo.DeleteOwnerJobs(ctx, ownerID); err != nil {
			return fmt.Errorf("clear prior jobs: %w", err)
		}
		if err := c.artifacts.DeleteOwnerArtifacts(ctx, ownerID); err != nil {
			return fmt.Errorf("clear prior artifacts: %w", err)
		}

		now := c.now().UTC()
		job := &domain.Job{
			ID:        jobID,
			OwnerID:   ownerID,
			Status:    domain.JobStatusPending,
			StartedAt: now,
			UpdatedAt: now,
		}
		if err := c.repo.CreateJob(ctx, job); err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		started = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return started, nil
}

// UpdateStatus applies one forward step. Transition legality is not checked
// beyond the single-writer rule; counters never move backwards.
func (c *Controller) UpdateStatus(ctx context.Context, ownerID string, update StatusUpdate) error {
	return c.do(ctx, ownerID, func(ctx context.Context) error {
		job, err := c.loadCurrent(ctx, ownerID, update.JobID)
		if err != nil {
			return err
		}

		job.Status = update.Status
		if update.CurrentTopic != "" {
			job.CurrentTopic = update.CurrentTopic
		}
		if update.ArticlesFound > job.ArticlesFound {
			job.ArticlesFound = update.ArticlesFound
		}
		if update.ArticlesParsed > job.ArticlesParsed {
			job.ArticlesParsed = update.ArticlesParsed
		}
		if update.ArticlesAnalyzed > job.ArticlesAnalyzed {
			job.ArticlesAnalyzed = update.ArticlesAnalyzed
		}
		job.UpdatedAt = c.now().UTC()

		return c.repo.UpdateJob(ctx, job)
	})
}

// RecordArticles snapshots the parsed articles accumulated so far. The
// records are transient working storage cleared on completion.
func (c *Controller) RecordArticles(ctx context.Context, ownerID, jobID string, articles []domain.ParsedArticle) error {
	return c.do(ctx, ownerID, func(ctx context.Context) error {
		if _, err := c.loadCurrent(ctx, ownerID, jobID); err != nil {
			return err
		}
		return c.repo.ReplaceJobArticles(ctx, jobID, articles)
	})
}

// Complete marks the job terminal and clears transient working storage; the
// durable digest lives in the artifact store under resultRef.
func (c *Controller) Complete(ctx context.Context, ownerID, jobID, resultRef string) error {
	return c.finish(ctx, ownerID, jobID, domain.JobStatusComplete, "", resultRef)
}

// Fail marks the job failed with the error recorded for the status surface.
func (c *Controller) Fail(ctx context.Context, ownerID, jobID, errorMessage string) error {
	return c.finish(ctx, ownerID, jobID, domain.JobStatusFailed, errorMessage, "")
}

func (c *Controller) finish(ctx context.Context, ownerID, jobID string, status domain.JobStatus, errorMessage, resultRef string) error {
	return c.do(ctx, ownerID, func(ctx context.Context) error {
		job, err := c.loadCurrent(ctx, ownerID, jobID)
		if err != nil {
			return err
		}
		if job.Status.Terminal() {
			c.logf("job %s already terminal (%s), ignoring %s", jobID, job.Status, status)
			return nil
		}

		now := c.now().UTC()
		job.Status = status
		job.ErrorMessage = errorMessage
		job.ResultRef = resultRef
		job.UpdatedAt = now
		job.CompletedAt = &now
		if err := c.repo.UpdateJob(ctx, job); err != nil {
			return err
		}
		if err := c.repo.DeleteJobArticles(ctx, jobID); err != nil {
			c.logf("clear transient articles for job %s: %v", jobID, err)
		}
		return nil
	})
}

// Reset hard-clears all state for the owner. Usable as cancellation:
// in-flight work keeps running but its writes will be discarded as stale.
func (c *Controller) Reset(ctx context.Context, ownerID string) error {
	return c.do(ctx, ownerID, func(ctx context.Context) error {
		if err := c.repo.DeleteOwnerJobs(ctx, ownerID); err != nil {
			return fmt.Errorf("clear jobs: %w", err)
		}
		if err := c.artifacts.DeleteOwnerArtifacts(ctx, ownerID); err != nil {
			return fmt.Errorf("clear artifacts: %w", err)
		}
		return nil
	})
}

// Progress is the read side; it does not go through the actor.
func (c *Controller) Progress(ctx context.Context, jobID string) (*ProgressView, error) {
	job, err := c.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &ProgressView{
		JobID:            job.ID,
		OwnerID:          job.OwnerID,
		Status:           job.Status,
		ProgressPercent:  job.Progress(),
		CurrentStep:      job.CurrentStep(),
		CurrentTopic:     job.CurrentTopic,
		ArticlesFound:    job.ArticlesFound,
		ArticlesParsed:   job.ArticlesParsed,
		ArticlesAnalyzed: job.ArticlesAnalyzed,
		ErrorMessage:     job.ErrorMessage,
		ResultRef:        job.ResultRef,
		StartedAt:        job.StartedAt,
		UpdatedAt:        job.UpdatedAt,
		CompletedAt:      job.CompletedAt,
	}, nil
}

// Get returns the raw job record.
func (c *Controller) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	return c.repo.GetJob(ctx, jobID)
}

// GetOwnerJob returns the owner's most recent job record.
func (c *Controller) GetOwnerJob(ctx context.Context, ownerID string) (*domain.Job, error) {
	return c.repo.GetOwnerJob(ctx, ownerID)
}

func (c *Controller) loadCurrent(ctx context.Context, ownerID, jobID string) (*domain.Job, error) {
	job, err := c.repo.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: job %s", ErrStaleJob, jobID)
		}
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: job %s does not belong to owner %s", ErrStaleJob, jobID, ownerID)
	}
	return job, nil
}

func (c *Controller) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
