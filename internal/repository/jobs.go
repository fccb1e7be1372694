package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/dailyclearing/digest-back/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// JobsRepository abstracts job persistence plus the transient per-job
// article records accumulated while a run is in flight. Articles are working
// storage only; the durable digest lives in the artifact store.
type JobsRepository interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	UpdateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	GetOwnerJob(ctx context.Context, ownerID string) (*domain.Job, error)
	DeleteOwnerJobs(ctx context.Context, ownerID string) error

	ReplaceJobArticles(ctx context.Context, jobID string, articles []domain.ParsedArticle) error
	ListJobArticles(ctx context.Context, jobID string) ([]domain.ParsedArticle, error)
	DeleteJobArticles(ctx context.Context, jobID string) error
}

// MemoryJobsRepository stores jobs in memory for local development and tests.
type MemoryJobsRepository struct {
	mu       sync.RWMutex
	jobs     map[string]*domain.Job
	byOwner  map[string]string
	articles map[string][]domain.ParsedArticle
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs:     make(map[string]*domain.Job),
		byOwner:  make(map[string]string),
		articles: make(map[string][]domain.ParsedArticle),
	}
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.ID] = cloneJob(job)
	r.byOwner[job.OwnerID] = job.ID
	return nil
}

func (r *MemoryJobsRepository) UpdateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryJobsRepository) GetOwnerJob(_ context.Context, ownerID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobID, ok := r.byOwner[ownerID]
	if !ok {
		return nil, ErrNotFound
	}
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryJobsRepository) DeleteOwnerJobs(_ context.Context, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if jobID, ok := r.byOwner[ownerID]; ok {
		delete(r.jobs, jobID)
		delete(r.articles, jobID)
		delete(r.byOwner, ownerID)
	}
	return nil
}

func (r *MemoryJobsRepository) ReplaceJobArticles(_ context.Context, jobID string, articles []domain.ParsedArticle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.articles[jobID] = append([]domain.ParsedArticle(nil), articles...)
	return nil
}

func (r *MemoryJobsRepository) ListJobArticles(_ context.Context, jobID string) ([]domain.ParsedArticle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]domain.ParsedArticle(nil), r.articles[jobID]...), nil
}

func (r *MemoryJobsRepository) DeleteJobArticles(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.articles, jobID)
	return nil
}

func cloneJob(job *domain.Job) *domain.Job {
	if job == nil {
		return nil
	}
	clone := *job
	if job.CompletedAt != nil {
		completed := *job.CompletedAt
		clone.CompletedAt = &completed
	}
	return &clone
}
