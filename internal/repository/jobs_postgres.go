package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dailyclearing/digest-back/internal/domain"
)

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(ctx context.Context, databaseURL string) (*PostgresJobsRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresJobsRepository{pool: pool}, nil
}

// NewPostgresJobsRepositoryFromPool wraps an existing pool so jobs and
// artifacts can share one connection set.
func NewPostgresJobsRepositoryFromPool(pool *pgxpool.Pool) *PostgresJobsRepository {
	return &PostgresJobsRepository{pool: pool}
}

func (r *PostgresJobsRepository) Close() {
	r.pool.Close()
}

func (r *PostgresJobsRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (
			id,
			owner_id,
			status,
			current_topic,
			articles_found,
			articles_parsed,
			articles_analyzed,
			error_message,
			result_ref,
			started_at,
			updated_at,
			completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		job.ID,
		job.OwnerID,
		string(job.Status),
		job.CurrentTopic,
		job.ArticlesFound,
		job.ArticlesParsed,
		job.ArticlesAnalyzed,
		job.ErrorMessage,
		job.ResultRef,
		job.StartedAt,
		job.UpdatedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) UpdateJob(ctx context.Context, job *domain.Job) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2,
			current_topic = $3,
			articles_found = $4,
			articles_parsed = $5,
			articles_analyzed = $6,
			error_message = $7,
			result_ref = $8,
			updated_at = $9,
			completed_at = $10
		WHERE id = $1
	`,
		job.ID,
		string(job.Status),
		job.CurrentTopic,
		job.ArticlesFound,
		job.ArticlesParsed,
		job.ArticlesAnalyzed,
		job.ErrorMessage,
		job.ResultRef,
		job.UpdatedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return r.queryJob(ctx, `WHERE id = $1`, jobID)
}

func (r *PostgresJobsRepository) GetOwnerJob(ctx context.Context, ownerID string) (*domain.Job, error) {
	return r.queryJob(ctx, `WHERE owner_id = $1 ORDER BY started_at DESC LIMIT 1`, ownerID)
}

func (r *PostgresJobsRepository) queryJob(ctx context.Context, where string, arg any) (*domain.Job, error) {
	var (
		job         domain.Job
		status      string
		startedAt   time.Time
		updatedAt   time.Time
		completedAt *time.Time
	)

	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, status, current_topic, articles_found, articles_parsed,
			articles_analyzed, error_message, result_ref, started_at, updated_at, completed_at
		FROM jobs
		`+where, arg).Scan(
		&job.ID,
		&job.OwnerID,
		&status,
		&job.CurrentTopic,
		&job.ArticlesFound,
		&job.ArticlesParsed,
		&job.ArticlesAnalyzed,
		&job.ErrorMessage,
		&job.ResultRef,
		&startedAt,
		&updatedAt,
		&completedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}

	job.Status = domain.JobStatus(status)
	job.StartedAt = startedAt
	job.UpdatedAt = updatedAt
	job.CompletedAt = completedAt
	return &job, nil
}

func (r *PostgresJobsRepository) DeleteOwnerJobs(ctx context.Context, ownerID string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM job_articles
		WHERE job_id IN (SELECT id FROM jobs WHERE owner_id = $1)
	`, ownerID)
	if err != nil {
		return fmt.Errorf("delete job articles: %w", err)
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM jobs WHERE owner_id = $1`, ownerID); err != nil {
		return fmt.Errorf("delete jobs: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) ReplaceJobArticles(ctx context.Context, jobID string, articles []domain.ParsedArticle) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM job_articles WHERE job_id = $1`, jobID)
	for position, article := range articles {
		payload, err := json.Marshal(article)
		if err != nil {
			return fmt.Errorf("marshal article %s: %w", article.ID, err)
		}
		batch.Queue(`
			INSERT INTO job_articles (job_id, article_id, position, payload)
			VALUES ($1, $2, $3, $4)
		`, jobID, article.ID, position, payload)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("replace job articles: %w", err)
		}
	}
	return nil
}

func (r *PostgresJobsRepository) ListJobArticles(ctx context.Context, jobID string) ([]domain.ParsedArticle, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT payload
		FROM job_articles
		WHERE job_id = $1
		ORDER BY position ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job articles: %w", err)
	}
	defer rows.Close()

	articles := make([]domain.ParsedArticle, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan job article: %w", err)
		}
		var article domain.ParsedArticle
		if err := json.Unmarshal(payload, &article); err != nil {
			return nil, fmt.Errorf("decode job article: %w", err)
		}
		articles = append(articles, article)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate job articles: %w", rows.Err())
	}
	return articles, nil
}

func (r *PostgresJobsRepository) DeleteJobArticles(ctx context.Context, jobID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM job_articles WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("delete job articles: %w", err)
	}
	return nil
}
