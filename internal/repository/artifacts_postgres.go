package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dailyclearing/digest-back/internal/domain"
)

type PostgresArtifactsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresArtifactsRepository(pool *pgxpool.Pool) *PostgresArtifactsRepository {
	return &PostgresArtifactsRepository{pool: pool}
}

func (r *PostgresArtifactsRepository) SaveArtifact(ctx context.Context, artifact *domain.DigestArtifact) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO digest_artifacts (owner_id, digest_id, digest, markdown, html, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner_id, digest_id) DO UPDATE
		SET digest = EXCLUDED.digest,
			markdown = EXCLUDED.markdown,
			html = EXCLUDED.html,
			created_at = EXCLUDED.created_at
	`,
		artifact.OwnerID,
		artifact.DigestID,
		artifact.Digest,
		artifact.Markdown,
		artifact.HTML,
		artifact.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	return nil
}

func (r *PostgresArtifactsRepository) GetArtifact(ctx context.Context, ownerID, digestID string) (*domain.DigestArtifact, error) {
	var (
		artifact  domain.DigestArtifact
		createdAt time.Time
	)

	err := r.pool.QueryRow(ctx, `
		SELECT owner_id, digest_id, digest, markdown, html, created_at
		FROM digest_artifacts
		WHERE owner_id = $1 AND digest_id = $2
	`, ownerID, digestID).Scan(
		&artifact.OwnerID,
		&artifact.DigestID,
		&artifact.Digest,
		&artifact.Markdown,
		&artifact.HTML,
		&createdAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query artifact: %w", err)
	}

	artifact.CreatedAt = createdAt
	return &artifact, nil
}

func (r *PostgresArtifactsRepository) DeleteOwnerArtifacts(ctx context.Context, ownerID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM digest_artifacts WHERE owner_id = $1`, ownerID); err != nil {
		return fmt.Errorf("delete artifacts: %w", err)
	}
	return nil
}
