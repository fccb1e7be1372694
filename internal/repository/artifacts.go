package repository

import (
	"context"
	"sync"

	"github.com/dailyclearing/digest-back/internal/domain"
)

// ArtifactsRepository is the persistence boundary for finished digests.
// Store-by-key, fetch-by-key; rendering and delivery live elsewhere.
type ArtifactsRepository interface {
	SaveArtifact(ctx context.Context, artifact *domain.DigestArtifact) error
	GetArtifact(ctx context.Context, ownerID, digestID string) (*domain.DigestArtifact, error)
	DeleteOwnerArtifacts(ctx context.Context, ownerID string) error
}

// MemoryArtifactsRepository keeps artifacts in memory for local development.
type MemoryArtifactsRepository struct {
	mu        sync.RWMutex
	artifacts map[string]*domain.DigestArtifact
}

func NewMemoryArtifactsRepository() *MemoryArtifactsRepository {
	return &MemoryArtifactsRepository{
		artifacts: make(map[string]*domain.DigestArtifact),
	}
}

func (r *MemoryArtifactsRepository) SaveArtifact(_ context.Context, artifact *domain.DigestArtifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *artifact
	clone.Digest = append([]byte(nil), artifact.Digest...)
	r.artifacts[artifact.Key()] = &clone
	return nil
}

func (r *MemoryArtifactsRepository) GetArtifact(_ context.Context, ownerID, digestID string) (*domain.DigestArtifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := (&domain.DigestArtifact{OwnerID: ownerID, DigestID: digestID}).Key()
	artifact, ok := r.artifacts[key]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *artifact
	clone.Digest = append([]byte(nil), artifact.Digest...)
	return &clone, nil
}

func (r *MemoryArtifactsRepository) DeleteOwnerArtifacts(_ context.Context, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, artifact := range r.artifacts {
		if artifact.OwnerID == ownerID {
			delete(r.artifacts, key)
		}
	}
	return nil
}
