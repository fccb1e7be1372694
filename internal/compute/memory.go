package compute

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryProvider fakes the compute API for local development and tests.
type MemoryProvider struct {
	mu        sync.Mutex
	instances map[string]*Instance

	// FailProvision makes every Provision call fail, for exercising the
	// provisioning-failure path.
	FailProvision bool
	// PartialFailure returns an instance id alongside the provisioning
	// error, simulating a half-created instance that still needs teardown.
	PartialFailure bool

	Provisioned   int
	Deprovisioned int
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{instances: make(map[string]*Instance)}
}

func (p *MemoryProvider) Provision(_ context.Context, spec InstanceSpec) (*Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailProvision {
		if p.PartialFailure {
			instance := &Instance{ID: uuid.NewString(), Label: spec.Label, CreatedAt: time.Now().UTC()}
			p.instances[instance.ID] = instance
			return instance, errors.New("instance stuck in provisioning state")
		}
		return nil, errors.New("provision capacity exhausted")
	}

	instance := &Instance{ID: uuid.NewString(), Label: spec.Label, CreatedAt: time.Now().UTC()}
	p.instances[instance.ID] = instance
	p.Provisioned++
	return instance, nil
}

func (p *MemoryProvider) Deprovision(_ context.Context, instanceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.instances, instanceID)
	p.Deprovisioned++
	return nil
}

// Active returns the ids of instances not yet torn down.
func (p *MemoryProvider) Active() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.instances))
	for id := range p.instances {
		ids = append(ids, id)
	}
	return ids
}
