package runner

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/dailyclearing/digest-back/internal/compute"
	"github.com/dailyclearing/digest-back/internal/domain"
	"github.com/dailyclearing/digest-back/internal/jobs"
)

const defaultInstanceTTL = 30 * time.Minute

// EphemeralRunner provisions one short-lived instance per run. The instance
// executes the same pipeline out of process and reports back through the
// status callback; this side only tracks which instance belongs to which job
// so teardown requests can be honored.
type EphemeralRunner struct {
	compute       compute.Provider
	controller    *jobs.Controller
	callbackURL   string
	callbackToken string
	instanceTTL   time.Duration
	logger        *log.Logger

	mu        sync.Mutex
	instances map[string]string // job id -> instance id
}

type EphemeralConfig struct {
	Compute       compute.Provider
	Controller    *jobs.Controller
	CallbackURL   string
	CallbackToken string
	InstanceTTL   time.Duration
	Logger        *log.Logger
}

func NewEphemeralRunner(config EphemeralConfig) *EphemeralRunner {
	if config.InstanceTTL <= 0 {
		config.InstanceTTL = defaultInstanceTTL
	}
	return &EphemeralRunner{
		compute:       config.Compute,
		controller:    config.Controller,
		callbackURL:   config.CallbackURL,
		callbackToken: config.CallbackToken,
		instanceTTL:   config.InstanceTTL,
		logger:        config.Logger,
		instances:     make(map[string]string),
	}
}

func (r *EphemeralRunner) Run(ctx context.Context, message domain.QueueMessage) error {
	script := r.bootstrapScript(message)

	instance, err := r.compute.Provision(ctx, compute.InstanceSpec{
		Label:  "digest-" + message.JobID,
		Script: script,
		TTL:    r.instanceTTL,
	})
	if err != nil {
		// A partially created instance must still be torn down so a failed
		// provision never leaks compute.
		if instance != nil && instance.ID != "" {
			if teardownErr := r.compute.Deprovision(ctx, instance.ID); teardownErr != nil {
				r.logf("teardown after failed provision job=%s instance=%s: %v", message.JobID, instance.ID, teardownErr)
			}
		}
		provisionErr := fmt.Errorf("provision instance: %w", err)
		if failErr := r.controller.Fail(ctx, message.OwnerID, message.JobID, provisionErr.Error()); failErr != nil {
			r.logf("mark job %s failed: %v", message.JobID, failErr)
		}
		return provisionErr
	}

	r.mu.Lock()
	r.instances[message.JobID] = instance.ID
	r.mu.Unlock()

	r.logf("provisioned instance %s for job %s", instance.ID, message.JobID)
	return nil
}

// Teardown destroys the instance tracked for a job, if any. Safe to call
// repeatedly; only the first call reaches the provider.
func (r *EphemeralRunner) Teardown(ctx context.Context, jobID string) error {
	r.mu.Lock()
	instanceID, ok := r.instances[jobID]
	delete(r.instances, jobID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := r.compute.Deprovision(ctx, instanceID); err != nil {
		return fmt.Errorf("deprovision instance %s: %w", instanceID, err)
	}
	r.logf("instance %s for job %s destroyed", instanceID, jobID)
	return nil
}

// CancelJob tears down the job's instance as part of reset/cancellation.
func (r *EphemeralRunner) CancelJob(ctx context.Context, jobID string) {
	if err := r.Teardown(ctx, jobID); err != nil {
		r.logf("cancel teardown job=%s: %v", jobID, err)
	}
}

// bootstrapScript renders the first-boot script. The instance gets exactly
// what it needs to run the pipeline and call back: ids, callback endpoint,
// and the preference payload.
func (r *EphemeralRunner) bootstrapScript(message domain.QueueMessage) string {
	encodedPreferences := base64.StdEncoding.EncodeToString(message.Preferences)

	var script strings.Builder
	script.WriteString("#!/bin/bash\nset -euo pipefail\n\n")
	fmt.Fprintf(&script, "export DIGEST_JOB_ID=%q\n", message.JobID)
	fmt.Fprintf(&script, "export DIGEST_OWNER_ID=%q\n", message.OwnerID)
	fmt.Fprintf(&script, "export DIGEST_CALLBACK_URL=%q\n", r.callbackURL)
	fmt.Fprintf(&script, "export DIGEST_CALLBACK_TOKEN=%q\n", r.callbackToken)
	fmt.Fprintf(&script, "export DIGEST_PREFERENCES_B64=%q\n", encodedPreferences)
	script.WriteString(`
report_destroy() {
  curl -fsS -X POST "$DIGEST_CALLBACK_URL" \
    -H "Authorization: Bearer $DIGEST_CALLBACK_TOKEN" \
    -H "Content-Type: application/json" \
    -d "{\"job_id\":\"$DIGEST_JOB_ID\",\"action\":\"destroy\"}" || true
}
trap report_destroy EXIT

digest-runner \
  --job-id "$DIGEST_JOB_ID" \
  --owner-id "$DIGEST_OWNER_ID" \
  --callback-url "$DIGEST_CALLBACK_URL" \
  --preferences-b64 "$DIGEST_PREFERENCES_B64"
`)
	return script.String()
}

func (r *EphemeralRunner) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
