package runner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dailyclearing/digest-back/internal/compute"
	"github.com/dailyclearing/digest-back/internal/domain"
	"github.com/dailyclearing/digest-back/internal/jobs"
	"github.com/dailyclearing/digest-back/internal/notify"
	"github.com/dailyclearing/digest-back/internal/pipeline"
	"github.com/dailyclearing/digest-back/internal/repository"
)

type fakeGenerator struct {
	result  *pipeline.Result
	err     error
	updates []pipeline.Update
}

func (g *fakeGenerator) Generate(ctx context.Context, _ domain.UserPreferences, _ pipeline.Options, progress pipeline.ProgressFunc) (*pipeline.Result, error) {
	for _, update := range g.updates {
		if progress != nil {
			progress(ctx, update)
		}
	}
	return g.result, g.err
}

type recordingNotifier struct {
	events []notify.CompletionEvent
	urls   []string
}

func (n *recordingNotifier) DigestCompleted(_ context.Context, webhookURL string, event notify.CompletionEvent) error {
	n.urls = append(n.urls, webhookURL)
	n.events = append(n.events, event)
	return nil
}

func sampleDigest() *domain.Digest {
	return &domain.Digest{
		Metadata: domain.DigestMetadata{
			DigestID:              "2026-08-28-abcd1234",
			GeneratedAt:           time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC),
			TopicsCovered:         []string{"AI"},
			TotalArticlesFound:    4,
			TotalArticlesParsed:   3,
			TotalArticlesIncluded: 3,
		},
		Sections: []domain.DigestSection{{Topic: "AI", SectionSummary: "summary", Articles: make([]domain.ParsedArticle, 3)}},
	}
}

func queuedMessage(t *testing.T, jobID, ownerID string) domain.QueueMessage {
	t.Helper()
	preferences, err := json.Marshal(domain.UserPreferences{
		Topics:   []domain.Topic{{Name: "AI", Keywords: []string{"llm"}, Enabled: true}},
		Delivery: domain.DeliverySettings{WebhookURL: "https://hooks.example/digest"},
	})
	require.NoError(t, err)
	return domain.QueueMessage{
		JobID:       jobID,
		OwnerID:     ownerID,
		Preferences: preferences,
		RequestedAt: time.Now().UTC(),
	}
}

func newRunnerFixture(t *testing.T) (*jobs.Controller, *repository.MemoryArtifactsRepository) {
	t.Helper()
	artifacts := repository.NewMemoryArtifactsRepository()
	controller := jobs.NewController(repository.NewMemoryJobsRepository(), artifacts, nil)
	return controller, artifacts
}

func TestLocalRunnerCompletesJobAndStoresArtifact(t *testing.T) {
	ctx := context.Background()
	controller, artifacts := newRunnerFixture(t)
	_, err := controller.Start(ctx, "owner-1", "job-1")
	require.NoError(t, err)

	generator := &fakeGenerator{
		result: &pipeline.Result{Digest: sampleDigest(), Markdown: "# digest"},
		updates: []pipeline.Update{
			{Status: domain.JobStatusSearching, CurrentTopic: "AI", ArticlesFound: 4},
			{Status: domain.JobStatusParsing, ArticlesFound: 4, ArticlesParsed: 3},
			{Status: domain.JobStatusComplete, ArticlesFound: 4, ArticlesParsed: 3},
		},
	}
	notifier := &recordingNotifier{}
	localRunner := NewLocalRunner(generator, controller, artifacts, notifier, nil)

	require.NoError(t, localRunner.Run(ctx, queuedMessage(t, "job-1", "owner-1")))

	view, err := controller.Progress(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusComplete, view.Status)
	assert.Equal(t, "owner-1/2026-08-28-abcd1234", view.ResultRef)
	assert.Equal(t, 4, view.ArticlesFound)

	artifact, err := artifacts.GetArtifact(ctx, "owner-1", "2026-08-28-abcd1234")
	require.NoError(t, err)
	assert.Equal(t, "# digest", artifact.Markdown)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, "https://hooks.example/digest", notifier.urls[0])
	assert.Equal(t, "job-1", notifier.events[0].JobID)
}

func TestLocalRunnerFailsJobOnPipelineError(t *testing.T) {
	ctx := context.Background()
	controller, artifacts := newRunnerFixture(t)
	_, err := controller.Start(ctx, "owner-1", "job-1")
	require.NoError(t, err)

	generator := &fakeGenerator{err: errors.New("search provider exploded")}
	localRunner := NewLocalRunner(generator, controller, artifacts, nil, nil)

	err = localRunner.Run(ctx, queuedMessage(t, "job-1", "owner-1"))
	require.Error(t, err)

	view, err := controller.Progress(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, view.Status)
	assert.Contains(t, view.ErrorMessage, "search provider exploded")
}

func TestLocalRunnerDiscardsResultAfterReset(t *testing.T) {
	ctx := context.Background()
	controller, artifacts := newRunnerFixture(t)
	_, err := controller.Start(ctx, "owner-1", "job-1")
	require.NoError(t, err)
	require.NoError(t, controller.Reset(ctx, "owner-1"))

	generator := &fakeGenerator{result: &pipeline.Result{Digest: sampleDigest(), Markdown: "# digest"}}
	localRunner := NewLocalRunner(generator, controller, artifacts, nil, nil)

	// The run finishes but its terminal write lands on a missing job row.
	require.NoError(t, localRunner.Run(ctx, queuedMessage(t, "job-1", "owner-1")))
}

func TestEphemeralRunnerEmbedsJobContextInBootstrap(t *testing.T) {
	ctx := context.Background()
	controller, _ := newRunnerFixture(t)
	_, err := controller.Start(ctx, "owner-1", "job-1")
	require.NoError(t, err)

	provider := &recordingComputeProvider{}
	ephemeral := NewEphemeralRunner(EphemeralConfig{
		Compute:       provider,
		Controller:    controller,
		CallbackURL:   "https://api.example/jobs/status-callback",
		CallbackToken: "secret-token",
	})

	require.NoError(t, ephemeral.Run(ctx, queuedMessage(t, "job-1", "owner-1")))

	require.Len(t, provider.specs, 1)
	script := provider.specs[0].Script
	assert.Contains(t, script, `DIGEST_JOB_ID="job-1"`)
	assert.Contains(t, script, `DIGEST_OWNER_ID="owner-1"`)
	assert.Contains(t, script, "https://api.example/jobs/status-callback")
	assert.Contains(t, script, "secret-token")
	assert.Contains(t, script, `\"action\":\"destroy\"`)
	assert.Equal(t, "digest-job-1", provider.specs[0].Label)
}

func TestEphemeralRunnerFailsJobWhenProvisioningFails(t *testing.T) {
	ctx := context.Background()
	controller, _ := newRunnerFixture(t)
	_, err := controller.Start(ctx, "owner-1", "job-1")
	require.NoError(t, err)

	provider := compute.NewMemoryProvider()
	provider.FailProvision = true
	ephemeral := NewEphemeralRunner(EphemeralConfig{Compute: provider, Controller: controller})

	err = ephemeral.Run(ctx, queuedMessage(t, "job-1", "owner-1"))
	require.Error(t, err)

	view, err := controller.Progress(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, view.Status)
	assert.Contains(t, view.ErrorMessage, "provision")
}

func TestEphemeralRunnerTearsDownPartiallyProvisionedInstance(t *testing.T) {
	ctx := context.Background()
	controller, _ := newRunnerFixture(t)
	_, err := controller.Start(ctx, "owner-1", "job-1")
	require.NoError(t, err)

	provider := compute.NewMemoryProvider()
	provider.FailProvision = true
	provider.PartialFailure = true
	ephemeral := NewEphemeralRunner(EphemeralConfig{Compute: provider, Controller: controller})

	err = ephemeral.Run(ctx, queuedMessage(t, "job-1", "owner-1"))
	require.Error(t, err)

	assert.Empty(t, provider.Active(), "partially provisioned instance must not be orphaned")
}

func TestCallbackCompletedPersistsArtifactAndFinishesJob(t *testing.T) {
	ctx := context.Background()
	controller, artifacts := newRunnerFixture(t)
	_, err := controller.Start(ctx, "owner-1", "job-1")
	require.NoError(t, err)

	digestJSON, err := json.Marshal(sampleDigest())
	require.NoError(t, err)

	processor := NewCallbackProcessor(controller, artifacts, nil, nil, nil)
	payload := CallbackPayload{JobID: "job-1", Status: CallbackStatusCompleted, Digest: digestJSON, Markdown: "# remote digest"}

	require.NoError(t, processor.Handle(ctx, payload))

	view, err := controller.Progress(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusComplete, view.Status)
	assert.Equal(t, "owner-1/2026-08-28-abcd1234", view.ResultRef)

	artifact, err := artifacts.GetArtifact(ctx, "owner-1", "2026-08-28-abcd1234")
	require.NoError(t, err)
	assert.Equal(t, "# remote digest", artifact.Markdown)

	// A duplicate callback is a no-op, not an error.
	require.NoError(t, processor.Handle(ctx, payload))
	view, err = controller.Progress(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusComplete, view.Status)
}

func TestCallbackFailedRecordsError(t *testing.T) {
	ctx := context.Background()
	controller, artifacts := newRunnerFixture(t)
	_, err := controller.Start(ctx, "owner-1", "job-1")
	require.NoError(t, err)

	processor := NewCallbackProcessor(controller, artifacts, nil, nil, nil)
	require.NoError(t, processor.Handle(ctx, CallbackPayload{
		JobID: "job-1", Status: CallbackStatusFailed, Error: "out of memory on instance",
	}))

	view, err := controller.Progress(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, view.Status)
	assert.Equal(t, "out of memory on instance", view.ErrorMessage)
}

func TestCallbackDestroyAfterCompleteLeavesStatusUntouched(t *testing.T) {
	ctx := context.Background()
	controller, artifacts := newRunnerFixture(t)
	_, err := controller.Start(ctx, "owner-1", "job-1")
	require.NoError(t, err)

	provider := compute.NewMemoryProvider()
	ephemeral := NewEphemeralRunner(EphemeralConfig{Compute: provider, Controller: controller})
	require.NoError(t, ephemeral.Run(ctx, queuedMessage(t, "job-1", "owner-1")))

	digestJSON, err := json.Marshal(sampleDigest())
	require.NoError(t, err)
	processor := NewCallbackProcessor(controller, artifacts, ephemeral, nil, nil)

	require.NoError(t, processor.Handle(ctx, CallbackPayload{JobID: "job-1", Status: CallbackStatusCompleted, Digest: digestJSON}))
	require.NoError(t, processor.Handle(ctx, CallbackPayload{JobID: "job-1", Action: CallbackActionDestroy}))

	view, err := controller.Progress(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusComplete, view.Status, "teardown is infrastructure cleanup, not job completion")
	assert.Empty(t, provider.Active())
	assert.Equal(t, 1, provider.Deprovisioned)

	// Destroy is idempotent: a second request does not reach the provider.
	require.NoError(t, processor.Handle(ctx, CallbackPayload{JobID: "job-1", Action: CallbackActionDestroy}))
	assert.Equal(t, 1, provider.Deprovisioned)
}

func TestCallbackRejectsMalformedPayloads(t *testing.T) {
	controller, artifacts := newRunnerFixture(t)
	processor := NewCallbackProcessor(controller, artifacts, nil, nil, nil)

	err := processor.Handle(context.Background(), CallbackPayload{Status: CallbackStatusCompleted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job_id")

	err = processor.Handle(context.Background(), CallbackPayload{JobID: "job-1", Status: "sideways"})
	require.Error(t, err)
}

// recordingComputeProvider captures provision specs for assertions.
type recordingComputeProvider struct {
	specs []compute.InstanceSpec
}

func (p *recordingComputeProvider) Provision(_ context.Context, spec compute.InstanceSpec) (*compute.Instance, error) {
	p.specs = append(p.specs, spec)
	return &compute.Instance{ID: "inst-1", Label: spec.Label}, nil
}

func (p *recordingComputeProvider) Deprovision(context.Context, string) error { return nil }
