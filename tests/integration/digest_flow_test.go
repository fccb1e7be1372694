package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dailyclearing/digest-back/internal/domain"
	"github.com/dailyclearing/digest-back/internal/extract"
	httpserver "github.com/dailyclearing/digest-back/internal/http"
	"github.com/dailyclearing/digest-back/internal/http/handlers"
	"github.com/dailyclearing/digest-back/internal/jobs"
	"github.com/dailyclearing/digest-back/internal/llm"
	"github.com/dailyclearing/digest-back/internal/pipeline"
	"github.com/dailyclearing/digest-back/internal/queue"
	"github.com/dailyclearing/digest-back/internal/repository"
	"github.com/dailyclearing/digest-back/internal/runner"
	"github.com/dailyclearing/digest-back/internal/search"
	"github.com/dailyclearing/digest-back/internal/service"
	"github.com/dailyclearing/digest-back/internal/worker"
)

// stubSearchProvider returns results pointing at the local article server so
// no test ever leaves the process.
type stubSearchProvider struct {
	articleBaseURL string
}

func (stubSearchProvider) Name() string { return "stub" }

func (p stubSearchProvider) Search(_ context.Context, query search.Query) ([]domain.SearchResult, error) {
	results := make([]domain.SearchResult, 0, 3)
	for i := 0; i < 3; i++ {
		results = append(results, domain.SearchResult{
			URL:            fmt.Sprintf("%s/articles/%d", p.articleBaseURL, i+1),
			Title:          fmt.Sprintf("Integration Article %d", i+1),
			Snippet:        "An article used by the end-to-end flow.",
			RelevanceScore: 1.0 - float64(i)*0.1,
			Rank:           i + 1,
		})
	}
	return results, nil
}

// stubSynthesizer satisfies llm.Provider with canned summaries. gate, when
// non-nil, blocks every completion until released so tests can hold a job
// in flight.
type stubSynthesizer struct {
	gate chan struct{}
}

func (s *stubSynthesizer) Name() string  { return "stub" }
func (s *stubSynthesizer) Model() string { return "stub-model" }

func (s *stubSynthesizer) Complete(ctx context.Context, _ llm.CompletionRequest) (llm.Completion, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return llm.Completion{}, ctx.Err()
		}
	}
	return llm.Completion{
		Content:      "The articles describe one coherent development worth following.",
		Model:        "stub-model",
		Provider:     "stub",
		InputTokens:  800,
		OutputTokens: 200,
		CostUSD:      0.001,
		FinishReason: "stop",
	}, nil
}

func (s *stubSynthesizer) CalculateCost(int, int) float64 { return 0.001 }
func (s *stubSynthesizer) Stats() llm.CostStats           { return llm.CostStats{} }
func (s *stubSynthesizer) ResetStats()                    {}

const articleBody = `<!DOCTYPE html>
<html><head><title>Integration Article</title></head>
<body><article>%s</article></body></html>`

func articleHTML() string {
	paragraph := "<p>" + strings.Repeat("Search systems keep finding new material to rank and filter every day. ", 12) + "</p>"
	return fmt.Sprintf(articleBody, strings.Repeat(paragraph, 3))
}

type digestRuntime struct {
	server *httptest.Server
	cancel context.CancelFunc
}

func startDigestRuntime(t *testing.T, synthesizer llm.Provider) digestRuntime {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(io.Discard, "", 0)

	articleServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, articleHTML())
	}))

	orchestrator := search.NewOrchestrator(stubSearchProvider{articleBaseURL: articleServer.URL}, search.OrchestratorConfig{
		InterBatchDelay: time.Millisecond,
		MaxAttempts:     1,
		Logger:          logger,
	})
	extractor := extract.New(extract.Config{
		Timeout:    5 * time.Second,
		Logger:     logger,
		HTTPClient: articleServer.Client(),
	})
	digestPipeline, err := pipeline.New(pipeline.Config{
		Search:      orchestrator,
		Extractor:   extractor,
		Synthesizer: synthesizer,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("build pipeline: %v", err)
	}

	jobsRepo := repository.NewMemoryJobsRepository()
	artifacts := repository.NewMemoryArtifactsRepository()
	controller := jobs.NewController(jobsRepo, artifacts, logger)
	localQueue := queue.NewLocalQueue(256, 3, logger)

	localRunner := runner.NewLocalRunner(digestPipeline, controller, artifacts, nil, logger)
	processor := worker.NewProcessor(localQueue, localRunner, logger)
	go processor.Start(ctx)

	digests := service.NewDigestService(controller, artifacts, localQueue, nil, nil)
	callbacks := runner.NewCallbackProcessor(controller, artifacts, nil, nil, logger)
	api := handlers.NewAPI(digests, callbacks, "")
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      "",
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	server := httptest.NewServer(router)
	return digestRuntime{
		server: server,
		cancel: func() {
			cancel()
			server.Close()
			articleServer.Close()
		},
	}
}

func postJSON(
	t *testing.T,
	client *http.Client,
	url string,
	payload any,
) (int, map[string]any) {
	t.Helper()

	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		t.Fatalf("execute request: %v", err)
	}
	defer response.Body.Close()

	return response.StatusCode, decodeBody(t, response)
}

func getJSON(t *testing.T, client *http.Client, url string) (int, map[string]any) {
	t.Helper()
	response, err := client.Get(url)
	if err != nil {
		t.Fatalf("execute get request: %v", err)
	}
	defer response.Body.Close()
	return response.StatusCode, decodeBody(t, response)
}

func decodeBody(t *testing.T, response *http.Response) map[string]any {
	t.Helper()
	raw, _ := io.ReadAll(response.Body)
	if len(raw) == 0 {
		return map[string]any{}
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode response body (%d): %s", response.StatusCode, string(raw))
	}
	return decoded
}

func startPayload(ownerID string) map[string]any {
	return map[string]any{
		"owner_id": ownerID,
		"preferences": map[string]any{
			"topics": []map[string]any{
				{"name": "AI Research", "keywords": []string{"AI", "machine learning"}, "enabled": true, "max_articles": 2},
			},
		},
	}
}

func waitForJobComplete(
	t *testing.T,
	client *http.Client,
	baseURL string,
	jobID string,
	timeout time.Duration,
) map[string]any {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status, body := getJSON(t, client, fmt.Sprintf("%s/v1/jobs/%s", baseURL, jobID))
		if status != http.StatusOK {
			time.Sleep(20 * time.Millisecond)
			continue
		}

		jobStatus, _ := body["status"].(string)
		if jobStatus == "complete" {
			return body
		}
		if jobStatus == "failed" {
			t.Fatalf("job %s failed: %+v", jobID, body)
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatalf("timeout waiting for job %s to reach complete", jobID)
	return nil
}

func TestDigestGenerationFlow(t *testing.T) {
	runtime := startDigestRuntime(t, &stubSynthesizer{})
	defer runtime.cancel()

	client := runtime.server.Client()
	baseURL := runtime.server.URL

	status, body := postJSON(t, client, baseURL+"/v1/jobs/start", startPayload("owner-e2e"))
	if status != http.StatusAccepted {
		t.Fatalf("expected 202 from start, got %d body=%+v", status, body)
	}
	jobID, _ := body["job_id"].(string)
	if strings.TrimSpace(jobID) == "" {
		t.Fatalf("expected job id, got %+v", body)
	}

	final := waitForJobComplete(t, client, baseURL, jobID, 10*time.Second)
	if percent, _ := final["progress_percent"].(float64); percent != 100 {
		t.Fatalf("expected 100%% progress on complete, got %+v", final["progress_percent"])
	}
	if found, _ := final["articles_found"].(float64); found == 0 {
		t.Fatalf("expected articles_found > 0, got %+v", final)
	}
	resultRef, _ := final["result_ref"].(string)
	if !strings.HasPrefix(resultRef, "owner-e2e/") {
		t.Fatalf("expected owner-scoped result_ref, got %q", resultRef)
	}

	resultStatus, resultBody := getJSON(t, client, fmt.Sprintf("%s/v1/jobs/%s/result", baseURL, jobID))
	if resultStatus != http.StatusOK {
		t.Fatalf("expected 200 from result, got %d body=%+v", resultStatus, resultBody)
	}
	markdown, _ := resultBody["markdown"].(string)
	if !strings.Contains(markdown, "# The Daily Clearing") {
		t.Fatalf("expected rendered digest markdown, got %q", markdown)
	}
	if !strings.Contains(markdown, "AI Research") {
		t.Fatalf("expected topic section in markdown, got %q", markdown)
	}

	request, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/v1/jobs/%s", baseURL, jobID), nil)
	deleteResponse, err := client.Do(request)
	if err != nil {
		t.Fatalf("delete job: %v", err)
	}
	deleteResponse.Body.Close()
	if deleteResponse.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 from delete, got %d", deleteResponse.StatusCode)
	}

	goneStatus, _ := getJSON(t, client, fmt.Sprintf("%s/v1/jobs/%s", baseURL, jobID))
	if goneStatus != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", goneStatus)
	}
}

func TestStartRejectsSecondRunForSameOwner(t *testing.T) {
	gate := make(chan struct{})
	runtime := startDigestRuntime(t, &stubSynthesizer{gate: gate})
	defer runtime.cancel()

	client := runtime.server.Client()
	baseURL := runtime.server.URL

	status, body := postJSON(t, client, baseURL+"/v1/jobs/start", startPayload("owner-conflict"))
	if status != http.StatusAccepted {
		t.Fatalf("expected 202 from first start, got %d body=%+v", status, body)
	}
	jobID, _ := body["job_id"].(string)

	conflictStatus, conflictBody := postJSON(t, client, baseURL+"/v1/jobs/start", startPayload("owner-conflict"))
	if conflictStatus != http.StatusConflict {
		t.Fatalf("expected 409 while first run is live, got %d body=%+v", conflictStatus, conflictBody)
	}

	otherStatus, _ := postJSON(t, client, baseURL+"/v1/jobs/start", startPayload("owner-other"))
	if otherStatus != http.StatusAccepted {
		t.Fatalf("expected other owner unaffected by conflict, got %d", otherStatus)
	}

	close(gate)
	waitForJobComplete(t, client, baseURL, jobID, 10*time.Second)
}
