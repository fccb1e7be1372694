package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
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

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	Results        []scenarioResult `json:"results"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

type benchmarkEnv struct {
	server *httptest.Server
	cancel context.CancelFunc
}

func main() {
	startTotal := flag.Int("start-total", 200, "total job start requests, one owner each")
	startConcurrency := flag.Int("start-concurrency", 24, "concurrency for job start requests")
	statusTotal := flag.Int("status-total", 400, "total job status poll requests")
	statusConcurrency := flag.Int("status-concurrency", 32, "concurrency for status polls")
	completionTotal := flag.Int("completion-total", 40, "jobs driven start-to-complete")
	completionConcurrency := flag.Int("completion-concurrency", 8, "concurrency for completion runs")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	env, err := startBenchmarkEnvironment()
	if err != nil {
		log.Fatalf("failed to start local benchmark environment: %v", err)
	}
	defer env.cancel()
	defer env.server.Close()

	client := &http.Client{Timeout: 30 * time.Second}

	startScenario := runScenario("jobs_start", *startTotal, *startConcurrency, func(index int) error {
		_, err := startJob(client, env.server.URL, fmt.Sprintf("start-owner-%d", index))
		return err
	})

	// Seed one long-lived completed job so status polls always hit a row.
	statusJobID, err := startJob(client, env.server.URL, "status-owner")
	if err != nil {
		log.Fatalf("failed to seed status job: %v", err)
	}
	if err := waitForComplete(client, env.server.URL, statusJobID, 30*time.Second); err != nil {
		log.Fatalf("seed job never completed: %v", err)
	}

	statusScenario := runScenario("jobs_status", *statusTotal, *statusConcurrency, func(int) error {
		return getExpecting(client, env.server.URL+"/v1/jobs/"+statusJobID, http.StatusOK)
	})

	completionScenario := runScenario("jobs_start_to_complete", *completionTotal, *completionConcurrency, func(index int) error {
		jobID, err := startJob(client, env.server.URL, fmt.Sprintf("completion-owner-%d", index))
		if err != nil {
			return err
		}
		return waitForComplete(client, env.server.URL, jobID, 30*time.Second)
	})

	results := []scenarioResult{startScenario, statusScenario, completionScenario}

	slo := map[string]bool{}
	slo["start_endpoint_p95_le_500ms"] = startScenario.P95MS <= 500
	slo["status_endpoint_p95_le_200ms"] = statusScenario.P95MS <= 200
	slo["digest_generation_local_p95_le_10000ms"] = completionScenario.P95MS <= 10000

	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    "local-httptest",
		Results:        results,
		SLOEvaluation:  slo,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal benchmark report: %v", err)
	}

	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatalf("failed to write output file: %v", err)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

// benchSearchProvider points every result at the local article server.
type benchSearchProvider struct {
	articleBaseURL string
}

func (benchSearchProvider) Name() string { return "bench" }

func (p benchSearchProvider) Search(_ context.Context, query search.Query) ([]domain.SearchResult, error) {
	results := make([]domain.SearchResult, 0, 3)
	for i := 0; i < 3; i++ {
		results = append(results, domain.SearchResult{
			URL:            fmt.Sprintf("%s/articles/%d", p.articleBaseURL, i+1),
			Title:          fmt.Sprintf("Benchmark Article %d", i+1),
			Snippet:        "Synthetic article for load runs.",
			RelevanceScore: 1.0 - float64(i)*0.1,
			Rank:           i + 1,
		})
	}
	return results, nil
}

// benchSynthesizer returns instantly so the benchmark measures the service,
// not a model.
type benchSynthesizer struct{}

func (benchSynthesizer) Name() string  { return "bench" }
func (benchSynthesizer) Model() string { return "bench-model" }

func (benchSynthesizer) Complete(context.Context, llm.CompletionRequest) (llm.Completion, error) {
	return llm.Completion{
		Content:      "A short synthetic section summary for benchmarking.",
		Model:        "bench-model",
		Provider:     "bench",
		InputTokens:  500,
		OutputTokens: 100,
		CostUSD:      0.0005,
		FinishReason: "stop",
	}, nil
}

func (benchSynthesizer) CalculateCost(int, int) float64 { return 0.0005 }
func (benchSynthesizer) Stats() llm.CostStats           { return llm.CostStats{} }
func (benchSynthesizer) ResetStats()                    {}

func startBenchmarkEnvironment() (*benchmarkEnv, error) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(io.Discard, "", 0)

	paragraph := "<p>" + strings.Repeat("Benchmark articles carry enough body text to pass extraction checks. ", 12) + "</p>"
	articleHTML := "<!DOCTYPE html><html><head><title>Benchmark Article</title></head><body><article>" +
		strings.Repeat(paragraph, 3) + "</article></body></html>"
	articleServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, articleHTML)
	}))

	orchestrator := search.NewOrchestrator(benchSearchProvider{articleBaseURL: articleServer.URL}, search.OrchestratorConfig{
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
		Synthesizer: benchSynthesizer{},
		Logger:      logger,
	})
	if err != nil {
		cancel()
		articleServer.Close()
		return nil, err
	}

	jobsRepo := repository.NewMemoryJobsRepository()
	artifacts := repository.NewMemoryArtifactsRepository()
	controller := jobs.NewController(jobsRepo, artifacts, logger)
	localQueue := queue.NewLocalQueue(4096, 3, logger)

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
	return &benchmarkEnv{
		server: server,
		cancel: func() {
			cancel()
			articleServer.Close()
		},
	}, nil
}

func startJob(client *http.Client, baseURL, ownerID string) (string, error) {
	payload := map[string]any{
		"owner_id": ownerID,
		"preferences": map[string]any{
			"topics": []map[string]any{
				{"name": "AI Research", "keywords": []string{"AI"}, "enabled": true, "max_articles": 2},
			},
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	request, err := http.NewRequest(http.MethodPost, baseURL+"/v1/jobs/start", bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return "", fmt.Errorf("unexpected status %d from start: %s", response.StatusCode, string(body))
	}

	var decoded struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode start response: %w", err)
	}
	if decoded.JobID == "" {
		return "", fmt.Errorf("start response missing job_id")
	}
	return decoded.JobID, nil
}

func waitForComplete(client *http.Client, baseURL, jobID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		response, err := client.Get(baseURL + "/v1/jobs/" + jobID)
		if err != nil {
			return err
		}
		var decoded struct {
			Status       string `json:"status"`
			ErrorMessage string `json:"error_message"`
		}
		decodeErr := json.NewDecoder(response.Body).Decode(&decoded)
		response.Body.Close()
		if decodeErr != nil {
			return decodeErr
		}

		switch decoded.Status {
		case "complete":
			return nil
		case "failed":
			return fmt.Errorf("job %s failed: %s", jobID, decoded.ErrorMessage)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for job %s", jobID)
}

func getExpecting(client *http.Client, url string, expectedStatus int) error {
	response, err := client.Get(url)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	work := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		work <- i
	}
	close(work)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range work {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{
					durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0,
				}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
