package compute

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrComputeUnavailable = errors.New("compute provider not configured")

// InstanceSpec describes one short-lived instance. The bootstrap script runs
// on first boot and the instance is expected to destroy itself afterwards;
// TTL is the provider-side backstop for instances that never call back.
type InstanceSpec struct {
	Label  string
	Script string
	TTL    time.Duration
}

// Instance is a provisioned compute instance.
type Instance struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// Provider provisions and tears down ephemeral instances.
type Provider interface {
	Provision(ctx context.Context, spec InstanceSpec) (*Instance, error)
	Deprovision(ctx context.Context, instanceID string) error
}

// HTTPProvider talks to a generic instance API: POST to create with
// base64-encoded user data, DELETE to destroy.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type HTTPProviderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func NewHTTPProvider(config HTTPProviderConfig) (*HTTPProvider, error) {
	if strings.TrimSpace(config.BaseURL) == "" || strings.TrimSpace(config.APIKey) == "" {
		return nil, ErrComputeUnavailable
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		client:  &http.Client{Timeout: config.Timeout},
	}, nil
}

func (p *HTTPProvider) Provision(ctx context.Context, spec InstanceSpec) (*Instance, error) {
	payload := map[string]any{
		"label":     spec.Label,
		"user_data": base64.StdEncoding.EncodeToString([]byte(spec.Script)),
	}
	if spec.TTL > 0 {
		payload["ttl_seconds"] = int(spec.TTL.Seconds())
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode instance spec: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/instances", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build provision request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+p.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := p.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("provision instance: %w", err)
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, fmt.Errorf("provision returned status %d: %s", response.StatusCode, truncate(string(raw), 200))
	}

	var instance Instance
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, fmt.Errorf("decode instance: %w", err)
	}
	if instance.ID == "" {
		return nil, errors.New("provision response missing instance id")
	}
	return &instance, nil
}

func (p *HTTPProvider) Deprovision(ctx context.Context, instanceID string) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.baseURL+"/v1/instances/"+instanceID, nil)
	if err != nil {
		return fmt.Errorf("build deprovision request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+p.apiKey)

	response, err := p.client.Do(request)
	if err != nil {
		return fmt.Errorf("deprovision instance: %w", err)
	}
	defer response.Body.Close()
	io.Copy(io.Discard, io.LimitReader(response.Body, 1<<16))

	// A 404 means the instance is already gone, which is the goal.
	if response.StatusCode == http.StatusNotFound {
		return nil
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("deprovision returned status %d", response.StatusCode)
	}
	return nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
