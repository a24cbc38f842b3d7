package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ericfisherdev/hairscope-lab/internal/services"
)

// APIClient talks to a running lab server.
type APIClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an API error response
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func (c *APIClient) doRequest(ctx context.Context, method, endpoint string) (*http.Response, error) {
	baseURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	fullURL, err := url.JoinPath(baseURL.String(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to join URL path: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// HealthReport is the part of a health response labctl prints.
type HealthReport struct {
	Status      services.HealthStatus  `json:"status" yaml:"status"`
	Version     string                 `json:"version" yaml:"version"`
	Environment string                 `json:"environment" yaml:"environment"`
	Uptime      string                 `json:"uptime" yaml:"uptime"`
	Checks      []services.HealthCheck `json:"checks" yaml:"checks"`
}

// Health fetches a health report. endpoint is one of /health,
// /health/ready or /health/detailed. An unhealthy server answers 503 with
// a report, which is returned without error.
func (c *APIClient) Health(ctx context.Context, endpoint string) (HealthReport, error) {
	var report HealthReport

	resp, err := c.doRequest(ctx, http.MethodGet, endpoint)
	if err != nil {
		return report, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return report, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return report, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	if err := json.Unmarshal(body, &report); err != nil {
		return report, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return report, nil
}

func errorMessage(body []byte) string {
	var errorResp map[string]interface{}
	if json.Unmarshal(body, &errorResp) == nil {
		if msg, ok := errorResp["error"].(string); ok {
			return msg
		}
		if nested, ok := errorResp["error"].(map[string]interface{}); ok {
			if msg, ok := nested["message"].(string); ok {
				return msg
			}
		}
		if msg, ok := errorResp["message"].(string); ok {
			return msg
		}
	}
	return string(body)
}
