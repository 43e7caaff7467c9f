package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// LockStatus is the daemon's /v1/status response as the agent sees it
type LockStatus struct {
	LockActive      bool       `json:"lock_active"`
	GuardianRunning bool       `json:"guardian_running"`
	Prayer          string     `json:"prayer,omitempty"`
	Rakaat          int        `json:"rakaat,omitempty"`
	PrayerTime      *time.Time `json:"prayer_time,omitempty"`
	BypassSuspected bool       `json:"bypass_suspected,omitempty"`
}

// GuardClient interface for communicating with the salahguard daemon
type GuardClient interface {
	// GetLockStatus retrieves the current lock status
	GetLockStatus(ctx context.Context) (*LockStatus, error)
	// Heartbeat reports the agent's observed display state
	Heartbeat(ctx context.Context, foreground, pinned bool) error
}

// HTTPGuardClient implements GuardClient using HTTP
type HTTPGuardClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPGuardClient creates a new HTTP client for the salahguard API
func NewHTTPGuardClient(baseURL, apiKey string, logger *slog.Logger) *HTTPGuardClient {
	return &HTTPGuardClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.With("component", "guard-client"),
	}
}

// GetLockStatus retrieves the current lock status from the daemon
func (c *HTTPGuardClient) GetLockStatus(ctx context.Context) (*LockStatus, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = "/v1/status"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Salahguard-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("unauthorized: invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var status LockStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	c.logger.Debug("lock status received",
		"lock_active", status.LockActive,
		"prayer", status.Prayer,
	)
	return &status, nil
}

// Heartbeat reports the display state to the daemon's kiosk tracker
func (c *HTTPGuardClient) Heartbeat(ctx context.Context, foreground, pinned bool) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = "/v1/kiosk/heartbeat"

	payload, err := json.Marshal(map[string]bool{
		"foreground": foreground,
		"pinned":     pinned,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Salahguard-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Ensure HTTPGuardClient implements GuardClient
var _ GuardClient = (*HTTPGuardClient)(nil)
