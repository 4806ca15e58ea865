package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kswhitlock9493-jpg/brh/pkg/auth"
	"github.com/kswhitlock9493-jpg/brh/pkg/federation"
)

// Client is the node-side HTTP client for the resolver. Every call uses a
// per-request timeout well below the shortest tick period so overlapping
// in-flight requests cannot pile up; callers treat any error as a tick
// failure and simply wait for the next tick.
type Client struct {
	baseURL       string
	authenticator *auth.Authenticator
	httpClient    *http.Client
}

// NewClient creates a resolver client. timeout bounds each request.
func NewClient(baseURL string, authenticator *auth.Authenticator, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		authenticator: authenticator,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

// Heartbeat posts one liveness assertion.
func (c *Client) Heartbeat(ctx context.Context, hb federation.HeartbeatRequest) error {
	var resp federation.HeartbeatResponse
	if err := c.post(ctx, "/federation/heartbeat", hb, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("heartbeat not acknowledged")
	}
	return nil
}

// SubmitReport posts one election report and returns the authoritative
// leader after arbitration.
func (c *Client) SubmitReport(ctx context.Context, report federation.ElectionReport) (federation.ConsensusResponse, error) {
	var resp federation.ConsensusResponse
	if err := c.post(ctx, "/federation/consensus", report, &resp); err != nil {
		return federation.ConsensusResponse{}, err
	}
	return resp, nil
}

// Leader fetches the authoritative leader state.
func (c *Client) Leader(ctx context.Context) (federation.LeaderResponse, error) {
	var resp federation.LeaderResponse
	if err := c.get(ctx, "/federation/leader", &resp); err != nil {
		return federation.LeaderResponse{}, err
	}
	return resp, nil
}

// Peers fetches the active peer set.
func (c *Client) Peers(ctx context.Context) ([]federation.LivenessRecord, error) {
	var peers []federation.LivenessRecord
	if err := c.get(ctx, "/federation/peers", &peers); err != nil {
		return nil, err
	}
	return peers, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if err := c.authenticator.SignRequest(req); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("resolver rejected credentials (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
