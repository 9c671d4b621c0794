package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/banshee-data/wheelcast/internal/httputil"
	"github.com/banshee-data/wheelcast/internal/input"
)

// RemoteStatus is the client-side view of StatusResponse. Enumerations
// arrive as their names.
type RemoteStatus struct {
	Handle string `json:"handle"`
	Status struct {
		RunID          string           `json:"run_id"`
		State          string           `json:"state"`
		Connection     string           `json:"connection"`
		Target         string           `json:"target"`
		LastSample     input.AxisSample `json:"last_sample"`
		LastPacket     string           `json:"last_packet"`
		Sent           uint64           `json:"sent"`
		SendFailures   uint64           `json:"send_failures"`
		LastSendError  string           `json:"last_send_error"`
		InputFailures  uint64           `json:"input_failures"`
		LastInputError string           `json:"last_input_error"`
		StartedAt      time.Time        `json:"started_at"`
		StoppedAt      time.Time        `json:"stopped_at"`
		StopReason     string           `json:"stop_reason"`
		FailsafeSent   bool             `json:"failsafe_sent"`
		FailsafeError  string           `json:"failsafe_error"`
	} `json:"status"`
}

// Client drives a wheelcast serve process over HTTP.
type Client struct {
	base string
	http httputil.HTTPClient
}

// NewClient returns a client for the server at base, e.g.
// "http://127.0.0.1:8088". A bare host:port gets an http:// prefix.
func NewClient(base string, c httputil.HTTPClient) *Client {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{base: strings.TrimRight(base, "/"), http: c}
}

func (c *Client) call(ctx context.Context, method, path string, body any) (RemoteStatus, error) {
	var rs RemoteStatus
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return rs, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return rs, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return rs, fmt.Errorf("%s %s: %w", method, path, err)
	}
	err = httputil.DecodeJSON(resp, &rs)
	return rs, err
}

// Status fetches the current run status.
func (c *Client) Status(ctx context.Context) (RemoteStatus, error) {
	return c.call(ctx, http.MethodGet, "/api/status", nil)
}

// Start asks the server to start a run with req's overrides.
func (c *Client) Start(ctx context.Context, req StartRequest) (RemoteStatus, error) {
	return c.call(ctx, http.MethodPost, "/api/start", req)
}

// Stop asks the server to stop the current run. With wait the call returns
// once the failsafe packet has gone out.
func (c *Client) Stop(ctx context.Context, wait bool) (RemoteStatus, error) {
	path := "/api/stop"
	if wait {
		path += "?wait=true"
	}
	return c.call(ctx, http.MethodPost, path, nil)
}
