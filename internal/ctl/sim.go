package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SimClient reads robotsimd's HTTP API. The robot itself has no such API;
// these endpoints exist only on the simulator.
type SimClient struct {
	base string
	hc   *http.Client
}

// NewSimClient returns a client for the simulator at baseURL. Each request
// is bounded by timeout.
func NewSimClient(baseURL string, timeout time.Duration) *SimClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SimClient{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Timeout: timeout},
	}
}

// URL returns the simulator base address.
func (c *SimClient) URL() string { return c.base }

// APIError is a reply with a status other than 200.
type APIError struct {
	Path string
	Code int
	Body string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Path, e.Code, e.Body)
	}
	return fmt.Sprintf("%s: HTTP %d", e.Path, e.Code)
}

// SimStatus mirrors the body of GET /api/status.
type SimStatus struct {
	Name          string `json:"name"`
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Robot         struct {
		Clients  int     `json:"clients"`
		Battery  float64 `json:"battery"`
		Auto     bool    `json:"auto"`
		Moving   bool    `json:"moving"`
		Commands int64   `json:"commands"`
		Frames   int64   `json:"frames"`
		Drive    struct {
			Speed float64 `json:"speed"`
			Left  float64 `json:"left"`
			Right float64 `json:"right"`
		} `json:"drive"`
	} `json:"robot"`
}

// BuildInfo identifies a binary.
type BuildInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	BuiltAt   string `json:"built_at,omitempty"`
}

// Alive hits /healthz and reports the round trip.
func (c *SimClient) Alive(ctx context.Context) (time.Duration, error) {
	return c.get(ctx, "/healthz", nil)
}

// Status fetches /api/status.
func (c *SimClient) Status(ctx context.Context) (SimStatus, error) {
	var s SimStatus
	_, err := c.get(ctx, "/api/status", &s)
	return s, err
}

// Version fetches /api/version.
func (c *SimClient) Version(ctx context.Context) (BuildInfo, error) {
	var b BuildInfo
	_, err := c.get(ctx, "/api/version", &b)
	return b, err
}

// get issues a GET for path and, when dst is non-nil, decodes the JSON body
// into it. The returned duration covers the request up to the headers.
func (c *SimClient) get(ctx context.Context, path string, dst any) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, err
	}
	rtt := time.Since(start)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return rtt, &APIError{Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if dst == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return rtt, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return rtt, fmt.Errorf("%s: decode: %w", path, err)
	}
	return rtt, nil
}
