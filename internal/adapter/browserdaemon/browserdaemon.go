// Package browserdaemon implements the Daemon Controller port against the
// external browser-daemon's HTTP API.
package browserdaemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Strob0t/CodeForge/internal/port/daemoncontroller"
	"github.com/Strob0t/CodeForge/internal/resilience"
)

// Client implements daemoncontroller.Controller over HTTP.
type Client struct {
	http    *http.Client
	breaker *resilience.Breaker
	baseURL string
}

// New creates a Client targeting baseURL (e.g. "http://localhost:9400").
func New(baseURL string, timeout time.Duration, breaker *resilience.Breaker) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
		baseURL: baseURL,
	}
}

type startRequest struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url,omitempty"`
}

type startResponse struct {
	Port int `json:"port"`
}

func (c *Client) Start(ctx context.Context, sessionID, url string) (int, error) {
	var resp startResponse
	if err := c.postJSON(ctx, "/daemons/"+sessionID+"/start", startRequest{SessionID: sessionID, URL: url}, &resp); err != nil {
		return 0, &daemoncontroller.DaemonStartFailed{SessionID: sessionID, Detail: err.Error()}
	}
	return resp.Port, nil
}

func (c *Client) Stop(ctx context.Context, sessionID string) error {
	err := c.do(ctx, http.MethodPost, "/daemons/"+sessionID+"/stop", nil, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("stop daemon for session %s: %w", sessionID, err)
	}
	return nil
}

func (c *Client) Navigate(ctx context.Context, sessionID, url string) error {
	err := c.postJSON(ctx, "/daemons/"+sessionID+"/navigate", map[string]string{"url": url}, nil)
	if err != nil {
		return &daemoncontroller.NavigationFailed{SessionID: sessionID, URL: url, Detail: err.Error()}
	}
	return nil
}

type statusResponse struct {
	Running bool `json:"running"`
	Ready   bool `json:"ready"`
	Port    int  `json:"port"`
}

func (c *Client) GetStatus(ctx context.Context, sessionID string) (*daemoncontroller.Status, error) {
	var resp statusResponse
	err := c.do(ctx, http.MethodGet, "/daemons/"+sessionID+"/status", nil, &resp)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get daemon status for session %s: %w", sessionID, err)
	}
	return &daemoncontroller.Status{Running: resp.Running, Ready: resp.Ready, Port: resp.Port}, nil
}

func (c *Client) GetCurrentURL(ctx context.Context, sessionID string) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	err := c.do(ctx, http.MethodGet, "/daemons/"+sessionID+"/url", nil, &resp)
	if isNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get current url for session %s: %w", sessionID, err)
	}
	return resp.URL, nil
}

func (c *Client) Launch(ctx context.Context, sessionID string) error {
	if err := c.postJSON(ctx, "/daemons/"+sessionID+"/launch", nil, nil); err != nil {
		return fmt.Errorf("launch daemon for session %s: %w", sessionID, err)
	}
	return nil
}

func (c *Client) IsHealthy(ctx context.Context) bool {
	err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	return err == nil
}

func (c *Client) ExecuteCommand(ctx context.Context, sessionID string, cmd []byte) (*daemoncontroller.CommandResult, error) {
	var resp daemoncontroller.CommandResult
	err := c.do(ctx, http.MethodPost, "/daemons/"+sessionID+"/exec", json.RawMessage(cmd), &resp)
	if err != nil {
		return nil, &daemoncontroller.ConnectionFailed{SessionID: sessionID, Detail: err.Error()}
	}
	return &resp, nil
}

// postJSON is do with method POST; a nil body sends no request body.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// do issues a request against the daemon, validating the reply's shape by
// decoding it into out (when non-nil). A decode failure is returned as a
// plain error that each caller wraps in its own way: Start as
// DaemonStartFailed, Navigate as NavigationFailed, ExecuteCommand as
// ConnectionFailed, and the other calls as ordinary wrapped errors.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var resp *http.Response
	runErr := c.breaker.Execute(func() error {
		var doErr error
		resp, doErr = c.http.Do(req) //nolint:bodyclose // closed below
		return doErr
	})
	if runErr != nil {
		return runErr
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("daemon returned %s: %s", resp.Status, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode daemon response: %w", err)
	}
	return nil
}

type notFoundError struct{}

func (notFoundError) Error() string { return "daemon reported not found" }

var errNotFound = notFoundError{}

func isNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}
