// Package sandboxdocker implements the Sandbox Provider port against the
// Docker Engine API over its Unix domain socket. No third-party Docker SDK
// is available anywhere in the retrieved dependency corpus, so this talks
// the Engine's plain HTTP/JSON API directly with net/http's UnixTransport
// (see DESIGN.md for the corpus check behind that call).
package sandboxdocker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/CodeForge/internal/concurrency"
	"github.com/Strob0t/CodeForge/internal/port/sandbox"
	"github.com/Strob0t/CodeForge/internal/resilience"
)

const apiVersion = "v1.45"

// Client implements sandbox.Provider against a Docker Engine socket.
type Client struct {
	http    *http.Client
	breaker *resilience.Breaker
	pool    *concurrency.Pool
	base    string
}

// New dials the Docker Engine over endpoint, which must be a
// "unix:///path/to/docker.sock" URL. maxConcurrent bounds how many Engine
// calls run at once; callTimeout bounds each individual call.
func New(endpoint string, maxConcurrent int, callTimeout time.Duration, breaker *resilience.Breaker) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse sandbox endpoint: %w", err)
	}
	if u.Scheme != "unix" {
		return nil, fmt.Errorf("unsupported sandbox endpoint scheme %q, want unix", u.Scheme)
	}
	socketPath := u.Path

	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			d := net.Dialer{}
			return d.DialContext(ctx, "unix", socketPath)
		},
	}

	return &Client{
		http:    &http.Client{Transport: transport, Timeout: callTimeout},
		breaker: breaker,
		pool:    concurrency.NewPool(maxConcurrent),
		base:    "http://docker/" + apiVersion,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = strings.NewReader(string(b))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var resp *http.Response
	err = c.pool.Run(ctx, func() error {
		return c.breaker.Execute(func() error {
			var doErr error
			resp, doErr = c.http.Do(req) //nolint:bodyclose // caller closes
			return doErr
		})
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func engineError(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	var body struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	code := strconv.Itoa(resp.StatusCode)
	if body.Message == "" {
		body.Message = resp.Status
	}
	return &sandbox.ProviderError{Code: code, Message: body.Message}
}

func (c *Client) CreateContainer(ctx context.Context, spec sandbox.ContainerSpec) (string, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	payload := map[string]any{
		"Image":      spec.Image,
		"Hostname":   spec.Hostname,
		"Env":        env,
		"WorkingDir": spec.WorkingDir,
		"Labels":     spec.Labels,
		"HostConfig": map[string]any{
			"Binds": spec.Binds,
			"RestartPolicy": map[string]any{
				"Name":              "on-failure",
				"MaximumRetryCount": spec.RestartMax,
			},
		},
	}

	resp, err := c.do(ctx, http.MethodPost, "/containers/create", payload)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		return "", engineError(resp)
	}

	var out struct {
		ID string `json:"Id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode create container response: %w", err)
	}
	return out.ID, nil
}

func (c *Client) StartContainer(ctx context.Context, runtimeID string) error {
	resp, err := c.do(ctx, http.MethodPost, "/containers/"+runtimeID+"/start", nil)
	if err != nil {
		return fmt.Errorf("start container %s: %w", runtimeID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotModified {
		return engineError(resp)
	}
	return nil
}

func (c *Client) StopContainer(ctx context.Context, runtimeID string) error {
	resp, err := c.do(ctx, http.MethodPost, "/containers/"+runtimeID+"/stop", nil)
	if err != nil {
		return fmt.Errorf("stop container %s: %w", runtimeID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotModified {
		return engineError(resp)
	}
	return nil
}

func (c *Client) RemoveContainer(ctx context.Context, runtimeID string, force bool) error {
	path := "/containers/" + runtimeID
	if force {
		path += "?force=true"
	}
	resp, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("remove container %s: %w", runtimeID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		return engineError(resp)
	}
	return nil
}

func (c *Client) Inspect(ctx context.Context, runtimeID string) (*sandbox.ContainerState, error) {
	resp, err := c.do(ctx, http.MethodGet, "/containers/"+runtimeID+"/json", nil)
	if err != nil {
		return nil, fmt.Errorf("inspect container %s: %w", runtimeID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		return nil, engineError(resp)
	}

	var out struct {
		State struct {
			Running bool `json:"Running"`
		} `json:"State"`
		NetworkSettings struct {
			Ports map[string][]struct {
				HostPort string `json:"HostPort"`
			} `json:"Ports"`
		} `json:"NetworkSettings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode inspect response: %w", err)
	}

	state := &sandbox.ContainerState{Running: out.State.Running}
	for containerPort := range out.NetworkSettings.Ports {
		p, err := strconv.Atoi(strings.SplitN(containerPort, "/", 2)[0])
		if err == nil {
			state.Ports = append(state.Ports, p)
		}
	}
	return state, nil
}

func (c *Client) ContainerExists(ctx context.Context, runtimeID string) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/containers/"+runtimeID+"/json", nil)
	if err != nil {
		return false, fmt.Errorf("check container exists %s: %w", runtimeID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode/100 != 2 {
		return false, engineError(resp)
	}
	return true, nil
}

func (c *Client) CreateNetwork(ctx context.Context, name string) error {
	resp, err := c.do(ctx, http.MethodPost, "/networks/create", map[string]any{"Name": name, "Driver": "bridge"})
	if err != nil {
		return fmt.Errorf("create network %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		return engineError(resp)
	}
	return nil
}

func (c *Client) RemoveNetwork(ctx context.Context, name string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/networks/"+name, nil)
	if err != nil {
		return fmt.Errorf("remove network %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		return engineError(resp)
	}
	return nil
}

func (c *Client) Connect(ctx context.Context, runtimeID, network string, opts sandbox.ConnectOpts) error {
	payload := map[string]any{
		"Container": runtimeID,
		"EndpointConfig": map[string]any{
			"Aliases": opts.Aliases,
		},
	}
	resp, err := c.do(ctx, http.MethodPost, "/networks/"+network+"/connect", payload)
	if err != nil {
		return fmt.Errorf("connect %s to network %s: %w", runtimeID, network, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		return engineError(resp)
	}
	return nil
}

func (c *Client) Disconnect(ctx context.Context, runtimeID, network string) error {
	resp, err := c.do(ctx, http.MethodPost, "/networks/"+network+"/disconnect", map[string]any{"Container": runtimeID, "Force": true})
	if err != nil {
		return fmt.Errorf("disconnect %s from network %s: %w", runtimeID, network, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		return engineError(resp)
	}
	return nil
}

func (c *Client) IsConnected(ctx context.Context, runtimeID, network string) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/networks/"+network, nil)
	if err != nil {
		return false, fmt.Errorf("inspect network %s: %w", network, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode/100 != 2 {
		return false, engineError(resp)
	}

	var out struct {
		Containers map[string]json.RawMessage `json:"Containers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode network inspect: %w", err)
	}
	_, ok := out.Containers[runtimeID]
	return ok, nil
}

func (c *Client) CreateVolume(ctx context.Context, name string) error {
	resp, err := c.do(ctx, http.MethodPost, "/volumes/create", map[string]any{"Name": name})
	if err != nil {
		return fmt.Errorf("create volume %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		return engineError(resp)
	}
	return nil
}

func (c *Client) RemoveVolume(ctx context.Context, name string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/volumes/"+name, nil)
	if err != nil {
		return fmt.Errorf("remove volume %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		return engineError(resp)
	}
	return nil
}

// StreamContainerEvents opens the Engine's /events endpoint and decodes
// newline-delimited JSON events onto ch until ctx is cancelled or the
// connection breaks.
func (c *Client) StreamContainerEvents(ctx context.Context, filter sandbox.EventFilter, ch chan<- sandbox.Event) error {
	path := "/events?filters=" + url.QueryEscape(fmt.Sprintf(`{"type":["container"]}`))
	if filter.LabelKey != "" {
		path = "/events?filters=" + url.QueryEscape(fmt.Sprintf(`{"type":["container"],"label":["%s"]}`, filter.LabelKey))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build events request: %w", err)
	}

	resp, err := c.http.Do(req) //nolint:bodyclose // closed below
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		return engineError(resp)
	}

	dec := bufio.NewScanner(resp.Body)
	dec.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for dec.Scan() {
		var raw struct {
			Action string `json:"Action"`
			Actor  struct {
				ID         string            `json:"ID"`
				Attributes map[string]string `json:"Attributes"`
			} `json:"Actor"`
		}
		if err := json.Unmarshal(dec.Bytes(), &raw); err != nil {
			continue
		}

		ev := sandbox.Event{Action: raw.Action, RuntimeID: raw.Actor.ID, Attributes: raw.Actor.Attributes}
		select {
		case ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := dec.Err(); err != nil {
		return fmt.Errorf("event stream closed: %w", err)
	}
	return nil
}
