// Package proxyrouter implements the Subdomain Proxy Router: a single
// HTTP(S) listener that parses the Host header as
// "<sessionId>--<port>.<baseDomain>" and forwards to the matching
// container's upstream address, including WebSocket upgrades.
package proxyrouter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/CodeForge/internal/adapter/otel"
)

// RouteInfo is a single reachable container port, and the public URL
// clients use to reach it.
type RouteInfo struct {
	ContainerPort int    `json:"container_port"`
	URL           string `json:"url"`
}

// ContainerRoute describes one container to register for a session.
type ContainerRoute struct {
	ContainerID string
	Hostname    string
	// Ports maps a container port to the host port it is reachable on
	// through the session's network. A nil value means "same as key".
	Ports map[int]*int
}

var hostPattern = regexp.MustCompile(`^([0-9a-fA-F-]{36})--(\d{1,5})\.(.+)$`)

type route struct {
	upstreamHost string
	upstreamPort int
	url          string
}

// Router is the Subdomain Proxy Router. One Router serves one baseDomain.
type Router struct {
	mu         sync.RWMutex
	baseDomain string
	idle       time.Duration
	metrics    *otel.Metrics
	// routes[sessionID][containerPort] = route
	routes map[string]map[int]route
}

// New creates a Router for baseDomain, with idle the configured connection
// idle timeout (default 255s per spec.md §4.3).
func New(baseDomain string, idle time.Duration) *Router {
	return &Router{
		baseDomain: baseDomain,
		idle:       idle,
		routes:     make(map[string]map[int]route),
	}
}

// WithMetrics attaches an OpenTelemetry counter for forwarded requests.
func (r *Router) WithMetrics(m *otel.Metrics) *Router {
	r.metrics = m
	return r
}

// RegisterCluster registers every declared port of every container in
// defs under sessionID, returning the RouteInfo clients should use. It is
// idempotent: re-registering the same sessionID overwrites its prior
// routes rather than erroring.
func (r *Router) RegisterCluster(sessionID string, defs []ContainerRoute) []RouteInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := make(map[int]route)
	var out []RouteInfo
	for _, def := range defs {
		for containerPort, hostPort := range def.Ports {
			hp := containerPort
			if hostPort != nil {
				hp = *hostPort
			}
			rt := route{upstreamHost: def.Hostname, upstreamPort: hp}
			rt.url = fmt.Sprintf("http://%s--%d.%s", sessionID, containerPort, r.baseDomain)
			m[containerPort] = rt
			out = append(out, RouteInfo{ContainerPort: containerPort, URL: rt.url})
		}
	}
	r.routes[sessionID] = m
	return out
}

// UnregisterCluster removes every route for sessionID.
func (r *Router) UnregisterCluster(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, sessionID)
}

// GetUrls returns the currently registered RouteInfo for sessionID.
func (r *Router) GetUrls(sessionID string) []RouteInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := r.routes[sessionID]
	out := make([]RouteInfo, 0, len(m))
	for port, rt := range m {
		out = append(out, RouteInfo{ContainerPort: port, URL: rt.url})
	}
	return out
}

func (r *Router) lookup(sessionID string, port int) (route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.routes[sessionID]
	if !ok {
		return route{}, false
	}
	rt, ok := m[port]
	return rt, ok
}

// ServeHTTP implements http.Handler, dispatching every request by Host
// header to the matching upstream, or a WebSocket bridge when the request
// carries an Upgrade: websocket header.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	sessionID, port, err := parseHost(req.Host, r.baseDomain)
	if err != nil {
		writeCORSHeaders(w)
		http.Error(w, "Invalid subdomain", http.StatusBadRequest)
		return
	}

	if req.Method == http.MethodOptions {
		writeCORSHeaders(w)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	rt, ok := r.lookup(sessionID, port)
	if !ok {
		writeCORSHeaders(w)
		http.Error(w, "Session or port not available", http.StatusNotFound)
		return
	}

	ctx, span := otel.StartProxySpan(req.Context(), sessionID, port)
	defer span.End()
	req = req.WithContext(ctx)
	if r.metrics != nil {
		r.metrics.ProxyRequests.Add(ctx, 1)
	}

	if isWebSocketUpgrade(req) {
		r.bridgeWebSocket(w, req, rt)
		return
	}

	r.forwardHTTP(w, req, rt)
}

func parseHost(host, baseDomain string) (sessionID string, port int, err error) {
	host = strings.SplitN(host, ":", 2)[0] // strip an explicit port
	m := hostPattern.FindStringSubmatch(host)
	if m == nil {
		return "", 0, errors.New("host does not match <sessionId>--<port>.<baseDomain>")
	}
	if m[3] != baseDomain {
		return "", 0, errors.New("host base domain mismatch")
	}
	port, err = strconv.Atoi(m[2])
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in host: %w", err)
	}
	return m[1], port, nil
}

func isWebSocketUpgrade(req *http.Request) bool {
	return strings.EqualFold(req.Header.Get("Upgrade"), "websocket")
}

func writeCORSHeaders(w http.ResponseWriter) {
	setCORSHeaders(w.Header())
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Lab-Session-Id")
}

var backoffSchedule = []time.Duration{50 * time.Millisecond, 200 * time.Millisecond}

func (r *Router) forwardHTTP(w http.ResponseWriter, req *http.Request, rt route) {
	target := fmt.Sprintf("http://%s:%d", rt.upstreamHost, rt.upstreamPort)

	proxy := &httputil.ReverseProxy{
		Director: func(out *http.Request) {
			out.URL.Scheme = "http"
			out.URL.Host = fmt.Sprintf("%s:%d", rt.upstreamHost, rt.upstreamPort)
			out.Host = out.URL.Host
			out.Header.Set("X-Forwarded-For", clientIP(req))
			out.Header.Set("X-Forwarded-Proto", "http")
		},
		ModifyResponse: func(resp *http.Response) error {
			setCORSHeaders(resp.Header)
			return nil
		},
		ErrorHandler: func(rw http.ResponseWriter, _ *http.Request, err error) {
			writeCORSHeaders(rw)
			http.Error(rw, "upstream unreachable: "+target, http.StatusBadGateway)
		},
	}

	for attempt := 0; attempt <= len(backoffSchedule); attempt++ {
		if attempt > 0 {
			time.Sleep(backoffSchedule[attempt-1])
		}
		if err := probeUpstream(req.Context(), rt, r.idle); err != nil {
			if attempt == len(backoffSchedule) {
				writeCORSHeaders(w)
				http.Error(w, "upstream unreachable: "+target, http.StatusBadGateway)
				return
			}
			continue
		}
		break
	}

	writeCORSHeaders(w)
	proxy.ServeHTTP(w, req)
}

func probeUpstream(ctx context.Context, rt route, timeout time.Duration) error {
	d := net.Dialer{Timeout: 2 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", rt.upstreamHost, rt.upstreamPort))
	if err != nil {
		return err
	}
	return conn.Close()
}

func clientIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

// bridgeWebSocket upgrades the client connection immediately, then
// asynchronously dials the upstream and flushes any client frames buffered
// while that dial was in flight.
func (r *Router) bridgeWebSocket(w http.ResponseWriter, req *http.Request, rt route) {
	client, err := websocket.Accept(w, req, nil)
	if err != nil {
		return
	}
	defer func() { _ = client.Close(websocket.StatusInternalError, "proxy closing") }()

	ctx, cancel := context.WithTimeout(context.Background(), r.idle)
	defer cancel()

	upstreamURL := fmt.Sprintf("ws://%s:%d%s", rt.upstreamHost, rt.upstreamPort, req.URL.RequestURI())

	type frame struct {
		data []byte
		typ  websocket.MessageType
	}
	buffered := make([]frame, 0, 16)
	var bufMu sync.Mutex
	upstreamReady := make(chan *websocket.Conn, 1)

	go func() {
		upstream, _, err := websocket.Dial(ctx, upstreamURL, nil)
		if err != nil {
			slog.Error("proxy websocket dial failed", "url", upstreamURL, "error", err)
			upstreamReady <- nil
			return
		}
		upstreamReady <- upstream
	}()

	readClientUntilUpstream := func() *websocket.Conn {
		for {
			select {
			case upstream := <-upstreamReady:
				return upstream
			default:
			}

			typ, data, err := client.Read(ctx)
			if err != nil {
				return nil
			}
			bufMu.Lock()
			buffered = append(buffered, frame{data: data, typ: typ})
			bufMu.Unlock()
		}
	}

	upstream := readClientUntilUpstream()
	if upstream == nil {
		select {
		case upstream = <-upstreamReady:
		case <-ctx.Done():
			return
		}
		if upstream == nil {
			return
		}
	}
	defer func() { _ = upstream.Close(websocket.StatusNormalClosure, "") }()

	bufMu.Lock()
	toFlush := buffered
	buffered = nil
	bufMu.Unlock()
	for _, f := range toFlush {
		if err := upstream.Write(ctx, f.typ, f.data); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			typ, data, err := client.Read(ctx)
			if err != nil {
				return
			}
			if err := upstream.Write(ctx, typ, data); err != nil {
				return
			}
		}
	}()

	for {
		typ, data, err := upstream.Read(ctx)
		if err != nil {
			break
		}
		if err := client.Write(ctx, typ, data); err != nil {
			break
		}
	}
	<-done
}
