// Package bus implements the Multiplayer Channel Bus: a typed pub/sub
// protocol carried over a single WebSocket endpoint. Channels are
// registered by path pattern; each carries a snapshot loader and,
// optionally, an authorization hook, a client-event handler, and a
// reference-count observer for viewer-driven lifecycle (browser state).
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/coder/websocket"

	busport "github.com/Strob0t/CodeForge/internal/port/bus"
)

// maxPendingPerSocket is the send-buffer ceiling per spec.md §5: a slow
// subscriber's pending deltas are dropped past this, with a warning,
// rather than blocking every publisher.
const maxPendingPerSocket = 1024

// SnapshotLoader produces the current snapshot for a resolved channel path.
type SnapshotLoader func(ctx context.Context, path string, params map[string]string) (any, error)

// AuthorizeFunc denies a subscribe attempt by returning a non-nil error.
type AuthorizeFunc func(ctx context.Context, path string, params map[string]string) error

// OnEventFunc handles a client→server "event" message for a channel the
// socket is already subscribed to.
type OnEventFunc func(ctx context.Context, path string, params map[string]string, data json.RawMessage) error

// channelDef is a registered channel pattern.
type channelDef struct {
	name      string
	pattern   *regexp.Regexp
	paramKeys []string
	loader    SnapshotLoader
	authorize AuthorizeFunc
	onEvent   OnEventFunc
	refCount  busport.RefCountObserver
}

// clientMessage is the closed set of client→server message shapes.
type clientMessage struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// serverMessage is the closed set of server→client message shapes.
type serverMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type socket struct {
	conn *websocket.Conn
	send chan serverMessage

	mu   sync.Mutex
	subs map[string]struct{} // resolved channel paths
}

// Bus is the Multiplayer Channel Bus. One Bus instance serves every socket
// for the process.
type Bus struct {
	channels []*channelDef

	mu          sync.RWMutex
	subscribers map[string]map[*socket]struct{} // resolved path -> sockets
}

// New creates an empty Bus. Call RegisterChannel for every entry in the
// closed channel set before serving traffic.
func New() *Bus {
	return &Bus{subscribers: make(map[string]map[*socket]struct{})}
}

// RegisterChannel registers a channel pattern, e.g. "sessionMessages/{id}".
// refCount may be nil for channels with no viewer-driven lifecycle.
func (b *Bus) RegisterChannel(name string, loader SnapshotLoader, authorize AuthorizeFunc, onEvent OnEventFunc, refCount busport.RefCountObserver) {
	pattern, keys := compilePattern(name)
	b.channels = append(b.channels, &channelDef{
		name: name, pattern: pattern, paramKeys: keys,
		loader: loader, authorize: authorize, onEvent: onEvent, refCount: refCount,
	})
}

func compilePattern(name string) (*regexp.Regexp, []string) {
	re := regexp.MustCompile(`\{[^/]+\}`)
	var keys []string
	expr := re.ReplaceAllStringFunc(name, func(m string) string {
		keys = append(keys, m[1:len(m)-1])
		return `([^/]+)`
	})
	return regexp.MustCompile("^" + expr + "$"), keys
}

func (b *Bus) match(path string) (*channelDef, map[string]string) {
	for _, ch := range b.channels {
		m := ch.pattern.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		params := make(map[string]string, len(ch.paramKeys))
		for i, k := range ch.paramKeys {
			params[k] = m[i+1]
		}
		return ch, params
	}
	return nil, nil
}

// HandleWS upgrades the connection and serves the client protocol loop
// until the socket disconnects, cleaning up every subscription (firing
// last-unsubscribe hooks where registered) on exit.
func (b *Bus) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Error("bus websocket accept failed", "error", err)
		return
	}

	sck := &socket{conn: conn, send: make(chan serverMessage, maxPendingPerSocket), subs: make(map[string]struct{})}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range sck.send {
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}()

	b.readLoop(ctx, sck)

	cancel()
	close(sck.send)
	<-writerDone

	b.cleanupSocket(ctx, sck)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (b *Bus) readLoop(ctx context.Context, sck *socket) {
	for {
		_, data, err := sck.conn.Read(ctx)
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "ping":
			sck.deliver(serverMessage{Type: "pong"})
		case "subscribe":
			b.subscribe(ctx, sck, msg.Channel)
		case "unsubscribe":
			b.unsubscribe(ctx, sck, msg.Channel)
		case "event":
			b.handleEvent(ctx, sck, msg.Channel, msg.Data)
		}
	}
}

func (b *Bus) subscribe(ctx context.Context, sck *socket, path string) {
	ch, params := b.match(path)
	if ch == nil {
		sck.deliver(serverMessage{Type: "error", Channel: path, Error: "Unknown channel"})
		return
	}
	if ch.authorize != nil {
		if err := ch.authorize(ctx, path, params); err != nil {
			sck.deliver(serverMessage{Type: "error", Channel: path, Error: "Unauthorized"})
			return
		}
	}

	// Channels registered without a loader (delta/event-only) get a nil
	// snapshot.
	var snapshot any
	if ch.loader != nil {
		var err error
		snapshot, err = ch.loader(ctx, path, params)
		if err != nil {
			sck.deliver(serverMessage{Type: "error", Channel: path, Error: err.Error()})
			return
		}
	}

	b.mu.Lock()
	if b.subscribers[path] == nil {
		b.subscribers[path] = make(map[*socket]struct{})
	}
	firstSubscriber := len(b.subscribers[path]) == 0
	b.subscribers[path][sck] = struct{}{}
	// Snapshot must precede every delta this socket receives on path: it is
	// queued while b.mu is still held, and broadcast reads the subscriber
	// table under b.mu, so no delta can reach this socket ahead of it.
	sck.deliver(serverMessage{Type: "snapshot", Channel: path, Data: snapshot})
	b.mu.Unlock()

	sck.mu.Lock()
	sck.subs[path] = struct{}{}
	sck.mu.Unlock()

	if firstSubscriber && ch.refCount != nil {
		ch.refCount.OnFirstSubscribe(ctx, params)
	}
}

func (b *Bus) unsubscribe(ctx context.Context, sck *socket, path string) {
	b.removeSubscription(ctx, sck, path)
}

func (b *Bus) removeSubscription(ctx context.Context, sck *socket, path string) {
	ch, params := b.match(path)

	sck.mu.Lock()
	delete(sck.subs, path)
	sck.mu.Unlock()

	b.mu.Lock()
	lastUnsubscribe := false
	if set, ok := b.subscribers[path]; ok {
		delete(set, sck)
		if len(set) == 0 {
			delete(b.subscribers, path)
			lastUnsubscribe = true
		}
	}
	b.mu.Unlock()

	if lastUnsubscribe && ch != nil && ch.refCount != nil {
		ch.refCount.OnLastUnsubscribe(ctx, params)
	}
}

func (b *Bus) handleEvent(ctx context.Context, sck *socket, path string, data json.RawMessage) {
	sck.mu.Lock()
	_, subscribed := sck.subs[path]
	sck.mu.Unlock()
	if !subscribed {
		sck.deliver(serverMessage{Type: "error", Channel: path, Error: "Not subscribed"})
		return
	}

	ch, params := b.match(path)
	if ch == nil || ch.onEvent == nil {
		return
	}
	if err := ch.onEvent(ctx, path, params, data); err != nil {
		sck.deliver(serverMessage{Type: "error", Channel: path, Error: err.Error()})
	}
}

func (b *Bus) cleanupSocket(ctx context.Context, sck *socket) {
	sck.mu.Lock()
	paths := make([]string, 0, len(sck.subs))
	for p := range sck.subs {
		paths = append(paths, p)
	}
	sck.mu.Unlock()

	for _, p := range paths {
		b.removeSubscription(ctx, sck, p)
	}
}

// deliver enqueues msg, dropping it (with a warning) rather than blocking
// if the socket's send buffer is already full.
func (s *socket) deliver(msg serverMessage) {
	select {
	case s.send <- msg:
	default:
		slog.Warn("bus socket send buffer full, dropping message", "channel", msg.Channel, "type", msg.Type)
	}
}

// PublishDelta implements bus.Publisher. It resolves channel+params to the
// subscribed path and broadcasts in the order publishers call it,
// preserving per-subscriber FIFO (spec.md §5).
func (b *Bus) PublishDelta(channel string, params map[string]string, delta busport.Delta) {
	path := b.resolvePath(channel, params)
	b.broadcast(serverMessage{Type: "delta", Channel: path, Data: delta})
}

// PublishEvent implements bus.Publisher, broadcasting a server-originated
// event (e.g. typing indicators) to channel+params's subscribers.
func (b *Bus) PublishEvent(channel string, params map[string]string, data any) {
	path := b.resolvePath(channel, params)
	b.broadcast(serverMessage{Type: "event", Channel: path, Data: data})
}

// resolvePath substitutes params into the registered pattern named channel,
// producing the concrete subscriber-table path. If channel is not
// registered, or is already concrete (no params), it is returned as-is.
func (b *Bus) resolvePath(channel string, params map[string]string) string {
	for _, ch := range b.channels {
		if ch.name != channel {
			continue
		}
		path := channel
		for _, k := range ch.paramKeys {
			path = strings.Replace(path, "{"+k+"}", params[k], 1)
		}
		return path
	}
	return channel
}

func (b *Bus) broadcast(msg serverMessage) {
	b.mu.RLock()
	sockets := make([]*socket, 0, len(b.subscribers[msg.Channel]))
	for s := range b.subscribers[msg.Channel] {
		sockets = append(sockets, s)
	}
	b.mu.RUnlock()

	for _, s := range sockets {
		s.deliver(msg)
	}
}
