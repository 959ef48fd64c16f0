package daemon

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Aman-CERP/amanwatch/internal/watcher"
)

const (
	// Message types on the /events stream.
	MessageEvent     = "event"
	MessageFinalized = "finalized"

	subscriberBuffer = 256
	wsWriteTimeout   = 10 * time.Second
)

// EventMessage is one message on the /events stream.
type EventMessage struct {
	Type      string    `json:"type"`
	Kind      string    `json:"kind,omitempty"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// Broadcaster fans out messages to subscribers without blocking on slow
// listeners. A subscriber whose buffer is full misses messages.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[uint64]chan EventMessage
	nextSubID   uint64
	dropped     uint64
	closed      bool
	closeOnce   sync.Once
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]chan EventMessage),
	}
}

// Subscribe registers a subscriber. The channel is closed by cancel or Close.
func (b *Broadcaster) Subscribe() (<-chan EventMessage, func()) {
	ch := make(chan EventMessage, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.nextSubID++
	id := b.nextSubID
	b.subscribers[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Broadcast delivers msg to every subscriber with room for it.
func (b *Broadcaster) Broadcast(msg EventMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
			b.dropped++
		}
	}
}

// BroadcastEvent publishes a decoded change.
func (b *Broadcaster) BroadcastEvent(ev watcher.Event) {
	b.Broadcast(EventMessage{
		Type:      MessageEvent,
		Kind:      ev.Kind.String(),
		Path:      ev.Path,
		Timestamp: time.Now().UTC(),
	})
}

// BroadcastFinalized publishes the end of a watch.
func (b *Broadcaster) BroadcastFinalized(path string) {
	b.Broadcast(EventMessage{
		Type:      MessageFinalized,
		Path:      path,
		Timestamp: time.Now().UTC(),
	})
}

// Subscribers returns the number of live subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Dropped returns how many messages were skipped for slow subscribers.
func (b *Broadcaster) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close closes every subscriber channel. Later subscribers get a closed channel.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		for id, ch := range b.subscribers {
			delete(b.subscribers, id)
			close(ch)
		}
		b.mu.Unlock()
	})
}

// ServeHTTP streams messages to a websocket client until either side goes away.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     localOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	output, cancel := b.Subscribe()
	defer cancel()

	go func() {
		// Closing the connection unblocks the read loop below.
		defer conn.Close()
		for msg := range output {
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				slog.Debug("event subscriber write failed", slog.String("error", err.Error()))
				return
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "daemon stopping"),
			time.Now().Add(time.Second))
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// localOrigin accepts clients that send no Origin, which is every non-browser
// client, and pages served from the loopback host. Other pages must not read
// which paths changed.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
