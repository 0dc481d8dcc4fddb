package chat

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pickup-chat/internal/models"
)

// Wire event names, shared with the backend's realtime channel.
const (
	evJoinGame    = "join-game"
	evLeaveGame   = "leave-game"
	evSendMessage = "send-message"
	evNewMessage  = "new-message"
	evUserJoined  = "user-joined"
	evUserLeft    = "user-left"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 10 * time.Second
	maxMessageSize = 4096
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// Transport is the bidirectional realtime channel a session speaks over.
// Implementations own reconnection; sessions only observe the resulting
// Connected/Disconnected events.
type Transport interface {
	// Open starts the transport. Connection establishment is asynchronous;
	// a ConnectedEvent is delivered once the server is reached.
	Open(ctx context.Context) error
	// Close tears the transport down and closes the event channel.
	// Idempotent.
	Close() error
	JoinRoom(gameID string) error
	LeaveRoom(gameID string) error
	SendMessage(m models.Message) error
	Events() <-chan Event
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outboundEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// sendPayload is the wire shape of an outbound chat message. The local
// optimistic ID is deliberately absent; the server assigns the canonical
// one.
type sendPayload struct {
	GameID    string             `json:"gameId"`
	UserID    string             `json:"userId"`
	Username  string             `json:"username"`
	Message   string             `json:"message"`
	Timestamp time.Time          `json:"timestamp"`
	Kind      models.MessageKind `json:"messageType"`
}

type presencePayload struct {
	GameID   string `json:"gameId"`
	Username string `json:"username"`
}

// WebsocketTransport is the production Transport: one websocket to the
// realtime server, a read loop and a write pump per connection, and an
// automatic redial loop with capped exponential backoff.
type WebsocketTransport struct {
	url    string
	dialer *websocket.Dialer

	events chan Event
	send   chan []byte

	mu     sync.Mutex
	opened bool
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWebsocketTransport(url string) *WebsocketTransport {
	return &WebsocketTransport{
		url:    url,
		dialer: websocket.DefaultDialer,
		events: make(chan Event, 32),
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
	}
}

func (t *WebsocketTransport) Events() <-chan Event { return t.events }

func (t *WebsocketTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if t.opened {
		return nil
	}
	t.opened = true

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	go t.run(runCtx)
	return nil
}

func (t *WebsocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel := t.cancel
	opened := t.opened
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if opened {
		<-t.done
	} else {
		close(t.events)
	}
	return nil
}

func (t *WebsocketTransport) JoinRoom(gameID string) error {
	return t.enqueue(evJoinGame, gameID)
}

func (t *WebsocketTransport) LeaveRoom(gameID string) error {
	return t.enqueue(evLeaveGame, gameID)
}

func (t *WebsocketTransport) SendMessage(m models.Message) error {
	return t.enqueue(evSendMessage, sendPayload{
		GameID:    m.GameID,
		UserID:    m.UserID,
		Username:  m.Username,
		Message:   m.Body,
		Timestamp: m.Timestamp,
		Kind:      m.Kind,
	})
}

func (t *WebsocketTransport) enqueue(event string, data any) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}

	raw, err := json.Marshal(outboundEnvelope{Event: event, Data: data})
	if err != nil {
		return err
	}
	select {
	case t.send <- raw:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// run owns the dial/serve/redial cycle until the context is canceled.
func (t *WebsocketTransport) run(ctx context.Context) {
	defer close(t.done)
	defer close(t.events)

	backoff := initialBackoff
	for {
		conn, resp, err := t.dialer.DialContext(ctx, t.url, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[TRANSPORT] Dial %s failed: %v (retrying in %s)", t.url, err, backoff)
			t.emit(ctx, DisconnectedEvent{Err: err})
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		backoff = initialBackoff
		t.emit(ctx, ConnectedEvent{})

		err = t.serve(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		log.Printf("[TRANSPORT] Connection lost: %v", err)
		t.emit(ctx, DisconnectedEvent{Err: err})

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// serve pumps one live connection: a write goroutine drains the send
// queue and pings, the read loop dispatches inbound envelopes. Returns
// when the connection drops.
func (t *WebsocketTransport) serve(ctx context.Context, conn *websocket.Conn) error {
	readDone := make(chan struct{})
	defer close(readDone)

	go t.writePump(conn, readDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-readDone:
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[TRANSPORT] Unexpected close: %v", err)
			}
			return err
		}
		t.dispatch(ctx, raw)
	}
}

func (t *WebsocketTransport) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case raw := <-t.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch parses one inbound envelope. Malformed payloads are dropped
// with a diagnostic; they must never take the session down.
func (t *WebsocketTransport) dispatch(ctx context.Context, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("[TRANSPORT] Dropping malformed frame: %v", err)
		return
	}

	switch env.Event {
	case evNewMessage:
		var m models.Message
		if err := json.Unmarshal(env.Data, &m); err != nil {
			log.Printf("[TRANSPORT] Dropping malformed message payload: %v", err)
			return
		}
		t.emit(ctx, MessageEvent{Message: m})

	case evUserJoined, evUserLeft:
		var p presencePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Printf("[TRANSPORT] Dropping malformed presence payload: %v", err)
			return
		}
		t.emit(ctx, PresenceEvent{
			GameID:   p.GameID,
			Username: p.Username,
			Joined:   env.Event == evUserJoined,
		})

	default:
		log.Printf("[TRANSPORT] Ignoring unknown event %q", env.Event)
	}
}

func (t *WebsocketTransport) emit(ctx context.Context, ev Event) {
	select {
	case t.events <- ev:
	case <-ctx.Done():
	}
}
