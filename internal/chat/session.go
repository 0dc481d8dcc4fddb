package chat

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pickup-chat/internal/auth"
	"pickup-chat/internal/models"
)

// State is a session's connection lifecycle phase.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

const (
	defaultConnectTimeout = 10 * time.Second
	historyTimeout        = 15 * time.Second
)

// Update is the snapshot a session publishes to its subscriber after
// every observable change: the current state, the full ordered message
// view, and two soft signals (connect-timeout degradation, failed
// history load). Messages must not be mutated by the receiver.
type Update struct {
	State      State
	Degraded   bool
	HistoryErr error
	Messages   []models.Message
}

// SessionConfig wires a session's collaborators.
type SessionConfig struct {
	GameID    string
	Identity  auth.Identity
	Transport Transport
	History   HistoryLoader

	// ConnectTimeout bounds how long a session may sit outside the
	// Connected state before flagging Update.Degraded. Zero means the
	// default.
	ConnectTimeout time.Duration
	// MatchWindow bounds optimistic echo matching. Zero means the default.
	MatchWindow time.Duration
}

// Session owns one realtime chat connection scoped to a single game
// room. The message list and connection state are mutated only inside
// the run loop goroutine; callers interact through Connect, Send, Close
// and the published Updates. A session is single-use: once closed it
// cannot be reconnected — switching rooms means closing this session and
// creating a new one, so at most one room membership is live at a time.
type Session struct {
	gameID   string
	identity auth.Identity

	transport Transport
	loader    HistoryLoader
	presence  *PresenceNotifier

	connectTimeout time.Duration
	matchWindow    time.Duration

	sends   chan sendIntent
	updates chan Update

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	started    bool
	closed     bool
	state      State
	degraded   bool
	historyErr error
	draft      string
	snap       []models.Message
}

type sendIntent struct {
	text string
	resp chan error
}

func NewSession(cfg SessionConfig) *Session {
	ct := cfg.ConnectTimeout
	if ct <= 0 {
		ct = defaultConnectTimeout
	}
	return &Session{
		gameID:         cfg.GameID,
		identity:       cfg.Identity,
		transport:      cfg.Transport,
		loader:         cfg.History,
		presence:       NewPresenceNotifier(cfg.GameID),
		connectTimeout: ct,
		matchWindow:    cfg.MatchWindow,
		sends:          make(chan sendIntent),
		updates:        make(chan Update, 1),
		done:           make(chan struct{}),
		state:          StateDisconnected,
	}
}

// Connect opens the transport and starts the run loop. The session moves
// to Connecting immediately and to Connected once the transport reports
// the server; the room join-intent is emitted on every ConnectedEvent so
// membership is re-established after a reconnect.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true
	s.state = StateConnecting
	s.mu.Unlock()

	if err := s.transport.Open(runCtx); err != nil {
		// The run loop never started, so its teardown never runs; the
		// session is dead and Close must not block waiting for it.
		cancel()
		s.mu.Lock()
		s.closed = true
		s.state = StateDisconnected
		s.mu.Unlock()
		s.transport.Close()
		close(s.updates)
		close(s.done)
		return err
	}

	go s.run(runCtx)
	return nil
}

// Send submits a message body. Only accepted while Connected: the
// optimistic entry is appended to the view before the wire emit, so the
// sender sees it with zero latency. A rejected send keeps the text in
// Draft for retry and never touches the message list.
func (s *Session) Send(text string) error {
	s.mu.Lock()
	if s.closed || !s.started {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	in := sendIntent{text: text, resp: make(chan error, 1)}
	select {
	case s.sends <- in:
	case <-s.done:
		return ErrSessionClosed
	}
	return <-in.resp
}

// Close tears the session down: best-effort leave-intent, listener
// detachment, transport closure. Idempotent. After Close returns no
// further events can reach this session's message list.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	started := s.started
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		if !started {
			close(s.updates)
			close(s.done)
			s.transport.Close()
			return
		}
		// cancel is assigned before started is set, so it is non-nil
		// here. A Connect that failed at Open closes done itself.
		s.cancel()
		<-s.done
	})
	return nil
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the current ordered message view.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.snap))
	copy(out, s.snap)
	return out
}

// Draft returns the most recent send body rejected for being offline,
// preserved so the caller can retry once reconnected.
func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// Updates is the session's subscription interface: a latest-wins channel
// of snapshots. A slow consumer only ever misses intermediate states,
// never the final one. Closed when the session shuts down.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

type historyResult struct {
	msgs []models.Message
	err  error
}

// run is the single writer for the session's state and message list.
// Every mutation source (history load, optimistic send, broadcast,
// presence) funnels through this loop, so deliveries can never interleave
// mid-mutation.
func (s *Session) run(ctx context.Context) {
	rec := newReconciler(s.matchWindow)

	defer func() {
		if s.State() == StateConnected {
			if err := s.transport.LeaveRoom(s.gameID); err != nil {
				log.Printf("[SESSION] Leave-intent for game %s not sent: %v", s.gameID, err)
			}
		}
		s.transport.Close()
		s.setState(StateDisconnected)
		s.publish(rec)
		close(s.updates)
		close(s.done)
	}()

	historyCh := make(chan historyResult, 1)
	go func() {
		hctx, hcancel := context.WithTimeout(ctx, historyTimeout)
		defer hcancel()
		msgs, err := s.loader.LoadHistory(hctx, s.gameID)
		historyCh <- historyResult{msgs: msgs, err: err}
	}()

	connectTimer := time.NewTimer(s.connectTimeout)
	defer connectTimer.Stop()

	// Live events that land before history must wait for it, or they
	// would be ordered against an empty list.
	var backlog []Event
	historyLoaded := false

	for {
		select {
		case <-ctx.Done():
			return

		case res := <-historyCh:
			historyLoaded = true
			if res.err != nil {
				log.Printf("[SESSION] History load for game %s failed, continuing live-only: %v", s.gameID, res.err)
				s.mu.Lock()
				s.historyErr = res.err
				s.mu.Unlock()
			}
			rec.seed(res.msgs)
			for _, ev := range backlog {
				s.apply(rec, ev)
			}
			backlog = nil
			s.publish(rec)

		case ev, ok := <-s.transport.Events():
			if !ok {
				return
			}
			switch ev := ev.(type) {
			case ConnectedEvent:
				log.Printf("[SESSION] Connected, joining game %s", s.gameID)
				connectTimer.Stop()
				if err := s.transport.JoinRoom(s.gameID); err != nil {
					log.Printf("[SESSION] Join-intent for game %s not sent: %v", s.gameID, err)
				}
				s.mu.Lock()
				s.state = StateConnected
				s.degraded = false
				s.mu.Unlock()
				s.publish(rec)

			case DisconnectedEvent:
				log.Printf("[SESSION] Transport down for game %s: %v", s.gameID, ev.Err)
				s.setState(StateReconnecting)
				connectTimer.Reset(s.connectTimeout)
				s.publish(rec)

			case MessageEvent, PresenceEvent:
				if !historyLoaded {
					backlog = append(backlog, ev)
					continue
				}
				if s.apply(rec, ev) {
					s.publish(rec)
				}
			}

		case in := <-s.sends:
			in.resp <- s.handleSend(rec, in.text)

		case <-connectTimer.C:
			if s.State() != StateConnected {
				log.Printf("[SESSION] Still not connected to game %s after %s", s.gameID, s.connectTimeout)
				s.mu.Lock()
				s.degraded = true
				s.mu.Unlock()
				s.publish(rec)
			}
		}
	}
}

// apply folds one live event into the view. Reports whether it changed.
func (s *Session) apply(rec *reconciler, ev Event) bool {
	switch ev := ev.(type) {
	case MessageEvent:
		m := ev.Message
		if m.GameID != "" && m.GameID != s.gameID {
			log.Printf("[SESSION] Dropping message for game %s (active game is %s)", m.GameID, s.gameID)
			return false
		}
		if m.ID == "" && m.Body == "" {
			log.Printf("[SESSION] Dropping empty broadcast for game %s", s.gameID)
			return false
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = time.Now()
		}
		return rec.applyBroadcast(m)

	case PresenceEvent:
		m, ok := s.presence.MessageFor(ev)
		if !ok {
			return false
		}
		rec.appendSystem(m)
		return true
	}
	return false
}

func (s *Session) handleSend(rec *reconciler, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	if s.State() != StateConnected {
		s.mu.Lock()
		s.draft = text
		s.mu.Unlock()
		return ErrNotConnected
	}

	m := models.Message{
		ID:        "local-" + uuid.NewString(),
		GameID:    s.gameID,
		UserID:    s.identity.UserID,
		Username:  s.identity.Username,
		Body:      text,
		Timestamp: time.Now(),
		Kind:      models.KindText,
	}
	rec.addLocal(m)

	if err := s.transport.SendMessage(m); err != nil {
		// The optimistic entry stays; the server echo (if the frame made
		// it out) reconciles against it either way.
		log.Printf("[SESSION] Send-intent for game %s not queued: %v", s.gameID, err)
	}

	// Only a send of the draft text itself consumes the draft; sending
	// something else first must not discard it.
	s.mu.Lock()
	if s.draft == text {
		s.draft = ""
	}
	s.mu.Unlock()
	s.publish(rec)
	return nil
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// publish stores a fresh snapshot and offers it on the updates channel,
// replacing any stale one so the channel always holds the latest view.
func (s *Session) publish(rec *reconciler) {
	snap := rec.snapshot()

	s.mu.Lock()
	s.snap = snap
	u := Update{
		State:      s.state,
		Degraded:   s.degraded,
		HistoryErr: s.historyErr,
		Messages:   snap,
	}
	s.mu.Unlock()

	for {
		select {
		case s.updates <- u:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}
