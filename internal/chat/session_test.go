package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pickup-chat/internal/auth"
	"pickup-chat/internal/models"
)

type fakeTransport struct {
	mu     sync.Mutex
	events chan Event
	joins  []string
	leaves []string
	sent   []models.Message
	closed bool

	// autoConnect emits a ConnectedEvent as soon as Open is called.
	autoConnect bool
	// openErr makes Open fail, like a transport that cannot even start.
	openErr error
}

func newFakeTransport(autoConnect bool) *fakeTransport {
	return &fakeTransport{
		events:      make(chan Event, 32),
		autoConnect: autoConnect,
	}
}

func (t *fakeTransport) Open(ctx context.Context) error {
	if t.openErr != nil {
		return t.openErr
	}
	if t.autoConnect {
		t.emit(ConnectedEvent{})
	}
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.events)
	}
	return nil
}

func (t *fakeTransport) JoinRoom(gameID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.joins = append(t.joins, gameID)
	return nil
}

func (t *fakeTransport) LeaveRoom(gameID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leaves = append(t.leaves, gameID)
	return nil
}

func (t *fakeTransport) SendMessage(m models.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, m)
	return nil
}

func (t *fakeTransport) Events() <-chan Event { return t.events }

// emit delivers an event unless the transport is already closed, like a
// real transport whose listeners were detached.
func (t *fakeTransport) emit(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.events <- ev
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func (t *fakeTransport) joinCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.joins)
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeLoader struct {
	msgs    []models.Message
	err     error
	release chan struct{} // when non-nil, LoadHistory blocks until closed
}

func (l *fakeLoader) LoadHistory(ctx context.Context, gameID string) ([]models.Message, error) {
	if l.release != nil {
		select {
		case <-l.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return l.msgs, l.err
}

var testIdentity = auth.Identity{UserID: "u1", Username: "ann"}

func newTestSession(t *testing.T, tr Transport, loader HistoryLoader) *Session {
	t.Helper()
	s := NewSession(SessionConfig{
		GameID:    "game-1",
		Identity:  testIdentity,
		Transport: tr,
		History:   loader,
	})
	t.Cleanup(func() { s.Close() })
	return s
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestConnectJoinsRoom(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestSession(t, tr, &fakeLoader{})

	require.NoError(t, s.Connect(context.Background()))
	waitFor(t, func() bool { return s.State() == StateConnected }, "connected state")

	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Equal(t, []string{"game-1"}, tr.joins)
}

func TestConnectTwiceRejected(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestSession(t, tr, &fakeLoader{})

	require.NoError(t, s.Connect(context.Background()))
	assert.ErrorIs(t, s.Connect(context.Background()), ErrAlreadyConnected)
}

func TestSendWhileNotConnected(t *testing.T) {
	tr := newFakeTransport(false) // never reaches the server
	s := newTestSession(t, tr, &fakeLoader{})
	require.NoError(t, s.Connect(context.Background()))

	err := s.Send("hold this thought")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, s.Messages(), "rejected send must not touch the list")
	assert.Zero(t, tr.sentCount(), "rejected send must not hit the wire")
	assert.Equal(t, "hold this thought", s.Draft())
}

func TestSendAppendsOptimisticEntry(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestSession(t, tr, &fakeLoader{})
	require.NoError(t, s.Connect(context.Background()))
	waitFor(t, func() bool { return s.State() == StateConnected }, "connected state")

	require.NoError(t, s.Send("yo"))

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsOptimistic())
	assert.Equal(t, "yo", msgs[0].Body)
	assert.Equal(t, testIdentity.UserID, msgs[0].UserID)
	assert.Equal(t, 1, tr.sentCount())
	assert.Empty(t, s.Draft(), "accepted send clears the draft")
}

func TestSendEmptyRejected(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestSession(t, tr, &fakeLoader{})
	require.NoError(t, s.Connect(context.Background()))
	waitFor(t, func() bool { return s.State() == StateConnected }, "connected state")

	assert.ErrorIs(t, s.Send("   "), ErrEmptyMessage)
}

func TestBroadcastEchoReconciles(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestSession(t, tr, &fakeLoader{})
	require.NoError(t, s.Connect(context.Background()))
	waitFor(t, func() bool { return s.State() == StateConnected }, "connected state")

	require.NoError(t, s.Send("yo"))

	tr.emit(MessageEvent{Message: models.Message{
		ID:        "srv-1",
		GameID:    "game-1",
		UserID:    testIdentity.UserID,
		Username:  testIdentity.Username,
		Body:      "yo",
		Timestamp: time.Now(),
		Kind:      models.KindText,
	}})

	waitFor(t, func() bool {
		msgs := s.Messages()
		return len(msgs) == 1 && msgs[0].ID == "srv-1"
	}, "optimistic entry replaced by its echo")
}

func TestLiveEventsBufferedUntilHistoryLands(t *testing.T) {
	release := make(chan struct{})
	loader := &fakeLoader{
		msgs: []models.Message{{
			ID: "h1", GameID: "game-1", UserID: "u2", Username: "bo",
			Body: "earlier", Timestamp: time.Now().Add(-time.Hour), Kind: models.KindText,
		}},
		release: release,
	}
	tr := newFakeTransport(true)
	s := newTestSession(t, tr, loader)
	require.NoError(t, s.Connect(context.Background()))
	waitFor(t, func() bool { return s.State() == StateConnected }, "connected state")

	tr.emit(MessageEvent{Message: models.Message{
		ID: "live1", GameID: "game-1", UserID: "u2", Username: "bo",
		Body: "live", Timestamp: time.Now(), Kind: models.KindText,
	}})

	// The live event must wait for history, not apply against an empty list.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, s.Messages())

	close(release)
	waitFor(t, func() bool { return len(s.Messages()) == 2 }, "history merged with buffered event")

	msgs := s.Messages()
	assert.Equal(t, "h1", msgs[0].ID)
	assert.Equal(t, "live1", msgs[1].ID)
}

func TestHistoryFailureIsSoft(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestSession(t, tr, &fakeLoader{err: errors.New("backend down")})
	require.NoError(t, s.Connect(context.Background()))
	waitFor(t, func() bool { return s.State() == StateConnected }, "connected state")

	tr.emit(MessageEvent{Message: models.Message{
		ID: "live1", GameID: "game-1", UserID: "u2", Username: "bo",
		Body: "still works", Timestamp: time.Now(), Kind: models.KindText,
	}})

	waitFor(t, func() bool { return len(s.Messages()) == 1 }, "live chat despite failed history")
}

func TestCrossRoomMessageDropped(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestSession(t, tr, &fakeLoader{})
	require.NoError(t, s.Connect(context.Background()))
	waitFor(t, func() bool { return s.State() == StateConnected }, "connected state")

	tr.emit(MessageEvent{Message: models.Message{
		ID: "other1", GameID: "game-2", UserID: "u2", Username: "bo",
		Body: "wrong room", Timestamp: time.Now(), Kind: models.KindText,
	}})
	tr.emit(MessageEvent{Message: models.Message{
		ID: "mine1", GameID: "game-1", UserID: "u2", Username: "bo",
		Body: "right room", Timestamp: time.Now(), Kind: models.KindText,
	}})

	waitFor(t, func() bool { return len(s.Messages()) == 1 }, "same-room message applied")
	assert.Equal(t, "mine1", s.Messages()[0].ID)
}

func TestPresenceEventAppendsSystemMessage(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestSession(t, tr, &fakeLoader{})
	require.NoError(t, s.Connect(context.Background()))
	waitFor(t, func() bool { return s.State() == StateConnected }, "connected state")

	tr.emit(PresenceEvent{GameID: "game-1", Username: "Ann", Joined: true})

	waitFor(t, func() bool { return len(s.Messages()) == 1 }, "presence message")
	m := s.Messages()[0]
	assert.Equal(t, models.KindSystem, m.Kind)
	assert.Equal(t, "Ann joined the game", m.Body)
}

func TestReconnectRejoinsRoom(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestSession(t, tr, &fakeLoader{})
	require.NoError(t, s.Connect(context.Background()))
	waitFor(t, func() bool { return s.State() == StateConnected }, "connected state")

	tr.emit(DisconnectedEvent{Err: errors.New("network blip")})
	waitFor(t, func() bool { return s.State() == StateReconnecting }, "reconnecting state")

	tr.emit(ConnectedEvent{})
	waitFor(t, func() bool { return s.State() == StateConnected }, "reconnected state")
	assert.Equal(t, 2, tr.joinCount(), "join-intent re-emitted after reconnect")
}

func TestCloseEmitsLeaveAndIsIdempotent(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestSession(t, tr, &fakeLoader{})
	require.NoError(t, s.Connect(context.Background()))
	waitFor(t, func() bool { return s.State() == StateConnected }, "connected state")

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Equal(t, StateDisconnected, s.State())
	assert.True(t, tr.isClosed())
	tr.mu.Lock()
	leaves := append([]string(nil), tr.leaves...)
	tr.mu.Unlock()
	assert.Equal(t, []string{"game-1"}, leaves)

	assert.ErrorIs(t, s.Send("too late"), ErrSessionClosed)
}

func TestCloseAfterFailedConnect(t *testing.T) {
	tr := newFakeTransport(false)
	tr.openErr = errors.New("dial refused")
	s := NewSession(SessionConfig{
		GameID: "game-1", Identity: testIdentity, Transport: tr, History: &fakeLoader{},
	})

	require.Error(t, s.Connect(context.Background()))
	assert.Equal(t, StateDisconnected, s.State())

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked after a failed Connect")
	}

	assert.ErrorIs(t, s.Send("too late"), ErrSessionClosed)
}

func TestUnrelatedSendKeepsDraft(t *testing.T) {
	tr := newFakeTransport(false)
	s := newTestSession(t, tr, &fakeLoader{})
	require.NoError(t, s.Connect(context.Background()))

	require.ErrorIs(t, s.Send("kept for later"), ErrNotConnected)
	require.Equal(t, "kept for later", s.Draft())

	tr.emit(ConnectedEvent{})
	waitFor(t, func() bool { return s.State() == StateConnected }, "connected state")

	require.NoError(t, s.Send("something else first"))
	assert.Equal(t, "kept for later", s.Draft(), "a different send must not discard the draft")

	require.NoError(t, s.Send("kept for later"))
	assert.Empty(t, s.Draft(), "sending the draft itself consumes it")
}

func TestSingleActiveRoom(t *testing.T) {
	trA := newFakeTransport(true)
	sessA := NewSession(SessionConfig{
		GameID: "game-a", Identity: testIdentity, Transport: trA, History: &fakeLoader{},
	})
	require.NoError(t, sessA.Connect(context.Background()))
	waitFor(t, func() bool { return sessA.State() == StateConnected }, "A connected")

	// Switching rooms: A is fully torn down before B attaches.
	require.NoError(t, sessA.Close())
	require.True(t, trA.isClosed())

	trB := newFakeTransport(true)
	sessB := newTestSession(t, trB, &fakeLoader{})
	require.NoError(t, sessB.Connect(context.Background()))
	waitFor(t, func() bool { return sessB.State() == StateConnected }, "B connected")

	// Stale events on A's old transport go nowhere.
	trA.emit(MessageEvent{Message: models.Message{
		ID: "ghost", GameID: "game-a", UserID: "u9", Body: "boo",
		Timestamp: time.Now(), Kind: models.KindText,
	}})

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sessB.Messages(), "events from the old room must not leak into the new session")
}

func TestConnectTimeoutFlagsDegraded(t *testing.T) {
	tr := newFakeTransport(false)
	s := NewSession(SessionConfig{
		GameID:         "game-1",
		Identity:       testIdentity,
		Transport:      tr,
		History:        &fakeLoader{},
		ConnectTimeout: 30 * time.Millisecond,
	})
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Connect(context.Background()))

	waitFor(t, func() bool {
		select {
		case u := <-s.Updates():
			return u.Degraded
		default:
			return false
		}
	}, "degraded update")
}

func TestProlongedReconnectFlagsDegraded(t *testing.T) {
	tr := newFakeTransport(true)
	s := NewSession(SessionConfig{
		GameID:         "game-1",
		Identity:       testIdentity,
		Transport:      tr,
		History:        &fakeLoader{},
		ConnectTimeout: 30 * time.Millisecond,
	})
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Connect(context.Background()))
	waitFor(t, func() bool { return s.State() == StateConnected }, "connected state")

	tr.emit(DisconnectedEvent{Err: errors.New("network blip")})

	waitFor(t, func() bool {
		select {
		case u := <-s.Updates():
			return u.Degraded && u.State == StateReconnecting
		default:
			return false
		}
	}, "degraded update during a prolonged reconnect")
}

func TestUpdatesCarryLatestSnapshot(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestSession(t, tr, &fakeLoader{})
	require.NoError(t, s.Connect(context.Background()))
	waitFor(t, func() bool { return s.State() == StateConnected }, "connected state")

	require.NoError(t, s.Send("one"))
	require.NoError(t, s.Send("two"))

	waitFor(t, func() bool {
		select {
		case u := <-s.Updates():
			return len(u.Messages) == 2 && u.State == StateConnected
		default:
			return false
		}
	}, "coalesced update with both messages")
}
