package room

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/traybueno/watchtower-api/internal/v1/kv"
	"github.com/traybueno/watchtower-api/internal/v1/types"
)

// fakeConn implements wsConn for tests that drive the actor directly.
// Writes are recorded; reads fail immediately because these tests bypass
// the read pump and inject frames through deliverFrame.
type fakeConn struct {
	mu          sync.Mutex
	writtenType []int
	written     [][]byte
	closeCode   int
	closeReason string
	closed      bool
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	return 0, nil, io.EOF
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writtenType = append(f.writtenType, messageType)
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		f.closeCode = int(binary.BigEndian.Uint16(data[:2]))
		f.closeReason = string(data[2:])
	}
	return nil
}

func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetReadLimit(int64)                {}
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) closeFrame() (int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode, f.closeReason
}

func (f *fakeConn) textFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for i, mt := range f.writtenType {
		if mt == websocket.TextMessage {
			out = append(out, f.written[i])
		}
	}
	return out
}

// recordedEvent is one StatsSink call captured by mockStats.
type recordedEvent struct {
	gameID   types.GameID
	playerID types.PlayerID
	event    types.StatsEvent
}

type mockStats struct {
	mu       sync.Mutex
	events   []recordedEvent
	playtime time.Duration
}

func (m *mockStats) Track(_ context.Context, gameID types.GameID, playerID types.PlayerID, event types.StatsEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, recordedEvent{gameID: gameID, playerID: playerID, event: event})
}

func (m *mockStats) TrackPlaytime(_ context.Context, _ types.GameID, _ types.PlayerID, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playtime += d
}

func (m *mockStats) countOf(event types.StatsEvent) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.event == event {
			n++
		}
	}
	return n
}

// newTestStore spins up an in-memory Redis and a kv.Service wired to it.
func newTestStore(t *testing.T) (*kv.Service, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := kv.NewServiceFromClient(client)
	t.Cleanup(func() { store.Close() })

	return store, mr
}

// newTestHub builds a hub over an in-memory store. The hub is shut down
// on cleanup so actor goroutines never outlive the test.
func newTestHub(t *testing.T) (*Hub, *mockStats, *miniredis.Miniredis) {
	t.Helper()

	store, mr := newTestStore(t)
	stats := &mockStats{}
	h := NewHub(store, stats, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, h.Shutdown(ctx))
	})
	return h, stats, mr
}

// attachSession admits a fake-socket session for playerID, as ServeWs
// would after a successful upgrade.
func attachSession(t *testing.T, h *Hub, gameID types.GameID, code types.RoomCode, playerID types.PlayerID) (*session, *fakeConn) {
	t.Helper()

	conn := &fakeConn{}
	s := newSession(h, gameID, playerID, conn)
	key := actorKey{gameID: gameID, code: code.Canonical()}
	reply, err := h.call(context.Background(), "attach", key, &actorRequest{kind: reqAttach, session: s})
	require.NoError(t, err)
	require.NoError(t, reply.err)
	return s, conn
}

// recvFrame pops the next queued egress frame for s and decodes it.
func recvFrame(t *testing.T, s *session) map[string]any {
	t.Helper()

	select {
	case data, ok := <-s.send:
		require.True(t, ok, "send channel closed while waiting for frame")
		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

// expectFrame asserts the next frame for s has the given type.
func expectFrame(t *testing.T, s *session, frameType string) map[string]any {
	t.Helper()

	frame := recvFrame(t, s)
	require.Equal(t, frameType, frame["type"], "unexpected frame: %v", frame)
	return frame
}

// expectNoFrame asserts nothing arrives for s within a few ticks.
func expectNoFrame(t *testing.T, s *session) {
	t.Helper()

	select {
	case data, ok := <-s.send:
		if ok {
			t.Fatalf("unexpected frame: %s", data)
		}
	case <-time.After(150 * time.Millisecond):
	}
}

// deliver injects an inbound frame, as the read pump would.
func deliver(s *session, raw string) {
	s.actor.deliverFrame(s, []byte(raw))
}

// detach simulates the socket dying, as the read pump's teardown would.
func detach(s *session) {
	s.actor.notifyClose(s)
}

// waitRetired blocks until the actor for key has left the hub table.
func waitRetired(t *testing.T, h *Hub, key actorKey) {
	t.Helper()

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		_, ok := h.actors[key]
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}
