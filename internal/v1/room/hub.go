package room

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/traybueno/watchtower-api/internal/v1/kv"
	"github.com/traybueno/watchtower-api/internal/v1/logging"
	"github.com/traybueno/watchtower-api/internal/v1/metrics"
	"github.com/traybueno/watchtower-api/internal/v1/types"
)

const (
	// dispatchAttempts bounds retries when a request races actor retirement.
	dispatchAttempts = 3
	// createAttempts bounds code generation retries on collision.
	createAttempts = 5
)

var (
	errShuttingDown       = errors.New("hub is shutting down")
	errInboxFull          = errors.New("room inbox full")
	errCodeSpaceExhausted = errors.New("room code space exhausted")
)

// RoomInfo is the read-only view of a room returned over HTTP.
type RoomInfo struct {
	GameID      types.GameID     `json:"gameId"`
	HostID      types.PlayerID   `json:"hostId"`
	CreatedAt   int64            `json:"createdAt"`
	PlayerCount int              `json:"playerCount"`
	Players     []types.PlayerID `json:"players"`
}

// JoinResult is returned by the HTTP join operation.
type JoinResult struct {
	Success     bool             `json:"success"`
	HostID      types.PlayerID   `json:"hostId"`
	Players     []types.PlayerID `json:"players"`
	PlayerCount int              `json:"playerCount"`
}

// Hub owns the actor table. It spawns actors on demand, routes requests
// to them, and unregisters them when they retire. The mutex guards only
// the table; room state belongs to the actors.
type Hub struct {
	kv    *kv.Service
	stats types.StatsSink

	upgrader websocket.Upgrader
	// codegen produces candidate room codes. Tests pin it to force collisions.
	codegen func() (types.RoomCode, error)

	mu     sync.Mutex
	actors map[actorKey]*actor
	closed bool

	shutdown chan struct{}
	wg       sync.WaitGroup
}

func NewHub(store *kv.Service, stats types.StatsSink, allowedOrigins []string) *Hub {
	if stats == nil {
		stats = types.NopStats{}
	}
	return &Hub{
		kv:    store,
		stats: stats,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r.Header.Get("Origin"), allowedOrigins)
			},
		},
		codegen:  GenerateCode,
		actors:   map[actorKey]*actor{},
		shutdown: make(chan struct{}),
	}
}

// originAllowed implements the browser origin policy. Requests without an
// Origin header come from non-browser clients and pass; the API key is
// their gate.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// enqueue places a request on the actor for key, spawning one if needed.
// Holding the table lock across the send is what makes delivery airtight:
// retirement removes the actor from the table under the same lock before
// draining, so a request queued here is always processed or failed.
func (h *Hub) enqueue(key actorKey, req *actorRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errShuttingDown
	}
	a, ok := h.actors[key]
	if !ok {
		a = newActor(h, key)
		h.actors[key] = a
		h.wg.Add(1)
		go a.run()
	}
	if req.kind == reqAttach && req.session != nil {
		req.session.actor = a
	}

	select {
	case a.inbox <- req:
		return nil
	default:
		return errInboxFull
	}
}

// retire removes a finished actor and fails whatever snuck into its inbox
// between the last handled message and the table removal. Callers see
// errRoomRetired and redispatch to a fresh actor.
func (h *Hub) retire(a *actor) {
	h.mu.Lock()
	if h.actors[a.key] == a {
		delete(h.actors, a.key)
	}
	h.mu.Unlock()

	close(a.dead)
	for {
		select {
		case req := <-a.inbox:
			if req.reply != nil {
				req.reply <- actorReply{err: errRoomRetired}
			}
		case <-a.closings:
			// Sessions this actor admitted are gone before it exits;
			// anything left here is a stale close with no roster work.
		default:
			return
		}
	}
}

// call dispatches one request and waits for the reply, retrying when the
// target actor retired underneath it.
func (h *Hub) call(ctx context.Context, op string, key actorKey, req *actorRequest) (actorReply, error) {
	start := time.Now()
	defer func() {
		metrics.DispatchDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var reply actorReply
	for attempt := 1; attempt <= dispatchAttempts; attempt++ {
		req.reply = make(chan actorReply, 1)
		if err := h.enqueue(key, req); err != nil {
			return actorReply{}, err
		}
		select {
		case reply = <-req.reply:
		case <-ctx.Done():
			return actorReply{}, ctx.Err()
		}
		if !errors.Is(reply.err, errRoomRetired) {
			return reply, nil
		}
	}
	return reply, nil
}

// CreateRoom allocates an unused code and initializes its room with
// hostID as the first player. Exhausting every attempt on collisions is
// an internal failure, not a client conflict.
func (h *Hub) CreateRoom(ctx context.Context, gameID types.GameID, hostID types.PlayerID) (types.RoomCode, error) {
	for attempt := 1; attempt <= createAttempts; attempt++ {
		code, err := h.codegen()
		if err != nil {
			return "", err
		}
		key := actorKey{gameID: gameID, code: code}
		reply, err := h.call(ctx, "create", key, &actorRequest{kind: reqCreate, playerID: hostID})
		if err != nil {
			return "", err
		}
		if errors.Is(reply.err, errRoomExists) {
			logging.Warn(ctx, "Room code collision, regenerating",
				zap.String("code", string(code)), zap.Int("attempt", attempt))
			continue
		}
		if reply.err != nil {
			return "", reply.err
		}
		return code, nil
	}
	return "", errCodeSpaceExhausted
}

// RoomInfo returns the current roster view, or errRoomNotFound.
func (h *Hub) RoomInfo(ctx context.Context, gameID types.GameID, code types.RoomCode) (*RoomInfo, error) {
	key := actorKey{gameID: gameID, code: code.Canonical()}
	reply, err := h.call(ctx, "info", key, &actorRequest{kind: reqInfo})
	if err != nil {
		return nil, err
	}
	if reply.err != nil {
		return nil, reply.err
	}
	return reply.info, nil
}

// JoinRoom adds playerID to the roster ahead of its WebSocket attach.
// Joining twice is a no-op that returns the current roster.
func (h *Hub) JoinRoom(ctx context.Context, gameID types.GameID, code types.RoomCode, playerID types.PlayerID) (*JoinResult, error) {
	key := actorKey{gameID: gameID, code: code.Canonical()}
	reply, err := h.call(ctx, "join", key, &actorRequest{kind: reqJoin, playerID: playerID})
	if err != nil {
		return nil, err
	}
	if reply.err != nil {
		return nil, reply.err
	}
	return reply.join, nil
}

// ServeWs upgrades the request and runs the session until the socket
// dies. It blocks for the lifetime of the connection; the caller's
// handler goroutine becomes the read pump.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request, gameID types.GameID, code types.RoomCode, playerID types.PlayerID) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logging.Warn(r.Context(), "WebSocket upgrade failed", zap.Error(err))
		return
	}

	metrics.IncConnection()
	h.stats.Track(r.Context(), gameID, playerID, types.EventSessionStart)

	s := newSession(h, gameID, playerID, conn)
	go s.writePump()

	key := actorKey{gameID: gameID, code: code.Canonical()}
	reply, err := h.call(r.Context(), "attach", key, &actorRequest{kind: reqAttach, session: s})
	switch {
	case errors.Is(err, errShuttingDown):
		s.shutdown(websocket.CloseGoingAway, "Server shutting down")
	case err != nil || reply.err != nil:
		s.shutdown(websocket.CloseInternalServerErr, "Internal error")
	}

	// Run the read pump even when admission failed so the deferred
	// teardown fires exactly once per accepted socket.
	s.readPump()
}

// Shutdown retires every actor, persisting snapshots and closing sessions
// with 1001. It returns once all actors have exited or ctx expires.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.shutdown)
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
