package room

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/traybueno/watchtower-api/internal/v1/kv"
	"github.com/traybueno/watchtower-api/internal/v1/logging"
	"github.com/traybueno/watchtower-api/internal/v1/metrics"
	"github.com/traybueno/watchtower-api/internal/v1/types"
)

const (
	tickInterval = 50 * time.Millisecond
	idleTimeout  = 5 * time.Minute
	inboxSize    = 512
	closingsSize = 512
)

var (
	errRoomExists   = errors.New("room already exists")
	errRoomNotFound = errors.New("room not found")
	errRoomRetired  = errors.New("room actor retired")
	errInternal     = errors.New("internal room failure")
)

type actorKey struct {
	gameID types.GameID
	code   types.RoomCode
}

type requestKind int

const (
	reqCreate requestKind = iota
	reqInfo
	reqJoin
	reqAttach
	reqFrame
)

// actorRequest carries one unit of work into the actor. Requests with a
// reply channel are operations; frame requests are fire-and-forget.
type actorRequest struct {
	kind     requestKind
	playerID types.PlayerID
	session  *session
	frame    []byte
	reply    chan actorReply
}

type actorReply struct {
	info *RoomInfo
	join *JoinResult
	err  error
}

// actor owns one room. Every field below the channels is touched only by
// the run goroutine; that single thread of execution is the serialization
// point for all room state.
type actor struct {
	hub     *Hub
	key     actorKey
	snapKey string
	ctx     context.Context

	inbox    chan *actorRequest
	closings chan *session
	dead     chan struct{}

	room     *roomState
	loaded   bool
	dirty    bool
	sessions map[types.PlayerID]*session
}

func newActor(h *Hub, key actorKey) *actor {
	ctx := context.WithValue(context.Background(), logging.GameIDKey, string(key.gameID))
	ctx = context.WithValue(ctx, logging.RoomCodeKey, string(key.code))
	return &actor{
		hub:      h,
		key:      key,
		snapKey:  kv.RoomState(key.gameID, key.code),
		ctx:      ctx,
		inbox:    make(chan *actorRequest, inboxSize),
		closings: make(chan *session, closingsSize),
		dead:     make(chan struct{}),
		sessions: map[types.PlayerID]*session{},
	}
}

// run is the actor loop. It exits when the room is gone and no sessions
// remain, when the idle timer fires with no sessions, or on shutdown; the
// deferred retire unregisters the actor and fails late arrivals.
func (a *actor) run() {
	defer func() {
		a.hub.retire(a)
		a.hub.wg.Done()
	}()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	for {
		select {
		case req := <-a.inbox:
			a.resetIdle(idle)
			a.handle(req)
		case s := <-a.closings:
			a.resetIdle(idle)
			a.handleClose(s)
		case <-ticker.C:
			a.handleTick()
		case <-idle.C:
			if len(a.sessions) == 0 {
				a.hibernate()
				return
			}
			idle.Reset(idleTimeout)
		case <-a.hub.shutdown:
			a.drainForShutdown()
			return
		}

		if a.loaded && a.room == nil && len(a.sessions) == 0 {
			return
		}
	}
}

func (a *actor) resetIdle(idle *time.Timer) {
	if !idle.Stop() {
		select {
		case <-idle.C:
		default:
		}
	}
	idle.Reset(idleTimeout)
}

// deliverFrame enqueues an inbound frame without blocking the read pump.
// Overflow drops the frame: state frames are refreshed by the next tick,
// and a room that falls this far behind is already degraded.
func (a *actor) deliverFrame(s *session, data []byte) {
	req := &actorRequest{kind: reqFrame, session: s, frame: data}
	select {
	case a.inbox <- req:
	case <-a.dead:
	default:
		metrics.WebsocketFrames.WithLabelValues("dropped", "ingress").Inc()
		logging.Warn(a.ctx, "Room inbox full, dropping frame",
			zap.String("player_id", string(s.playerID)))
	}
}

// notifyClose reports a dead socket. Closes ride their own channel so a
// flood of state frames can never crowd out roster bookkeeping; the send
// blocks until the actor takes it or retires.
func (a *actor) notifyClose(s *session) {
	select {
	case a.closings <- s:
	case <-a.dead:
	}
}

func (a *actor) handle(req *actorRequest) {
	reply := a.process(req)
	if req.reply != nil {
		req.reply <- reply
	}
}

// process runs one request under a panic guard: a failing handler drops
// its message and the room lives on.
func (a *actor) process(req *actorRequest) (reply actorReply) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error(a.ctx, "Recovered from panic in room handler", zap.Any("panic", r))
			reply = actorReply{err: errInternal}
		}
	}()

	switch req.kind {
	case reqCreate:
		return a.handleCreate(req.playerID)
	case reqInfo:
		return a.handleInfo()
	case reqJoin:
		return a.handleJoin(req.playerID)
	case reqAttach:
		return a.handleAttach(req.session)
	case reqFrame:
		a.handleFrame(req.session, req.frame)
	}
	return actorReply{}
}

// ensureLoaded lazily reads the snapshot on the first request after a
// cold start. A load failure leaves the actor unloaded so the next
// request retries.
func (a *actor) ensureLoaded() error {
	if a.loaded {
		return nil
	}
	state, err := loadRoomState(a.ctx, a.hub.kv, a.snapKey)
	if err != nil {
		logging.Error(a.ctx, "Failed to load room snapshot", zap.Error(err))
		return err
	}
	a.loaded = true
	a.room = state
	if state != nil {
		metrics.ActiveRooms.Inc()
		metrics.RoomPlayers.WithLabelValues(string(a.key.gameID)).Add(float64(len(state.Roster)))
		logging.Info(a.ctx, "Room resurrected from snapshot", zap.Int("players", len(state.Roster)))
	}
	return nil
}

// persist writes the snapshot. Failures are logged, not propagated: the
// in-memory room is the authority and the next persist supersedes.
func (a *actor) persist() {
	if a.room == nil {
		return
	}
	if err := saveRoomState(a.ctx, a.hub.kv, a.snapKey, a.room); err != nil {
		logging.Error(a.ctx, "Failed to persist room snapshot", zap.Error(err))
	}
}

func (a *actor) handleCreate(hostID types.PlayerID) actorReply {
	if err := a.ensureLoaded(); err != nil {
		return actorReply{err: errInternal}
	}
	if a.room != nil {
		return actorReply{err: errRoomExists}
	}

	a.room = newRoomState(a.key.gameID, hostID, time.Now().UnixMilli())
	a.persist()

	metrics.ActiveRooms.Inc()
	metrics.RoomPlayers.WithLabelValues(string(a.key.gameID)).Inc()
	a.hub.stats.Track(a.ctx, a.key.gameID, hostID, types.EventRoomCreate)
	a.hub.stats.Track(a.ctx, a.key.gameID, hostID, types.EventRoomJoin)
	logging.Info(a.ctx, "Room created", zap.String("host_id", string(hostID)))
	return actorReply{}
}

func (a *actor) handleInfo() actorReply {
	if err := a.ensureLoaded(); err != nil {
		return actorReply{err: errInternal}
	}
	if a.room == nil {
		return actorReply{err: errRoomNotFound}
	}
	return actorReply{info: &RoomInfo{
		GameID:      a.room.GameID,
		HostID:      a.room.HostID,
		CreatedAt:   a.room.CreatedAt,
		PlayerCount: len(a.room.Roster),
		Players:     a.room.sortedPlayers(),
	}}
}

func (a *actor) handleJoin(playerID types.PlayerID) actorReply {
	if err := a.ensureLoaded(); err != nil {
		return actorReply{err: errInternal}
	}
	if a.room == nil {
		return actorReply{err: errRoomNotFound}
	}

	if _, ok := a.room.Roster[playerID]; !ok {
		a.admitToRoster(playerID)
	}
	return actorReply{join: &JoinResult{
		Success:     true,
		HostID:      a.room.HostID,
		Players:     a.room.sortedPlayers(),
		PlayerCount: len(a.room.Roster),
	}}
}

// admitToRoster adds a new player and announces them to everyone already
// connected. Callers check membership first; joins are idempotent.
func (a *actor) admitToRoster(playerID types.PlayerID) {
	a.room.Roster[playerID] = rosterEntry{JoinedAt: time.Now().UnixMilli()}
	a.persist()

	a.broadcastExcept(playerID, frameTypePlayerJoined, encodeFrame(playerJoinedFrame{
		Type:        frameTypePlayerJoined,
		PlayerID:    playerID,
		PlayerCount: len(a.room.Roster),
	}))

	metrics.RoomPlayers.WithLabelValues(string(a.key.gameID)).Inc()
	a.hub.stats.Track(a.ctx, a.key.gameID, playerID, types.EventRoomJoin)
}

func (a *actor) handleAttach(s *session) actorReply {
	if err := a.ensureLoaded(); err != nil {
		s.shutdown(websocket.CloseInternalServerErr, "Storage unavailable")
		return actorReply{}
	}
	if a.room == nil {
		// The room vanished between the HTTP check and the upgrade.
		s.shutdown(websocket.ClosePolicyViolation, "Room not found")
		return actorReply{}
	}

	if prior, ok := a.sessions[s.playerID]; ok && prior != s {
		prior.shutdown(websocket.CloseNormalClosure, "Replaced by new connection")
		delete(a.sessions, s.playerID)
		logging.Info(a.ctx, "Replaced duplicate session", zap.String("player_id", string(s.playerID)))
	}
	a.sessions[s.playerID] = s

	if _, ok := a.room.Roster[s.playerID]; !ok {
		a.admitToRoster(s.playerID)
	}

	a.unicast(s, frameTypeConnected, encodeFrame(connectedFrame{
		Type:         frameTypeConnected,
		PlayerID:     s.playerID,
		Room:         a.room.summary(),
		PlayerStates: a.room.PlayerStates,
		GameState:    a.room.GameState,
	}))
	return actorReply{}
}

func (a *actor) handleFrame(s *session, data []byte) {
	if a.sessions[s.playerID] != s {
		return // replaced or already detached
	}
	if a.room == nil {
		return
	}

	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		logging.Warn(a.ctx, "Dropping malformed frame",
			zap.String("player_id", string(s.playerID)), zap.Error(err))
		return
	}

	switch frame.Type {
	case frameTypePlayerState:
		a.handlePlayerState(s, frame.State)
	case frameTypeGameState:
		a.handleGameState(s, frame.State)
	case frameTypeTransferHost:
		a.handleTransferHost(s, types.PlayerID(frame.NewHostID))
	case frameTypeBroadcast:
		a.handleRelayBroadcast(s, frame.Data, frame.ExcludeSelf)
	case frameTypeSend:
		a.handleRelaySend(s, types.PlayerID(frame.To), frame.Data)
	case frameTypePing:
		a.handlePing(s)
	default:
		// Unknown types are ignored for forward compatibility.
		metrics.WebsocketFrames.WithLabelValues("unknown", "ingress").Inc()
		return
	}
	metrics.WebsocketFrames.WithLabelValues(frame.Type, "ingress").Inc()
}

// handlePlayerState is the hot path: store, mark dirty for the next tick,
// and fan out a low-latency delta to everyone else.
func (a *actor) handlePlayerState(s *session, state json.RawMessage) {
	if len(state) == 0 {
		return
	}
	a.room.PlayerStates[s.playerID] = state
	a.dirty = true

	a.broadcastExcept(s.playerID, frameTypePlayerStateUpdate, encodeFrame(playerStateUpdateFrame{
		Type:     frameTypePlayerStateUpdate,
		PlayerID: s.playerID,
		State:    state,
	}))
}

func (a *actor) handleGameState(s *session, state json.RawMessage) {
	if s.playerID != a.room.HostID {
		return // host only, silently ignored
	}
	if len(state) == 0 {
		return
	}
	a.room.GameState = state
	a.persist()

	// Everyone including the sender, as confirmation.
	a.broadcastAll(frameTypeGameStateSync, encodeFrame(gameStateSyncFrame{
		Type:  frameTypeGameStateSync,
		State: state,
	}))
}

func (a *actor) handleTransferHost(s *session, newHostID types.PlayerID) {
	if s.playerID != a.room.HostID {
		return
	}
	if _, ok := a.room.Roster[newHostID]; !ok {
		return
	}
	a.room.HostID = newHostID
	a.persist()

	a.broadcastAll(frameTypeHostChanged, encodeFrame(hostChangedFrame{
		Type:   frameTypeHostChanged,
		HostID: newHostID,
	}))
}

func (a *actor) handleRelayBroadcast(s *session, data json.RawMessage, excludeSelf bool) {
	payload := encodeFrame(messageFrame{Type: frameTypeMessage, From: s.playerID, Data: data})
	if excludeSelf {
		a.broadcastExcept(s.playerID, frameTypeMessage, payload)
	} else {
		a.broadcastAll(frameTypeMessage, payload)
	}
}

func (a *actor) handleRelaySend(s *session, to types.PlayerID, data json.RawMessage) {
	target, ok := a.sessions[to]
	if !ok {
		return // absent recipient delivers to zero sessions
	}
	a.unicast(target, frameTypeMessage, encodeFrame(messageFrame{
		Type: frameTypeMessage,
		From: s.playerID,
		Data: data,
	}))
}

func (a *actor) handlePing(s *session) {
	a.unicast(s, frameTypePong, encodeFrame(pongFrame{
		Type:      frameTypePong,
		Timestamp: time.Now().UnixMilli(),
	}))
}

// handleTick batches dirty player state into one players_sync frame.
func (a *actor) handleTick() {
	if a.room == nil || !a.dirty || len(a.sessions) == 0 {
		return
	}
	a.broadcastAll(frameTypePlayersSync, encodeFrame(playersSyncFrame{
		Type:    frameTypePlayersSync,
		Players: a.room.PlayerStates,
	}))
	a.dirty = false
}

// handleClose runs the close protocol for one dead socket: roster and
// state removal, host migration, then either announce or tear down.
func (a *actor) handleClose(s *session) {
	if a.sessions[s.playerID] != s {
		return // stale close from a replaced session
	}
	delete(a.sessions, s.playerID)
	s.finish()

	if a.room == nil {
		return
	}
	playerID := s.playerID
	if _, ok := a.room.Roster[playerID]; !ok {
		return
	}

	wasHost := playerID == a.room.HostID
	delete(a.room.Roster, playerID)
	delete(a.room.PlayerStates, playerID)
	metrics.RoomPlayers.WithLabelValues(string(a.key.gameID)).Dec()
	a.hub.stats.Track(a.ctx, a.key.gameID, playerID, types.EventRoomLeave)

	if len(a.room.Roster) == 0 {
		a.closeRoom(playerID)
		return
	}

	if wasHost {
		if next, ok := a.room.nextHost(); ok {
			a.room.HostID = next
			a.broadcastAll(frameTypeHostChanged, encodeFrame(hostChangedFrame{
				Type:   frameTypeHostChanged,
				HostID: next,
			}))
			logging.Info(a.ctx, "Host migrated", zap.String("host_id", string(next)))
		}
	}
	a.persist()
	a.broadcastAll(frameTypePlayerLeft, encodeFrame(playerLeftFrame{
		Type:        frameTypePlayerLeft,
		PlayerID:    playerID,
		PlayerCount: len(a.room.Roster),
	}))
}

// closeRoom destroys the room after the last player leaves. The snapshot
// is deleted, so the next boot of this code finds nothing.
func (a *actor) closeRoom(lastPlayerID types.PlayerID) {
	if err := deleteRoomState(a.ctx, a.hub.kv, a.snapKey); err != nil {
		logging.Error(a.ctx, "Failed to delete room snapshot", zap.Error(err))
	}
	a.hub.stats.Track(a.ctx, a.key.gameID, lastPlayerID, types.EventRoomClose)
	metrics.ActiveRooms.Dec()
	logging.Info(a.ctx, "Room closed")
	a.room = nil
	a.dirty = false
}

// hibernate parks a room that still has a roster but no sockets. The
// snapshot stays; the next delivery resurrects it.
func (a *actor) hibernate() {
	if a.room == nil {
		return
	}
	a.persist()
	metrics.ActiveRooms.Dec()
	metrics.RoomPlayers.WithLabelValues(string(a.key.gameID)).Sub(float64(len(a.room.Roster)))
	logging.Info(a.ctx, "Room hibernating", zap.Int("players", len(a.room.Roster)))
}

// drainForShutdown persists and closes every session. Snapshots survive a
// restart; only the sockets are lost.
func (a *actor) drainForShutdown() {
	if a.room != nil {
		a.persist()
		metrics.ActiveRooms.Dec()
		metrics.RoomPlayers.WithLabelValues(string(a.key.gameID)).Sub(float64(len(a.room.Roster)))
	}
	for _, s := range a.sessions {
		s.shutdown(websocket.CloseGoingAway, "Server shutting down")
	}
	a.sessions = map[types.PlayerID]*session{}
}

func (a *actor) unicast(s *session, frameType string, data []byte) {
	if data == nil {
		return
	}
	metrics.WebsocketFrames.WithLabelValues(frameType, "egress").Inc()
	s.sendRaw(data)
}

func (a *actor) broadcastAll(frameType string, data []byte) {
	if data == nil {
		return
	}
	metrics.WebsocketFrames.WithLabelValues(frameType, "egress").Inc()
	for _, s := range a.sessions {
		s.sendRaw(data)
	}
}

func (a *actor) broadcastExcept(playerID types.PlayerID, frameType string, data []byte) {
	if data == nil {
		return
	}
	metrics.WebsocketFrames.WithLabelValues(frameType, "egress").Inc()
	for id, s := range a.sessions {
		if id == playerID {
			continue
		}
		s.sendRaw(data)
	}
}
