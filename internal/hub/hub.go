// Package hub bridges transport-level events and the room store. It owns
// the membership registry and the fan-out policy: which room members see
// which broadcast, and whether the requester is echoed.
package hub

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/corkboard-app/corkboard/internal/metrics"
	"github.com/corkboard-app/corkboard/internal/protocol"
	"github.com/corkboard-app/corkboard/internal/store"
)

var (
	// ErrNotAMember means a mutation referenced a room the session never
	// joined. The mutation is rejected without touching the store.
	ErrNotAMember = errors.New("hub: not a member of room")

	// ErrNoRoom means a mutation carried no room and the session's
	// membership does not determine one.
	ErrNoRoom = errors.New("hub: no target room")
)

// Hub coordinates sessions, the room store and broadcast fan-out. All
// methods are safe for concurrent use.
type Hub struct {
	store  *store.RoomStore
	logger zerolog.Logger

	mu       sync.RWMutex
	rooms    map[string]map[*Session]struct{}
	roomMu   map[string]*sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

// New creates a hub over the given store.
func New(st *store.RoomStore, logger zerolog.Logger) *Hub {
	return &Hub{
		store:    st,
		logger:   logger.With().Str("component", "hub").Logger(),
		rooms:    make(map[string]map[*Session]struct{}),
		roomMu:   make(map[string]*sync.Mutex),
		sessions: make(map[*Session]struct{}),
	}
}

// roomLock returns the mutex serializing one room's mutations. Applying a
// mutation and enqueueing its fan-out happen under this lock, so every
// member observes the same event order; distinct rooms stay independent.
func (h *Hub) roomLock(roomID string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	mu := h.roomMu[roomID]
	if mu == nil {
		mu = &sync.Mutex{}
		h.roomMu[roomID] = mu
	}
	return mu
}

// Dispatch decodes one inbound frame from a session and applies it.
// Every failure is recovered here: logged, counted, and dropped without
// closing the connection or producing a broadcast.
func (h *Hub) Dispatch(s *Session, raw []byte) {
	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		metrics.EventsReceived.WithLabelValues("unknown", "malformed").Inc()
		h.logger.Warn().Err(err).Str("session", s.ID.String()).Msg("dropping frame")
		return
	}

	err = h.handle(s, env)
	switch {
	case err == nil:
		metrics.EventsReceived.WithLabelValues(env.Event, "ok").Inc()
	case errors.Is(err, protocol.ErrMalformedPayload):
		metrics.EventsReceived.WithLabelValues(env.Event, "malformed").Inc()
		h.logger.Warn().Err(err).Str("session", s.ID.String()).Msg("dropping frame")
	default:
		// NotFound, DuplicateID, NotAMember: rejected deterministically,
		// never fatal to the connection.
		metrics.EventsReceived.WithLabelValues(env.Event, "rejected").Inc()
		h.logger.Warn().
			Err(err).
			Str("session", s.ID.String()).
			Str("event", env.Event).
			Msg("mutation rejected")
	}
}

func (h *Hub) handle(s *Session, env *protocol.Envelope) error {
	switch env.Event {
	case protocol.EventJoinRoom:
		p, err := env.DecodeJoinRoom()
		if err != nil {
			return err
		}
		return h.handleJoin(s, p.RoomID)

	case protocol.EventCreateBox:
		p, err := env.DecodeBox()
		if err != nil {
			return err
		}
		return h.handleCreate(s, p)

	case protocol.EventMoveBox:
		p, err := env.DecodeMove()
		if err != nil {
			return err
		}
		return h.handleMove(s, p)

	case protocol.EventUpdateBox:
		p, err := env.DecodeText()
		if err != nil {
			return err
		}
		return h.handleUpdate(s, p)

	case protocol.EventDeleteBox:
		p, err := env.DecodeID()
		if err != nil {
			return err
		}
		return h.handleDelete(s, p)
	}
	return fmt.Errorf("%w: unknown event %q", protocol.ErrMalformedPayload, env.Event)
}

// handleJoin registers membership and hydrates the requester with the
// room's current boxes. Only the requester receives load_boxes.
func (h *Hub) handleJoin(s *Session, roomID string) error {
	mu := h.roomLock(roomID)
	mu.Lock()
	defer mu.Unlock()

	h.mu.Lock()
	members := h.rooms[roomID]
	if members == nil {
		members = make(map[*Session]struct{})
		h.rooms[roomID] = members
	}
	members[s] = struct{}{}
	s.rooms[roomID] = struct{}{}
	h.mu.Unlock()

	boxes := h.store.Join(roomID)
	s.Send(protocol.MustEncode(protocol.EventLoadBoxes, protocol.LoadBoxes{
		RoomID: roomID,
		Boxes:  boxes,
	}))

	h.logger.Info().
		Str("session", s.ID.String()).
		Str("room", roomID).
		Int("boxes", len(boxes)).
		Msg("session joined room")
	return nil
}

// handleCreate inserts the box and fans out new_box to every member,
// including the requester: creation renders only after round-trip
// confirmation, keeping a single creation path.
func (h *Hub) handleCreate(s *Session, p *protocol.BoxPayload) error {
	roomID, err := h.targetRoom(s, p.Room)
	if err != nil {
		return err
	}
	mu := h.roomLock(roomID)
	mu.Lock()
	defer mu.Unlock()

	if err := h.store.Create(roomID, p.Box); err != nil {
		return err
	}

	// Broadcast the stored box so clamped positions win over raw input.
	box, err := h.store.Get(roomID, p.ID)
	if err != nil {
		return err
	}
	metrics.BoxesCreated.Inc()
	h.broadcast(roomID, protocol.EventNewBox, protocol.BoxPayload{Box: box, Room: roomID}, nil)
	return nil
}

// handleMove stores the clamped position and fans it out to everyone but
// the requester, whose UI already shows it from local drag state.
func (h *Hub) handleMove(s *Session, p *protocol.MovePayload) error {
	roomID, err := h.targetRoom(s, p.Room)
	if err != nil {
		return err
	}
	mu := h.roomLock(roomID)
	mu.Lock()
	defer mu.Unlock()

	stored, err := h.store.Move(roomID, p.ID, p.Position())
	if err != nil {
		return err
	}
	h.broadcast(roomID, protocol.EventMoveBox, protocol.MovePayload{
		ID:   p.ID,
		Top:  stored.Top,
		Left: stored.Left,
		Room: roomID,
	}, s)
	return nil
}

// handleUpdate applies last-writer-wins text and fans out to everyone but
// the requester.
func (h *Hub) handleUpdate(s *Session, p *protocol.TextPayload) error {
	roomID, err := h.targetRoom(s, p.Room)
	if err != nil {
		return err
	}
	mu := h.roomLock(roomID)
	mu.Lock()
	defer mu.Unlock()

	if err := h.store.UpdateText(roomID, p.ID, p.Text); err != nil {
		return err
	}
	h.broadcast(roomID, protocol.EventUpdateBox, protocol.TextPayload{
		ID:   p.ID,
		Text: p.Text,
		Room: roomID,
	}, s)
	return nil
}

// handleDelete removes the box and fans out remove_box to everyone but
// the requester.
func (h *Hub) handleDelete(s *Session, p *protocol.IDPayload) error {
	roomID, err := h.targetRoom(s, p.Room)
	if err != nil {
		return err
	}
	mu := h.roomLock(roomID)
	mu.Lock()
	defer mu.Unlock()

	if err := h.store.Delete(roomID, p.ID); err != nil {
		return err
	}
	metrics.BoxesDeleted.Inc()
	h.broadcast(roomID, protocol.EventRemoveBox, protocol.IDPayload{ID: p.ID, Room: roomID}, s)
	return nil
}

// targetRoom resolves which room a mutation applies to. An explicit room
// in the payload must be one the session joined; with no explicit room,
// the session's sole membership is used.
func (h *Hub) targetRoom(s *Session, explicit string) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if explicit != "" {
		if _, ok := s.rooms[explicit]; !ok {
			return "", ErrNotAMember
		}
		return explicit, nil
	}
	if len(s.rooms) == 1 {
		for roomID := range s.rooms {
			return roomID, nil
		}
	}
	return "", ErrNoRoom
}

// broadcast encodes the event once and fans it out to the room's members,
// skipping except. Members that cannot keep up are disconnected rather
// than blocking the fan-out.
func (h *Hub) broadcast(roomID, event string, payload any, except *Session) {
	buf := protocol.MustEncode(event, payload)

	h.mu.RLock()
	members := make([]*Session, 0, len(h.rooms[roomID]))
	for member := range h.rooms[roomID] {
		if member != except {
			members = append(members, member)
		}
	}
	h.mu.RUnlock()

	for _, member := range members {
		if !member.trySend(buf) {
			metrics.SessionsDropped.WithLabelValues("slow_consumer").Inc()
			h.logger.Warn().
				Str("session", member.ID.String()).
				Str("room", roomID).
				Msg("dropping slow consumer")
			h.Detach(member)
		}
	}
	metrics.EventsBroadcast.WithLabelValues(event).Add(float64(len(members)))
}

// Detach removes a session from all rooms and closes its send channel.
// Safe to call more than once. Rooms left with no members and no boxes
// are forgotten.
func (h *Hub) Detach(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s)
	var emptied []string
	for roomID := range s.rooms {
		members := h.rooms[roomID]
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, roomID)
			delete(h.roomMu, roomID)
			emptied = append(emptied, roomID)
		}
	}
	h.mu.Unlock()

	for _, roomID := range emptied {
		h.store.Forget(roomID)
	}
	s.close()
	metrics.SessionsConnected.Dec()
	h.logger.Info().Str("session", s.ID.String()).Msg("session detached")
}

// Members reports the number of sessions currently joined to a room.
func (h *Hub) Members(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Close detaches every session. Used on server shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		h.Detach(s)
	}
}
