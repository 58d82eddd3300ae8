// Package store holds the authoritative per-room box state. The RoomStore
// is the single source of truth: clients only ever see copies of it.
package store

import (
	"errors"
	"sync"

	"github.com/corkboard-app/corkboard/internal/models"
)

var (
	// ErrNotFound means a mutation targeted a box id absent from the room.
	// Non-fatal: callers drop the mutation.
	ErrNotFound = errors.New("store: box not found")

	// ErrDuplicateID means a create collided with an existing box id. The
	// existing box is never overwritten.
	ErrDuplicateID = errors.New("store: duplicate box id")
)

// room is one room's box map plus the mutex that serializes its mutations.
type room struct {
	mu    sync.Mutex
	boxes map[string]models.Box
}

// RoomStore maps room ids to their box state. Mutations on one room are
// serialized; distinct rooms proceed in parallel.
type RoomStore struct {
	geo models.Geometry

	mu    sync.RWMutex // protects rooms map, not room contents
	rooms map[string]*room
}

// NewRoomStore creates an empty store clamping positions to geo.
func NewRoomStore(geo models.Geometry) *RoomStore {
	return &RoomStore{
		geo:   geo,
		rooms: make(map[string]*room),
	}
}

// Geometry returns the clamp geometry the store was built with.
func (s *RoomStore) Geometry() models.Geometry {
	return s.geo
}

// get returns the room, creating it lazily when create is set.
func (s *RoomStore) get(roomID string, create bool) *room {
	s.mu.RLock()
	r := s.rooms[roomID]
	s.mu.RUnlock()
	if r != nil || !create {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r = s.rooms[roomID]; r == nil {
		r = &room{boxes: make(map[string]models.Box)}
		s.rooms[roomID] = r
	}
	return r
}

// Join returns a snapshot of the room's boxes, creating the room lazily.
// Joining a room that does not exist yet is not an error.
func (s *RoomStore) Join(roomID string) []models.Box {
	r := s.get(roomID, true)

	r.mu.Lock()
	defer r.mu.Unlock()
	boxes := make([]models.Box, 0, len(r.boxes))
	for _, b := range r.boxes {
		boxes = append(boxes, b)
	}
	return boxes
}

// Create inserts a new box. The initial position is clamped the same way
// moves are, so stored state never holds an off-canvas box.
func (s *RoomStore) Create(roomID string, box models.Box) error {
	r := s.get(roomID, true)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.boxes[box.ID]; ok {
		return ErrDuplicateID
	}
	pos := s.geo.Clamp(models.Position{Top: box.Top, Left: box.Left})
	box.Top, box.Left = pos.Top, pos.Left
	r.boxes[box.ID] = box
	return nil
}

// Move updates a box's position, clamped into the valid canvas range, and
// returns the position actually stored.
func (s *RoomStore) Move(roomID, id string, pos models.Position) (models.Position, error) {
	r := s.get(roomID, false)
	if r == nil {
		return models.Position{}, ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.boxes[id]
	if !ok {
		return models.Position{}, ErrNotFound
	}
	pos = s.geo.Clamp(pos)
	b.Top, b.Left = pos.Top, pos.Left
	r.boxes[id] = b
	return pos, nil
}

// UpdateText replaces a box's text unconditionally (last writer wins).
func (s *RoomStore) UpdateText(roomID, id, text string) error {
	r := s.get(roomID, false)
	if r == nil {
		return ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.boxes[id]
	if !ok {
		return ErrNotFound
	}
	b.Text = text
	r.boxes[id] = b
	return nil
}

// Delete removes a box. Deleting an already-deleted id reports ErrNotFound
// and leaves the store untouched.
func (s *RoomStore) Delete(roomID, id string) error {
	r := s.get(roomID, false)
	if r == nil {
		return ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.boxes[id]; !ok {
		return ErrNotFound
	}
	delete(r.boxes, id)
	return nil
}

// Get returns a copy of one box.
func (s *RoomStore) Get(roomID, id string) (models.Box, error) {
	r := s.get(roomID, false)
	if r == nil {
		return models.Box{}, ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.boxes[id]
	if !ok {
		return models.Box{}, ErrNotFound
	}
	return b, nil
}

// Len reports the number of boxes in a room. A missing room is empty.
func (s *RoomStore) Len(roomID string) int {
	r := s.get(roomID, false)
	if r == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.boxes)
}

// Forget drops a room from the registry if it holds no boxes. Called when
// the last member leaves; the room is recreated lazily on next touch.
func (s *RoomStore) Forget(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rooms[roomID]
	if r == nil {
		return
	}
	r.mu.Lock()
	empty := len(r.boxes) == 0
	r.mu.Unlock()
	if empty {
		delete(s.rooms, roomID)
	}
}
