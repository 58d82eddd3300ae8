package corkboard

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/corkboard-app/corkboard/internal/models"
	"github.com/corkboard-app/corkboard/internal/protocol"
)

// emitter sends one event to the hub. Satisfied by Client; tests use a
// recording fake.
type emitter interface {
	emit(event string, payload any) error
}

// Board reconciles one room's rendered state with server broadcasts. It
// holds server-confirmed boxes plus the local optimistic state of boxes
// the user is currently dragging or typing into.
type Board struct {
	e        emitter
	roomID   string
	geo      models.Geometry
	debounce time.Duration

	mu    sync.Mutex
	boxes map[string]*BoxHandle
}

func newBoard(e emitter, roomID string, geo models.Geometry, debounce time.Duration) *Board {
	return &Board{
		e:        e,
		roomID:   roomID,
		geo:      geo,
		debounce: debounce,
		boxes:    make(map[string]*BoxHandle),
	}
}

// RoomID returns the room this board is joined to.
func (b *Board) RoomID() string { return b.roomID }

// load replaces the board's contents with a server snapshot. Pending local
// edits are abandoned: a resync means the connection dropped and the
// server state is the only truth left.
func (b *Board) load(boxes []models.Box) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range b.boxes {
		h.stopTimer()
	}
	b.boxes = make(map[string]*BoxHandle, len(boxes))
	for _, box := range boxes {
		b.boxes[box.ID] = newHandle(b, box)
	}
}

// CreateBox asks the server to create a box. The box appears on the board
// only when the new_box confirmation round-trips; there is no optimistic
// local insert, keeping a single creation path. Returns the new box id.
func (b *Board) CreateBox(top, left float64, text string) (string, error) {
	id := ulid.Make().String()
	err := b.e.emit(protocol.EventCreateBox, protocol.BoxPayload{
		Box:  models.Box{ID: id, Top: top, Left: left, Text: text},
		Room: b.roomID,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// DeleteBox removes a box locally and asks the server to delete it. The
// local removal is optimistic; no remove_box echo will arrive.
func (b *Board) DeleteBox(id string) error {
	b.applyRemove(id)
	return b.e.emit(protocol.EventDeleteBox, protocol.IDPayload{ID: id, Room: b.roomID})
}

// Box returns the handle for a box id, or nil if the box is not on the
// board.
func (b *Board) Box(id string) *BoxHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.boxes[id]
}

// Boxes returns a snapshot of the rendered state of every box.
func (b *Board) Boxes() []models.Box {
	b.mu.Lock()
	handles := make([]*BoxHandle, 0, len(b.boxes))
	for _, h := range b.boxes {
		handles = append(handles, h)
	}
	b.mu.Unlock()

	boxes := make([]models.Box, 0, len(handles))
	for _, h := range handles {
		boxes = append(boxes, h.Snapshot())
	}
	return boxes
}

// FlushAll sends any pending debounced text updates immediately.
func (b *Board) FlushAll() {
	b.mu.Lock()
	handles := make([]*BoxHandle, 0, len(b.boxes))
	for _, h := range b.boxes {
		handles = append(handles, h)
	}
	b.mu.Unlock()

	for _, h := range handles {
		h.Flush()
	}
}

func (b *Board) applyNew(box models.Box) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.boxes[box.ID]; ok {
		return // duplicate delivery
	}
	b.boxes[box.ID] = newHandle(b, box)
}

func (b *Board) applyMove(id string, pos models.Position) {
	if h := b.Box(id); h != nil {
		h.applyMove(pos)
	}
}

func (b *Board) applyText(id, text string) {
	if h := b.Box(id); h != nil {
		h.applyText(text)
	}
}

func (b *Board) applyRemove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.boxes[id]; ok {
		h.stopTimer()
		delete(b.boxes, id)
	}
}

// BoxHandle is the per-box reconciler. It runs two independent state
// machines: a drag axis (Idle/Dragging) and an edit axis (Clean/Dirty
// with a pending debounce timer).
type BoxHandle struct {
	board *Board
	id    string

	mu       sync.Mutex
	top      float64
	left     float64
	text     string
	dragging bool
	dirty    bool        // local text not yet sent
	timer    *time.Timer // pending debounced send, nil when Clean
}

func newHandle(b *Board, box models.Box) *BoxHandle {
	return &BoxHandle{
		board: b,
		id:    box.ID,
		top:   box.Top,
		left:  box.Left,
		text:  box.Text,
	}
}

// ID returns the box id.
func (h *BoxHandle) ID() string { return h.id }

// Snapshot returns the currently rendered state of the box.
func (h *BoxHandle) Snapshot() models.Box {
	h.mu.Lock()
	defer h.mu.Unlock()
	return models.Box{ID: h.id, Top: h.top, Left: h.left, Text: h.text}
}

// Dragging reports whether the drag axis is in the Dragging state.
func (h *BoxHandle) Dragging() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dragging
}

// BeginDrag moves the drag axis to Dragging. While dragging, position
// changes are rendered locally and nothing is sent.
func (h *BoxHandle) BeginDrag() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dragging = true
}

// DragTo renders a local position during a drag, clamped to the canvas.
// No-op when not dragging.
func (h *BoxHandle) DragTo(top, left float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dragging {
		return
	}
	pos := h.board.geo.Clamp(models.Position{Top: top, Left: left})
	h.top, h.left = pos.Top, pos.Left
}

// EndDrag returns the drag axis to Idle and emits exactly one move_box
// carrying the final position. No-op when not dragging.
func (h *BoxHandle) EndDrag() error {
	h.mu.Lock()
	if !h.dragging {
		h.mu.Unlock()
		return nil
	}
	h.dragging = false
	top, left := h.top, h.left
	h.mu.Unlock()

	return h.board.e.emit(protocol.EventMoveBox, protocol.MovePayload{
		ID:   h.id,
		Top:  top,
		Left: left,
		Room: h.board.roomID,
	})
}

// Input records a local keystroke: the new text renders immediately, the
// edit axis goes Dirty, and the debounce timer restarts. At most one
// timer is pending per box.
func (h *BoxHandle) Input(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.text = text
	h.dirty = true
	if h.timer != nil {
		h.timer.Stop()
	}
	h.timer = time.AfterFunc(h.board.debounce, h.Flush)
}

// Flush sends the pending text update now, if any, and returns the edit
// axis to Clean. Called by the debounce timer; also usable directly
// (e.g. on blur or shutdown).
func (h *BoxHandle) Flush() {
	h.mu.Lock()
	if !h.dirty {
		h.mu.Unlock()
		return
	}
	h.dirty = false
	h.stopTimerLocked()
	text := h.text
	h.mu.Unlock()

	h.board.e.emit(protocol.EventUpdateBox, protocol.TextPayload{
		ID:   h.id,
		Text: text,
		Room: h.board.roomID,
	})
}

// Dirty reports whether a local edit is awaiting its debounced send.
func (h *BoxHandle) Dirty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dirty
}

// applyMove renders a remote position. Remote moves are never suppressed:
// only one local actor drags a given box in this model, and the last
// writer wins on conflict.
func (h *BoxHandle) applyMove(pos models.Position) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.top, h.left = pos.Top, pos.Left
}

// applyText renders a remote text update unless the local user is mid-
// edit. Discarding while Dirty is the typing guard: a remote edit must
// not stomp on an in-progress keystroke sequence.
func (h *BoxHandle) applyText(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dirty {
		return
	}
	h.text = text
}

func (h *BoxHandle) stopTimer() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopTimerLocked()
}

func (h *BoxHandle) stopTimerLocked() {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}
