package hub

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/corkboard-app/corkboard/internal/models"
	"github.com/corkboard-app/corkboard/internal/protocol"
	"github.com/corkboard-app/corkboard/internal/store"
)

func testHub() *Hub {
	st := store.NewRoomStore(models.Geometry{
		CanvasWidth:  1000,
		CanvasHeight: 800,
		BoxWidth:     150,
		BoxHeight:    150,
	})
	return New(st, zerolog.Nop())
}

// send builds an inbound frame and dispatches it.
func send(t *testing.T, h *Hub, s *Session, event string, payload any) {
	t.Helper()
	buf, err := protocol.Encode(event, payload)
	require.NoError(t, err)
	h.Dispatch(s, buf)
}

// recv pops one queued frame and decodes its envelope.
func recv(t *testing.T, s *Session) *protocol.Envelope {
	t.Helper()
	select {
	case buf, ok := <-s.send:
		require.True(t, ok, "session already closed")
		env, err := protocol.DecodeEnvelope(buf)
		require.NoError(t, err)
		return env
	default:
		t.Fatal("expected a queued frame")
		return nil
	}
}

func requireSilent(t *testing.T, s *Session) {
	t.Helper()
	select {
	case buf, ok := <-s.send:
		if ok {
			t.Fatalf("unexpected frame: %s", buf)
		}
	default:
	}
}

func join(t *testing.T, h *Hub, s *Session, roomID string) {
	t.Helper()
	send(t, h, s, protocol.EventJoinRoom, protocol.JoinRoom{RoomID: roomID})
	env := recv(t, s)
	require.Equal(t, protocol.EventLoadBoxes, env.Event)
}

func TestJoinHydratesRequesterOnly(t *testing.T) {
	h := testHub()
	a, b := h.NewSession(nil), h.NewSession(nil)

	join(t, h, a, "r1")
	send(t, h, a, protocol.EventCreateBox, protocol.BoxPayload{
		Box: models.Box{ID: "1", Top: 100, Left: 100, Text: "hey"},
	})
	recv(t, a) // new_box echo

	send(t, h, b, protocol.EventJoinRoom, protocol.JoinRoom{RoomID: "r1"})
	env := recv(t, b)
	require.Equal(t, protocol.EventLoadBoxes, env.Event)

	var loaded protocol.LoadBoxes
	require.NoError(t, json.Unmarshal(env.Data, &loaded))
	require.Equal(t, "r1", loaded.RoomID)
	require.Len(t, loaded.Boxes, 1)
	require.Equal(t, "hey", loaded.Boxes[0].Text)

	// Joining must not produce traffic for existing members.
	requireSilent(t, a)
}

func TestCreateEchoesToRequester(t *testing.T) {
	h := testHub()
	a, b := h.NewSession(nil), h.NewSession(nil)
	join(t, h, a, "r1")
	join(t, h, b, "r1")

	send(t, h, a, protocol.EventCreateBox, protocol.BoxPayload{
		Box: models.Box{ID: "42", Top: 100, Left: 100},
	})

	// Creation renders only after round-trip confirmation, so the
	// requester receives its own new_box.
	for _, s := range []*Session{a, b} {
		env := recv(t, s)
		require.Equal(t, protocol.EventNewBox, env.Event)
		p, err := env.DecodeBox()
		require.NoError(t, err)
		require.Equal(t, "42", p.ID)
		require.Equal(t, "r1", p.Room)
	}
}

func TestMoveSuppressesEcho(t *testing.T) {
	h := testHub()
	a, b := h.NewSession(nil), h.NewSession(nil)
	join(t, h, a, "r1")
	join(t, h, b, "r1")

	send(t, h, a, protocol.EventCreateBox, protocol.BoxPayload{Box: models.Box{ID: "42"}})
	recv(t, a)
	recv(t, b)

	send(t, h, a, protocol.EventMoveBox, protocol.MovePayload{ID: "42", Top: 60, Left: 50})

	requireSilent(t, a)
	env := recv(t, b)
	require.Equal(t, protocol.EventMoveBox, env.Event)
	p, err := env.DecodeMove()
	require.NoError(t, err)
	require.Equal(t, 60.0, p.Top)
	require.Equal(t, 50.0, p.Left)
}

func TestMoveBroadcastsClampedPosition(t *testing.T) {
	h := testHub()
	a, b := h.NewSession(nil), h.NewSession(nil)
	join(t, h, a, "r1")
	join(t, h, b, "r1")

	send(t, h, a, protocol.EventCreateBox, protocol.BoxPayload{Box: models.Box{ID: "42"}})
	recv(t, a)
	recv(t, b)

	send(t, h, a, protocol.EventMoveBox, protocol.MovePayload{ID: "42", Top: -500, Left: 99999})

	p, err := recv(t, b).DecodeMove()
	require.NoError(t, err)
	require.Equal(t, 0.0, p.Top)
	require.Equal(t, 850.0, p.Left)
}

func TestUpdateAndDeleteSuppressEcho(t *testing.T) {
	h := testHub()
	a, b := h.NewSession(nil), h.NewSession(nil)
	join(t, h, a, "r1")
	join(t, h, b, "r1")

	send(t, h, a, protocol.EventCreateBox, protocol.BoxPayload{Box: models.Box{ID: "42"}})
	recv(t, a)
	recv(t, b)

	send(t, h, a, protocol.EventUpdateBox, protocol.TextPayload{ID: "42", Text: "hello"})
	requireSilent(t, a)
	p, err := recv(t, b).DecodeText()
	require.NoError(t, err)
	require.Equal(t, "hello", p.Text)

	send(t, h, a, protocol.EventDeleteBox, protocol.IDPayload{ID: "42"})
	requireSilent(t, a)
	env := recv(t, b)
	require.Equal(t, protocol.EventRemoveBox, env.Event)
}

func TestRoomIsolation(t *testing.T) {
	h := testHub()
	a, b := h.NewSession(nil), h.NewSession(nil)
	join(t, h, a, "r1")
	join(t, h, b, "r2")

	send(t, h, a, protocol.EventCreateBox, protocol.BoxPayload{Box: models.Box{ID: "42"}})
	recv(t, a)

	requireSilent(t, b)
	require.Equal(t, 0, h.store.Len("r2"))
}

func TestMutationRequiresMembership(t *testing.T) {
	h := testHub()
	a, outsider := h.NewSession(nil), h.NewSession(nil)
	join(t, h, a, "r1")

	send(t, h, a, protocol.EventCreateBox, protocol.BoxPayload{Box: models.Box{ID: "42", Text: "mine"}})
	recv(t, a)

	// Explicit room the outsider never joined.
	send(t, h, outsider, protocol.EventUpdateBox, protocol.TextPayload{ID: "42", Text: "stomp", Room: "r1"})
	requireSilent(t, a)

	got, err := h.store.Get("r1", "42")
	require.NoError(t, err)
	require.Equal(t, "mine", got.Text)

	// No membership at all and no explicit room.
	send(t, h, outsider, protocol.EventDeleteBox, protocol.IDPayload{ID: "42"})
	require.Equal(t, 1, h.store.Len("r1"))
}

func TestExplicitRoomSelectsAmongMemberships(t *testing.T) {
	h := testHub()
	a, b := h.NewSession(nil), h.NewSession(nil)
	join(t, h, a, "r1")
	join(t, h, a, "r2")
	join(t, h, b, "r2")

	// Ambiguous: member of two rooms, no room in payload.
	send(t, h, a, protocol.EventCreateBox, protocol.BoxPayload{Box: models.Box{ID: "42"}})
	requireSilent(t, a)

	send(t, h, a, protocol.EventCreateBox, protocol.BoxPayload{
		Box:  models.Box{ID: "42"},
		Room: "r2",
	})
	recv(t, a)
	env := recv(t, b)
	require.Equal(t, protocol.EventNewBox, env.Event)
	require.Equal(t, 1, h.store.Len("r2"))
	require.Equal(t, 0, h.store.Len("r1"))
}

func TestDuplicateCreateRejectedWithoutBroadcast(t *testing.T) {
	h := testHub()
	a, b := h.NewSession(nil), h.NewSession(nil)
	join(t, h, a, "r1")
	join(t, h, b, "r1")

	send(t, h, a, protocol.EventCreateBox, protocol.BoxPayload{Box: models.Box{ID: "42", Text: "first"}})
	recv(t, a)
	recv(t, b)

	send(t, h, b, protocol.EventCreateBox, protocol.BoxPayload{Box: models.Box{ID: "42", Text: "second"}})
	requireSilent(t, a)
	requireSilent(t, b)

	got, err := h.store.Get("r1", "42")
	require.NoError(t, err)
	require.Equal(t, "first", got.Text)
}

func TestMissingBoxMutationsDropSilently(t *testing.T) {
	h := testHub()
	a, b := h.NewSession(nil), h.NewSession(nil)
	join(t, h, a, "r1")
	join(t, h, b, "r1")

	send(t, h, a, protocol.EventMoveBox, protocol.MovePayload{ID: "ghost", Top: 1, Left: 1})
	send(t, h, a, protocol.EventUpdateBox, protocol.TextPayload{ID: "ghost", Text: "x"})
	send(t, h, a, protocol.EventDeleteBox, protocol.IDPayload{ID: "ghost"})

	requireSilent(t, a)
	requireSilent(t, b)
}

func TestMalformedFramesDropSilently(t *testing.T) {
	h := testHub()
	a := h.NewSession(nil)
	join(t, h, a, "r1")

	h.Dispatch(a, []byte(`not json`))
	h.Dispatch(a, []byte(`{"event":""}`))
	h.Dispatch(a, []byte(`{"event":"warp_box","data":{}}`))
	h.Dispatch(a, []byte(`{"event":"create_box","data":{"top":1}}`)) // missing id
	h.Dispatch(a, []byte(`{"event":"join_room","data":{}}`))         // missing room_id

	requireSilent(t, a)
	require.Equal(t, 0, h.store.Len("r1"))
}

func TestDetachEndsMembership(t *testing.T) {
	h := testHub()
	a, b := h.NewSession(nil), h.NewSession(nil)
	join(t, h, a, "r1")
	join(t, h, b, "r1")
	require.Equal(t, 2, h.Members("r1"))

	h.Detach(b)
	h.Detach(b) // idempotent
	require.Equal(t, 1, h.Members("r1"))

	send(t, h, a, protocol.EventCreateBox, protocol.BoxPayload{Box: models.Box{ID: "42"}})
	recv(t, a)
	// Detached session's queue stays empty.
	requireSilent(t, b)
}

func TestScenarioJoinCreateDrag(t *testing.T) {
	h := testHub()
	creator, other := h.NewSession(nil), h.NewSession(nil)

	// Join empty room: load_boxes([]).
	send(t, h, creator, protocol.EventJoinRoom, protocol.JoinRoom{RoomID: "r1"})
	env := recv(t, creator)
	var loaded protocol.LoadBoxes
	require.NoError(t, json.Unmarshal(env.Data, &loaded))
	require.Empty(t, loaded.Boxes)

	join(t, h, other, "r1")

	// Create box 42 at (100, 100): everyone renders it, creator included.
	send(t, h, creator, protocol.EventCreateBox, protocol.BoxPayload{
		Box: models.Box{ID: "42", Top: 100, Left: 100, Text: ""},
	})
	require.Equal(t, 1, h.store.Len("r1"))
	require.Equal(t, protocol.EventNewBox, recv(t, creator).Event)
	require.Equal(t, protocol.EventNewBox, recv(t, other).Event)

	// Drag release emits one move_box; only the other member sees it.
	send(t, h, creator, protocol.EventMoveBox, protocol.MovePayload{ID: "42", Top: 60, Left: 50})
	requireSilent(t, creator)
	p, err := recv(t, other).DecodeMove()
	require.NoError(t, err)
	require.Equal(t, 60.0, p.Top)
	require.Equal(t, 50.0, p.Left)

	got, err := h.store.Get("r1", "42")
	require.NoError(t, err)
	require.Equal(t, 60.0, got.Top)
	require.Equal(t, 50.0, got.Left)
}
