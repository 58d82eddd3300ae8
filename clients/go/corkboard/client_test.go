package corkboard

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/corkboard-app/corkboard/internal/api"
	"github.com/corkboard-app/corkboard/internal/hub"
	"github.com/corkboard-app/corkboard/internal/models"
	"github.com/corkboard-app/corkboard/internal/store"
)

const waitFor = 3 * time.Second

// startServer runs a full server (router, hub, store) on an ephemeral
// port and returns the websocket URL plus the backing store.
func startServer(t *testing.T) (string, *store.RoomStore) {
	t.Helper()
	st := store.NewRoomStore(models.Geometry{
		CanvasWidth:  1000,
		CanvasHeight: 800,
		BoxWidth:     150,
		BoxHeight:    150,
	})
	h := hub.New(st, zerolog.Nop())
	srv := httptest.NewServer(api.NewRouter(zerolog.Nop(), h, nil, nil))
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", st
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	c, err := Dial(ctx, url, Options{
		Debounce: 20 * time.Millisecond,
		Geometry: models.Geometry{CanvasWidth: 1000, CanvasHeight: 800, BoxWidth: 150, BoxHeight: 150},
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func joinRoom(t *testing.T, c *Client, roomID string) *Board {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	b, err := c.JoinRoom(ctx, roomID)
	require.NoError(t, err)
	return b
}

func TestEndToEndSync(t *testing.T) {
	url, _ := startServer(t)

	alice := dial(t, url)
	bob := dial(t, url)

	boardA := joinRoom(t, alice, "r1")
	boardB := joinRoom(t, bob, "r1")
	require.Empty(t, boardA.Boxes())

	// Create: both sides render it, the creator via its own echo.
	id, err := boardA.CreateBox(100, 100, "note")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return boardA.Box(id) != nil }, waitFor, time.Millisecond)
	require.Eventually(t, func() bool { return boardB.Box(id) != nil }, waitFor, time.Millisecond)
	require.Equal(t, "note", boardB.Box(id).Snapshot().Text)

	// Drag on A: exactly one move_box on release, B follows.
	h := boardA.Box(id)
	h.BeginDrag()
	h.DragTo(60, 50)
	require.NoError(t, h.EndDrag())

	require.Eventually(t, func() bool {
		box := boardB.Box(id).Snapshot()
		return box.Top == 60 && box.Left == 50
	}, waitFor, time.Millisecond)

	// Type on A: debounced update reaches B.
	h.Input("hello")
	require.Eventually(t, func() bool {
		return boardB.Box(id).Snapshot().Text == "hello"
	}, waitFor, time.Millisecond)

	// Delete on B: A drops the box via remove_box.
	require.NoError(t, boardB.DeleteBox(id))
	require.Eventually(t, func() bool { return boardA.Box(id) == nil }, waitFor, time.Millisecond)
}

func TestLateJoinerHydrates(t *testing.T) {
	url, _ := startServer(t)

	alice := dial(t, url)
	boardA := joinRoom(t, alice, "r1")

	id, err := boardA.CreateBox(10, 20, "early")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return boardA.Box(id) != nil }, waitFor, time.Millisecond)

	// A client joining later recovers full state from load_boxes.
	bob := dial(t, url)
	boardB := joinRoom(t, bob, "r1")

	box := boardB.Box(id)
	require.NotNil(t, box)
	require.Equal(t, "early", box.Snapshot().Text)
}

func TestRoomIsolationOverWire(t *testing.T) {
	url, _ := startServer(t)

	alice := dial(t, url)
	carol := dial(t, url)

	boardA := joinRoom(t, alice, "r1")
	boardC := joinRoom(t, carol, "r2")

	id, err := boardA.CreateBox(0, 0, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return boardA.Box(id) != nil }, waitFor, time.Millisecond)

	// Give any misrouted broadcast time to arrive.
	time.Sleep(100 * time.Millisecond)
	require.Empty(t, boardC.Boxes())
}

func TestServerClampsWildMoves(t *testing.T) {
	url, _ := startServer(t)

	alice := dial(t, url)
	bob := dial(t, url)
	boardA := joinRoom(t, alice, "r1")
	boardB := joinRoom(t, bob, "r1")

	id, err := boardA.CreateBox(0, 0, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return boardB.Box(id) != nil }, waitFor, time.Millisecond)

	// Raw protocol write bypassing the local drag clamp.
	require.NoError(t, alice.emit("move_box", map[string]any{
		"id": id, "top": -500.0, "left": 99999.0, "room": "r1",
	}))

	require.Eventually(t, func() bool {
		box := boardB.Box(id).Snapshot()
		return box.Top == 0 && box.Left == 850
	}, waitFor, time.Millisecond)
}

func TestTypingGuardOverWire(t *testing.T) {
	url, st := startServer(t)

	alice := dial(t, url)
	bob := dial(t, url)
	boardA := joinRoom(t, alice, "r1")
	boardB := joinRoom(t, bob, "r1")

	id, err := boardA.CreateBox(0, 0, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return boardB.Box(id) != nil }, waitFor, time.Millisecond)

	// Bob types with a long debounce so his edit stays pending.
	bobHandle := boardB.Box(id)
	bobHandle.board.debounce = time.Hour
	bobHandle.Input("hello")

	// Alice's concurrent edit lands at the store, but Bob is mid-edit:
	// his rendered text must not change.
	aliceHandle := boardA.Box(id)
	aliceHandle.Input("world")
	aliceHandle.Flush()
	require.Eventually(t, func() bool {
		box, err := st.Get("r1", id)
		return err == nil && box.Text == "world"
	}, waitFor, time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, "hello", bobHandle.Snapshot().Text)

	// Bob's flush wins at the store (last writer), and Alice, being
	// Clean again, applies it.
	bobHandle.Flush()
	require.Eventually(t, func() bool {
		box, err := st.Get("r1", id)
		return err == nil && box.Text == "hello"
	}, waitFor, time.Millisecond)
	require.Eventually(t, func() bool {
		return boardA.Box(id).Snapshot().Text == "hello"
	}, waitFor, time.Millisecond)
}
