// Package corkboard provides a Go client for the corkboard sync protocol:
// joining rooms, mutating boxes, and reconciling server broadcasts with
// in-flight local edits.
package corkboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/corkboard-app/corkboard/internal/models"
	"github.com/corkboard-app/corkboard/internal/protocol"
)

// DefaultDebounce is the quiet period after the last keystroke before a
// text update is sent.
const DefaultDebounce = 400 * time.Millisecond

// Options configures a Client.
type Options struct {
	// Debounce overrides DefaultDebounce when positive.
	Debounce time.Duration

	// Geometry used for local drag clamping. Zero value means defaults.
	Geometry models.Geometry
}

// Client is a corkboard server connection. One read loop demultiplexes
// every broadcast to the board that owns the referenced box; handlers are
// never registered per box.
type Client struct {
	conn     *websocket.Conn
	debounce time.Duration
	geo      models.Geometry

	writeMu sync.Mutex // serializes writes to conn

	mu     sync.Mutex
	boards map[string]*Board // by room id
	joins  map[string]chan protocol.LoadBoxes
	err    error
	closed bool
}

// Dial connects to a corkboard server. The url is the websocket endpoint,
// e.g. "ws://localhost:8080/ws".
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("corkboard: dial %s: %w", url, err)
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	geo := opts.Geometry
	if geo == (models.Geometry{}) {
		geo = models.DefaultGeometry()
	}

	c := &Client{
		conn:     conn,
		debounce: debounce,
		geo:      geo,
		boards:   make(map[string]*Board),
		joins:    make(map[string]chan protocol.LoadBoxes),
	}
	go c.readLoop()
	return c, nil
}

// Close tears down the connection. Pending debounced edits are flushed
// first so the last keystrokes are not lost.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	boards := make([]*Board, 0, len(c.boards))
	for _, b := range c.boards {
		boards = append(boards, b)
	}
	c.mu.Unlock()

	for _, b := range boards {
		b.FlushAll()
	}

	c.writeMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// JoinRoom registers this connection in a room and returns a Board
// hydrated from the server's load_boxes response.
func (c *Client) JoinRoom(ctx context.Context, roomID string) (*Board, error) {
	c.mu.Lock()
	if b := c.boards[roomID]; b != nil {
		c.mu.Unlock()
		return b, nil
	}
	if c.joins[roomID] != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("corkboard: join of %q already in flight", roomID)
	}
	loaded := make(chan protocol.LoadBoxes, 1)
	c.joins[roomID] = loaded
	c.mu.Unlock()

	if err := c.emit(protocol.EventJoinRoom, protocol.JoinRoom{RoomID: roomID}); err != nil {
		return nil, err
	}

	select {
	case p := <-loaded:
		b := newBoard(c, roomID, c.geo, c.debounce)
		b.load(p.Boxes)
		c.mu.Lock()
		c.boards[roomID] = b
		delete(c.joins, roomID)
		c.mu.Unlock()
		return b, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.joins, roomID)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Err reports why the read loop stopped, once it has.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// emit encodes and writes one frame. Safe for concurrent use.
func (c *Client) emit(event string, payload any) error {
	buf, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
		return fmt.Errorf("corkboard: write %s: %w", event, err)
	}
	return nil
}

// readLoop is the single demultiplexing handler: every inbound broadcast
// is routed by room, then by box id, to the owning reconciler.
func (c *Client) readLoop() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if !c.closed {
				c.err = err
			}
			c.mu.Unlock()
			return
		}

		env, err := protocol.DecodeEnvelope(raw)
		if err != nil {
			continue // tolerate unknown frames
		}
		c.route(env)
	}
}

func (c *Client) route(env *protocol.Envelope) {
	switch env.Event {
	case protocol.EventLoadBoxes:
		var p protocol.LoadBoxes
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		c.mu.Lock()
		waiter := c.joins[p.RoomID]
		board := c.boards[p.RoomID]
		c.mu.Unlock()
		if waiter != nil {
			waiter <- p
		} else if board != nil {
			// Rejoin after reconnect: resync the existing board.
			board.load(p.Boxes)
		}

	case protocol.EventNewBox:
		if p, err := env.DecodeBox(); err == nil {
			if b := c.board(p.Room); b != nil {
				b.applyNew(p.Box)
			}
		}

	case protocol.EventMoveBox:
		if p, err := env.DecodeMove(); err == nil {
			if b := c.board(p.Room); b != nil {
				b.applyMove(p.ID, p.Position())
			}
		}

	case protocol.EventUpdateBox:
		if p, err := env.DecodeText(); err == nil {
			if b := c.board(p.Room); b != nil {
				b.applyText(p.ID, p.Text)
			}
		}

	case protocol.EventRemoveBox:
		if p, err := env.DecodeID(); err == nil {
			if b := c.board(p.Room); b != nil {
				b.applyRemove(p.ID)
			}
		}
	}
}

func (c *Client) board(roomID string) *Board {
	c.mu.Lock()
	defer c.mu.Unlock()
	if roomID == "" && len(c.boards) == 1 {
		for _, b := range c.boards {
			return b
		}
	}
	return c.boards[roomID]
}
