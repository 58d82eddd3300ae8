// Package protocol defines the JSON event contract spoken between clients
// and the hub. Every frame is an Envelope carrying an event name and a
// payload; the payload shape depends on the event.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/corkboard-app/corkboard/internal/models"
)

// Client→hub events.
const (
	EventJoinRoom  = "join_room"
	EventCreateBox = "create_box"
	EventMoveBox   = "move_box"
	EventUpdateBox = "update_box"
	EventDeleteBox = "delete_box"
)

// Hub→client events. MoveBox and UpdateBox are reused verbatim on the
// outbound side.
const (
	EventLoadBoxes = "load_boxes"
	EventNewBox    = "new_box"
	EventRemoveBox = "remove_box"
)

// ErrMalformedPayload is returned when an envelope names an unknown event
// or its payload is missing a required field.
var ErrMalformedPayload = errors.New("protocol: malformed payload")

// Envelope is the wire frame. Data is decoded lazily per event type.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JoinRoom asks the hub to register this connection in a room.
type JoinRoom struct {
	RoomID string `json:"room_id"`
}

// LoadBoxes hydrates a newly joined client with the room's full box list.
type LoadBoxes struct {
	RoomID string       `json:"room_id"`
	Boxes  []models.Box `json:"boxes"`
}

// BoxPayload is carried by create_box and new_box.
type BoxPayload struct {
	models.Box
	Room string `json:"room,omitempty"`
}

// MovePayload is carried by move_box in both directions.
type MovePayload struct {
	ID   string  `json:"id"`
	Top  float64 `json:"top"`
	Left float64 `json:"left"`
	Room string  `json:"room,omitempty"`
}

// TextPayload is carried by update_box in both directions.
type TextPayload struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Room string `json:"room,omitempty"`
}

// IDPayload is carried by delete_box and remove_box.
type IDPayload struct {
	ID   string `json:"id"`
	Room string `json:"room,omitempty"`
}

// Position returns the payload's coordinates as a models.Position.
func (p MovePayload) Position() models.Position {
	return models.Position{Top: p.Top, Left: p.Left}
}

// Encode marshals an outbound envelope for the given event and payload.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// MustEncode is Encode for payloads that cannot fail to marshal.
func MustEncode(event string, payload any) []byte {
	buf, err := Encode(event, payload)
	if err != nil {
		panic(err)
	}
	return buf
}

// DecodeEnvelope parses a wire frame without touching its payload.
func DecodeEnvelope(buf []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrMalformedPayload)
	}
	return &env, nil
}

// DecodeJoinRoom validates and decodes a join_room payload.
func (e *Envelope) DecodeJoinRoom() (*JoinRoom, error) {
	var p JoinRoom
	if err := e.decode(&p); err != nil {
		return nil, err
	}
	if p.RoomID == "" {
		return nil, fmt.Errorf("%w: join_room requires room_id", ErrMalformedPayload)
	}
	return &p, nil
}

// DecodeBox validates and decodes a create_box payload. Position fields may
// legitimately be zero, so only the id is required.
func (e *Envelope) DecodeBox() (*BoxPayload, error) {
	var p BoxPayload
	if err := e.decode(&p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%w: %s requires id", ErrMalformedPayload, e.Event)
	}
	return &p, nil
}

// DecodeMove validates and decodes a move_box payload.
func (e *Envelope) DecodeMove() (*MovePayload, error) {
	var p MovePayload
	if err := e.decode(&p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%w: move_box requires id", ErrMalformedPayload)
	}
	return &p, nil
}

// DecodeText validates and decodes an update_box payload. Empty text is a
// valid update (the user cleared the box).
func (e *Envelope) DecodeText() (*TextPayload, error) {
	var p TextPayload
	if err := e.decode(&p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%w: update_box requires id", ErrMalformedPayload)
	}
	return &p, nil
}

// DecodeID validates and decodes a delete_box payload.
func (e *Envelope) DecodeID() (*IDPayload, error) {
	var p IDPayload
	if err := e.decode(&p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%w: %s requires id", ErrMalformedPayload, e.Event)
	}
	return &p, nil
}

func (e *Envelope) decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrMalformedPayload, e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, e.Event, err)
	}
	return nil
}
