package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corkboard-app/corkboard/internal/models"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	buf, err := Encode(EventMoveBox, MovePayload{ID: "42", Top: 60, Left: 50, Room: "r1"})
	require.NoError(t, err)

	env, err := DecodeEnvelope(buf)
	require.NoError(t, err)
	require.Equal(t, EventMoveBox, env.Event)

	p, err := env.DecodeMove()
	require.NoError(t, err)
	require.Equal(t, "42", p.ID)
	require.Equal(t, models.Position{Top: 60, Left: 50}, p.Position())
	require.Equal(t, "r1", p.Room)
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{{`))
	require.ErrorIs(t, err, ErrMalformedPayload)

	_, err = DecodeEnvelope([]byte(`{"data":{}}`))
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestPayloadValidation(t *testing.T) {
	cases := []struct {
		name  string
		frame string
	}{
		{"join without room_id", `{"event":"join_room","data":{"room_id":""}}`},
		{"create without id", `{"event":"create_box","data":{"top":1,"left":2}}`},
		{"move without id", `{"event":"move_box","data":{"top":1,"left":2}}`},
		{"update without id", `{"event":"update_box","data":{"text":"x"}}`},
		{"delete without id", `{"event":"delete_box","data":{}}`},
		{"missing payload", `{"event":"move_box"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tc.frame))
			require.NoError(t, err)

			switch env.Event {
			case EventJoinRoom:
				_, err = env.DecodeJoinRoom()
			case EventCreateBox:
				_, err = env.DecodeBox()
			case EventMoveBox:
				_, err = env.DecodeMove()
			case EventUpdateBox:
				_, err = env.DecodeText()
			case EventDeleteBox:
				_, err = env.DecodeID()
			}
			require.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestEmptyTextIsValidUpdate(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"event":"update_box","data":{"id":"42","text":""}}`))
	require.NoError(t, err)

	p, err := env.DecodeText()
	require.NoError(t, err)
	require.Equal(t, "", p.Text)
}

func TestOptionalRoomField(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"event":"delete_box","data":{"id":"42"}}`))
	require.NoError(t, err)

	p, err := env.DecodeID()
	require.NoError(t, err)
	require.Empty(t, p.Room)
}
