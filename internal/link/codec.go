package link

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tiiuae/flightsession/internal/dispatcher"
	"github.com/tiiuae/flightsession/internal/telemetry"
	"github.com/tiiuae/flightsession/internal/types"
)

// Inbound frame types
const (
	FrameReply     = "reply"
	FrameTelemetry = "telemetry"
)

var ErrUnknownFrame = errors.New("unknown frame type")

// Link carries encoded commands to the aircraft. Sending is fire-and-forget;
// replies come back as bus messages.
type Link interface {
	SendCommand(b []byte) error
}

type commandEnvelope struct {
	ID        uint64      `json:"id"`
	MessageID string      `json:"message_id"`
	Kind      string      `json:"kind"`
	Epoch     uint64      `json:"epoch"`
	Ack       bool        `json:"ack"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

type inboundFrame struct {
	Type   string                   `json:"type"`
	ID     uint64                   `json:"id"`
	Status string                   `json:"status"`
	Reason string                   `json:"reason"`
	State  *telemetry.AircraftState `json:"state"`
}

// EncodeCommand serializes a command for the wire
func EncodeCommand(cmd dispatcher.Outbound) ([]byte, error) {
	return json.Marshal(commandEnvelope{
		ID:        uint64(cmd.ID),
		MessageID: uuid.New().String(),
		Kind:      string(cmd.Kind),
		Epoch:     cmd.Epoch,
		Ack:       cmd.Ack,
		Timestamp: cmd.Issued.UTC(),
		Payload:   cmd.Payload,
	})
}

// DecodeFrame turns an inbound frame into a bus message addressed to the session
func DecodeFrame(b []byte) (types.Message, error) {
	var frame inboundFrame
	if err := json.Unmarshal(b, &frame); err != nil {
		return types.Message{}, errors.Wrap(err, "decode frame")
	}

	switch frame.Type {
	case FrameReply:
		if frame.Status == "" {
			frame.Status = types.ReplyStatusOK
		}
		reply := types.CommandReply{ID: frame.ID, Status: frame.Status, Reason: frame.Reason}
		return types.CreateMessage(types.MessageCommandReply, "link", "session", reply), nil
	case FrameTelemetry:
		if frame.State == nil {
			return types.Message{}, errors.New("telemetry frame without state")
		}
		return types.CreateMessage(types.MessageAircraftState, "link", "session", *frame.State), nil
	}

	return types.Message{}, errors.Wrapf(ErrUnknownFrame, "%q", frame.Type)
}
