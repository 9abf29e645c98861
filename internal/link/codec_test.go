package link

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tiiuae/flightsession/internal/dispatcher"
	"github.com/tiiuae/flightsession/internal/telemetry"
	"github.com/tiiuae/flightsession/internal/types"
)

func TestEncodeCommand(t *testing.T) {
	issued := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	b, err := EncodeCommand(dispatcher.Outbound{
		ID:      7,
		Kind:    dispatcher.KindTakeOff,
		Epoch:   3,
		Ack:     true,
		Issued:  issued,
		Payload: map[string]float64{"altitude": 1.2},
	})
	if err != nil {
		t.Fatal(err)
	}

	var env commandEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatal(err)
	}
	if env.ID != 7 || env.Kind != "takeoff" || env.Epoch != 3 || !env.Ack || !env.Timestamp.Equal(issued) {
		t.Errorf("Unexpected envelope %s", b)
	}
	if _, err := uuid.Parse(env.MessageID); err != nil {
		t.Errorf("Expected uuid message id, got %q", env.MessageID)
	}
}

func TestDecodeFrame_Reply(t *testing.T) {
	msg, err := DecodeFrame([]byte(`{"type":"reply","id":12,"status":"rejected","reason":"motors not started"}`))
	if err != nil {
		t.Fatal(err)
	}
	if msg.MessageType != types.MessageCommandReply {
		t.Fatalf("Expected command reply, got %s", msg.MessageType)
	}
	reply := msg.Message.(types.CommandReply)
	if reply.ID != 12 || reply.Status != types.ReplyStatusRejected || reply.Reason != "motors not started" {
		t.Errorf("Unexpected reply %+v", reply)
	}

	msg, _ = DecodeFrame([]byte(`{"type":"reply","id":13}`))
	if msg.Message.(types.CommandReply).Status != types.ReplyStatusOK {
		t.Errorf("Reply without status must default to ok")
	}
}

func TestDecodeFrame_Telemetry(t *testing.T) {
	msg, err := DecodeFrame([]byte(`{"type":"telemetry","state":{"lat":60.1,"lon":24.9,"alt":35,"battery":80,"gps_signal":4,"flight_mode":6}}`))
	if err != nil {
		t.Fatal(err)
	}
	state := msg.Message.(telemetry.AircraftState)
	if state.Latitude != 60.1 || state.GPSSignal != 4 || state.FlightMode != telemetry.FlightModeGPSAtti {
		t.Errorf("Unexpected state %+v", state)
	}
}

func TestDecodeFrame_Invalid(t *testing.T) {
	if _, err := DecodeFrame([]byte(`{"type":"video"}`)); !errors.Is(err, ErrUnknownFrame) {
		t.Errorf("Expected ErrUnknownFrame, got %v", err)
	}
	if _, err := DecodeFrame([]byte(`{"type":"telemetry"}`)); err == nil {
		t.Errorf("Expected error for telemetry without state")
	}
	if _, err := DecodeFrame([]byte(`not json`)); err == nil {
		t.Errorf("Expected error for garbage")
	}
}
