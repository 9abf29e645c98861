package types

import (
	"encoding/json"
	"time"
)

// Message types posted on the bus
const (
	MessageAircraftState    = "aircraft-state"
	MessageCommandReply     = "command-reply"
	MessageCommandIssued    = "command-issued"
	MessageCommandCompleted = "command-completed"
	MessageModeChanged      = "mode-changed"
	MessageMissionEvent     = "mission-event"
	MessageControlTimeout   = "control-timeout"
	MessageSessionStats     = "session-stats"
	MessageOperatorCommand  = "operator-command"
	MessageOperatorResult   = "operator-result"
)

// Command reply statuses reported by the link
const (
	ReplyStatusOK       = "ok"
	ReplyStatusRejected = "rejected"
)

// Command completion statuses
const (
	CompletionOK       = "ok"
	CompletionRejected = "rejected"
	CompletionTimeout  = "timeout"
)

type CommandReply struct {
	ID     uint64 `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type CommandIssued struct {
	ID      uint64      `json:"id"`
	Kind    string      `json:"kind"`
	Epoch   uint64      `json:"epoch"`
	Payload interface{} `json:"payload,omitempty"`
}

type CommandCompleted struct {
	ID      uint64        `json:"id"`
	Kind    string        `json:"kind"`
	Status  string        `json:"status"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
}

type ModeChanged struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Epoch uint64 `json:"epoch"`
}

type MissionEvent struct {
	Kind      string `json:"kind"`
	State     string `json:"state"`
	Index     int    `json:"index"`
	Waypoints int    `json:"waypoints"`
	TimedOut  bool   `json:"timed_out,omitempty"`
}

type ControlTimeout struct {
	Silence time.Duration `json:"silence"`
}

type SessionStats struct {
	Mode          string        `json:"mode"`
	Epoch         uint64        `json:"epoch"`
	MissionState  string        `json:"mission_state"`
	Pending       int           `json:"pending"`
	Issued        uint64        `json:"issued"`
	Completed     uint64        `json:"completed"`
	TimedOut      uint64        `json:"timed_out"`
	Evicted       uint64        `json:"evicted"`
	Unmatched     uint64        `json:"unmatched"`
	Stale         uint64        `json:"stale"`
	TelemetryAge  time.Duration `json:"telemetry_age"`
	ControlMisses uint64        `json:"control_timeouts"`
}

// OperatorCommand is an intent from the operator, e.g. {"command": "takeoff"}
type OperatorCommand struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type OperatorResult struct {
	RequestID string `json:"request_id"`
	Command   string `json:"command"`
	Error     string `json:"error,omitempty"`
}
