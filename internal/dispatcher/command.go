package dispatcher

import "time"

type Kind string

const (
	KindTakeOff             Kind = "takeoff"
	KindLand                Kind = "land"
	KindGoHome              Kind = "go-home"
	KindCancelGoHome        Kind = "cancel-go-home"
	KindStartMission        Kind = "start-mission"
	KindPauseMission        Kind = "pause-mission"
	KindResumeMission       Kind = "resume-mission"
	KindStopMission         Kind = "stop-mission"
	KindExecuteWaypoint     Kind = "execute-waypoint"
	KindEnableVirtualStick  Kind = "enable-virtual-stick"
	KindDisableVirtualStick Kind = "disable-virtual-stick"
	KindStickFrame          Kind = "stick-frame"
)

// Scoped reports whether commands of this kind belong to the control mode they
// were issued in. Their replies are ignored once the mode has changed.
func (k Kind) Scoped() bool {
	switch k {
	case KindTakeOff, KindLand, KindGoHome, KindCancelGoHome, KindDisableVirtualStick, KindStopMission:
		return false
	}
	return true
}

type Command struct {
	Kind    Kind
	Payload interface{}
}

// Handle identifies an issued command
type Handle uint64

// Callback receives the outcome of a command exactly once. err is nil on success.
type Callback func(h Handle, err error)

// Outbound is a command as handed to the link encoder
type Outbound struct {
	ID      Handle
	Kind    Kind
	Epoch   uint64
	Ack     bool
	Issued  time.Time
	Payload interface{}
}

// Completion describes a finished command for observers
type Completion struct {
	ID      Handle
	Kind    Kind
	Err     error
	Latency time.Duration
	Evicted bool
}
