package session

import (
	"log"
	"time"

	"github.com/pkg/errors"

	"github.com/tiiuae/flightsession/internal/dispatcher"
	"github.com/tiiuae/flightsession/internal/gate"
	"github.com/tiiuae/flightsession/internal/mission"
	"github.com/tiiuae/flightsession/internal/telemetry"
	"github.com/tiiuae/flightsession/internal/types"
	"github.com/tiiuae/flightsession/internal/virtualstick"
)

// Callback receives the asynchronous outcome of an operation. err is nil on success.
type Callback func(err error)

// Publisher receives every event produced by the session
type Publisher func(messageType string, payload interface{})

type Options struct {
	MinGPSSignal    telemetry.GPSSignalLevel
	StickTimeout    time.Duration
	CommandDeadline time.Duration
	QueueCapacity   int
}

func DefaultOptions() Options {
	return Options{
		MinGPSSignal:    gate.DefaultMinGPSSignal,
		StickTimeout:    virtualstick.DefaultTimeout,
		CommandDeadline: dispatcher.DefaultDeadline,
		QueueCapacity:   dispatcher.DefaultCapacity,
	}
}

type startCommand struct {
	Waypoints       int     `json:"waypoints"`
	AutoFlightSpeed float64 `json:"auto_flight_speed"`
	MaxFlightSpeed  float64 `json:"max_flight_speed"`
	HeadingMode     int     `json:"heading_mode"`
	FinishAction    string  `json:"finish_action"`
	PathLength      float64 `json:"path_length"`
}

type waypointCommand struct {
	Index           int                `json:"index"`
	Coordinate      mission.Coordinate `json:"coordinate"`
	Altitude        float64            `json:"altitude"`
	Heading         float64            `json:"heading"`
	Speed           float64            `json:"speed"`
	GimbalPitch     float64            `json:"gimbal_pitch"`
	CornerRadius    float64            `json:"corner_radius"`
	TurnMode        mission.TurnMode   `json:"turn_mode"`
	RepeatTimes     int                `json:"repeat_times"`
	ActionTimeoutMs int64              `json:"action_timeout_ms"`
	Actions         []mission.Action   `json:"actions"`
}

// Core composes the session components. It is not safe for concurrent use:
// every call must come from the one goroutine that owns it. Validation errors
// are returned directly; callbacks only ever carry asynchronous outcomes.
type Core struct {
	telemetry  *telemetry.Store
	gate       *gate.Gate
	sequencer  *mission.Sequencer
	stick      *virtualstick.Session
	dispatcher *dispatcher.Dispatcher
	publish    Publisher
	minGPS     telemetry.GPSSignalLevel

	// time of the operation being executed
	now time.Time
	// attached to the first mode or mission command issued by the current operation
	pending Callback
}

func NewCore(link dispatcher.Sender, encode dispatcher.Encoder, opts Options, publish Publisher) *Core {
	c := &Core{publish: publish, minGPS: opts.MinGPSSignal}
	if c.publish == nil {
		c.publish = func(string, interface{}) {}
	}

	c.telemetry = telemetry.NewStore()
	c.telemetry.Subscribe(c.handleTelemetry)
	c.gate = gate.New(c.telemetry, gate.WithMinGPSSignal(opts.MinGPSSignal))
	c.sequencer = mission.NewSequencer(c.gate)
	c.gate.AttachMission(c.sequencer)
	c.gate.OnTransition(c.sequencer.HandleModeChange)
	c.gate.OnTransition(c.handleModeChange)
	c.sequencer.Subscribe(c.handleMissionEvent)

	c.stick = virtualstick.New(c.gate, virtualstick.WithTimeout(opts.StickTimeout))
	c.stick.OnTimeout(c.handleControlTimeout)

	c.dispatcher = dispatcher.New(link, encode, c.gate,
		dispatcher.WithDeadline(opts.CommandDeadline),
		dispatcher.WithCapacity(opts.QueueCapacity))
	c.dispatcher.OnIssue(c.handleIssued)
	c.dispatcher.OnComplete(c.handleCompleted)

	return c
}

func (c *Core) Mode() gate.ControlMode {
	return c.gate.Mode()
}

func (c *Core) Epoch() uint64 {
	return c.gate.Epoch()
}

func (c *Core) MissionState() mission.State {
	return c.sequencer.State()
}

func (c *Core) MissionIndex() (int, bool) {
	return c.sequencer.Index()
}

func (c *Core) Aircraft() telemetry.AircraftState {
	return c.telemetry.Current()
}

func (c *Core) Stats(now time.Time) types.SessionStats {
	d := c.dispatcher.Stats()
	return types.SessionStats{
		Mode:          c.gate.Mode().String(),
		Epoch:         c.gate.Epoch(),
		MissionState:  c.sequencer.State().String(),
		Pending:       d.Pending,
		Issued:        d.Issued,
		Completed:     d.Completed,
		TimedOut:      d.TimedOut,
		Evicted:       d.Evicted,
		Unmatched:     d.Unmatched,
		Stale:         d.Stale,
		TelemetryAge:  c.telemetry.Age(now),
		ControlMisses: c.stick.Timeouts(),
	}
}

// RequestMode asks the gate for target directly
func (c *Core) RequestMode(now time.Time, target gate.ControlMode) error {
	c.now = now
	return c.gate.RequestMode(target)
}

// EnterVirtualStick switches to virtual stick mode and enables stick control on
// the aircraft. cb receives the aircraft's answer.
func (c *Core) EnterVirtualStick(now time.Time, cb Callback) error {
	c.now = now
	return c.withPending(cb, func() error {
		return c.gate.RequestMode(gate.VirtualStick)
	})
}

func (c *Core) ExitVirtualStick(now time.Time, cb Callback) error {
	c.now = now
	if c.gate.Mode() != gate.VirtualStick {
		return virtualstick.ErrNotInControlMode
	}
	return c.withPending(cb, func() error {
		return c.gate.RequestMode(gate.Idle)
	})
}

// SubmitFrame clamps frame and sends it without waiting for an acknowledgement
func (c *Core) SubmitFrame(now time.Time, frame virtualstick.Frame) error {
	c.now = now
	f, err := c.stick.Submit(frame, now)
	if err != nil {
		return err
	}
	return c.dispatcher.Send(now, dispatcher.Command{Kind: dispatcher.KindStickFrame, Payload: f})
}

func (c *Core) LoadMission(m *mission.Mission) error {
	return c.sequencer.Load(m)
}

func (c *Core) EditWaypoint(index int, edit func(w *mission.Waypoint) error) error {
	return c.sequencer.EditWaypoint(index, edit)
}

// StartMission enters mission mode and uploads the mission. cb receives the
// aircraft's answer to the start; a refusal aborts the mission.
func (c *Core) StartMission(now time.Time, cb Callback) error {
	c.now = now
	return c.withPending(cb, func() error {
		return c.sequencer.Start(now)
	})
}

func (c *Core) PauseMission(now time.Time, cb Callback) error {
	c.now = now
	return c.withPending(cb, func() error {
		return c.sequencer.Pause(now)
	})
}

func (c *Core) ResumeMission(now time.Time, cb Callback) error {
	c.now = now
	return c.withPending(cb, func() error {
		return c.sequencer.Resume(now)
	})
}

func (c *Core) AbortMission(now time.Time, cb Callback) error {
	c.now = now
	return c.withPending(cb, func() error {
		return c.sequencer.Abort()
	})
}

func (c *Core) AdvanceMission(now time.Time) error {
	c.now = now
	return c.sequencer.Advance(now)
}

// TakeOff is only allowed while no control mode is active
func (c *Core) TakeOff(now time.Time, cb Callback) error {
	c.now = now
	if mode := c.gate.Mode(); mode != gate.Idle {
		return errors.Wrapf(gate.ErrInvalidModeTransition, "takeoff in %s mode", mode)
	}
	c.issue(dispatcher.KindTakeOff, nil, cb)
	return nil
}

// Land releases any active control mode, aborting a running mission, and lands
func (c *Core) Land(now time.Time, cb Callback) error {
	c.now = now
	c.releaseMode()
	c.issue(dispatcher.KindLand, nil, cb)
	return nil
}

// GoHome releases any active control mode, aborting a running mission, and returns home
func (c *Core) GoHome(now time.Time, cb Callback) error {
	c.now = now
	c.releaseMode()
	c.issue(dispatcher.KindGoHome, nil, cb)
	return nil
}

func (c *Core) CancelGoHome(now time.Time, cb Callback) error {
	c.now = now
	c.issue(dispatcher.KindCancelGoHome, nil, cb)
	return nil
}

func (c *Core) Ingest(now time.Time, state telemetry.AircraftState) {
	c.now = now
	c.telemetry.Ingest(state)
}

// OnReply resolves the command the reply refers to
func (c *Core) OnReply(now time.Time, reply types.CommandReply) {
	c.now = now
	var err error
	if reply.Status != types.ReplyStatusOK {
		reason := reply.Reason
		if reason == "" {
			reason = reply.Status
		}
		err = errors.Wrap(dispatcher.ErrLinkRejected, reason)
	}
	c.dispatcher.OnReply(now, dispatcher.Handle(reply.ID), err)
}

// Tick expires overdue commands, advances timed out waypoints and watches the stick
func (c *Core) Tick(now time.Time) {
	c.now = now
	c.dispatcher.Sweep(now)
	c.sequencer.Tick(now)
	if hover, ok := c.stick.Tick(now); ok {
		if err := c.dispatcher.Send(now, dispatcher.Command{Kind: dispatcher.KindStickFrame, Payload: hover}); err != nil {
			log.Printf("Session: hover frame not sent: %v", err)
		}
	}
}

func (c *Core) withPending(cb Callback, op func() error) error {
	c.pending = cb
	err := op()
	unused := c.pending
	c.pending = nil

	// nothing was sent, so there is nothing to wait for
	if err == nil && unused != nil {
		unused(nil)
	}
	return err
}

func (c *Core) takePending() Callback {
	cb := c.pending
	c.pending = nil
	return cb
}

func (c *Core) issue(kind dispatcher.Kind, payload interface{}, cb Callback) dispatcher.Handle {
	return c.dispatcher.Issue(c.now, dispatcher.Command{Kind: kind, Payload: payload}, func(h dispatcher.Handle, err error) {
		if cb != nil {
			cb(err)
		}
	})
}

func (c *Core) releaseMode() {
	switch c.gate.Mode() {
	case gate.Mission:
		if err := c.sequencer.Abort(); err != nil {
			log.Printf("Session: could not abort mission: %v", err)
		}
	case gate.VirtualStick:
		if err := c.gate.RequestMode(gate.Idle); err != nil {
			log.Printf("Session: could not leave virtual stick: %v", err)
		}
	}
}

func (c *Core) handleModeChange(from, to gate.ControlMode, epoch uint64) {
	log.Printf("Session: mode %s -> %s (epoch %d)", from, to, epoch)
	c.publish(types.MessageModeChanged, types.ModeChanged{From: from.String(), To: to.String(), Epoch: epoch})

	if from == gate.VirtualStick {
		c.stick.Disarm()
		c.issue(dispatcher.KindDisableVirtualStick, nil, c.takePending())
	}
	if to == gate.VirtualStick {
		c.stick.Arm(c.now)
		cb := c.takePending()
		c.issue(dispatcher.KindEnableVirtualStick, nil, func(err error) {
			if err != nil {
				log.Printf("Session: virtual stick refused: %v", err)
				c.releaseMode()
			}
			if cb != nil {
				cb(err)
			}
		})
	}
}

func (c *Core) handleMissionEvent(e mission.Event) {
	c.publish(types.MessageMissionEvent, types.MissionEvent{
		Kind:      string(e.Kind),
		State:     e.State.String(),
		Index:     e.Index,
		Waypoints: e.Waypoints,
		TimedOut:  e.TimedOut,
	})

	switch e.Kind {
	case mission.EventStarted:
		m := e.Mission
		cb := c.takePending()
		c.issue(dispatcher.KindStartMission, startCommand{
			Waypoints:       len(m.Waypoints),
			AutoFlightSpeed: m.AutoFlightSpeed,
			MaxFlightSpeed:  m.MaxFlightSpeed,
			HeadingMode:     int(m.HeadingMode),
			FinishAction:    m.FinishAction.String(),
			PathLength:      m.PathLength(),
		}, func(err error) {
			if err != nil && c.sequencer.Running() {
				log.Printf("Session: mission start refused, aborting: %v", err)
				_ = c.sequencer.Abort()
			}
			if cb != nil {
				cb(err)
			}
		})
	case mission.EventWaypointStarted:
		index := e.Index
		c.issue(dispatcher.KindExecuteWaypoint, newWaypointCommand(index, e.Waypoint), func(err error) {
			if err != nil {
				log.Printf("Session: waypoint %d: %v", index, err)
				return
			}
			c.sequencer.ActionsCompleted(index, c.now)
		})
	case mission.EventPaused:
		c.issue(dispatcher.KindPauseMission, nil, c.takePending())
	case mission.EventResumed:
		c.issue(dispatcher.KindResumeMission, nil, c.takePending())
	case mission.EventAborted:
		c.issue(dispatcher.KindStopMission, nil, c.takePending())
	case mission.EventCompleted:
		switch e.FinishAction {
		case mission.FinishGoHome:
			c.issue(dispatcher.KindGoHome, nil, nil)
		case mission.FinishAutoLand:
			c.issue(dispatcher.KindLand, nil, nil)
		}
	}
}

// handleTelemetry holds a running mission when the GPS signal drops below the
// level required to start one. Resuming is left to the operator.
func (c *Core) handleTelemetry(state telemetry.AircraftState) {
	if c.sequencer.State() != mission.Running || state.GPSSignal >= c.minGPS {
		return
	}
	log.Printf("Session: GPS signal %d below %d, pausing mission", state.GPSSignal, c.minGPS)
	if err := c.sequencer.Pause(c.now); err != nil {
		log.Printf("Session: could not pause mission: %v", err)
	}
}

func (c *Core) handleControlTimeout(err error, silence time.Duration, hover virtualstick.Frame) {
	c.publish(types.MessageControlTimeout, types.ControlTimeout{Silence: silence})
}

func (c *Core) handleIssued(o dispatcher.Outbound) {
	if !o.Ack {
		return
	}
	c.publish(types.MessageCommandIssued, types.CommandIssued{
		ID:      uint64(o.ID),
		Kind:    string(o.Kind),
		Epoch:   o.Epoch,
		Payload: o.Payload,
	})
}

func (c *Core) handleCompleted(done dispatcher.Completion) {
	status := types.CompletionOK
	errText := ""
	switch {
	case done.Err == nil:
	case errors.Is(done.Err, dispatcher.ErrTimeout):
		status = types.CompletionTimeout
		errText = done.Err.Error()
	default:
		status = types.CompletionRejected
		errText = done.Err.Error()
	}
	c.publish(types.MessageCommandCompleted, types.CommandCompleted{
		ID:      uint64(done.ID),
		Kind:    string(done.Kind),
		Status:  status,
		Error:   errText,
		Latency: done.Latency,
	})
}

func newWaypointCommand(index int, w *mission.Waypoint) waypointCommand {
	return waypointCommand{
		Index:           index,
		Coordinate:      w.Coordinate,
		Altitude:        w.Altitude,
		Heading:         w.Heading,
		Speed:           w.Speed,
		GimbalPitch:     w.GimbalPitch,
		CornerRadius:    w.CornerRadius,
		TurnMode:        w.TurnMode,
		RepeatTimes:     w.RepeatTimes,
		ActionTimeoutMs: w.ActionTimeout.Milliseconds(),
		Actions:         w.Actions(),
	}
}
