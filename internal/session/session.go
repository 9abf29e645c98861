package session

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/tiiuae/flightsession/internal/dispatcher"
	"github.com/tiiuae/flightsession/internal/gate"
	"github.com/tiiuae/flightsession/internal/mission"
	"github.com/tiiuae/flightsession/internal/telemetry"
	"github.com/tiiuae/flightsession/internal/types"
	"github.com/tiiuae/flightsession/internal/virtualstick"
)

var (
	ErrSessionBusy     = errors.New("session busy")
	ErrUnknownCommand  = errors.New("unknown operator command")
	ErrInvalidArgument = errors.New("invalid command payload")
)

const (
	inboxSize            = 256
	DefaultTickInterval  = 50 * time.Millisecond
	DefaultStatsInterval = 5 * time.Second
)

// Session owns a Core on a single goroutine. Telemetry, replies and operator
// commands arrive as bus messages; the public methods queue operations and
// never block. Callbacks run on the session goroutine and must not block.
type Session struct {
	core          *Core
	ops           chan func(now time.Time)
	inbox         chan types.Message
	tick          time.Duration
	statsInterval time.Duration
	clock         func() time.Time
	post          types.PostFn
}

func WithTickInterval(d time.Duration) func(*Session) {
	return func(s *Session) {
		s.tick = d
	}
}

func WithStatsInterval(d time.Duration) func(*Session) {
	return func(s *Session) {
		s.statsInterval = d
	}
}

func New(link dispatcher.Sender, encode dispatcher.Encoder, opts Options, options ...func(*Session)) *Session {
	s := &Session{
		ops:           make(chan func(time.Time), inboxSize),
		inbox:         make(chan types.Message, inboxSize),
		tick:          DefaultTickInterval,
		statsInterval: DefaultStatsInterval,
		clock:         time.Now,
	}
	for _, option := range options {
		option(s)
	}
	if s.tick <= 0 {
		s.tick = DefaultTickInterval
	}
	if s.statsInterval <= 0 {
		s.statsInterval = DefaultStatsInterval
	}
	s.core = NewCore(link, encode, opts, s.publish)
	return s
}

func (s *Session) publish(messageType string, payload interface{}) {
	if s.post == nil {
		return
	}
	s.post(types.CreateMessage(messageType, "session", "*", payload))
}

// Receive marshals inbound bus messages onto the session goroutine
func (s *Session) Receive(message types.Message) {
	switch message.Message.(type) {
	case telemetry.AircraftState, types.CommandReply, types.OperatorCommand:
	default:
		return
	}
	select {
	case s.inbox <- message:
	default:
		log.Printf("Session: inbox full, dropping %s", message.MessageType)
	}
}

func (s *Session) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	wg.Add(1)
	defer wg.Done()

	s.post = post
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	stats := time.NewTicker(s.statsInterval)
	defer stats.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Session: shutting down")
			return
		case op := <-s.ops:
			op(s.clock())
		case msg := <-s.inbox:
			s.handleMessage(msg, s.clock())
		case <-ticker.C:
			s.core.Tick(s.clock())
		case <-stats.C:
			now := s.clock()
			st := s.core.Stats(now)
			if last := s.core.Aircraft().Timestamp; !last.IsZero() && st.TelemetryAge > 2*time.Second {
				log.Printf("Session: last telemetry %s", humanize.RelTime(last, now, "ago", "from now"))
			}
			s.publish(types.MessageSessionStats, st)
		}
	}
}

// Inspect runs fn on the session goroutine
func (s *Session) Inspect(fn func(c *Core)) {
	s.enqueue(func(time.Time) { fn(s.core) }, nil)
}

func (s *Session) RequestMode(target gate.ControlMode, cb Callback) {
	s.sync(func(now time.Time) error { return s.core.RequestMode(now, target) }, cb)
}

func (s *Session) EnterVirtualStick(cb Callback) {
	s.async(func(now time.Time) error { return s.core.EnterVirtualStick(now, cb) }, cb)
}

func (s *Session) ExitVirtualStick(cb Callback) {
	s.async(func(now time.Time) error { return s.core.ExitVirtualStick(now, cb) }, cb)
}

func (s *Session) SubmitFrame(frame virtualstick.Frame, cb Callback) {
	s.sync(func(now time.Time) error { return s.core.SubmitFrame(now, frame) }, cb)
}

func (s *Session) LoadMission(m *mission.Mission, cb Callback) {
	s.sync(func(time.Time) error { return s.core.LoadMission(m) }, cb)
}

func (s *Session) StartMission(cb Callback) {
	s.async(func(now time.Time) error { return s.core.StartMission(now, cb) }, cb)
}

func (s *Session) PauseMission(cb Callback) {
	s.async(func(now time.Time) error { return s.core.PauseMission(now, cb) }, cb)
}

func (s *Session) ResumeMission(cb Callback) {
	s.async(func(now time.Time) error { return s.core.ResumeMission(now, cb) }, cb)
}

func (s *Session) AbortMission(cb Callback) {
	s.async(func(now time.Time) error { return s.core.AbortMission(now, cb) }, cb)
}

func (s *Session) AdvanceMission(cb Callback) {
	s.sync(func(now time.Time) error { return s.core.AdvanceMission(now) }, cb)
}

func (s *Session) TakeOff(cb Callback) {
	s.async(func(now time.Time) error { return s.core.TakeOff(now, cb) }, cb)
}

func (s *Session) Land(cb Callback) {
	s.async(func(now time.Time) error { return s.core.Land(now, cb) }, cb)
}

func (s *Session) GoHome(cb Callback) {
	s.async(func(now time.Time) error { return s.core.GoHome(now, cb) }, cb)
}

func (s *Session) CancelGoHome(cb Callback) {
	s.async(func(now time.Time) error { return s.core.CancelGoHome(now, cb) }, cb)
}

// sync queues an operation that completes as soon as it runs
func (s *Session) sync(op func(now time.Time) error, cb Callback) {
	s.enqueue(func(now time.Time) {
		err := op(now)
		if cb != nil {
			cb(err)
		}
	}, cb)
}

// async queues an operation whose success is reported later by the core
func (s *Session) async(op func(now time.Time) error, cb Callback) {
	s.enqueue(func(now time.Time) {
		if err := op(now); err != nil && cb != nil {
			cb(err)
		}
	}, cb)
}

func (s *Session) enqueue(op func(now time.Time), cb Callback) {
	select {
	case s.ops <- op:
	default:
		if cb != nil {
			cb(ErrSessionBusy)
		}
	}
}

func (s *Session) handleMessage(msg types.Message, now time.Time) {
	switch m := msg.Message.(type) {
	case telemetry.AircraftState:
		s.core.Ingest(now, m)
	case types.CommandReply:
		s.core.OnReply(now, m)
	case types.OperatorCommand:
		s.handleOperatorCommand(msg.ID, m, now)
	}
}

func (s *Session) handleOperatorCommand(requestID string, cmd types.OperatorCommand, now time.Time) {
	log.Printf("Session: operator command %s", cmd.Command)
	done := func(err error) {
		result := types.OperatorResult{RequestID: requestID, Command: cmd.Command}
		if err != nil {
			result.Error = err.Error()
		}
		s.publish(types.MessageOperatorResult, result)
	}

	err := s.runOperatorCommand(cmd, now, done)
	if err != nil {
		done(err)
	}
}

// runOperatorCommand returns synchronous failures. done is called for every
// other outcome.
func (s *Session) runOperatorCommand(cmd types.OperatorCommand, now time.Time, done Callback) error {
	c := s.core
	switch cmd.Command {
	case "takeoff":
		return c.TakeOff(now, done)
	case "land":
		return c.Land(now, done)
	case "go-home":
		return c.GoHome(now, done)
	case "cancel-go-home":
		return c.CancelGoHome(now, done)
	case "enter-virtual-stick":
		return c.EnterVirtualStick(now, done)
	case "exit-virtual-stick":
		return c.ExitVirtualStick(now, done)
	case "start-mission":
		return c.StartMission(now, done)
	case "pause-mission":
		return c.PauseMission(now, done)
	case "resume-mission":
		return c.ResumeMission(now, done)
	case "abort-mission":
		return c.AbortMission(now, done)
	}

	var err error
	switch cmd.Command {
	case "advance-mission":
		err = c.AdvanceMission(now)
	case "load-mission":
		var m *mission.Mission
		if m, err = mission.DecodePlan(cmd.Payload); err != nil {
			return errors.Wrap(ErrInvalidArgument, err.Error())
		}
		err = c.LoadMission(m)
	case "stick":
		var frame virtualstick.Frame
		if err = json.Unmarshal(cmd.Payload, &frame); err != nil {
			return errors.Wrap(ErrInvalidArgument, err.Error())
		}
		err = c.SubmitFrame(now, frame)
	case "request-mode":
		var target gate.ControlMode
		if target, err = parseMode(cmd.Payload); err != nil {
			return err
		}
		err = c.RequestMode(now, target)
	default:
		return errors.Wrapf(ErrUnknownCommand, "%q", cmd.Command)
	}
	if err != nil {
		return err
	}

	// stick frames arrive at up to 25 Hz and are not acknowledged
	if cmd.Command != "stick" {
		done(nil)
	}
	return nil
}

func parseMode(payload json.RawMessage) (gate.ControlMode, error) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return 0, errors.Wrap(ErrInvalidArgument, err.Error())
	}
	for _, m := range []gate.ControlMode{gate.Idle, gate.VirtualStick, gate.Mission} {
		if m.String() == req.Mode {
			return m, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidArgument, "unknown mode %q", req.Mode)
}
