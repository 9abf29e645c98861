package virtualstick

import (
	"log"
	"time"

	"github.com/pkg/errors"

	"github.com/tiiuae/flightsession/internal/gate"
)

// Control errors
var (
	ErrNotInControlMode = errors.New("not in virtual stick mode")
	ErrControlTimeout   = errors.New("virtual stick control timeout")
	ErrRateLimited      = errors.New("virtual stick frame rate exceeded")
)

const (
	DefaultTimeout = 400 * time.Millisecond
	// 25 Hz ceiling
	MinFrameInterval = 40 * time.Millisecond
)

type ModeReader interface {
	Mode() gate.ControlMode
}

// TimeoutObserver is told how long the operator has been silent and which
// frame was synthesized in response.
type TimeoutObserver func(err error, silence time.Duration, hover Frame)

// Session validates operator stick frames and watches the gap between them.
type Session struct {
	gate      ModeReader
	timeout   time.Duration
	observers []TimeoutObserver

	armed     bool
	hasFrame  bool
	lastFrame time.Time
	// last frame, arm time or last timeout, whichever is latest
	watchdog time.Time
	timeouts uint64
}

func WithTimeout(timeout time.Duration) func(*Session) {
	return func(s *Session) {
		s.timeout = timeout
	}
}

func New(g ModeReader, options ...func(*Session)) *Session {
	s := &Session{gate: g, timeout: DefaultTimeout}
	for _, option := range options {
		option(s)
	}
	return s
}

func (s *Session) OnTimeout(o TimeoutObserver) {
	s.observers = append(s.observers, o)
}

// Arm starts the watchdog. Called when the gate enters virtual stick mode.
func (s *Session) Arm(now time.Time) {
	s.armed = true
	s.hasFrame = false
	s.lastFrame = now
	s.watchdog = now
	log.Printf("VirtualStick: armed, timeout %v", s.timeout)
}

func (s *Session) Disarm() {
	if s.armed {
		log.Printf("VirtualStick: disarmed after %d timeouts", s.timeouts)
	}
	s.armed = false
	s.hasFrame = false
}

func (s *Session) Armed() bool {
	return s.armed
}

// Timeouts returns how many control timeouts were raised
func (s *Session) Timeouts() uint64 {
	return s.timeouts
}

// Submit checks and clamps a frame. The returned frame is what should be sent to the aircraft.
func (s *Session) Submit(frame Frame, now time.Time) (Frame, error) {
	if s.gate.Mode() != gate.VirtualStick || !s.armed {
		return Frame{}, ErrNotInControlMode
	}
	if s.hasFrame && now.Sub(s.lastFrame) < MinFrameInterval {
		return Frame{}, errors.Wrapf(ErrRateLimited, "%v since previous frame", now.Sub(s.lastFrame))
	}

	clamped := frame.Clamped()
	s.hasFrame = true
	s.lastFrame = now
	s.watchdog = now

	return clamped, nil
}

// Tick raises a control timeout when the operator has been silent for longer
// than the timeout. The hover frame is returned for transmission. The watchdog
// re-arms so a silent operator triggers one timeout per period.
func (s *Session) Tick(now time.Time) (Frame, bool) {
	if !s.armed {
		return Frame{}, false
	}
	if now.Sub(s.watchdog) <= s.timeout {
		return Frame{}, false
	}
	silence := now.Sub(s.lastFrame)

	s.timeouts++
	s.watchdog = now
	hover := Hover()
	err := errors.Wrapf(ErrControlTimeout, "no frame for %v", silence)
	log.Printf("VirtualStick: %v, holding position", err)
	for _, o := range s.observers {
		o(err, silence, hover)
	}

	return hover, true
}
