package gate

import (
	"github.com/pkg/errors"

	"github.com/tiiuae/flightsession/internal/telemetry"
)

type ControlMode int

const (
	Idle ControlMode = iota
	VirtualStick
	Mission
)

func (m ControlMode) String() string {
	switch m {
	case Idle:
		return "idle"
	case VirtualStick:
		return "virtual-stick"
	case Mission:
		return "mission"
	}
	return "invalid"
}

// Mode errors
var (
	ErrInvalidModeTransition = errors.New("invalid mode transition")
	ErrInsufficientGPSSignal = errors.New("insufficient GPS signal")
)

// DefaultMinGPSSignal is the lowest signal level that allows autonomous navigation
const DefaultMinGPSSignal telemetry.GPSSignalLevel = 2

type StateReader interface {
	Current() telemetry.AircraftState
}

// MissionMonitor reports whether a waypoint mission still holds the aircraft
type MissionMonitor interface {
	Running() bool
}

type Listener func(from, to ControlMode, epoch uint64)

// Gate owns the active control mode. Every successful transition bumps the
// mode-epoch which is used to discard replies issued under an older mode.
type Gate struct {
	mode      ControlMode
	epoch     uint64
	minGPS    telemetry.GPSSignalLevel
	telemetry StateReader
	mission   MissionMonitor
	listeners []Listener
}

func WithMinGPSSignal(level telemetry.GPSSignalLevel) func(*Gate) {
	return func(g *Gate) {
		g.minGPS = level
	}
}

func New(telemetry StateReader, options ...func(*Gate)) *Gate {
	g := &Gate{
		mode:      Idle,
		minGPS:    DefaultMinGPSSignal,
		telemetry: telemetry,
	}

	for _, option := range options {
		option(g)
	}

	return g
}

func (g *Gate) AttachMission(m MissionMonitor) {
	g.mission = m
}

func (g *Gate) OnTransition(l Listener) {
	g.listeners = append(g.listeners, l)
}

func (g *Gate) Mode() ControlMode {
	return g.mode
}

func (g *Gate) Epoch() uint64 {
	return g.epoch
}

// RequestMode moves the gate to target. A refused request leaves mode and epoch untouched.
func (g *Gate) RequestMode(target ControlMode) error {
	from := g.mode
	switch {
	case target == Idle && from == Idle:
		return nil
	case target == Idle:
	case from == Idle && target == VirtualStick:
		if g.mission != nil && g.mission.Running() {
			return errors.Wrap(ErrInvalidModeTransition, "mission is running")
		}
	case from == Idle && target == Mission:
		level := g.telemetry.Current().GPSSignal
		if level < g.minGPS {
			return errors.Wrapf(ErrInsufficientGPSSignal, "level %d, need %d", level, g.minGPS)
		}
	default:
		return errors.Wrapf(ErrInvalidModeTransition, "%s -> %s", from, target)
	}

	g.mode = target
	g.epoch++
	for _, l := range g.listeners {
		l(from, target, g.epoch)
	}

	return nil
}
