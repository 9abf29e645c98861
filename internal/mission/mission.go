package mission

import (
	"github.com/pkg/errors"
)

// Mission errors
var (
	ErrEmptyMission      = errors.New("mission has no waypoints")
	ErrTooManyWaypoints  = errors.New("too many waypoints")
	ErrMissionNotLoaded  = errors.New("mission not loaded")
	ErrMissionInProgress = errors.New("mission in progress")
	ErrMissionNotRunning = errors.New("mission not running")
	ErrMissionNotPaused  = errors.New("mission not paused")
	ErrWaypointSpacing   = errors.New("invalid waypoint spacing")
	ErrInvalidWaypoint   = errors.New("invalid waypoint")
	ErrTooManyActions    = errors.New("too many waypoint actions")
	ErrInvalidAction     = errors.New("invalid waypoint action")
)

const (
	MaxWaypointCount   = 99
	MinWaypointSpacing = 0.5
	MaxWaypointSpacing = 2000.0
	MaxFlightSpeed     = 15.0
	DefaultAutoSpeed   = 10.0
	DefaultMaxSpeed    = 15.0
)

type FinishAction int

const (
	FinishNoAction FinishAction = iota
	FinishGoHome
	FinishAutoLand
	FinishGoFirstWaypoint
	FinishContinueUntilStop
)

func (f FinishAction) String() string {
	switch f {
	case FinishNoAction:
		return "no-action"
	case FinishGoHome:
		return "go-home"
	case FinishAutoLand:
		return "auto-land"
	case FinishGoFirstWaypoint:
		return "go-first-waypoint"
	case FinishContinueUntilStop:
		return "continue-until-stop"
	}
	return "unknown"
}

type HeadingMode int

const (
	HeadingAuto HeadingMode = iota
	HeadingUsingInitialDirection
	HeadingControlledByRemoteController
	HeadingUsingWaypointHeading
	HeadingTowardPointOfInterest
)

type Mission struct {
	Waypoints       []*Waypoint  `json:"waypoints"`
	AutoFlightSpeed float64      `json:"auto_flight_speed"`
	MaxFlightSpeed  float64      `json:"max_flight_speed"`
	HeadingMode     HeadingMode  `json:"heading_mode"`
	FinishAction    FinishAction `json:"finish_action"`
}

func New(waypoints ...*Waypoint) *Mission {
	return &Mission{
		Waypoints:       waypoints,
		AutoFlightSpeed: DefaultAutoSpeed,
		MaxFlightSpeed:  DefaultMaxSpeed,
	}
}

func (m *Mission) AddWaypoint(w *Waypoint) {
	m.Waypoints = append(m.Waypoints, w)
}

// Validate checks the mission against the waypoint protocol limits
func (m *Mission) Validate() error {
	if len(m.Waypoints) == 0 {
		return ErrEmptyMission
	}
	if len(m.Waypoints) > MaxWaypointCount {
		return errors.Wrapf(ErrTooManyWaypoints, "%d waypoints, max %d", len(m.Waypoints), MaxWaypointCount)
	}
	if m.MaxFlightSpeed < 2 || m.MaxFlightSpeed > MaxFlightSpeed {
		return errors.Errorf("max flight speed %.1f m/s out of range [2, %.0f]", m.MaxFlightSpeed, MaxFlightSpeed)
	}
	if m.AutoFlightSpeed < -m.MaxFlightSpeed || m.AutoFlightSpeed > m.MaxFlightSpeed {
		return errors.Errorf("auto flight speed %.1f m/s exceeds max flight speed", m.AutoFlightSpeed)
	}

	for i, w := range m.Waypoints {
		if w == nil {
			return errors.Wrapf(ErrInvalidWaypoint, "waypoint %d is nil", i)
		}
		if err := w.validate(); err != nil {
			return errors.WithMessagef(err, "waypoint %d", i)
		}
		if i == 0 {
			continue
		}
		d := waypointDistance(m.Waypoints[i-1], w)
		if !(d >= MinWaypointSpacing && d <= MaxWaypointSpacing) {
			return errors.Wrapf(ErrWaypointSpacing, "waypoints %d and %d are %.1f m apart", i-1, i, d)
		}
	}

	return nil
}

// PathLength returns the distance flown through all waypoints in metres
func (m *Mission) PathLength() float64 {
	total := 0.0
	for i := 1; i < len(m.Waypoints); i++ {
		total += waypointDistance(m.Waypoints[i-1], m.Waypoints[i])
	}
	return total
}

func (m *Mission) clone() *Mission {
	c := *m
	c.Waypoints = make([]*Waypoint, len(m.Waypoints))
	for i, w := range m.Waypoints {
		c.Waypoints[i] = w.clone()
	}
	return &c
}
