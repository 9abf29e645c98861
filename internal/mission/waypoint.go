package mission

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

const (
	MaxActionCount       = 15
	MaxActionRepeatTimes = 15
	MaxActionTimeout     = 999 * time.Second
	DefaultActionTimeout = 60 * time.Second
	MinCornerRadius      = 0.2
	MaxCornerRadius      = 1000.0
)

type ActionKind int

const (
	ActionStay ActionKind = iota
	ActionShootPhoto
	ActionStartRecord
	ActionStopRecord
	ActionRotateAircraft
	ActionRotateGimbalPitch
)

func (k ActionKind) String() string {
	switch k {
	case ActionStay:
		return "stay"
	case ActionShootPhoto:
		return "shoot-photo"
	case ActionStartRecord:
		return "start-record"
	case ActionStopRecord:
		return "stop-record"
	case ActionRotateAircraft:
		return "rotate-aircraft"
	case ActionRotateGimbalPitch:
		return "rotate-gimbal-pitch"
	}
	return "unknown"
}

// Action is executed when the aircraft reaches its waypoint. Param is the stay
// time in milliseconds, the yaw angle or the gimbal pitch depending on Kind.
type Action struct {
	Kind  ActionKind `json:"kind"`
	Param int16      `json:"param"`
}

func (a Action) validate() error {
	switch a.Kind {
	case ActionStay:
		if a.Param < 0 {
			return errors.Wrapf(ErrInvalidAction, "stay %d ms", a.Param)
		}
	case ActionShootPhoto, ActionStartRecord, ActionStopRecord:
	case ActionRotateAircraft:
		if a.Param < -180 || a.Param > 180 {
			return errors.Wrapf(ErrInvalidAction, "rotate aircraft %d degrees", a.Param)
		}
	case ActionRotateGimbalPitch:
		if a.Param < -90 || a.Param > 0 {
			return errors.Wrapf(ErrInvalidAction, "gimbal pitch %d degrees", a.Param)
		}
	default:
		return errors.Wrapf(ErrInvalidAction, "kind %d", a.Kind)
	}
	return nil
}

type TurnMode int

const (
	TurnClockwise TurnMode = iota
	TurnCounterClockwise
)

type Coordinate struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

type Waypoint struct {
	Coordinate    Coordinate    `json:"coordinate"`
	Altitude      float64       `json:"alt"`
	Heading       float64       `json:"heading"`
	RepeatTimes   int           `json:"repeat_times"`
	ActionTimeout time.Duration `json:"action_timeout"`
	CornerRadius  float64       `json:"corner_radius"`
	TurnMode      TurnMode      `json:"turn_mode"`
	GimbalPitch   float64       `json:"gimbal_pitch"`
	Speed         float64       `json:"speed"`
	actions       []Action
}

func NewWaypoint(coordinate Coordinate, altitude float64) *Waypoint {
	return &Waypoint{
		Coordinate:    coordinate,
		Altitude:      altitude,
		RepeatTimes:   1,
		ActionTimeout: DefaultActionTimeout,
		CornerRadius:  MinCornerRadius,
	}
}

func (w *Waypoint) Actions() []Action {
	return append([]Action(nil), w.actions...)
}

func (w *Waypoint) AddAction(a Action) error {
	return w.InsertAction(a, len(w.actions))
}

func (w *Waypoint) InsertAction(a Action, index int) error {
	if len(w.actions) >= MaxActionCount {
		return errors.Wrapf(ErrTooManyActions, "waypoint already has %d actions", len(w.actions))
	}
	if index < 0 || index > len(w.actions) {
		return errors.Wrapf(ErrInvalidAction, "index %d out of range", index)
	}
	if err := a.validate(); err != nil {
		return err
	}

	w.actions = append(w.actions, Action{})
	copy(w.actions[index+1:], w.actions[index:])
	w.actions[index] = a
	return nil
}

func (w *Waypoint) RemoveAction(index int) error {
	if index < 0 || index >= len(w.actions) {
		return errors.Wrapf(ErrInvalidAction, "index %d out of range", index)
	}
	w.actions = append(w.actions[:index], w.actions[index+1:]...)
	return nil
}

func (c Coordinate) valid() bool {
	return !math.IsNaN(c.Latitude) && !math.IsNaN(c.Longitude) &&
		c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

func (w *Waypoint) validate() error {
	if !w.Coordinate.valid() {
		return errors.Wrapf(ErrInvalidWaypoint, "coordinate %v, %v", w.Coordinate.Latitude, w.Coordinate.Longitude)
	}
	if math.IsNaN(w.Altitude) || math.IsInf(w.Altitude, 0) {
		return errors.Wrapf(ErrInvalidWaypoint, "altitude %v", w.Altitude)
	}
	if len(w.actions) > MaxActionCount {
		return errors.Wrapf(ErrTooManyActions, "%d actions", len(w.actions))
	}
	if w.RepeatTimes < 1 || w.RepeatTimes > MaxActionRepeatTimes {
		return errors.Wrapf(ErrInvalidWaypoint, "repeat times %d", w.RepeatTimes)
	}
	if w.ActionTimeout < 0 || w.ActionTimeout > MaxActionTimeout {
		return errors.Wrapf(ErrInvalidWaypoint, "action timeout %v", w.ActionTimeout)
	}
	if w.CornerRadius < MinCornerRadius || w.CornerRadius > MaxCornerRadius {
		return errors.Wrapf(ErrInvalidWaypoint, "corner radius %.1f m", w.CornerRadius)
	}
	for _, a := range w.actions {
		if err := a.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Waypoint) clone() *Waypoint {
	c := *w
	c.actions = w.Actions()
	return &c
}
