package mission

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Plan is the JSON form of a mission as sent by the operator
type Plan struct {
	Waypoints       []WaypointPlan `json:"waypoints"`
	AutoFlightSpeed *float64       `json:"auto_flight_speed,omitempty"`
	MaxFlightSpeed  *float64       `json:"max_flight_speed,omitempty"`
	FinishAction    string         `json:"finish_action,omitempty"`
}

type WaypointPlan struct {
	Latitude        float64      `json:"lat"`
	Longitude       float64      `json:"lon"`
	Altitude        float64      `json:"alt"`
	Heading         float64      `json:"heading,omitempty"`
	Speed           float64      `json:"speed,omitempty"`
	GimbalPitch     float64      `json:"gimbal_pitch,omitempty"`
	RepeatTimes     int          `json:"repeat_times,omitempty"`
	ActionTimeoutMs *int         `json:"action_timeout_ms,omitempty"`
	CornerRadius    *float64     `json:"corner_radius,omitempty"`
	Actions         []ActionPlan `json:"actions,omitempty"`
}

type ActionPlan struct {
	Kind  string `json:"kind"`
	Param int16  `json:"param"`
}

func ParseActionKind(s string) (ActionKind, error) {
	for k := ActionStay; k <= ActionRotateGimbalPitch; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidAction, "unknown action %q", s)
}

func ParseFinishAction(s string) (FinishAction, error) {
	if s == "" {
		return FinishNoAction, nil
	}
	for f := FinishNoAction; f <= FinishContinueUntilStop; f++ {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, errors.Errorf("unknown finish action %q", s)
}

// DecodePlan builds a mission from its JSON plan. Limits are checked by Load.
func DecodePlan(b []byte) (*Mission, error) {
	var p Plan
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, errors.Wrap(err, "decode mission plan")
	}
	return p.Mission()
}

func (p Plan) Mission() (*Mission, error) {
	m := New()
	if p.AutoFlightSpeed != nil {
		m.AutoFlightSpeed = *p.AutoFlightSpeed
	}
	if p.MaxFlightSpeed != nil {
		m.MaxFlightSpeed = *p.MaxFlightSpeed
	}
	finish, err := ParseFinishAction(p.FinishAction)
	if err != nil {
		return nil, err
	}
	m.FinishAction = finish

	for i, wp := range p.Waypoints {
		w := NewWaypoint(Coordinate{Latitude: wp.Latitude, Longitude: wp.Longitude}, wp.Altitude)
		w.Heading = wp.Heading
		w.Speed = wp.Speed
		w.GimbalPitch = wp.GimbalPitch
		if wp.RepeatTimes != 0 {
			w.RepeatTimes = wp.RepeatTimes
		}
		if wp.ActionTimeoutMs != nil {
			w.ActionTimeout = time.Duration(*wp.ActionTimeoutMs) * time.Millisecond
		}
		if wp.CornerRadius != nil {
			w.CornerRadius = *wp.CornerRadius
		}
		for _, ap := range wp.Actions {
			kind, err := ParseActionKind(ap.Kind)
			if err != nil {
				return nil, errors.WithMessagef(err, "waypoint %d", i)
			}
			if err := w.AddAction(Action{Kind: kind, Param: ap.Param}); err != nil {
				return nil, errors.WithMessagef(err, "waypoint %d", i)
			}
		}
		m.AddWaypoint(w)
	}

	return m, nil
}
