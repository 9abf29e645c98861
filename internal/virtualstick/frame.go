package virtualstick

import "math"

type RollPitchMode uint8

const (
	RollPitchAngle RollPitchMode = iota
	RollPitchVelocity
)

type YawMode uint8

const (
	YawAngle YawMode = iota
	YawAngularVelocity
)

type VerticalMode uint8

const (
	VerticalVelocity VerticalMode = iota
	VerticalPosition
)

type CoordinateSystem uint8

const (
	CoordinateGround CoordinateSystem = iota
	CoordinateBody
)

// Control ranges accepted by the flight controller
const (
	MaxRollPitchAngle    = 30.0
	MaxRollPitchVelocity = 15.0
	MaxYawAngle          = 180.0
	MaxYawAngularRate    = 100.0
	MaxVerticalVelocity  = 4.0
	MaxVerticalPosition  = 500.0
)

// Frame is one virtual stick sample. Units depend on the selected modes:
// degrees or m/s for pitch and roll, degrees or deg/s for yaw, m/s or metres
// for throttle.
type Frame struct {
	Pitch    float64 `json:"pitch"`
	Roll     float64 `json:"roll"`
	Yaw      float64 `json:"yaw"`
	Throttle float64 `json:"throttle"`

	RollPitchMode    RollPitchMode    `json:"roll_pitch_mode"`
	YawMode          YawMode          `json:"yaw_mode"`
	VerticalMode     VerticalMode     `json:"vertical_mode"`
	CoordinateSystem CoordinateSystem `json:"coordinate_system"`
}

// Hover is the fail-safe frame: no tilt, no yaw rate and no climb
func Hover() Frame {
	return Frame{
		RollPitchMode:    RollPitchVelocity,
		YawMode:          YawAngularVelocity,
		VerticalMode:     VerticalVelocity,
		CoordinateSystem: CoordinateBody,
	}
}

// Clamped returns f with every axis limited to the range of its mode
func (f Frame) Clamped() Frame {
	rp := MaxRollPitchAngle
	if f.RollPitchMode == RollPitchVelocity {
		rp = MaxRollPitchVelocity
	}
	f.Pitch = clamp(f.Pitch, -rp, rp)
	f.Roll = clamp(f.Roll, -rp, rp)

	if f.YawMode == YawAngularVelocity {
		f.Yaw = clamp(f.Yaw, -MaxYawAngularRate, MaxYawAngularRate)
	} else {
		f.Yaw = clamp(f.Yaw, -MaxYawAngle, MaxYawAngle)
	}

	if f.VerticalMode == VerticalPosition {
		f.Throttle = clamp(f.Throttle, 0, MaxVerticalPosition)
	} else {
		f.Throttle = clamp(f.Throttle, -MaxVerticalVelocity, MaxVerticalVelocity)
	}

	return f
}

func clamp(v, min, max float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(min, math.Min(max, v))
}
