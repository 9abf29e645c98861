package telemetry

import (
	"math"
	"time"
)

type FlightMode uint8

const (
	FlightModeManual            FlightMode = 0
	FlightModeAtti              FlightMode = 1
	FlightModeAttiCourseLock    FlightMode = 2
	FlightModeGPSAtti           FlightMode = 6
	FlightModeGPSCourseLock     FlightMode = 7
	FlightModeGPSHomeLock       FlightMode = 8
	FlightModeGPSHotPoint       FlightMode = 9
	FlightModeAssistedTakeoff   FlightMode = 10
	FlightModeAutoTakeoff       FlightMode = 11
	FlightModeAutoLanding       FlightMode = 12
	FlightModeGPSWaypoint       FlightMode = 14
	FlightModeGoHome            FlightMode = 15
	FlightModeJoystick          FlightMode = 17
	FlightModeGPSSport          FlightMode = 31
	FlightModeConfirmLanding    FlightMode = 33
	FlightModeMotorsJustStarted FlightMode = 41
	FlightModeUnknown           FlightMode = 0xFF
)

var flightModeNames = map[FlightMode]string{
	FlightModeManual:            "manual",
	FlightModeAtti:              "atti",
	FlightModeAttiCourseLock:    "atti-course-lock",
	FlightModeGPSAtti:           "gps-atti",
	FlightModeGPSCourseLock:     "gps-course-lock",
	FlightModeGPSHomeLock:       "gps-home-lock",
	FlightModeGPSHotPoint:       "gps-hot-point",
	FlightModeAssistedTakeoff:   "assisted-takeoff",
	FlightModeAutoTakeoff:       "auto-takeoff",
	FlightModeAutoLanding:       "auto-landing",
	FlightModeGPSWaypoint:       "gps-waypoint",
	FlightModeGoHome:            "go-home",
	FlightModeJoystick:          "joystick",
	FlightModeGPSSport:          "gps-sport",
	FlightModeConfirmLanding:    "confirm-landing",
	FlightModeMotorsJustStarted: "motors-just-started",
	FlightModeUnknown:           "unknown",
}

func (m FlightMode) String() string {
	if name, ok := flightModeNames[m]; ok {
		return name
	}
	return "unknown"
}

// GPSSignalLevel is the coarse 0..5 satellite signal quality. Level 0 means no usable signal.
type GPSSignalLevel uint8

const MaxGPSSignalLevel GPSSignalLevel = 5

// AircraftState is a snapshot of the aircraft as reported by the link
type AircraftState struct {
	Latitude       float64        `json:"lat"`
	Longitude      float64        `json:"lon"`
	Altitude       float64        `json:"alt"`
	Pitch          float64        `json:"pitch"`
	Roll           float64        `json:"roll"`
	Yaw            float64        `json:"yaw"`
	BatteryPercent int            `json:"battery"`
	GPSSignal      GPSSignalLevel `json:"gps_signal"`
	FlightMode     FlightMode     `json:"flight_mode"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Unknown is the sentinel returned before any telemetry has been ingested
func Unknown() AircraftState {
	return AircraftState{FlightMode: FlightModeUnknown}
}

func (s AircraftState) IsKnown() bool {
	return !s.Timestamp.IsZero()
}

// clamped returns a copy with every field forced into its valid range.
func (s AircraftState) clamped() AircraftState {
	s.Latitude = clamp(s.Latitude, -90, 90)
	s.Longitude = clamp(s.Longitude, -180, 180)
	s.Altitude = clamp(s.Altitude, -math.MaxFloat32, math.MaxFloat32)
	s.Pitch = clamp(s.Pitch, -180, 180)
	s.Roll = clamp(s.Roll, -180, 180)
	s.Yaw = clamp(s.Yaw, -180, 180)
	if s.BatteryPercent < 0 {
		s.BatteryPercent = 0
	} else if s.BatteryPercent > 100 {
		s.BatteryPercent = 100
	}
	if s.GPSSignal > MaxGPSSignalLevel {
		s.GPSSignal = MaxGPSSignalLevel
	}
	return s
}

func clamp(v, min, max float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(min, math.Min(max, v))
}
