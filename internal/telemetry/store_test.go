package telemetry

import (
	"math"
	"testing"
	"time"
)

func TestStore_CurrentBeforeIngest(t *testing.T) {
	s := NewStore()
	st := s.Current()
	if st.IsKnown() {
		t.Fatalf("Expected unknown state, got %+v", st)
	}
	if st.FlightMode != FlightModeUnknown {
		t.Errorf("Expected flight mode unknown, got %v", st.FlightMode)
	}
	if st.GPSSignal != 0 {
		t.Errorf("Expected GPS level 0, got %d", st.GPSSignal)
	}
}

func TestStore_IngestOverwrites(t *testing.T) {
	s := NewStore()
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.Ingest(AircraftState{Latitude: 60.1, Longitude: 24.9, Altitude: 30, GPSSignal: 4, Timestamp: ts})
	s.Ingest(AircraftState{Latitude: 60.2, Longitude: 25.0, Altitude: 40, GPSSignal: 3, Timestamp: ts.Add(100 * time.Millisecond)})

	st := s.Current()
	if st.Latitude != 60.2 || st.Altitude != 40 || st.GPSSignal != 3 {
		t.Errorf("Expected latest snapshot, got %+v", st)
	}
	if age := s.Age(ts.Add(time.Second)); age != 900*time.Millisecond {
		t.Errorf("Expected age 900ms, got %v", age)
	}
}

func TestStore_IngestClamps(t *testing.T) {
	s := NewStore()
	s.Ingest(AircraftState{
		Latitude:       95,
		Longitude:      -200,
		Pitch:          math.NaN(),
		Yaw:            270,
		BatteryPercent: 140,
		GPSSignal:      9,
		Timestamp:      time.Now(),
	})

	st := s.Current()
	if st.Latitude != 90 {
		t.Errorf("Expected latitude 90, got %v", st.Latitude)
	}
	if st.Longitude != -180 {
		t.Errorf("Expected longitude -180, got %v", st.Longitude)
	}
	if st.Pitch != 0 {
		t.Errorf("Expected NaN pitch to become 0, got %v", st.Pitch)
	}
	if st.Yaw != 180 {
		t.Errorf("Expected yaw 180, got %v", st.Yaw)
	}
	if st.BatteryPercent != 100 {
		t.Errorf("Expected battery 100, got %v", st.BatteryPercent)
	}
	if st.GPSSignal != MaxGPSSignalLevel {
		t.Errorf("Expected GPS level 5, got %v", st.GPSSignal)
	}
}

func TestStore_ObserversInOrder(t *testing.T) {
	s := NewStore()
	var calls []string
	s.Subscribe(func(AircraftState) { calls = append(calls, "first") })
	s.Subscribe(func(st AircraftState) {
		if st.GPSSignal != 2 {
			t.Errorf("Observer got GPS level %d, want 2", st.GPSSignal)
		}
		calls = append(calls, "second")
	})

	s.Ingest(AircraftState{GPSSignal: 2})

	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Errorf("Unexpected observer calls: %v", calls)
	}
	if !s.Current().IsKnown() {
		t.Errorf("Expected missing timestamp to be filled in")
	}
}
