package mission

import (
	"math"
	"testing"

	"github.com/pkg/errors"
)

func TestWaypoint_ActionCap(t *testing.T) {
	w := NewWaypoint(Coordinate{Latitude: 60, Longitude: 24}, 20)
	for i := 0; i < MaxActionCount; i++ {
		if err := w.AddAction(Action{Kind: ActionStay, Param: 100}); err != nil {
			t.Fatalf("Action %d rejected: %v", i, err)
		}
	}
	if err := w.AddAction(Action{Kind: ActionShootPhoto}); !errors.Is(err, ErrTooManyActions) {
		t.Errorf("Expected ErrTooManyActions, got %v", err)
	}
	if len(w.Actions()) != MaxActionCount {
		t.Errorf("Expected %d actions, got %d", MaxActionCount, len(w.Actions()))
	}
}

func TestWaypoint_ActionRanges(t *testing.T) {
	w := NewWaypoint(Coordinate{}, 20)
	tests := []struct {
		action Action
		valid  bool
	}{
		{Action{Kind: ActionStay, Param: 32767}, true},
		{Action{Kind: ActionStay, Param: -1}, false},
		{Action{Kind: ActionRotateAircraft, Param: -180}, true},
		{Action{Kind: ActionRotateAircraft, Param: 181}, false},
		{Action{Kind: ActionRotateGimbalPitch, Param: -90}, true},
		{Action{Kind: ActionRotateGimbalPitch, Param: 10}, false},
		{Action{Kind: ActionKind(42)}, false},
	}

	for _, tt := range tests {
		err := w.AddAction(tt.action)
		if tt.valid && err != nil {
			t.Errorf("%v %d: unexpected error %v", tt.action.Kind, tt.action.Param, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidAction) {
			t.Errorf("%v %d: expected ErrInvalidAction, got %v", tt.action.Kind, tt.action.Param, err)
		}
	}
}

func TestWaypoint_InsertAndRemove(t *testing.T) {
	w := NewWaypoint(Coordinate{}, 20)
	_ = w.AddAction(Action{Kind: ActionShootPhoto})
	_ = w.AddAction(Action{Kind: ActionStopRecord})
	if err := w.InsertAction(Action{Kind: ActionStartRecord}, 1); err != nil {
		t.Fatal(err)
	}
	if err := w.InsertAction(Action{Kind: ActionStartRecord}, 5); !errors.Is(err, ErrInvalidAction) {
		t.Errorf("Expected out of range insert to fail, got %v", err)
	}

	want := []ActionKind{ActionShootPhoto, ActionStartRecord, ActionStopRecord}
	got := w.Actions()
	for i := range want {
		if got[i].Kind != want[i] {
			t.Errorf("Action %d: expected %v, got %v", i, want[i], got[i].Kind)
		}
	}

	if err := w.RemoveAction(0); err != nil {
		t.Fatal(err)
	}
	if w.Actions()[0].Kind != ActionStartRecord {
		t.Errorf("Expected start-record first after removal")
	}
	if err := w.RemoveAction(3); !errors.Is(err, ErrInvalidAction) {
		t.Errorf("Expected out of range removal to fail, got %v", err)
	}
}

func TestMission_PathLength(t *testing.T) {
	m := New(
		NewWaypoint(Coordinate{Latitude: 60, Longitude: 24}, 30),
		NewWaypoint(Coordinate{Latitude: 60.001, Longitude: 24}, 30),
	)
	// 0.001 degrees of latitude is about 111 m
	if d := m.PathLength(); math.Abs(d-111.2) > 0.5 {
		t.Errorf("Expected ~111.2 m, got %.2f", d)
	}
}

func TestMission_RejectsInvalidCoordinates(t *testing.T) {
	valid := Coordinate{Latitude: 60, Longitude: 24.001}
	for _, c := range []Coordinate{
		{Latitude: math.NaN(), Longitude: 24},
		{Latitude: 60, Longitude: math.NaN()},
		{Latitude: 90.5, Longitude: 24},
		{Latitude: -91, Longitude: 24},
		{Latitude: 60, Longitude: 180.1},
		{Latitude: math.Inf(1), Longitude: 24},
	} {
		m := New(NewWaypoint(c, 30), NewWaypoint(valid, 30))
		if err := m.Validate(); !errors.Is(err, ErrInvalidWaypoint) {
			t.Errorf("%+v: expected ErrInvalidWaypoint, got %v", c, err)
		}
	}

	m := New(NewWaypoint(Coordinate{Latitude: 60, Longitude: 24}, math.NaN()), NewWaypoint(valid, 30))
	if err := m.Validate(); !errors.Is(err, ErrInvalidWaypoint) {
		t.Errorf("Expected NaN altitude rejected, got %v", err)
	}
}
