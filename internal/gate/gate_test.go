package gate

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"

	"github.com/tiiuae/flightsession/internal/telemetry"
)

type fixedTelemetry struct {
	gps telemetry.GPSSignalLevel
}

func (f *fixedTelemetry) Current() telemetry.AircraftState {
	return telemetry.AircraftState{GPSSignal: f.gps}
}

type fakeMission struct {
	running bool
}

func (f *fakeMission) Running() bool {
	return f.running
}

func TestGate_InitialMode(t *testing.T) {
	g := New(&fixedTelemetry{})
	if g.Mode() != Idle {
		t.Errorf("Expected idle, got %v", g.Mode())
	}
	if g.Epoch() != 0 {
		t.Errorf("Expected epoch 0, got %d", g.Epoch())
	}
}

func TestGate_MissionRequiresGPS(t *testing.T) {
	tel := &fixedTelemetry{gps: 1}
	g := New(tel)

	err := g.RequestMode(Mission)
	if !errors.Is(err, ErrInsufficientGPSSignal) {
		t.Fatalf("Expected ErrInsufficientGPSSignal, got %v", err)
	}
	if g.Mode() != Idle || g.Epoch() != 0 {
		t.Errorf("Refused request changed state: mode=%v epoch=%d", g.Mode(), g.Epoch())
	}

	tel.gps = 2
	if err := g.RequestMode(Mission); err != nil {
		t.Fatalf("Expected mission mode to be granted: %v", err)
	}
	if g.Mode() != Mission || g.Epoch() != 1 {
		t.Errorf("Expected mission at epoch 1, got %v at %d", g.Mode(), g.Epoch())
	}
}

func TestGate_CustomMinGPS(t *testing.T) {
	g := New(&fixedTelemetry{gps: 3}, WithMinGPSSignal(4))
	if err := g.RequestMode(Mission); !errors.Is(err, ErrInsufficientGPSSignal) {
		t.Errorf("Expected ErrInsufficientGPSSignal, got %v", err)
	}
}

func TestGate_DirectSwitchRejected(t *testing.T) {
	g := New(&fixedTelemetry{gps: 5})
	if err := g.RequestMode(VirtualStick); err != nil {
		t.Fatal(err)
	}
	if err := g.RequestMode(Mission); !errors.Is(err, ErrInvalidModeTransition) {
		t.Errorf("Expected ErrInvalidModeTransition, got %v", err)
	}
	if err := g.RequestMode(VirtualStick); !errors.Is(err, ErrInvalidModeTransition) {
		t.Errorf("Expected re-entering virtual stick to fail, got %v", err)
	}
	if g.Mode() != VirtualStick {
		t.Errorf("Expected virtual stick to remain, got %v", g.Mode())
	}

	if err := g.RequestMode(Idle); err != nil {
		t.Fatal(err)
	}
	if err := g.RequestMode(Mission); err != nil {
		t.Errorf("Expected mission after going through idle: %v", err)
	}
}

func TestGate_VirtualStickBlockedByRunningMission(t *testing.T) {
	m := &fakeMission{running: true}
	g := New(&fixedTelemetry{gps: 5})
	g.AttachMission(m)

	if err := g.RequestMode(VirtualStick); !errors.Is(err, ErrInvalidModeTransition) {
		t.Errorf("Expected ErrInvalidModeTransition, got %v", err)
	}

	m.running = false
	if err := g.RequestMode(VirtualStick); err != nil {
		t.Errorf("Expected virtual stick to be granted: %v", err)
	}
}

func TestGate_IdleIsNoop(t *testing.T) {
	g := New(&fixedTelemetry{})
	calls := 0
	g.OnTransition(func(from, to ControlMode, epoch uint64) { calls++ })

	if err := g.RequestMode(Idle); err != nil {
		t.Fatal(err)
	}
	if calls != 0 || g.Epoch() != 0 {
		t.Errorf("Idle -> idle should not notify or bump epoch: calls=%d epoch=%d", calls, g.Epoch())
	}
}

func TestGate_ListenerReceivesEpoch(t *testing.T) {
	g := New(&fixedTelemetry{gps: 3})
	type transition struct {
		from, to ControlMode
		epoch    uint64
	}
	var got []transition
	g.OnTransition(func(from, to ControlMode, epoch uint64) {
		got = append(got, transition{from, to, epoch})
	})

	_ = g.RequestMode(Mission)
	_ = g.RequestMode(Idle)
	_ = g.RequestMode(VirtualStick)

	want := []transition{{Idle, Mission, 1}, {Mission, Idle, 2}, {Idle, VirtualStick, 3}}
	if len(got) != len(want) {
		t.Fatalf("Expected %d transitions, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Transition %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestGate_RandomSequencesStayValid(t *testing.T) {
	tel := &fixedTelemetry{}
	g := New(tel)
	r := rand.New(rand.NewSource(7))
	modes := []ControlMode{Idle, VirtualStick, Mission}

	for i := 0; i < 1000; i++ {
		tel.gps = telemetry.GPSSignalLevel(r.Intn(6))
		before := g.Mode()
		beforeEpoch := g.Epoch()
		err := g.RequestMode(modes[r.Intn(len(modes))])

		mode := g.Mode()
		if mode != Idle && mode != VirtualStick && mode != Mission {
			t.Fatalf("Invalid mode %v after step %d", mode, i)
		}
		if err != nil && (mode != before || g.Epoch() != beforeEpoch) {
			t.Fatalf("Failed request changed state at step %d", i)
		}
		if before == VirtualStick && mode == Mission || before == Mission && mode == VirtualStick {
			t.Fatalf("Direct switch %v -> %v at step %d", before, mode, i)
		}
	}
}
