package mission

import (
	"log"
	"time"

	"github.com/pkg/errors"

	"github.com/tiiuae/flightsession/internal/gate"
)

type State int

const (
	NotStarted State = iota
	Running
	Paused
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

type EventKind string

const (
	EventStarted          EventKind = "started"
	EventWaypointStarted  EventKind = "waypoint-started"
	EventWaypointFinished EventKind = "waypoint-finished"
	EventPaused           EventKind = "paused"
	EventResumed          EventKind = "resumed"
	EventCompleted        EventKind = "completed"
	EventAborted          EventKind = "aborted"
)

type Event struct {
	Kind      EventKind
	State     State
	Index     int
	Waypoints int
	TimedOut  bool
	// Set on EventStarted
	Mission *Mission
	// Set on EventWaypointStarted
	Waypoint *Waypoint
	// Set on EventCompleted
	FinishAction FinishAction
}

type ModeController interface {
	RequestMode(target gate.ControlMode) error
}

// Sequencer runs a loaded mission waypoint by waypoint. It is driven from a single
// owner goroutine; all waiting is expressed through Tick.
type Sequencer struct {
	gate      ModeController
	mission   *Mission
	state     State
	index     int
	observers []func(Event)

	waypointStarted      time.Time
	pausedAt             time.Time
	completedWhilePaused bool
}

func NewSequencer(g ModeController) *Sequencer {
	return &Sequencer{gate: g, state: NotStarted, index: -1}
}

func (s *Sequencer) Subscribe(o func(Event)) {
	s.observers = append(s.observers, o)
}

func (s *Sequencer) State() State {
	return s.state
}

// Running reports whether the mission still owns the aircraft (running or paused)
func (s *Sequencer) Running() bool {
	return s.state == Running || s.state == Paused
}

// Index returns the current waypoint index. ok is false unless running or paused.
func (s *Sequencer) Index() (index int, ok bool) {
	if !s.Running() {
		return -1, false
	}
	return s.index, true
}

func (s *Sequencer) Waypoints() int {
	if s.mission == nil {
		return 0
	}
	return len(s.mission.Waypoints)
}

// Load validates m and keeps a private copy of it. A failed load leaves the sequencer untouched.
func (s *Sequencer) Load(m *Mission) error {
	if s.Running() {
		return ErrMissionInProgress
	}
	if m == nil {
		return ErrEmptyMission
	}
	if err := m.Validate(); err != nil {
		return err
	}

	s.mission = m.clone()
	s.state = NotStarted
	s.index = -1
	s.completedWhilePaused = false
	log.Printf("Mission: loaded %d waypoints, path %.0f m", len(s.mission.Waypoints), s.mission.PathLength())

	return nil
}

// EditWaypoint changes a loaded waypoint. Only allowed before the mission starts.
func (s *Sequencer) EditWaypoint(index int, edit func(w *Waypoint) error) error {
	if s.mission == nil {
		return ErrMissionNotLoaded
	}
	if s.state != NotStarted {
		return ErrMissionInProgress
	}
	if index < 0 || index >= len(s.mission.Waypoints) {
		return errors.Wrapf(ErrInvalidWaypoint, "index %d out of range", index)
	}

	edited := s.mission.clone()
	if err := edit(edited.Waypoints[index]); err != nil {
		return err
	}
	if err := edited.Validate(); err != nil {
		return err
	}
	s.mission = edited

	return nil
}

func (s *Sequencer) Start(now time.Time) error {
	if s.mission == nil {
		return ErrMissionNotLoaded
	}
	if s.state != NotStarted {
		return ErrMissionInProgress
	}
	if err := s.gate.RequestMode(gate.Mission); err != nil {
		return err
	}

	s.state = Running
	s.index = 0
	s.waypointStarted = now
	s.emit(Event{Kind: EventStarted, Mission: s.mission.clone()})
	// an observer may have aborted the mission already
	if s.state == Running {
		s.emitWaypointStarted()
	}

	return nil
}

// Advance moves on to the next waypoint, completing the mission after the last one
func (s *Sequencer) Advance(now time.Time) error {
	if s.state != Running {
		return ErrMissionNotRunning
	}
	s.finishWaypoint(now, false)
	return nil
}

// ActionsCompleted reports that the actions of waypoint index are done. Reports
// for any other waypoint are stale and ignored.
func (s *Sequencer) ActionsCompleted(index int, now time.Time) {
	if index != s.index {
		return
	}
	switch s.state {
	case Running:
		s.finishWaypoint(now, false)
	case Paused:
		s.completedWhilePaused = true
	}
}

// Tick moves on when the current waypoint's action timeout has elapsed
func (s *Sequencer) Tick(now time.Time) {
	if s.state != Running {
		return
	}
	timeout := s.mission.Waypoints[s.index].ActionTimeout
	if now.Sub(s.waypointStarted) >= timeout {
		log.Printf("Mission: waypoint %d actions timed out after %v, moving on", s.index, timeout)
		s.finishWaypoint(now, true)
	}
}

func (s *Sequencer) Pause(now time.Time) error {
	if s.state != Running {
		return ErrMissionNotRunning
	}
	s.state = Paused
	s.pausedAt = now
	s.emit(Event{Kind: EventPaused})
	return nil
}

func (s *Sequencer) Resume(now time.Time) error {
	if s.state != Paused {
		return ErrMissionNotPaused
	}
	s.state = Running
	s.waypointStarted = s.waypointStarted.Add(now.Sub(s.pausedAt))
	s.emit(Event{Kind: EventResumed})

	if s.completedWhilePaused && s.state == Running {
		s.completedWhilePaused = false
		s.finishWaypoint(now, false)
	}
	return nil
}

// Abort stops a running or paused mission and releases the control mode
func (s *Sequencer) Abort() error {
	if !s.Running() {
		return ErrMissionNotRunning
	}
	s.abort(true)
	return nil
}

// HandleModeChange aborts the mission when someone else takes the aircraft out of mission mode
func (s *Sequencer) HandleModeChange(from, to gate.ControlMode, epoch uint64) {
	if from == gate.Mission && to != gate.Mission && s.Running() {
		log.Printf("Mission: mode changed to %s at epoch %d, aborting", to, epoch)
		s.abort(false)
	}
}

func (s *Sequencer) abort(release bool) {
	index, waypoints := s.index, s.Waypoints()
	s.state = Aborted
	s.reset()
	if release {
		s.releaseMode()
	}
	s.emit(Event{Kind: EventAborted, Index: index, Waypoints: waypoints})
}

func (s *Sequencer) finishWaypoint(now time.Time, timedOut bool) {
	s.emit(Event{Kind: EventWaypointFinished, Index: s.index, TimedOut: timedOut})
	if s.state != Running {
		return
	}

	s.index++
	if s.index < len(s.mission.Waypoints) {
		s.waypointStarted = now
		s.emitWaypointStarted()
		return
	}

	finish, waypoints := s.mission.FinishAction, len(s.mission.Waypoints)
	s.state = Completed
	s.reset()
	s.releaseMode()
	s.emit(Event{Kind: EventCompleted, Index: waypoints - 1, Waypoints: waypoints, FinishAction: finish})
}

func (s *Sequencer) releaseMode() {
	if err := s.gate.RequestMode(gate.Idle); err != nil {
		log.Printf("Mission: failed to release control mode: %v", err)
	}
}

func (s *Sequencer) reset() {
	s.mission = nil
	s.index = -1
	s.completedWhilePaused = false
}

func (s *Sequencer) emitWaypointStarted() {
	s.emit(Event{Kind: EventWaypointStarted, Index: s.index, Waypoint: s.mission.Waypoints[s.index].clone()})
}

func (s *Sequencer) emit(e Event) {
	e.State = s.state
	if e.Waypoints == 0 {
		e.Waypoints = s.Waypoints()
	}
	for _, o := range s.observers {
		o(e)
	}
}
