package dispatcher

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
)

type fakeLink struct {
	sent [][]byte
	fail error
}

func (l *fakeLink) SendCommand(b []byte) error {
	if l.fail != nil {
		return l.fail
	}
	l.sent = append(l.sent, b)
	return nil
}

type epoch uint64

func (e *epoch) Epoch() uint64 {
	return uint64(*e)
}

func encodeJSON(cmd Outbound) ([]byte, error) {
	return json.Marshal(cmd)
}

type outcome struct {
	handle Handle
	err    error
}

type recorder struct {
	outcomes []outcome
}

func (r *recorder) callback(h Handle, err error) {
	r.outcomes = append(r.outcomes, outcome{h, err})
}

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newDispatcher(options ...func(*Dispatcher)) (*Dispatcher, *fakeLink, *epoch) {
	link := &fakeLink{}
	e := epoch(1)
	return New(link, encodeJSON, &e, options...), link, &e
}

func TestDispatcher_ReplyFiresCallbackOnce(t *testing.T) {
	d, link, _ := newDispatcher()
	r := &recorder{}

	h := d.Issue(t0, Command{Kind: KindTakeOff}, r.callback)
	if len(link.sent) != 1 {
		t.Fatalf("Expected one frame sent, got %d", len(link.sent))
	}
	if d.Pending() != 1 {
		t.Fatalf("Expected one pending command, got %d", d.Pending())
	}

	if !d.OnReply(t0.Add(time.Second), h, nil) {
		t.Fatalf("Reply not matched")
	}
	if d.OnReply(t0.Add(2*time.Second), h, nil) {
		t.Errorf("Second reply matched")
	}

	if len(r.outcomes) != 1 || r.outcomes[0].handle != h || r.outcomes[0].err != nil {
		t.Errorf("Unexpected outcomes %+v", r.outcomes)
	}
	stats := d.Stats()
	if stats.Pending != 0 || stats.Completed != 1 || stats.Unmatched != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestDispatcher_HandlesIncrease(t *testing.T) {
	d, _, _ := newDispatcher()
	var last Handle
	for i := 0; i < 5; i++ {
		h := d.Issue(t0, Command{Kind: KindLand}, nil)
		if h <= last {
			t.Fatalf("Handle %d not greater than %d", h, last)
		}
		last = h
	}
	if err := d.Send(t0, Command{Kind: KindStickFrame}); err != nil {
		t.Fatal(err)
	}
	if h := d.Issue(t0, Command{Kind: KindLand}, nil); h != last+2 {
		t.Errorf("Expected handle %d, got %d", last+2, h)
	}
}

func TestDispatcher_SweepTimesOut(t *testing.T) {
	d, _, _ := newDispatcher()
	r := &recorder{}

	first := d.Issue(t0, Command{Kind: KindGoHome}, r.callback)
	d.Issue(t0.Add(5*time.Second), Command{Kind: KindGoHome}, r.callback)

	if n := d.Sweep(t0.Add(10 * time.Second)); n != 0 {
		t.Fatalf("Expired at the deadline, %d", n)
	}
	if n := d.Sweep(t0.Add(10001 * time.Millisecond)); n != 1 {
		t.Fatalf("Expected one expiry, got %d", n)
	}
	if d.Pending() != 1 {
		t.Errorf("Expected queue to shrink to 1, got %d", d.Pending())
	}
	if len(r.outcomes) != 1 || r.outcomes[0].handle != first || !errors.Is(r.outcomes[0].err, ErrTimeout) {
		t.Errorf("Unexpected outcomes %+v", r.outcomes)
	}

	// a late reply for the expired command is unmatched
	d.OnReply(t0.Add(11*time.Second), first, nil)
	if len(r.outcomes) != 1 || d.Stats().Unmatched != 1 {
		t.Errorf("Late reply delivered")
	}
}

func TestDispatcher_EvictsOldestWhenFull(t *testing.T) {
	d, _, _ := newDispatcher(WithCapacity(2))
	r := &recorder{}

	first := d.Issue(t0, Command{Kind: KindLand}, r.callback)
	d.Issue(t0, Command{Kind: KindLand}, r.callback)
	d.Issue(t0, Command{Kind: KindLand}, r.callback)

	if d.Pending() != 2 {
		t.Errorf("Expected 2 pending, got %d", d.Pending())
	}
	if len(r.outcomes) != 1 || r.outcomes[0].handle != first || !errors.Is(r.outcomes[0].err, ErrTimeout) {
		t.Errorf("Expected oldest to be evicted with timeout, got %+v", r.outcomes)
	}
	if d.Stats().Evicted != 1 {
		t.Errorf("Expected one eviction, got %+v", d.Stats())
	}
}

func TestDispatcher_EvictionCallbackIssuesAfterQueueing(t *testing.T) {
	d, _, e := newDispatcher(WithCapacity(2))
	var order []Kind
	var epochs []uint64
	d.OnIssue(func(o Outbound) {
		order = append(order, o.Kind)
		epochs = append(epochs, o.Epoch)
	})
	r := &recorder{}

	d.Issue(t0, Command{Kind: KindStartMission}, func(h Handle, err error) {
		r.callback(h, err)
		*e = 2
		d.Issue(t0, Command{Kind: KindStopMission}, r.callback)
	})
	second := d.Issue(t0, Command{Kind: KindExecuteWaypoint}, r.callback)
	third := d.Issue(t0, Command{Kind: KindExecuteWaypoint}, r.callback)

	want := []Kind{KindStartMission, KindExecuteWaypoint, KindExecuteWaypoint, KindStopMission}
	if len(order) != len(want) {
		t.Fatalf("Expected link order %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Expected link order %v, got %v", want, order)
		}
	}
	if epochs[2] != 1 || epochs[3] != 2 {
		t.Errorf("Unexpected epochs %v", epochs)
	}

	if d.Pending() != 2 {
		t.Errorf("Expected queue to stay at capacity 2, got %d", d.Pending())
	}
	// the nested issue evicted the first waypoint, whose outcome is stale by then
	for _, o := range r.outcomes {
		if o.handle == second {
			t.Errorf("Stale eviction of %d delivered", second)
		}
	}
	stats := d.Stats()
	if stats.Evicted != 2 || stats.Stale != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if !d.OnReply(t0, third, nil) {
		t.Errorf("Latest waypoint no longer pending")
	}
}

func TestDispatcher_LinkFailureRejects(t *testing.T) {
	d, link, _ := newDispatcher()
	link.fail = errors.New("port closed")
	r := &recorder{}

	d.Issue(t0, Command{Kind: KindTakeOff}, r.callback)
	if len(r.outcomes) != 1 || !errors.Is(r.outcomes[0].err, ErrLinkRejected) {
		t.Fatalf("Expected immediate ErrLinkRejected, got %+v", r.outcomes)
	}
	if d.Pending() != 0 {
		t.Errorf("Rejected command left pending")
	}
	if err := d.Send(t0, Command{Kind: KindStickFrame}); !errors.Is(err, ErrLinkRejected) {
		t.Errorf("Expected ErrLinkRejected from Send, got %v", err)
	}
}

func TestDispatcher_StaleRepliesSwallowed(t *testing.T) {
	d, _, e := newDispatcher()
	r := &recorder{}

	scoped := d.Issue(t0, Command{Kind: KindExecuteWaypoint}, r.callback)
	global := d.Issue(t0, Command{Kind: KindLand}, r.callback)
	*e = 2

	d.OnReply(t0, scoped, nil)
	d.OnReply(t0, global, nil)

	if len(r.outcomes) != 1 || r.outcomes[0].handle != global {
		t.Errorf("Expected only the global command delivered, got %+v", r.outcomes)
	}
	stats := d.Stats()
	if stats.Stale != 1 || stats.Pending != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}

	timedOut := d.Issue(t0, Command{Kind: KindStartMission}, r.callback)
	*e = 3
	d.Sweep(t0.Add(time.Minute))
	for _, o := range r.outcomes {
		if o.handle == timedOut {
			t.Errorf("Stale timeout delivered")
		}
	}
	if d.Stats().Stale != 2 {
		t.Errorf("Expected 2 stale, got %d", d.Stats().Stale)
	}
}

func TestDispatcher_ObserversAndEncoding(t *testing.T) {
	d, link, _ := newDispatcher()
	var issued []Outbound
	var completed []Completion
	d.OnIssue(func(o Outbound) { issued = append(issued, o) })
	d.OnComplete(func(c Completion) { completed = append(completed, c) })

	h := d.Issue(t0, Command{Kind: KindStartMission, Payload: map[string]int{"waypoints": 3}}, nil)
	d.OnReply(t0.Add(250*time.Millisecond), h, nil)

	if len(issued) != 1 || !issued[0].Ack || issued[0].Epoch != 1 {
		t.Errorf("Unexpected issued %+v", issued)
	}
	if len(completed) != 1 || completed[0].Latency != 250*time.Millisecond {
		t.Errorf("Unexpected completions %+v", completed)
	}

	var decoded Outbound
	if err := json.Unmarshal(link.sent[0], &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.ID != h || decoded.Kind != KindStartMission {
		t.Errorf("Unexpected frame %s", link.sent[0])
	}
}
