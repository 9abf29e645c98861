package dispatcher

import (
	"log"
	"time"

	"github.com/pkg/errors"
)

// Command errors
var (
	ErrTimeout      = errors.New("command timed out")
	ErrLinkRejected = errors.New("command rejected by link")
)

const (
	DefaultDeadline = 10 * time.Second
	DefaultCapacity = 16
)

type Sender interface {
	SendCommand(b []byte) error
}

type Encoder func(cmd Outbound) ([]byte, error)

type EpochReader interface {
	Epoch() uint64
}

type Stats struct {
	Pending   int
	Issued    uint64
	Completed uint64
	TimedOut  uint64
	Evicted   uint64
	Unmatched uint64
	Stale     uint64
}

type pending struct {
	cmd      Outbound
	deadline time.Time
	callback Callback
}

// Dispatcher serializes commands to the link and matches replies to them by
// identifier. It is used from a single owner goroutine.
type Dispatcher struct {
	link     Sender
	encode   Encoder
	epochs   EpochReader
	deadline time.Duration
	capacity int

	next      Handle
	queue     []*pending
	stats     Stats
	observers []func(Completion)
	issuers   []func(Outbound)
}

func WithDeadline(d time.Duration) func(*Dispatcher) {
	return func(ds *Dispatcher) {
		ds.deadline = d
	}
}

func WithCapacity(n int) func(*Dispatcher) {
	return func(ds *Dispatcher) {
		ds.capacity = n
	}
}

func New(link Sender, encode Encoder, epochs EpochReader, options ...func(*Dispatcher)) *Dispatcher {
	d := &Dispatcher{
		link:     link,
		encode:   encode,
		epochs:   epochs,
		deadline: DefaultDeadline,
		capacity: DefaultCapacity,
	}
	for _, option := range options {
		option(d)
	}
	if d.capacity < 1 {
		d.capacity = 1
	}
	return d
}

// OnIssue registers an observer called for every command handed to the link
func (d *Dispatcher) OnIssue(o func(Outbound)) {
	d.issuers = append(d.issuers, o)
}

// OnComplete registers an observer called for every delivered outcome
func (d *Dispatcher) OnComplete(o func(Completion)) {
	d.observers = append(d.observers, o)
}

// Issue sends cmd and tracks it until a reply, the deadline or eviction. The
// callback may run before Issue returns when the link refuses the command.
// Evicted outcomes are delivered after the new command is queued, so a
// callback that issues again sees a full queue and evicts in turn.
func (d *Dispatcher) Issue(now time.Time, cmd Command, callback Callback) Handle {
	d.next++
	out := Outbound{
		ID:      d.next,
		Kind:    cmd.Kind,
		Epoch:   d.epochs.Epoch(),
		Ack:     true,
		Issued:  now,
		Payload: cmd.Payload,
	}
	d.stats.Issued++

	entry := &pending{cmd: out, deadline: now.Add(d.deadline), callback: callback}
	if err := d.transmit(out); err != nil {
		log.Printf("Dispatcher: command %d (%s) not sent: %v", out.ID, out.Kind, err)
		d.complete(now, entry, err, false)
		return out.ID
	}

	var evicted []*pending
	for len(d.queue) >= d.capacity {
		oldest := d.queue[0]
		d.queue = d.queue[1:]
		d.stats.Evicted++
		log.Printf("Dispatcher: queue full, evicting command %d (%s)", oldest.cmd.ID, oldest.cmd.Kind)
		evicted = append(evicted, oldest)
	}
	d.queue = append(d.queue, entry)

	for _, oldest := range evicted {
		d.complete(now, oldest, errors.Wrap(ErrTimeout, "evicted from full queue"), true)
	}

	return out.ID
}

// Send transmits cmd without waiting for a reply. Used for high-rate stick frames.
func (d *Dispatcher) Send(now time.Time, cmd Command) error {
	d.next++
	out := Outbound{
		ID:      d.next,
		Kind:    cmd.Kind,
		Epoch:   d.epochs.Epoch(),
		Issued:  now,
		Payload: cmd.Payload,
	}
	return d.transmit(out)
}

// OnReply resolves the command h. err is nil for a successful reply. It returns
// false when no such command is pending.
func (d *Dispatcher) OnReply(now time.Time, h Handle, err error) bool {
	for i, entry := range d.queue {
		if entry.cmd.ID != h {
			continue
		}
		d.queue = append(d.queue[:i], d.queue[i+1:]...)
		d.complete(now, entry, err, false)
		return true
	}

	d.stats.Unmatched++
	log.Printf("Dispatcher: dropping reply for unknown command %d", h)
	return false
}

// Sweep fails every command whose deadline has passed and returns how many expired
func (d *Dispatcher) Sweep(now time.Time) int {
	var expired []*pending
	kept := d.queue[:0]
	for _, entry := range d.queue {
		if now.After(entry.deadline) {
			expired = append(expired, entry)
		} else {
			kept = append(kept, entry)
		}
	}
	d.queue = kept

	for _, entry := range expired {
		d.stats.TimedOut++
		log.Printf("Dispatcher: command %d (%s) timed out after %v", entry.cmd.ID, entry.cmd.Kind, d.deadline)
		d.complete(now, entry, errors.Wrapf(ErrTimeout, "no reply within %v", d.deadline), false)
	}

	return len(expired)
}

func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

func (d *Dispatcher) Stats() Stats {
	s := d.stats
	s.Pending = len(d.queue)
	return s
}

func (d *Dispatcher) transmit(out Outbound) error {
	b, err := d.encode(out)
	if err != nil {
		return errors.Wrapf(ErrLinkRejected, "encode %s: %v", out.Kind, err)
	}
	if err := d.link.SendCommand(b); err != nil {
		return errors.Wrapf(ErrLinkRejected, "send %s: %v", out.Kind, err)
	}
	for _, o := range d.issuers {
		o(out)
	}
	return nil
}

// complete delivers the outcome unless the command belongs to an older control mode
func (d *Dispatcher) complete(now time.Time, entry *pending, err error, evicted bool) {
	if entry.cmd.Kind.Scoped() && entry.cmd.Epoch != d.epochs.Epoch() {
		d.stats.Stale++
		log.Printf("Dispatcher: ignoring outcome of command %d (%s) from epoch %d", entry.cmd.ID, entry.cmd.Kind, entry.cmd.Epoch)
		return
	}

	d.stats.Completed++
	c := Completion{
		ID:      entry.cmd.ID,
		Kind:    entry.cmd.Kind,
		Err:     err,
		Latency: now.Sub(entry.cmd.Issued),
		Evicted: evicted,
	}
	for _, o := range d.observers {
		o(c)
	}
	if entry.callback != nil {
		entry.callback(entry.cmd.ID, err)
	}
}
