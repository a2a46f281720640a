package respsvc

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neurotask/reflex/pkg/respclock"
)

// DecodeFunc translates a raw edge into the consumer-visible value and
// channel for one device class. ok is false for events the class does
// not understand; those are logged and skipped.
type DecodeFunc func(ev RawEvent) (value any, channel int, ok bool)

// WatchFunc inspects each freshly recorded response and may turn it into
// a threshold event for the bus. It runs on the query path, never on the
// buffer worker.
type WatchFunc func(r *Response) (ThresholdEvent, bool)

// DeviceParams is everything needed to assemble a device outside the
// registry: tests and the simulate command build devices directly,
// usually without a buffer.
type DeviceParams struct {
	Class  string
	Key    string
	Decode DecodeFunc
	Watch  WatchFunc
	Policy ReleasePolicy
	Clock  *respclock.Clock
	Log    *zap.Logger

	Backend string
	Buffer  *EventBuffer
}

// Device is the consumer-facing response device. It converts raw backend
// edges into Response records, pairs presses with releases, and owns the
// per-device response history.
//
// History is a single mutually-exclusive resource: only the parse path
// and the query clear step mutate it, both under one mutex.
type Device struct {
	ID    uuid.UUID
	Class string
	Key   string

	log    *zap.Logger
	clock  *respclock.Clock
	decode DecodeFunc
	watch  WatchFunc
	policy ReleasePolicy

	backend      string
	buf          *EventBuffer
	thresholdPub func(ThresholdEvent)

	mu      sync.Mutex
	history []*Response
	down    map[uint16]*Response
	closed  bool
}

func NewDevice(p DeviceParams) *Device {
	return &Device{
		ID:      uuid.New(),
		Class:   p.Class,
		Key:     p.Key,
		log:     p.Log,
		clock:   p.Clock,
		decode:  p.Decode,
		watch:   p.Watch,
		policy:  p.Policy,
		backend: p.Backend,
		buf:     p.Buffer,
		down:    make(map[uint16]*Response),
	}
}

// Backend names the backend this device was bound to at construction.
func (d *Device) Backend() string {
	return d.backend
}

// SetBackend rejects any attempt to rebind an already-bound device. The
// bound backend keeps running; a silent switch would mix timestamp
// epochs mid-session.
func (d *Device) SetBackend(name string) error {
	if name == d.backend {
		return nil
	}
	d.log.Warn("rejected backend switch on bound device",
		zap.String("bound", d.backend),
		zap.String("requested", name))
	return ErrBackendConflict
}

// Clock returns the clock timestamps and reaction times are measured on.
func (d *Device) Clock() *respclock.Clock {
	return d.clock
}

// ParseMessage translates one raw edge into the response history.
//
// A down edge appends a new record and tracks it by its backend-native
// code. An up edge finds the tracked press with the same code, fills its
// duration exactly once, and untracks it; no new record is appended for
// a clean release. An up edge with no tracked press follows the
// backend's release policy and never fails.
//
// The returned record is the one affected, or nil when the event was
// skipped.
func (d *Device) ParseMessage(ev RawEvent) *Response {
	value, channel, ok := d.decode(ev)
	if !ok {
		d.log.Debug("skipping undecodable event",
			zap.Uint16("code", ev.Code),
			zap.Bool("down", ev.Down))
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if ev.Down {
		r := &Response{
			T:       ev.Time,
			Value:   value,
			Channel: channel,
			RT:      d.clock.RT(ev.Time),
			code:    ev.Code,
		}
		d.history = append(d.history, r)
		d.down[ev.Code] = r
		d.notifyLocked(r)
		return r
	}

	if pressed, ok := d.down[ev.Code]; ok {
		duration := ev.Time - pressed.T
		pressed.Duration = &duration
		delete(d.down, ev.Code)
		return pressed
	}

	d.log.Warn("release without tracked press",
		zap.Uint16("code", ev.Code),
		zap.String("backend", d.backend))
	if d.policy == ReleaseDrop {
		return nil
	}
	r := &Response{
		T:       ev.Time,
		Value:   value,
		Channel: channel,
		RT:      d.clock.RT(ev.Time),
		code:    ev.Code,
	}
	d.history = append(d.history, r)
	return r
}

// ReceiveMessage injects an already-built response. Real backend traffic
// and simulated input share this path. RT is computed here, at receipt,
// and never re-derived later.
func (d *Device) ReceiveMessage(r *Response) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r.RT = d.clock.RT(r.T)
	d.history = append(d.history, r)
	if r.Duration == nil {
		d.down[r.code] = r
	}
	d.notifyLocked(r)
}

// notifyLocked hands the record to the class watcher. Publication goes
// through the bus, so real-time callbacks are marshalled to subscribers
// instead of running on capture paths.
func (d *Device) notifyLocked(r *Response) {
	if d.watch == nil || d.thresholdPub == nil {
		return
	}
	if ev, ok := d.watch(r); ok {
		ev.DeviceID = d.ID
		ev.Class = d.Class
		d.thresholdPub(ev)
	}
}

// update drains everything the buffer has pending through ParseMessage.
// This is the only point where background capture becomes visible to
// queries: queries are pull-based snapshots, not push callbacks.
func (d *Device) update() {
	if d.buf == nil {
		return
	}
	for {
		ev, ok := d.buf.Read()
		if !ok {
			return
		}
		d.ParseMessage(ev)
	}
}

// Get runs one query against the response history. It first drains the
// event buffer, then matches in a single stable pass: each matching
// record is returned exactly once and, when clearing, removed exactly
// once. Arrival order is preserved.
func (d *Device) Get(opts ...QueryOption) []*Response {
	o := defaultQueryOptions
	for _, opt := range opts {
		opt(&o)
	}
	d.update()

	d.mu.Lock()
	defer d.mu.Unlock()

	var out []*Response
	kept := d.history[:0:0]
	for _, r := range d.history {
		if o.matches(r) {
			out = append(out, r)
			if o.clear {
				continue
			}
		}
		kept = append(kept, r)
	}
	if o.clear {
		d.history = kept
	}
	return out
}

// WaitFor polls Get until a match, the timeout, or ctx cancellation.
// Expiry returns nil, the no-response sentinel, never an error.
func (d *Device) WaitFor(ctx context.Context, timeout time.Duration, opts ...QueryOption) []*Response {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(2 * time.Millisecond)
	defer tick.Stop()
	for {
		if rs := d.Get(opts...); len(rs) > 0 {
			return rs
		}
		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			return nil
		case <-tick.C:
		}
	}
}

// Pressed reports how many presses are currently tracked without a
// release.
func (d *Device) Pressed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.down)
}

// close stops capture. Idempotent; the registry calls it from
// Service.Close.
func (d *Device) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	if d.buf != nil {
		d.buf.Stop()
	}
}
