package respsvc

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/neurotask/reflex/pkg/handoff"
)

var defaultBufferOptions = bufferOptions{
	idleInterval: 2 * time.Millisecond,
}

type bufferOptions struct {
	idleInterval time.Duration
}

type BufferOption func(*bufferOptions)

// WithIdleInterval sets how long the worker sleeps after an empty poll
// when the source itself does not block.
func WithIdleInterval(d time.Duration) BufferOption {
	return func(o *bufferOptions) {
		o.idleInterval = d
	}
}

// EventBuffer bridges one backend source to the main-thread consumer.
// There is exactly one per physical device identity, so a single native
// queue never has two competing consumers. A dedicated worker drains the
// source and republishes events through a non-blocking hand-off queue;
// the worker never blocks on the consumer and never drops an event.
type EventBuffer struct {
	log     *zap.Logger
	source  Source
	backend string
	options bufferOptions

	queue *handoff.Queue[RawEvent]

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	closed  chan struct{}
}

// NewEventBuffer starts the source and returns a buffer ready for
// Start. A source that cannot start, typically driver or permission
// trouble, surfaces as *DeviceUnavailableError and leaves no
// half-started buffer behind.
func NewEventBuffer(log *zap.Logger, backend string, source Source, opts ...BufferOption) (*EventBuffer, error) {
	options := defaultBufferOptions
	for _, opt := range opts {
		opt(&options)
	}
	if err := source.Start(); err != nil {
		return nil, &DeviceUnavailableError{Backend: backend, Err: err}
	}
	return &EventBuffer{
		log:     log,
		source:  source,
		backend: backend,
		options: options,
		queue:   handoff.New[RawEvent](),
		stop:    make(chan struct{}),
		closed:  make(chan struct{}),
	}, nil
}

// Start launches the worker. Calling it twice is a no-op.
func (b *EventBuffer) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started || b.stopped {
		return
	}
	b.started = true
	go b.run()
}

func (b *EventBuffer) run() {
	defer close(b.closed)
	for {
		select {
		case <-b.stop:
			if err := b.source.Stop(); err != nil {
				b.log.Warn("failed to stop source", zap.String("backend", b.backend), zap.Error(err))
			}
			return
		default:
		}
		events, err := b.source.PollRaw()
		if err != nil {
			// A malformed batch must not kill the worker; log and keep
			// polling.
			b.log.Warn("poll failed", zap.String("backend", b.backend), zap.Error(err))
		}
		for _, ev := range events {
			b.queue.Push(ev)
		}
		if len(events) == 0 {
			select {
			case <-b.stop:
			case <-time.After(b.options.idleInterval):
			}
		}
	}
}

// Read takes the oldest pending event without blocking. ok is false when
// nothing is pending.
func (b *EventBuffer) Read() (RawEvent, bool) {
	return b.queue.Pop()
}

// Pending reports how many events are queued.
func (b *EventBuffer) Pending() int {
	return b.queue.Len()
}

// Stop signals the worker and blocks until it has exited. After Stop
// returns the native handle is released and nothing writes to the queue
// anymore, so callers may tear down shared state immediately. Stop is
// idempotent.
func (b *EventBuffer) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		<-b.closed
		return
	}
	b.stopped = true
	started := b.started
	b.mu.Unlock()

	close(b.stop)
	if !started {
		// No worker to join; release the handle here.
		if err := b.source.Stop(); err != nil {
			b.log.Warn("failed to stop source", zap.String("backend", b.backend), zap.Error(err))
		}
		close(b.closed)
		return
	}
	<-b.closed
}
