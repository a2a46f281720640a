// Package polled is the low-resolution fallback backend: it samples a
// channel-state snapshot on a fixed interval and reconstructs edges from
// consecutive snapshots. Timing resolution equals the sample interval,
// which is why it sits last in every class's preference order.
package polled

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/neurotask/reflex/internal/respsvc"
	"github.com/neurotask/reflex/pkg/respclock"
)

// Sampler reads the instantaneous on/off state of every channel.
type Sampler interface {
	// Sample returns one bool per channel.
	Sample() ([]bool, error)
	Close() error
}

// SamplerFactory opens a sampler for a device; cfg.Device carries the
// port or path in backend-native terms.
type SamplerFactory func(device string, channels int) (Sampler, error)

var defaultOptions = backendOptions{
	interval: 10 * time.Millisecond,
}

type backendOptions struct {
	interval time.Duration
}

type Option func(*backendOptions)

// WithInterval sets the sample interval, which bounds the timing
// resolution of everything this backend reports.
func WithInterval(d time.Duration) Option {
	return func(o *backendOptions) {
		o.interval = d
	}
}

type Backend struct {
	log        *zap.Logger
	newSampler SamplerFactory
	options    backendOptions
}

func New(log *zap.Logger, newSampler SamplerFactory, opts ...Option) *Backend {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Backend{
		log:        log,
		newSampler: newSampler,
		options:    options,
	}
}

func (b *Backend) Name() string {
	return "polled"
}

// ReleasePolicy: the first sample re-baselines all channel state, so an
// orphan release cannot occur legitimately and is dropped.
func (b *Backend) ReleasePolicy() respsvc.ReleasePolicy {
	return respsvc.ReleaseDrop
}

// Probe always succeeds; this backend is the fallback of last resort and
// any real failure shows up when the sampler opens.
func (b *Backend) Probe() error {
	return nil
}

func (b *Backend) Open(cfg respsvc.OpenConfig) (respsvc.Source, error) {
	if cfg.Channels < 1 {
		return nil, fmt.Errorf("polled backend needs at least one channel")
	}
	sampler, err := b.newSampler(cfg.Device, cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to open sampler: %w", err)
	}
	return &source{
		log:      b.log,
		sampler:  sampler,
		clock:    cfg.Clock,
		interval: b.options.interval,
		prev:     make([]bool, cfg.Channels),
	}, nil
}

type source struct {
	log      *zap.Logger
	sampler  Sampler
	clock    *respclock.Clock
	interval time.Duration

	prev    []bool
	baselined bool
}

func (s *source) Start() error {
	return nil
}

// PollRaw sleeps out the sample interval, takes one snapshot and diffs
// it against the previous one. The first snapshot only establishes the
// baseline; a channel already active at start produces no edge.
func (s *source) PollRaw() ([]respsvc.RawEvent, error) {
	time.Sleep(s.interval)
	state, err := s.sampler.Sample()
	if err != nil {
		return nil, fmt.Errorf("sample failed: %w", err)
	}
	if len(state) < len(s.prev) {
		return nil, fmt.Errorf("sampler returned %d channels, want %d", len(state), len(s.prev))
	}
	t := s.clock.Now()
	if !s.baselined {
		copy(s.prev, state)
		s.baselined = true
		return nil, nil
	}
	var events []respsvc.RawEvent
	for ch := range s.prev {
		if state[ch] == s.prev[ch] {
			continue
		}
		events = append(events, respsvc.RawEvent{
			Code: uint16(ch),
			Down: state[ch],
			Time: t,
		})
		s.prev[ch] = state[ch]
	}
	return events, nil
}

func (s *source) Stop() error {
	return s.sampler.Close()
}
