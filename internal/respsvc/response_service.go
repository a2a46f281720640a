// Package respsvc captures input events from response devices for
// timing-sensitive experiment sessions. It owns device identity (one
// shared handle per physical device), the per-device capture buffers,
// and the response query contract.
package respsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neurotask/reflex/pkg/bus"
	"github.com/neurotask/reflex/pkg/respclock"
)

type (
	LifecycleBus = bus.Bus[string, LifecycleEvent]
	ThresholdBus = bus.Bus[uuid.UUID, ThresholdEvent]
)

type LifecycleEventType uint8

const (
	DeviceConnected LifecycleEventType = iota
	DeviceDisconnected
)

// LifecycleEvent announces device construction and teardown on the bus,
// keyed by device class.
type LifecycleEvent struct {
	Type     LifecycleEventType `json:"type"`
	DeviceID uuid.UUID          `json:"deviceId"`
	Class    string             `json:"class"`
	Key      string             `json:"key"`
	Backend  string             `json:"backend"`
}

// ThresholdEvent is published when a class watcher sees a real-time
// condition, e.g. a voice key crossing its level. Consumers receive it
// through the bus on their own goroutine; capture paths never call
// application code directly.
type ThresholdEvent struct {
	DeviceID uuid.UUID `json:"deviceId"`
	Class    string    `json:"class"`
	Channel  int       `json:"channel"`
	Value    any       `json:"value"`
	T        float64   `json:"t"`
}

// DeviceConfig is the outcome of decoding class construction parameters.
type DeviceConfig struct {
	// Key identifies the physical device within the class. Two
	// construction requests resolving to equal keys describe the same
	// device unless the class installs its own SameDevice predicate.
	Key string
	// Name is the display name persisted with the device metadata.
	Name string
	// Backend is an explicit caller preference; empty means probe the
	// class order.
	Backend string

	Open   OpenConfig
	Decode DecodeFunc
	Watch  WatchFunc
}

// DeviceClass describes one kind of response device the registry can
// construct.
type DeviceClass struct {
	Name string
	// Backends lists usable backends in preference order.
	Backends []string
	// Configure validates and decodes construction parameters. It must
	// fail with *ConfigurationError before any device state exists.
	Configure func(config json.RawMessage) (DeviceConfig, error)
	// SameDevice overrides the identity predicate; nil compares Keys.
	SameDevice func(existing *Device, cfg DeviceConfig) bool
}

var defaultOptions = serviceOptions{
	backends: make(map[string]Backend),
	now:      time.Now,
}

type serviceOptions struct {
	backends   map[string]Backend
	bufferOpts []BufferOption
	now        func() time.Time
}

type Option func(*serviceOptions)

func WithBackend(b Backend) Option {
	return func(o *serviceOptions) {
		o.backends[b.Name()] = b
	}
}

func WithBufferOptions(opts ...BufferOption) Option {
	return func(o *serviceOptions) {
		o.bufferOpts = append(o.bufferOpts, opts...)
	}
}

// WithNow injects the wall-clock source used for persisted metadata.
func WithNow(now func() time.Time) Option {
	return func(o *serviceOptions) {
		o.now = now
	}
}

// Service is the process-wide device registry. Construction requests
// that describe the same physical device yield the same shared handle;
// state mutated through one call site is visible through every other.
type Service struct {
	log     *zap.Logger
	db      *badger.DB
	clock   *respclock.Clock
	options serviceOptions
	ready   chan struct{}

	lifecycleBus *LifecycleBus
	thresholdBus *ThresholdBus

	runMu  sync.Mutex
	runCtx context.Context

	mu      sync.Mutex
	classes map[string]DeviceClass
	devices []*Device
}

func New(db *badger.DB, log *zap.Logger, clock *respclock.Clock, opts ...Option) *Service {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Service{
		log:          log,
		db:           db,
		clock:        clock,
		options:      options,
		ready:        make(chan struct{}),
		lifecycleBus: bus.NewBus[string, LifecycleEvent](log),
		thresholdBus: bus.NewBus[uuid.UUID, ThresholdEvent](log),
		runCtx:       context.Background(),
		classes:      make(map[string]DeviceClass),
	}
}

// MustRegisterClass registers a device class. Classes are registered
// once at wiring time; a duplicate name is a programming error.
func (s *Service) MustRegisterClass(class DeviceClass) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.classes[class.Name]; ok {
		panic(fmt.Sprintf("device class already registered: %s", class.Name))
	}
	s.classes[class.Name] = class
}

// Start runs the buses and blocks until ctx is cancelled, then closes
// every live device.
func (s *Service) Start(ctx context.Context) error {
	if err := s.lifecycleBus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start lifecycle bus: %w", err)
	}
	if err := s.thresholdBus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start threshold bus: %w", err)
	}
	select {
	case <-ctx.Done():
		return nil
	case <-s.lifecycleBus.Ready():
	}
	select {
	case <-ctx.Done():
		return nil
	case <-s.thresholdBus.Ready():
	}

	s.runMu.Lock()
	s.runCtx = ctx
	s.runMu.Unlock()

	close(s.ready)
	s.log.Info("Response service started")
	<-ctx.Done()

	for _, dev := range s.Devices() {
		if err := s.Close(dev); err != nil {
			s.log.Error("failed to close device", zap.String("key", dev.Key), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

func (s *Service) runContext() context.Context {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.runCtx
}

// Construct returns the device described by the class parameters,
// building it only if no live device matches the class identity
// predicate. The returned handle is shared, never a copy.
func (s *Service) Construct(ctx context.Context, className string, config json.RawMessage) (*Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	class, ok := s.classes[className]
	if !ok {
		return nil, &ConfigurationError{Class: className, Reason: "unknown device class"}
	}
	cfg, err := class.Configure(config)
	if err != nil {
		return nil, err
	}

	for _, dev := range s.devices {
		if dev.Class != className {
			continue
		}
		same := dev.Key == cfg.Key
		if class.SameDevice != nil {
			same = class.SameDevice(dev, cfg)
		}
		if !same {
			continue
		}
		if cfg.Backend != "" && cfg.Backend != dev.Backend() {
			// Rejected, logged, non-fatal: the existing binding wins.
			_ = dev.SetBackend(cfg.Backend)
		}
		return dev, nil
	}

	backend, err := s.selectBackend(cfg.Backend, class.Backends)
	if err != nil {
		return nil, err
	}

	cfg.Open.Clock = s.clock
	cfg.Open.Log = s.log.Named(backend.Name())
	source, err := backend.Open(cfg.Open)
	if err != nil {
		return nil, &DeviceUnavailableError{Backend: backend.Name(), Err: err}
	}
	buf, err := NewEventBuffer(s.log.Named("buffer"), backend.Name(), source, s.options.bufferOpts...)
	if err != nil {
		return nil, err
	}
	buf.Start()

	dev := NewDevice(DeviceParams{
		Class:   className,
		Key:     cfg.Key,
		Decode:  cfg.Decode,
		Watch:   cfg.Watch,
		Policy:  backend.ReleasePolicy(),
		Clock:   s.clock,
		Log:     s.log.Named(className),
		Backend: backend.Name(),
		Buffer:  buf,
	})
	dev.thresholdPub = func(ev ThresholdEvent) {
		select {
		case <-s.ready:
			s.thresholdBus.Publish(s.runContext(), ev.DeviceID, ev)
		default:
			// Service not running; nobody can be subscribed yet.
		}
	}

	if err := s.persistDevice(dev, cfg.Name); err != nil {
		s.log.Error("failed to persist device metadata", zap.String("key", dev.Key), zap.Error(err))
	}

	s.devices = append(s.devices, dev)
	s.log.Info("device constructed",
		zap.String("class", className),
		zap.String("key", dev.Key),
		zap.String("backend", backend.Name()),
		zap.String("id", dev.ID.String()))
	s.publishLifecycle(LifecycleEvent{
		Type:     DeviceConnected,
		DeviceID: dev.ID,
		Class:    className,
		Key:      dev.Key,
		Backend:  backend.Name(),
	})
	return dev, nil
}

// publishLifecycle is a no-op while the service is not running, when
// nothing can be subscribed and the bus dispatcher is not draining.
func (s *Service) publishLifecycle(ev LifecycleEvent) {
	select {
	case <-s.ready:
		s.lifecycleBus.Publish(s.runContext(), ev.Class, ev)
	default:
	}
}

func (s *Service) selectBackend(pref string, order []string) (Backend, error) {
	if pref != "" {
		supported := false
		for _, name := range order {
			if name == pref {
				supported = true
				break
			}
		}
		if !supported {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("backend %q not supported by this device class", pref)}
		}
		backend, ok := s.options.backends[pref]
		if !ok {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown backend %q", pref)}
		}
		if err := backend.Probe(); err != nil {
			return nil, &DeviceUnavailableError{Backend: pref, Err: err}
		}
		return backend, nil
	}

	var lastErr error
	for _, name := range order {
		backend, ok := s.options.backends[name]
		if !ok {
			continue
		}
		if err := backend.Probe(); err != nil {
			s.log.Debug("backend probe failed", zap.String("backend", name), zap.Error(err))
			lastErr = &DeviceUnavailableError{Backend: name, Err: err}
			continue
		}
		return backend, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &DeviceUnavailableError{Backend: "any", Err: errors.New("no backend configured for class")}
}

// Close tears the device down and removes it from the registry. It is
// idempotent: closing a device twice is a no-op. It blocks until the
// capture worker has exited, so callers may release shared state right
// after.
func (s *Service) Close(dev *Device) error {
	s.mu.Lock()
	found := false
	for i, d := range s.devices {
		if d == dev {
			s.devices = append(s.devices[:i], s.devices[i+1:]...)
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return nil
	}

	dev.close()
	s.log.Info("device closed", zap.String("class", dev.Class), zap.String("key", dev.Key))
	s.publishLifecycle(LifecycleEvent{
		Type:     DeviceDisconnected,
		DeviceID: dev.ID,
		Class:    dev.Class,
		Key:      dev.Key,
		Backend:  dev.Backend(),
	})
	return nil
}

// Devices returns a snapshot of the live devices.
func (s *Service) Devices() []*Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Device, len(s.devices))
	copy(out, s.devices)
	return out
}

// SubscribeLifecycle delivers lifecycle events for the given classes, or
// all classes when none are named.
func (s *Service) SubscribeLifecycle(ctx context.Context, classes ...string) <-chan bus.Message[string, LifecycleEvent] {
	return s.lifecycleBus.Subscribe(ctx, classes...)
}

// SubscribeThresholds delivers threshold events for the given devices,
// or all devices when none are named.
func (s *Service) SubscribeThresholds(ctx context.Context, ids ...uuid.UUID) <-chan bus.Message[uuid.UUID, ThresholdEvent] {
	return s.thresholdBus.Subscribe(ctx, ids...)
}

// DeviceRecord is the metadata persisted per physical device.
type DeviceRecord struct {
	ID          uuid.UUID `json:"id"`
	Class       string    `json:"class"`
	Key         string    `json:"key"`
	Backend     string    `json:"backend"`
	Name        string    `json:"name"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

func deviceKey(class, key string) []byte {
	return []byte(fmt.Sprintf("resp/devices/%s/%s", class, key))
}

func (s *Service) persistDevice(dev *Device, name string) error {
	now := s.options.now()
	return s.db.Update(func(txn *badger.Txn) error {
		key := deviceKey(dev.Class, dev.Key)
		var rec DeviceRecord
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			rec = DeviceRecord{FirstSeenAt: now}
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal device record: %w", err)
			}
		}
		rec.ID = dev.ID
		rec.Class = dev.Class
		rec.Key = dev.Key
		rec.Backend = dev.Backend()
		rec.Name = name
		if rec.FirstSeenAt.IsZero() {
			rec.FirstSeenAt = now
		}
		rec.LastSeenAt = now
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal device record: %w", err)
		}
		return txn.Set(key, b)
	})
}

// ListDevices returns every device the registry has ever persisted.
func (s *Service) ListDevices() ([]DeviceRecord, error) {
	var records []DeviceRecord
	err := s.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iter.Close()
		prefix := []byte("resp/devices/")
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			var rec DeviceRecord
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return records, nil
}
