// Package hidusb is the high-resolution native backend: it polls HID
// keyboards directly through hidapi.
package hidusb

import (
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sstallion/go-hid"
	"go.uber.org/zap"

	"github.com/neurotask/reflex/internal/respsvc"
	"github.com/neurotask/reflex/pkg/respclock"
)

const (
	usagePageGenericDesktop = 0x01
	usageKeyboard           = 0x06

	// Boot protocol keyboard report: modifier byte, reserved byte, six
	// key slots.
	bootReportSize = 8
	modifierBase   = 0xe0
)

var defaultOptions = backendOptions{
	readTimeout: 4 * time.Millisecond,
}

type backendOptions struct {
	readTimeout time.Duration
}

type Option func(*backendOptions)

// WithReadTimeout bounds how long a single poll may sit in the driver
// waiting for a report.
func WithReadTimeout(d time.Duration) Option {
	return func(o *backendOptions) {
		o.readTimeout = d
	}
}

// Backend opens HID keyboards addressed as "vvvv:pppp:i"; an empty
// address picks the first enumerated keyboard.
type Backend struct {
	log     *zap.Logger
	options backendOptions

	initOnce sync.Once
	initErr  error

	devices *xsync.MapOf[Address, hid.DeviceInfo]
}

type Address struct {
	VendorID  uint16
	ProductID uint16
	Interface int
}

func (a Address) String() string {
	return fmt.Sprintf("%04x:%04x:%d", a.VendorID, a.ProductID, a.Interface)
}

func ParseAddress(s string) (Address, error) {
	var addr Address
	_, err := fmt.Sscanf(s, "%04x:%04x:%d", &addr.VendorID, &addr.ProductID, &addr.Interface)
	if err != nil {
		return Address{}, fmt.Errorf("invalid hid address %q: %w", s, err)
	}
	return addr, nil
}

func New(log *zap.Logger, opts ...Option) *Backend {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Backend{
		log:     log,
		options: options,
		devices: xsync.NewMapOf[Address, hid.DeviceInfo](),
	}
}

func (b *Backend) Name() string {
	return "hidusb"
}

// ReleasePolicy: a key already held when capture starts is real data in
// a reaction-time context, so orphan releases are recorded rather than
// dropped.
func (b *Backend) ReleasePolicy() respsvc.ReleasePolicy {
	return respsvc.ReleaseSynthesize
}

// Probe initializes hidapi and checks that device access is enumerable.
// On some platforms enumeration silently yields nothing when the process
// lacks input-device permissions; that is reported as unavailability
// here rather than as a low-level error at open time.
func (b *Backend) Probe() error {
	b.initOnce.Do(func() {
		b.initErr = hid.Init()
	})
	if b.initErr != nil {
		return fmt.Errorf("hidapi init failed: %w", b.initErr)
	}
	if err := b.refresh(); err != nil {
		return fmt.Errorf("hid enumeration failed: %w", err)
	}
	found := false
	b.devices.Range(func(Address, hid.DeviceInfo) bool {
		found = true
		return false
	})
	if !found {
		return fmt.Errorf("no hid keyboards enumerable; missing driver or permissions")
	}
	return nil
}

func (b *Backend) refresh() error {
	seen := make(map[Address]struct{})
	err := hid.Enumerate(hid.VendorIDAny, hid.ProductIDAny, func(info *hid.DeviceInfo) error {
		if info.UsagePage != usagePageGenericDesktop || info.Usage != usageKeyboard {
			return nil
		}
		addr := Address{
			VendorID:  info.VendorID,
			ProductID: info.ProductID,
			Interface: info.InterfaceNbr,
		}
		seen[addr] = struct{}{}
		b.devices.Store(addr, *info)
		return nil
	})
	if err != nil {
		return err
	}
	b.devices.Range(func(addr Address, _ hid.DeviceInfo) bool {
		if _, ok := seen[addr]; !ok {
			b.devices.Delete(addr)
		}
		return true
	})
	return nil
}

func (b *Backend) Open(cfg respsvc.OpenConfig) (respsvc.Source, error) {
	if err := b.refresh(); err != nil {
		return nil, err
	}
	var info hid.DeviceInfo
	found := false
	if cfg.Device == "" {
		b.devices.Range(func(_ Address, i hid.DeviceInfo) bool {
			info = i
			found = true
			return false
		})
	} else {
		addr, err := ParseAddress(cfg.Device)
		if err != nil {
			return nil, err
		}
		info, found = b.devices.Load(addr)
	}
	if !found {
		return nil, fmt.Errorf("keyboard %q: %w", cfg.Device, respsvc.ErrDeviceNotFound)
	}
	return &source{
		log:     b.log,
		info:    info,
		clock:   cfg.Clock,
		timeout: b.options.readTimeout,
	}, nil
}

type source struct {
	log     *zap.Logger
	info    hid.DeviceInfo
	clock   *respclock.Clock
	timeout time.Duration

	dev  *hid.Device
	prev [bootReportSize]byte
}

func (s *source) Start() error {
	dev, err := hid.OpenPath(s.info.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.info.Path, err)
	}
	s.dev = dev
	s.log.Debug("opened keyboard",
		zap.String("path", s.info.Path),
		zap.String("product", s.info.ProductStr))
	return nil
}

// PollRaw reads at most one report per call, blocking only inside the
// driver and only up to the read timeout. The report is diffed against
// the previous one to recover individual down and up edges; hidapi does
// not timestamp reports, so edges are stamped on the device clock at
// receipt.
func (s *source) PollRaw() ([]respsvc.RawEvent, error) {
	var report [bootReportSize]byte
	n, err := s.dev.ReadWithTimeout(report[:], s.timeout)
	if err != nil {
		return nil, fmt.Errorf("hid read failed: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	t := s.clock.Now()
	events := diffReports(s.prev, report, t)
	s.prev = report
	return events, nil
}

func (s *source) Stop() error {
	return s.dev.Close()
}

// diffReports turns two consecutive boot reports into edges: keys newly
// present are down edges, keys newly absent are up edges, and changed
// modifier bits map onto the 0xe0 code block.
func diffReports(prev, cur [bootReportSize]byte, t float64) []respsvc.RawEvent {
	var events []respsvc.RawEvent
	for bit := 0; bit < 8; bit++ {
		mask := byte(1 << bit)
		was := prev[0]&mask != 0
		is := cur[0]&mask != 0
		if was != is {
			events = append(events, respsvc.RawEvent{
				Code: uint16(modifierBase + bit),
				Down: is,
				Time: t,
			})
		}
	}
	for _, code := range cur[2:] {
		if code == 0 || containsKey(prev[2:], code) {
			continue
		}
		events = append(events, respsvc.RawEvent{Code: uint16(code), Down: true, Time: t})
	}
	for _, code := range prev[2:] {
		if code == 0 || containsKey(cur[2:], code) {
			continue
		}
		events = append(events, respsvc.RawEvent{Code: uint16(code), Down: false, Time: t})
	}
	return events
}

func containsKey(report []byte, code byte) bool {
	for _, c := range report {
		if c == code {
			return true
		}
	}
	return false
}
