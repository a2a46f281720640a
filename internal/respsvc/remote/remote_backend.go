// Package remote is the capture-server backend: an external process
// samples the hardware and streams edges to us as JSON datagrams over a
// local socket.
//
// Protocol, one JSON object per datagram:
//
//	client -> server: {"type":"ping"} | {"type":"start","device":...} |
//	                  {"type":"stop","device":...}
//	server -> client: {"type":"pong"} |
//	                  {"type":"event","code":..,"down":..,"t":..}
//
// The stop datagram on teardown is mandatory so the server does not keep
// capturing after the session exits.
package remote

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/neurotask/reflex/internal/respsvc"
	"github.com/neurotask/reflex/pkg/respclock"
)

var defaultOptions = backendOptions{
	probeTimeout: 250 * time.Millisecond,
	readTimeout:  2 * time.Millisecond,
}

type backendOptions struct {
	probeTimeout time.Duration
	readTimeout  time.Duration
}

type Option func(*backendOptions)

func WithProbeTimeout(d time.Duration) Option {
	return func(o *backendOptions) {
		o.probeTimeout = d
	}
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *backendOptions) {
		o.readTimeout = d
	}
}

type Backend struct {
	log     *zap.Logger
	addr    string
	options backendOptions
}

// New builds a backend talking to a capture server at addr
// (host:port on the local network).
func New(log *zap.Logger, addr string, opts ...Option) *Backend {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Backend{
		log:     log,
		addr:    addr,
		options: options,
	}
}

func (b *Backend) Name() string {
	return "remote"
}

// ReleasePolicy: the server re-baselines its state when it receives
// start, so an orphan release can only be a duplicate and is dropped.
func (b *Backend) ReleasePolicy() respsvc.ReleasePolicy {
	return respsvc.ReleaseDrop
}

type message struct {
	Type   string  `json:"type"`
	Device string  `json:"device,omitempty"`
	Code   uint16  `json:"code,omitempty"`
	Down   bool    `json:"down,omitempty"`
	T      float64 `json:"t,omitempty"`
}

// Probe checks that a capture server is actually running: ping, wait for
// pong.
func (b *Backend) Probe() error {
	if b.addr == "" {
		return fmt.Errorf("no capture server address configured")
	}
	conn, err := net.Dial("udp", b.addr)
	if err != nil {
		return fmt.Errorf("failed to dial capture server: %w", err)
	}
	defer conn.Close()

	if err := send(conn, message{Type: "ping"}); err != nil {
		return err
	}
	conn.SetReadDeadline(time.Now().Add(b.options.probeTimeout))
	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("capture server not responding: %w", err)
	}
	var msg message
	if err := json.Unmarshal(buf[:n], &msg); err != nil || msg.Type != "pong" {
		return fmt.Errorf("unexpected probe reply from capture server")
	}
	return nil
}

func (b *Backend) Open(cfg respsvc.OpenConfig) (respsvc.Source, error) {
	return &source{
		log:     b.log,
		addr:    b.addr,
		device:  cfg.Device,
		clock:   cfg.Clock,
		timeout: b.options.readTimeout,
	}, nil
}

type source struct {
	log     *zap.Logger
	addr    string
	device  string
	clock   *respclock.Clock
	timeout time.Duration

	conn net.Conn

	// Server timestamps run on the server's own epoch. The offset to
	// the device clock is fixed from the first event and applied to
	// every one after, so inter-event spacing keeps the server's
	// resolution.
	offset    float64
	hasOffset bool
}

func (s *source) Start() error {
	conn, err := net.Dial("udp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to dial capture server: %w", err)
	}
	if err := send(conn, message{Type: "start", Device: s.device}); err != nil {
		conn.Close()
		return err
	}
	s.conn = conn
	return nil
}

// PollRaw drains every datagram the socket has pending. The read
// deadline keeps the block inside the kernel bounded.
func (s *source) PollRaw() ([]respsvc.RawEvent, error) {
	var events []respsvc.RawEvent
	buf := make([]byte, 2048)
	s.conn.SetReadDeadline(time.Now().Add(s.timeout))
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return events, nil
			}
			return events, fmt.Errorf("capture server read failed: %w", err)
		}
		var msg message
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			// Malformed datagrams are skipped; the stream continues.
			s.log.Warn("malformed capture server datagram", zap.Error(err))
			continue
		}
		if msg.Type != "event" {
			continue
		}
		if !s.hasOffset {
			s.offset = s.clock.Now() - msg.T
			s.hasOffset = true
		}
		events = append(events, respsvc.RawEvent{
			Code: msg.Code,
			Down: msg.Down,
			Time: msg.T + s.offset,
		})
	}
}

// Stop notifies the server before closing the socket so it does not keep
// capturing for a session that is gone.
func (s *source) Stop() error {
	if s.conn == nil {
		return nil
	}
	if err := send(s.conn, message{Type: "stop", Device: s.device}); err != nil {
		s.log.Warn("failed to send stop notification", zap.Error(err))
	}
	return s.conn.Close()
}

func send(conn net.Conn, msg message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal datagram: %w", err)
	}
	if _, err := conn.Write(b); err != nil {
		return fmt.Errorf("failed to send datagram: %w", err)
	}
	return nil
}
