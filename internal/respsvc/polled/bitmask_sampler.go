package polled

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// BitmaskSampler reads a serial button box that streams its state as
// single bytes, one bit per channel, lowest bit first. Boxes of this
// kind cap out at eight channels, one byte of state.
type BitmaskSampler struct {
	fd    int
	state byte
	bits  int
}

const BitmaskChannels = 8

// OpenBitmaskSampler opens the port non-blocking; Sample never stalls
// the poll loop waiting for a quiet box.
func OpenBitmaskSampler(port string, channels int) (*BitmaskSampler, error) {
	if channels < 1 || channels > BitmaskChannels {
		return nil, fmt.Errorf("bitmask box supports 1..%d channels, got %d", BitmaskChannels, channels)
	}
	fd, err := unix.Open(port, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", port, err)
	}
	return &BitmaskSampler{fd: fd, bits: channels}, nil
}

// Sample drains whatever the box has written and reports the latest
// state byte. No traffic means no state change.
func (s *BitmaskSampler) Sample() ([]bool, error) {
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(s.fd, buf)
		if err != nil {
			var errno unix.Errno
			if errors.As(err, &errno) && errno.Temporary() {
				break
			}
			if errors.Is(err, unix.EAGAIN) {
				break
			}
			return nil, fmt.Errorf("read %w", err)
		}
		if n == 0 {
			break
		}
		s.state = buf[n-1]
	}
	out := make([]bool, s.bits)
	for ch := 0; ch < s.bits; ch++ {
		out[ch] = s.state&(1<<ch) != 0
	}
	return out, nil
}

func (s *BitmaskSampler) Close() error {
	return unix.Close(s.fd)
}
