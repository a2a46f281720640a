package hidusb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neurotask/reflex/internal/respsvc"
)

func report(modifiers byte, keys ...byte) [bootReportSize]byte {
	var r [bootReportSize]byte
	r[0] = modifiers
	copy(r[2:], keys)
	return r
}

func TestDiffReports(t *testing.T) {
	tests := []struct {
		name string
		prev [bootReportSize]byte
		cur  [bootReportSize]byte
		want []respsvc.RawEvent
	}{
		{
			name: "no change",
			prev: report(0),
			cur:  report(0),
			want: nil,
		},
		{
			name: "key down",
			prev: report(0),
			cur:  report(0, 0x04),
			want: []respsvc.RawEvent{{Code: 0x04, Down: true, Time: 1}},
		},
		{
			name: "key up",
			prev: report(0, 0x04),
			cur:  report(0),
			want: []respsvc.RawEvent{{Code: 0x04, Down: false, Time: 1}},
		},
		{
			name: "rollover keeps held key silent",
			prev: report(0, 0x04),
			cur:  report(0, 0x04, 0x05),
			want: []respsvc.RawEvent{{Code: 0x05, Down: true, Time: 1}},
		},
		{
			name: "slot shuffle is not an edge",
			prev: report(0, 0x04, 0x05),
			cur:  report(0, 0x05, 0x04),
			want: nil,
		},
		{
			name: "modifier down",
			prev: report(0),
			cur:  report(0b10), // left shift
			want: []respsvc.RawEvent{{Code: 0xe1, Down: true, Time: 1}},
		},
		{
			name: "modifier up and key down together",
			prev: report(0b10),
			cur:  report(0, 0x1d),
			want: []respsvc.RawEvent{
				{Code: 0xe1, Down: false, Time: 1},
				{Code: 0x1d, Down: true, Time: 1},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := diffReports(tt.prev, tt.cur, 1)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("046d:c31c:0")
	require.NoError(t, err)
	require.Equal(t, Address{VendorID: 0x046d, ProductID: 0xc31c, Interface: 0}, addr)
	require.Equal(t, "046d:c31c:0", addr.String())

	_, err = ParseAddress("not-an-address")
	require.Error(t, err)
}
