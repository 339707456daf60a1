package pima

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLayout(t *testing.T) {
	for zones, size := range map[int]int{32: 60, 96: 92, 144: 116} {
		t.Run(fmt.Sprint(zones), func(t *testing.T) {
			require.Equal(t, size, Layout{Zones: zones}.StatusSize())
		})
	}

	t.Run("stride", func(t *testing.T) {
		require.Equal(t, 4*12+44, Layout{Zones: 32, GroupStride: 12}.StatusSize())
	})

	t.Run("implied stride", func(t *testing.T) {
		stride, ok := Layout{Zones: 32}.impliedStride(4*12 + 44)
		require.True(t, ok)
		require.Equal(t, 12, stride)

		_, ok = Layout{Zones: 32, GroupStride: 12}.impliedStride(4*12 + 44)
		require.False(t, ok)
		_, ok = Layout{Zones: 32}.impliedStride(4*12 + 45)
		require.False(t, ok)
		_, ok = Layout{Zones: 96}.impliedStride(4*2 + 44)
		require.False(t, ok)
	})

	t.Run("module", func(t *testing.T) {
		require.Equal(t, byte(0x0d), Layout{Zones: 32}.Module())
		require.Equal(t, byte(0x0d), Layout{Zones: 96}.Module())
		require.Equal(t, byte(0x13), Layout{Zones: 144}.Module())
	})

	t.Run("invalid", func(t *testing.T) {
		for _, l := range []Layout{
			{Zones: 64},
			{Zones: 32, GroupStride: 2},
			{Zones: 32, Partitions: 17},
			{Zones: 32, Partitions: -1},
		} {
			_, err := NewDecoder(l)
			require.ErrorIs(t, err, ErrInvalidArgument, "%+v", l)
		}
	})
}

func TestDecode(t *testing.T) {
	for _, zones := range SupportedZones {
		t.Run(fmt.Sprint(zones), func(t *testing.T) {
			layout := Layout{Zones: zones, Partitions: 2}
			d, err := NewDecoder(layout)
			require.NoError(t, err)

			state, err := d.Decode(statusReply(layout, panelStatus{
				open:       []int{1, 9, zones},
				alarmed:    []int{2},
				bypassed:   []int{8, 17},
				failed:     []int{zones - 1},
				partitions: map[int]Mode{1: ModeFullArm, 2: ModeHome2, 3: ModeHome1},
			}))
			require.NoError(t, err)
			require.Equal(t, AlarmState{
				Partitions:    map[int]Mode{1: ModeFullArm, 2: ModeHome2},
				OpenZones:     []int{1, 9, zones},
				AlarmedZones:  []int{2},
				BypassedZones: []int{8, 17},
				FailedZones:   []int{zones - 1},
				Failures:      []string{},
			}, state)
		})
	}

	t.Run("stride", func(t *testing.T) {
		layout := Layout{Zones: 32, GroupStride: 12, Partitions: 1}
		d, err := NewDecoder(layout)
		require.NoError(t, err)
		state, err := d.Decode(statusReply(layout, panelStatus{
			open:     []int{32},
			alarmed:  []int{1},
			failed:   []int{5},
			failures: []int{11},
		}))
		require.NoError(t, err)
		require.Equal(t, []int{32}, state.OpenZones)
		require.Equal(t, []int{1}, state.AlarmedZones)
		require.Empty(t, state.BypassedZones)
		require.Equal(t, []int{5}, state.FailedZones)
		require.Equal(t, []string{"MAINS Failure (220V)"}, state.Failures)
	})

	t.Run("unknown partition mode", func(t *testing.T) {
		layout := Layout{Zones: 32, Partitions: 1}
		d, err := NewDecoder(layout)
		require.NoError(t, err)
		reply := statusReply(layout, panelStatus{})
		reply.Data[4*4] = 0x07
		state, err := d.Decode(reply)
		require.NoError(t, err)
		require.Equal(t, map[int]Mode{1: ModeUnknown}, state.Partitions)
	})

	t.Run("failures", func(t *testing.T) {
		layout := Layout{Zones: 32}
		d, err := NewDecoder(layout)
		require.NoError(t, err)
		clustered := make([]byte, clusteredFailureBytes)
		clustered[1] = 0x02  // keypad 2 tamper
		clustered[3] = 0x01  // zone expander 9 failure
		clustered[16] = 0x80 // out expander 8 low battery
		state, err := d.Decode(statusReply(layout, panelStatus{
			failures:  []int{1, 9, 48},
			clustered: clustered,
		}))
		require.NoError(t, err)
		require.Equal(t, []string{
			"System Low Power",
			"Low Battery",
			"Unknown (48)",
			"Keypad 2 Tamper",
			"Zone Expander 9 Failure",
			"Out Expander 8 Low Battery",
		}, state.Failures)
	})
}

func TestDecodeMalformed(t *testing.T) {
	for _, zones := range SupportedZones {
		layout := Layout{Zones: zones}
		d, err := NewDecoder(layout)
		require.NoError(t, err)

		for _, other := range SupportedZones {
			if other == zones {
				continue
			}
			t.Run(fmt.Sprintf("%d decoded as %d", other, zones), func(t *testing.T) {
				_, err := d.Decode(statusReply(Layout{Zones: other}, panelStatus{open: []int{other}}))
				require.ErrorIs(t, err, ErrMalformedResponse)
			})
		}

		t.Run(fmt.Sprintf("%d one byte short", zones), func(t *testing.T) {
			reply := statusReply(layout, panelStatus{})
			reply.Data = reply.Data[1:]
			_, err := d.Decode(reply)
			require.ErrorIs(t, err, ErrMalformedResponse)
		})
	}

	d, err := NewDecoder(Layout{Zones: 32})
	require.NoError(t, err)

	t.Run("idle channel", func(t *testing.T) {
		_, err := d.Decode(idleReply(Layout{Zones: 32}))
		require.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("wrong address", func(t *testing.T) {
		reply := statusReply(Layout{Zones: 32}, panelStatus{})
		reply.Address = []byte{0x01}
		_, err := d.Decode(reply)
		require.ErrorIs(t, err, ErrMalformedResponse)
	})
}

func TestFlags(t *testing.T) {
	layout := Layout{Zones: 32}
	d, err := NewDecoder(layout)
	require.NoError(t, err)

	flags, err := d.Flags(idleReply(layout))
	require.NoError(t, err)
	require.False(t, flags.LoggedIn)

	flags, err = d.Flags(statusReply(layout, panelStatus{flags: flagCommandAck}))
	require.NoError(t, err)
	require.Equal(t, Flags{LoggedIn: true, CommandAck: true}, flags)
}

func TestDecodeOutputs(t *testing.T) {
	outputs, err := DecodeOutputs(Frame{
		Message: MessageStatus,
		Channel: ChannelOutputs,
		Address: []byte{0x00, 0x00},
		Data:    []byte{0x05, 0x00, 0x01},
	})
	require.NoError(t, err)
	require.Equal(t, []int{0, 2, 16}, outputs)

	_, err = DecodeOutputs(Frame{Message: MessageStatus, Channel: ChannelSystem})
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestAlarmStateJSON(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		b, err := json.Marshal(AlarmState{})
		require.NoError(t, err)
		require.JSONEq(t, `{
			"partitions": {},
			"open zones": [],
			"alarmed zone": [],
			"bypassed zones": [],
			"failed zones": [],
			"failures": []
		}`, string(b))
	})

	t.Run("full", func(t *testing.T) {
		b, err := json.Marshal(AlarmState{
			Partitions: map[int]Mode{1: ModeFullArm, 2: ModeDisarm, 3: ModeUnknown},
			OpenZones:  []int{3},
			Failures:   []string{"Low Battery"},
		})
		require.NoError(t, err)
		require.JSONEq(t, `{
			"partitions": {"1": "full_arm", "2": "disarm", "3": "unknown"},
			"open zones": [3],
			"alarmed zone": [],
			"bypassed zones": [],
			"failed zones": [],
			"failures": ["Low Battery"]
		}`, string(b))
	})
}

func TestAlarmStateEqual(t *testing.T) {
	a := AlarmState{Partitions: map[int]Mode{1: ModeHome1}, OpenZones: []int{5}}
	b := AlarmState{Partitions: map[int]Mode{1: ModeHome1}, OpenZones: []int{5}, FailedZones: []int{}}
	require.True(t, a.Equal(b))

	b.OpenZones = nil
	require.False(t, a.Equal(b))

	b.OpenZones = []int{5}
	b.Partitions = map[int]Mode{1: ModeHome2}
	require.False(t, a.Equal(b))
}

func TestBitsToNumbers(t *testing.T) {
	require.Equal(t, []int{}, bitsToNumbers([]byte{0, 0}, 1))
	require.Equal(t, []int{1, 8, 9, 16}, bitsToNumbers([]byte{0x81, 0x81}, 1))
	require.Equal(t, []int{0, 7, 8, 15}, bitsToNumbers([]byte{0x81, 0x81}, 0))
}
