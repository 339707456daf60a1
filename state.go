package pima

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	zoneGroups         = 4
	partitionBlockSize = MaxPartitions
	accountIDSize      = 4
	flagsSize          = 1
)

const (
	flagLoggedIn   = 1 << 0
	flagCommandAck = 1 << 1
)

// SupportedZones lists the zone counts panels come in.
var SupportedZones = []int{32, 96, 144}

// Layout describes the status payload of a panel.
type Layout struct {
	// Zones is the panel size: 32, 96 or 144.
	Zones int

	// GroupStride is the distance in bytes between the start of two zone
	// bitfield groups. Zero means the groups are packed.
	GroupStride int

	// Partitions is how many partitions are reported, 1 to 16.
	Partitions int
}

func (l Layout) groupSize() int {
	return l.Zones / 8
}

func (l Layout) stride() int {
	if l.GroupStride == 0 {
		return l.groupSize()
	}
	return l.GroupStride
}

// StatusSize is the expected length of a status payload.
func (l Layout) StatusSize() int {
	return zoneGroups*l.stride() +
		partitionBlockSize +
		discreteFailureBytes +
		clusteredFailureBytes +
		accountIDSize +
		flagsSize
}

// impliedStride returns the zone group stride a status payload of size
// bytes would have, when it differs from the configured one.
func (l Layout) impliedStride(size int) (int, bool) {
	groups := size - (l.StatusSize() - zoneGroups*l.stride())
	if groups <= 0 || groups%zoneGroups != 0 {
		return 0, false
	}
	stride := groups / zoneGroups
	return stride, stride >= l.groupSize() && stride != l.stride()
}

// Module is the module id frames to and from this panel carry.
func (l Layout) Module() byte {
	if l.Zones == 144 {
		return 0x13
	}
	return 0x0d
}

func (l Layout) validate() error {
	if !slices.Contains(SupportedZones, l.Zones) {
		return fmt.Errorf("%w: zone count must be one of %v, got %d", ErrInvalidArgument, SupportedZones, l.Zones)
	}
	if l.GroupStride != 0 && l.GroupStride < l.groupSize() {
		return fmt.Errorf("%w: zone group stride %d is smaller than the group size %d", ErrInvalidArgument, l.GroupStride, l.groupSize())
	}
	if l.Partitions < 1 || l.Partitions > MaxPartitions {
		return fmt.Errorf("%w: partitions must be between 1 and %d, got %d", ErrInvalidArgument, MaxPartitions, l.Partitions)
	}
	return nil
}

// AlarmState is a snapshot of the panel status.
type AlarmState struct {
	Partitions    map[int]Mode `json:"partitions"`
	OpenZones     []int        `json:"open zones"`
	AlarmedZones  []int        `json:"alarmed zone"`
	BypassedZones []int        `json:"bypassed zones"`
	FailedZones   []int        `json:"failed zones"`
	Failures      []string     `json:"failures"`
}

// Equal reports whether both snapshots carry the same status.
func (s AlarmState) Equal(o AlarmState) bool {
	return maps.Equal(s.Partitions, o.Partitions) &&
		slices.Equal(s.OpenZones, o.OpenZones) &&
		slices.Equal(s.AlarmedZones, o.AlarmedZones) &&
		slices.Equal(s.BypassedZones, o.BypassedZones) &&
		slices.Equal(s.FailedZones, o.FailedZones) &&
		slices.Equal(s.Failures, o.Failures)
}

// MarshalJSON renders empty sets as [] instead of null.
func (s AlarmState) MarshalJSON() ([]byte, error) {
	type plain AlarmState
	p := plain(s)
	if p.Partitions == nil {
		p.Partitions = map[int]Mode{}
	}
	for _, zones := range []*[]int{&p.OpenZones, &p.AlarmedZones, &p.BypassedZones, &p.FailedZones} {
		if *zones == nil {
			*zones = []int{}
		}
	}
	if p.Failures == nil {
		p.Failures = []string{}
	}
	return json.Marshal(p)
}

// Flags are the session bits at the end of a status payload.
type Flags struct {
	LoggedIn   bool
	CommandAck bool
}

// Decoder turns status frames into AlarmState.
type Decoder struct {
	layout Layout
}

// NewDecoder returns a Decoder for the given layout.
func NewDecoder(layout Layout) (*Decoder, error) {
	if layout.Partitions == 0 {
		layout.Partitions = MaxPartitions
	}
	if err := layout.validate(); err != nil {
		return nil, err
	}
	return &Decoder{layout: layout}, nil
}

func (d *Decoder) Layout() Layout {
	return d.layout
}

// Decode parses a system status frame.
func (d *Decoder) Decode(f Frame) (AlarmState, error) {
	if err := d.check(f); err != nil {
		return AlarmState{}, err
	}

	data := f.Data
	size, stride := d.layout.groupSize(), d.layout.stride()
	group := func(i int) []byte {
		return data[i*stride : i*stride+size]
	}

	state := AlarmState{
		Partitions:    make(map[int]Mode, d.layout.Partitions),
		OpenZones:     bitsToNumbers(group(0), 1),
		AlarmedZones:  bitsToNumbers(group(1), 1),
		BypassedZones: bitsToNumbers(group(2), 1),
		FailedZones:   bitsToNumbers(group(3), 1),
	}

	idx := zoneGroups * stride
	for i := 0; i < d.layout.Partitions; i++ {
		state.Partitions[i+1] = modeFromByte(data[idx+i])
	}
	idx += partitionBlockSize

	state.Failures = decodeFailures(
		data[idx:idx+discreteFailureBytes],
		data[idx+discreteFailureBytes:idx+discreteFailureBytes+clusteredFailureBytes],
	)
	return state, nil
}

// Flags returns the session flags of a status frame. A status reply on the
// idle channel means the panel is not logged in.
func (d *Decoder) Flags(f Frame) (Flags, error) {
	if f.Message == MessageStatus && f.Channel == ChannelIdle {
		return Flags{}, nil
	}
	if err := d.check(f); err != nil {
		return Flags{}, err
	}
	flags := f.Data[len(f.Data)-1]
	return Flags{
		LoggedIn:   flags&flagLoggedIn != 0,
		CommandAck: flags&flagCommandAck != 0,
	}, nil
}

func (d *Decoder) check(f Frame) error {
	if f.Message != MessageStatus || f.Channel != ChannelSystem {
		return fmt.Errorf("%w: expected a system status, got %s on %s", ErrMalformedResponse, f.Message, f.Channel)
	}
	if !bytes.Equal(f.Address, statusAddress) {
		return fmt.Errorf("%w: invalid status address % x", ErrMalformedResponse, f.Address)
	}
	if want := d.layout.StatusSize(); len(f.Data) != want {
		return fmt.Errorf("%w: status has %d bytes, expected %d for %d zones", ErrMalformedResponse, len(f.Data), want, d.layout.Zones)
	}
	return nil
}

// DecodeOutputs parses an outputs reply into the zero-based numbers of the
// active outputs.
func DecodeOutputs(f Frame) ([]int, error) {
	if f.Channel != ChannelOutputs {
		return nil, fmt.Errorf("%w: expected outputs, got %s on %s", ErrMalformedResponse, f.Message, f.Channel)
	}
	if !bytes.Equal(f.Address, statusAddress) {
		return nil, fmt.Errorf("%w: invalid outputs address % x", ErrMalformedResponse, f.Address)
	}
	return bitsToNumbers(f.Data, 0), nil
}

// bitsToNumbers reads b as a little-endian bitfield and returns the
// positions of the set bits, offset by base.
func bitsToNumbers(b []byte, base int) []int {
	numbers := []int{}
	for i, octet := range b {
		for j := 0; j < 8; j++ {
			if octet&(1<<j) != 0 {
				numbers = append(numbers, i*8+j+base)
			}
		}
	}
	return numbers
}
