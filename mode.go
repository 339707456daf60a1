package pima

import (
	"fmt"
	"strings"
)

// Mode is the arming mode of a partition.
type Mode byte

const (
	ModeDisarm  Mode = 0x00
	ModeFullArm Mode = 0x01
	ModeHome1   Mode = 0x02
	ModeHome2   Mode = 0x03
	ModeUnknown Mode = 0xff
)

func (m Mode) String() string {
	switch m {
	case ModeDisarm:
		return "disarm"
	case ModeFullArm:
		return "full_arm"
	case ModeHome1:
		return "home1"
	case ModeHome2:
		return "home2"
	default:
		return "unknown"
	}
}

// ParseMode parses one of disarm, full_arm, home1 or home2.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disarm":
		return ModeDisarm, nil
	case "full_arm":
		return ModeFullArm, nil
	case "home1":
		return ModeHome1, nil
	case "home2":
		return ModeHome2, nil
	default:
		return ModeUnknown, fmt.Errorf("%w: unknown mode %q", ErrInvalidArgument, s)
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	mode, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

func (m Mode) valid() bool {
	return m <= ModeHome2
}

func modeFromByte(b byte) Mode {
	if m := Mode(b); m.valid() {
		return m
	}
	return ModeUnknown
}
