package pima

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// Message is the operation code of a frame.
type Message byte

const (
	MessageOpen   Message = 0x01
	MessageStatus Message = 0x05
	MessageRead   Message = 0x0e
	MessageWrite  Message = 0x0f
	MessageClose  Message = 0x19
)

func (m Message) valid() bool {
	switch m {
	case MessageOpen, MessageStatus, MessageRead, MessageWrite, MessageClose:
		return true
	default:
		return false
	}
}

func (m Message) String() string {
	switch m {
	case MessageOpen:
		return "open"
	case MessageStatus:
		return "status"
	case MessageRead:
		return "read"
	case MessageWrite:
		return "write"
	case MessageClose:
		return "close"
	default:
		return fmt.Sprintf("message(%#02x)", byte(m))
	}
}

// Channel is the subsystem a frame addresses.
type Channel byte

const (
	ChannelIdle      Channel = 0x00
	ChannelSystem    Channel = 0x01
	ChannelZones     Channel = 0x02
	ChannelOutputs   Channel = 0x03
	ChannelLogin     Channel = 0x04
	ChannelParameter Channel = 0x05
)

func (c Channel) String() string {
	switch c {
	case ChannelIdle:
		return "idle"
	case ChannelSystem:
		return "system"
	case ChannelZones:
		return "zones"
	case ChannelOutputs:
		return "outputs"
	case ChannelLogin:
		return "login"
	case ChannelParameter:
		return "parameter"
	default:
		return fmt.Sprintf("channel(%#02x)", byte(c))
	}
}

// MaxPartitions is the number of partitions a panel supports.
const MaxPartitions = 16

const loginCodeSize = 6

// statusAddress is the address of system status and output replies.
var statusAddress = []byte{0x00, 0x00}

// Command is a request to the panel. The zero value is not usable; build
// one with the functions below.
type Command struct {
	name    string
	message Message
	channel Channel
	address []byte
	data    []byte
}

func (c Command) String() string {
	return c.name
}

// Message is the message type the command is sent with.
func (c Command) Message() Message { return c.message }

// Channel is the channel the command addresses.
func (c Command) Channel() Channel { return c.channel }

func (c Command) frame(module byte) Frame {
	return Frame{
		Module:  module,
		Message: c.message,
		Channel: c.channel,
		Address: c.address,
		Data:    c.data,
	}
}

// query commands are answered right away, everything else needs the panel
// to settle before the reply is read.
func (c Command) query() bool {
	return c.message == MessageStatus || c.message == MessageRead
}

// accepts reports whether f is a reply to c.
func (c Command) accepts(f Frame) bool {
	if c.message == MessageRead && c.channel == ChannelOutputs {
		return f.Channel == ChannelOutputs
	}
	return f.Message == MessageStatus
}

// StatusQuery asks for the system status.
func StatusQuery() Command {
	return Command{
		name:    "status",
		message: MessageStatus,
		channel: ChannelIdle,
	}
}

// OutputsQuery asks which outputs are active.
func OutputsQuery() Command {
	return Command{
		name:    "outputs",
		message: MessageRead,
		channel: ChannelOutputs,
		address: statusAddress,
	}
}

// LoginCommand logs in with a 4 to 6 digit code.
func LoginCommand(code string) (Command, error) {
	if len(code) < 4 || len(code) > loginCodeSize {
		return Command{}, fmt.Errorf("%w: login code must have 4 to 6 digits, got %d", ErrInvalidArgument, len(code))
	}
	data := make([]byte, loginCodeSize)
	for i := range data {
		if i >= len(code) {
			data[i] = 0xff
			continue
		}
		c := code[i]
		if c < '0' || c > '9' {
			return Command{}, fmt.Errorf("%w: login code must be numeric", ErrInvalidArgument)
		}
		data[i] = c - '0'
	}
	return Command{
		name:    "login",
		message: MessageWrite,
		channel: ChannelLogin,
		data:    data,
	}, nil
}

// ArmCommand sets the given partitions to mode. Disarming uses the open
// message, every arm mode uses close.
func ArmCommand(mode Mode, partitions []int) (Command, error) {
	if !mode.valid() {
		return Command{}, fmt.Errorf("%w: unknown mode %s", ErrInvalidArgument, mode)
	}
	if len(partitions) == 0 {
		return Command{}, fmt.Errorf("%w: no partitions given", ErrInvalidArgument)
	}

	parts := slices.Clone(partitions)
	slices.Sort(parts)
	parts = slices.Compact(parts)

	var mask uint16
	for _, p := range parts {
		if p < 1 || p > MaxPartitions {
			return Command{}, fmt.Errorf("%w: partition %d out of range 1-%d", ErrInvalidArgument, p, MaxPartitions)
		}
		mask |= 1 << (p - 1)
	}

	message := MessageClose
	if mode == ModeDisarm {
		message = MessageOpen
	}

	names := make([]string, 0, len(parts))
	for _, p := range parts {
		names = append(names, fmt.Sprint(p))
	}

	return Command{
		name:    fmt.Sprintf("%s [%s]", mode, strings.Join(names, " ")),
		message: message,
		channel: ChannelSystem,
		address: []byte{byte(mask), byte(mask >> 8)},
		data:    []byte{byte(mode)},
	}, nil
}
