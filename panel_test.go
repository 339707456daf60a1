package pima

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	logp "github.com/charmbracelet/log"
)

// panelStatus is the content of a status reply.
type panelStatus struct {
	open, alarmed, bypassed, failed []int
	partitions                      map[int]Mode
	failures                        []int
	clustered                       []byte
	flags                           byte
}

func (s panelStatus) data(l Layout) []byte {
	data := make([]byte, l.StatusSize())
	size, stride := l.groupSize(), l.stride()
	for g, zones := range [][]int{s.open, s.alarmed, s.bypassed, s.failed} {
		setBits(data[g*stride:g*stride+size], zones, 1)
	}
	idx := zoneGroups * stride
	for p, mode := range s.partitions {
		data[idx+p-1] = byte(mode)
	}
	idx += partitionBlockSize
	setBits(data[idx:idx+discreteFailureBytes], s.failures, 1)
	idx += discreteFailureBytes
	copy(data[idx:idx+clusteredFailureBytes], s.clustered)
	data[len(data)-1] = s.flags | flagLoggedIn
	return data
}

func statusReply(l Layout, s panelStatus) Frame {
	return Frame{
		Module:  l.Module(),
		Message: MessageStatus,
		Channel: ChannelSystem,
		Address: []byte{0x00, 0x00},
		Data:    s.data(l),
	}
}

func idleReply(l Layout) Frame {
	return Frame{
		Module:  l.Module(),
		Message: MessageStatus,
		Channel: ChannelIdle,
	}
}

func setBits(b []byte, numbers []int, base int) {
	for _, n := range numbers {
		i := n - base
		b[i/8] |= 1 << (i % 8)
	}
}

// fakePanel is an in-memory panel speaking the wire protocol.
type fakePanel struct {
	t      *testing.T
	layout Layout
	code   string

	mu       sync.Mutex
	out      []byte
	notify   chan struct{}
	closed   bool
	opens    int
	received []Frame
	statuses []panelStatus
	current  panelStatus
	outputs  []int

	// reply, if set, overrides the default replies. Returning nil keeps the
	// panel silent.
	reply func(f Frame) []byte
}

func newFakePanel(t *testing.T, layout Layout, code string) *fakePanel {
	t.Helper()
	if layout.Partitions == 0 {
		layout.Partitions = MaxPartitions
	}
	return &fakePanel{
		t:       t,
		layout:  layout,
		code:    code,
		notify:  make(chan struct{}, 1),
		current: panelStatus{partitions: map[int]Mode{}},
	}
}

func (p *fakePanel) opener() Opener {
	return func(context.Context) (Transport, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.closed = false
		p.out = nil
		p.opens++
		return p, nil
	}
}

// queue sets the statuses served by the next status queries. The last one
// keeps being served.
func (p *fakePanel) queue(statuses ...panelStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, statuses...)
}

func (p *fakePanel) push(b []byte) {
	p.mu.Lock()
	p.out = append(p.out, b...)
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *fakePanel) commands() []Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Frame(nil), p.received...)
}

func (p *fakePanel) openCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

func (p *fakePanel) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	f, err := Decode(b)
	if err != nil {
		p.mu.Unlock()
		p.t.Errorf("panel got an invalid frame % x: %v", b, err)
		return len(b), nil
	}
	p.received = append(p.received, f)
	var reply []byte
	if p.reply != nil {
		reply = p.reply(f)
	} else {
		reply = p.defaultReply(f)
	}
	p.mu.Unlock()

	if reply != nil {
		p.push(reply)
	}
	return len(b), nil
}

func (p *fakePanel) defaultReply(f Frame) []byte {
	switch {
	case f.Message == MessageWrite && f.Channel == ChannelLogin:
		if string(loginDigits(f.Data)) != p.code {
			return p.encode(idleReply(p.layout))
		}
		return p.encode(statusReply(p.layout, p.current))
	case f.Message == MessageStatus:
		if len(p.statuses) > 0 {
			p.current = p.statuses[0]
			if len(p.statuses) > 1 {
				p.statuses = p.statuses[1:]
			}
		}
		return p.encode(statusReply(p.layout, p.current))
	case f.Message == MessageRead && f.Channel == ChannelOutputs:
		data := make([]byte, 4)
		setBits(data, p.outputs, 0)
		return p.encode(Frame{
			Module:  p.layout.Module(),
			Message: MessageStatus,
			Channel: ChannelOutputs,
			Address: []byte{0x00, 0x00},
			Data:    data,
		})
	case (f.Message == MessageOpen || f.Message == MessageClose) && f.Channel == ChannelSystem:
		mask := int(f.Address[0]) | int(f.Address[1])<<8
		partitions := map[int]Mode{}
		for k, v := range p.current.partitions {
			partitions[k] = v
		}
		for i := 0; i < MaxPartitions; i++ {
			if mask&(1<<i) != 0 {
				partitions[i+1] = Mode(f.Data[0])
			}
		}
		p.current.partitions = partitions
		p.current.flags = flagCommandAck
		return p.encode(statusReply(p.layout, p.current))
	default:
		p.t.Errorf("panel got an unexpected frame: %+v", f)
		return nil
	}
}

func (p *fakePanel) encode(f Frame) []byte {
	raw, err := Encode(f)
	if err != nil {
		p.t.Errorf("could not encode reply: %v", err)
	}
	return raw
}

func (p *fakePanel) ReadTimeout(b []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, io.ErrClosedPipe
		}
		if len(p.out) > 0 {
			n := copy(b, p.out)
			p.out = p.out[n:]
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()

		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-p.notify:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (p *fakePanel) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func loginDigits(data []byte) []byte {
	var code []byte
	for _, d := range data {
		if d == 0xff {
			break
		}
		code = append(code, '0'+d)
	}
	return code
}

// recorder is a Publisher keeping everything it is given.
type recorder struct {
	mu           sync.Mutex
	states       []AlarmState
	availability []bool
}

func (r *recorder) PublishStatus(state AlarmState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recorder) PublishAvailability(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.availability = append(r.availability, online)
}

func (r *recorder) published() ([]AlarmState, []bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AlarmState(nil), r.states...), append([]bool(nil), r.availability...)
}

func testOptions(zones int) Options {
	return Options{
		Login:           "1234",
		Zones:           zones,
		OpenTimeout:     300 * time.Millisecond,
		ExchangeTimeout: 200 * time.Millisecond,
		DrainTimeout:    time.Millisecond,
		SettleDelay:     -1,
		PollInterval:    10 * time.Millisecond,
		Logger:          logp.New(io.Discard),
	}
}
