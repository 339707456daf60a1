package main

import (
	"context"
	"sync"
	"time"

	pima "github.com/caarlos0/pima-bridge"
)

type armCall struct {
	mode       pima.Mode
	partitions []int
}

// fakeAlarm stands in for the engine in collaborator tests.
type fakeAlarm struct {
	mu      sync.Mutex
	state   pima.AlarmState
	known   bool
	err     error
	outputs []int
	session pima.SessionState
	armed   []armCall
	// delays holds how long the next arm calls take, in order.
	delays []time.Duration
}

func newFakeAlarm() *fakeAlarm {
	return &fakeAlarm{
		state: pima.AlarmState{
			Partitions: map[int]pima.Mode{1: pima.ModeDisarm, 2: pima.ModeDisarm},
		},
		known:   true,
		session: pima.StateReady,
	}
}

func (f *fakeAlarm) GetStatus(context.Context) (pima.AlarmState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return pima.AlarmState{}, f.err
	}
	return f.state, nil
}

func (f *fakeAlarm) SetArmMode(_ context.Context, mode pima.Mode, partitions []int) (pima.AlarmState, error) {
	f.mu.Lock()
	var delay time.Duration
	if len(f.delays) > 0 {
		delay, f.delays = f.delays[0], f.delays[1:]
	}
	f.mu.Unlock()
	time.Sleep(delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = append(f.armed, armCall{mode: mode, partitions: partitions})
	if f.err != nil {
		return pima.AlarmState{}, f.err
	}
	next := map[int]pima.Mode{}
	for p, m := range f.state.Partitions {
		next[p] = m
	}
	for _, p := range partitions {
		next[p] = mode
	}
	f.state.Partitions = next
	return f.state, nil
}

func (f *fakeAlarm) GetOutputs(context.Context) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outputs, f.err
}

func (f *fakeAlarm) State() pima.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

func (f *fakeAlarm) Last() (pima.AlarmState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.known
}

func (f *fakeAlarm) calls() []armCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]armCall(nil), f.armed...)
}

func (f *fakeAlarm) slow(delays ...time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, delays...)
}

func (f *fakeAlarm) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}
