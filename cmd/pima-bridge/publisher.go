package main

import (
	"context"
	"sync"

	pima "github.com/caarlos0/pima-bridge"
)

// Alarm is the part of the engine the collaborators use.
type Alarm interface {
	GetStatus(ctx context.Context) (pima.AlarmState, error)
	SetArmMode(ctx context.Context, mode pima.Mode, partitions []int) (pima.AlarmState, error)
	GetOutputs(ctx context.Context) ([]int, error)
	State() pima.SessionState
	Last() (pima.AlarmState, bool)
}

var _ Alarm = (*pima.Engine)(nil)

// fanout forwards engine notifications to every registered publisher.
type fanout struct {
	mu         sync.RWMutex
	publishers []pima.Publisher
}

func (f *fanout) add(p pima.Publisher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishers = append(f.publishers, p)
}

func (f *fanout) PublishStatus(state pima.AlarmState) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range f.publishers {
		p.PublishStatus(state)
	}
}

func (f *fanout) PublishAvailability(online bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range f.publishers {
		p.PublishAvailability(online)
	}
}
