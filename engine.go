package pima

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	logp "github.com/charmbracelet/log"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "pima",
})

// Publisher receives status changes and availability updates.
// Implementations must not block for long: they are called with the panel
// lock held.
type Publisher interface {
	PublishStatus(state AlarmState)
	PublishAvailability(online bool)
}

type nopPublisher struct{}

func (nopPublisher) PublishStatus(AlarmState)  {}
func (nopPublisher) PublishAvailability(bool) {}

// Engine owns the session with the panel and serializes every command
// through it, first come first served.
type Engine struct {
	opts    Options
	log     *logp.Logger
	decoder *Decoder
	session *Session

	lock    fifoLock
	bo      *backoff.ExponentialBackOff
	retryAt time.Time
	authErr error

	mu       sync.RWMutex
	state    SessionState
	current  *AlarmState
	previous *AlarmState
}

// New creates an Engine. It does not connect until the first command.
func New(open Opener, opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	login, err := LoginCommand(opts.Login)
	if err != nil {
		return nil, err
	}
	decoder, err := NewDecoder(opts.layout())
	if err != nil {
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = opts.ReconnectMaxInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &Engine{
		opts:    opts,
		log:     opts.Logger,
		decoder: decoder,
		session: newSession(open, opts, decoder, login),
		bo:      bo,
	}, nil
}

// State returns the connection state.
func (e *Engine) State() SessionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Last returns the most recent snapshot, if any.
func (e *Engine) Last() (AlarmState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return AlarmState{}, false
	}
	return *e.current, true
}

// GetStatus queries the panel status, connecting first if needed.
func (e *Engine) GetStatus(ctx context.Context) (AlarmState, error) {
	var state AlarmState
	err := e.execute(ctx, "status", func(s *Session) (err error) {
		state, err = e.queryStatus(ctx, s)
		return
	})
	return state, err
}

// SetArmMode sets the given partitions to mode and returns the resulting
// status.
func (e *Engine) SetArmMode(ctx context.Context, mode Mode, partitions []int) (AlarmState, error) {
	for _, p := range partitions {
		if p > e.opts.Partitions {
			return AlarmState{}, fmt.Errorf("%w: partition %d out of range 1-%d", ErrInvalidArgument, p, e.opts.Partitions)
		}
	}
	cmd, err := ArmCommand(mode, partitions)
	if err != nil {
		return AlarmState{}, err
	}

	var state AlarmState
	err = e.execute(ctx, "arm", func(s *Session) error {
		e.log.Info("arming", "cmd", cmd)
		reply, err := s.Exchange(ctx, cmd)
		if err != nil {
			return fmt.Errorf("could not %s: %w", cmd, err)
		}
		if reply.Channel == ChannelSystem {
			if state, err = e.record(reply); err == nil {
				return nil
			}
			e.log.Debug("arm reply carries no status, querying", "err", err)
		}
		state, err = e.queryStatus(ctx, s)
		return err
	})
	return state, err
}

// GetOutputs returns the zero-based numbers of the active outputs.
func (e *Engine) GetOutputs(ctx context.Context) ([]int, error) {
	var outputs []int
	err := e.execute(ctx, "outputs", func(s *Session) error {
		reply, err := s.Exchange(ctx, OutputsQuery())
		if err != nil {
			return fmt.Errorf("could not read outputs: %w", err)
		}
		outputs, err = DecodeOutputs(reply)
		return err
	})
	return outputs, err
}

// Close drops the session with the panel.
func (e *Engine) Close() error {
	if err := e.lock.Lock(context.Background()); err != nil {
		return err
	}
	defer e.lock.Unlock()
	err := e.session.Close()
	e.setState(StateDisconnected)
	return err
}

func (e *Engine) queryStatus(ctx context.Context, s *Session) (AlarmState, error) {
	reply, err := s.Exchange(ctx, StatusQuery())
	if err != nil {
		return AlarmState{}, fmt.Errorf("could not gather status: %w", err)
	}
	if reply.Channel == ChannelIdle {
		e.log.Warn("panel dropped the login, logging in again")
		if err := e.connect(ctx); err != nil {
			return AlarmState{}, err
		}
		if reply, err = s.Exchange(ctx, StatusQuery()); err != nil {
			return AlarmState{}, fmt.Errorf("could not gather status: %w", err)
		}
		if reply.Channel == ChannelIdle {
			s.drop()
			return AlarmState{}, fmt.Errorf("%w: panel keeps dropping the login", ErrProtocol)
		}
	}
	return e.record(reply)
}

// record decodes a status reply and keeps it as the current snapshot,
// notifying the publisher if it changed.
func (e *Engine) record(reply Frame) (AlarmState, error) {
	state, err := e.decoder.Decode(reply)
	if err != nil {
		return AlarmState{}, err
	}

	e.mu.Lock()
	changed := e.current == nil || !e.current.Equal(state)
	e.previous, e.current = e.current, &state
	e.mu.Unlock()

	if changed {
		e.log.Info(
			"status changed",
			"partitions", state.Partitions,
			"open", state.OpenZones,
			"alarmed", state.AlarmedZones,
			"bypassed", state.BypassedZones,
			"failed", state.FailedZones,
			"failures", state.Failures,
		)
		e.opts.Publisher.PublishStatus(state)
	}
	return state, nil
}

func (e *Engine) execute(ctx context.Context, name string, fn func(s *Session) error) error {
	t := time.Now()
	if err := e.lock.Lock(ctx); err != nil {
		return fmt.Errorf("%w: gave up waiting for the panel: %w", ErrTimeout, err)
	}
	defer e.lock.Unlock()
	e.log.Debugf("got panel lock after %s", time.Since(t))

	if err := e.ensureReady(ctx); err != nil {
		return err
	}

	start := time.Now()
	err := fn(e.session)
	if e.session.State() != StateReady && e.authErr == nil {
		// queued callers fail fast until the poller reconnects.
		if ctx.Err() == nil && time.Now().After(e.retryAt) {
			e.scheduleReconnect()
		}
		e.setState(StateDisconnected)
	}
	if e.opts.OnExchange != nil {
		e.opts.OnExchange(name, time.Since(start), err)
	}
	return err
}

func (e *Engine) ensureReady(ctx context.Context) error {
	if e.session.State() == StateReady {
		return nil
	}
	if e.authErr != nil {
		return e.authErr
	}
	if wait := time.Until(e.retryAt); wait > 0 {
		return fmt.Errorf("%w: currently disconnected, next attempt in %s", ErrConnection, wait.Round(time.Millisecond))
	}
	return e.connect(ctx)
}

func (e *Engine) connect(ctx context.Context) error {
	reply, err := e.session.Open(ctx)
	if errors.Is(err, ErrAuthentication) {
		e.authErr = fmt.Errorf("%w: %w", ErrConnection, err)
		e.setState(StateAuthFailed)
		e.log.Error("panel rejected the login code, giving up", "err", err)
		return e.authErr
	}
	if err != nil {
		e.setState(StateDisconnected)
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrConnection, err)
		}
		next := e.scheduleReconnect()
		e.log.Warn("could not connect to the panel", "err", err, "retry in", next)
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	e.bo.Reset()
	e.retryAt = time.Time{}
	e.setState(StateReady)
	e.log.Info("logged in to the panel")
	if _, err := e.record(reply); err != nil {
		e.log.Debug("login reply carries no status", "err", err)
	}
	return nil
}

func (e *Engine) scheduleReconnect() time.Duration {
	next := e.bo.NextBackOff()
	e.retryAt = time.Now().Add(next)
	return next
}

func (e *Engine) setState(state SessionState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
}

// Run polls the panel every poll interval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	p := poller{engine: e}
	tick := time.NewTicker(e.opts.PollInterval)
	defer tick.Stop()
	for {
		p.poll(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

type poller struct {
	engine *Engine
	known  bool
	online bool
}

func (p *poller) poll(ctx context.Context) {
	e := p.engine
	_, err := e.GetStatus(ctx)
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		if !p.known || !p.online {
			p.known, p.online = true, true
			e.log.Info("panel is online")
			e.opts.Publisher.PublishAvailability(true)
		}
		return
	}
	if e.State() == StateReady {
		e.log.Warn("poll failed", "err", err)
		return
	}
	if !p.known || p.online {
		p.known, p.online = true, false
		e.log.Error("panel is offline", "err", err)
		e.opts.Publisher.PublishAvailability(false)
		return
	}
	e.log.Debug("panel still offline", "err", err)
}
