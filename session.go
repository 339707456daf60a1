package pima

import (
	"context"
	"errors"
	"fmt"
	"time"

	logp "github.com/charmbracelet/log"
)

// SessionState is the connection state of a Session.
type SessionState uint8

const (
	StateDisconnected SessionState = iota
	StateReady
	StateAuthFailed
)

func (s SessionState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateAuthFailed:
		return "authentication failed"
	default:
		return "disconnected"
	}
}

// Session is a logged in connection to the panel. It is not safe for
// concurrent use; the Engine serializes access to it.
type Session struct {
	open    Opener
	opts    Options
	decoder *Decoder
	login   Command
	log     *logp.Logger

	transport    Transport
	reader       *frameReader
	state        SessionState
	lastActivity time.Time
}

func newSession(open Opener, opts Options, decoder *Decoder, login Command) *Session {
	return &Session{
		open:    open,
		opts:    opts,
		decoder: decoder,
		login:   login,
		log:     opts.Logger,
	}
}

func (s *Session) State() SessionState {
	return s.state
}

func (s *Session) LastActivity() time.Time {
	return s.lastActivity
}

// Open connects and logs in, returning the status frame the panel answers
// the login with.
func (s *Session) Open(ctx context.Context) (Frame, error) {
	if err := s.Close(); err != nil {
		s.log.Warn("could not close previous transport", "err", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.OpenTimeout)
	defer cancel()

	t, err := s.open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Frame{}, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return Frame{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	s.transport = t
	s.reader = newFrameReader(t, s.decoder.Layout().Module(), s.opts.NoiseBudget)

	reply, err := s.roundTrip(ctx, s.login, s.opts.OpenTimeout)
	if err != nil {
		s.drop()
		return Frame{}, fmt.Errorf("could not log in: %w", err)
	}
	flags, err := s.decoder.Flags(reply)
	if err != nil {
		s.drop()
		if stride, ok := s.decoder.Layout().impliedStride(len(reply.Data)); ok && errors.Is(err, ErrMalformedResponse) {
			return Frame{}, fmt.Errorf("could not log in: %w: status fits a zone group stride of %d, set PIMA_ZONE_GROUP_STRIDE=%d", err, stride, stride)
		}
		return Frame{}, fmt.Errorf("could not log in: %w", err)
	}
	if !flags.LoggedIn {
		s.drop()
		return Frame{}, ErrAuthentication
	}

	s.state = StateReady
	s.lastActivity = time.Now()
	return reply, nil
}

// Exchange sends cmd and returns its reply. Corrupt replies are retried;
// a panel timeout, a transport failure or exhausted retries drop the
// session. When ctx ends first the session is kept, and a late reply is
// drained by the next exchange.
func (s *Session) Exchange(ctx context.Context, cmd Command) (Frame, error) {
	if s.state != StateReady {
		return Frame{}, fmt.Errorf("%w: session is %s", ErrConnection, s.state)
	}
	reply, err := s.roundTrip(ctx, cmd, s.opts.ExchangeTimeout)
	if err != nil {
		if callerGaveUp(err) {
			s.log.Debug("caller gave up", "cmd", cmd, "err", err)
			return Frame{}, err
		}
		s.log.Warn("dropping session", "cmd", cmd, "err", err)
		s.drop()
		return Frame{}, err
	}
	s.lastActivity = time.Now()
	return reply, nil
}

func (s *Session) roundTrip(ctx context.Context, cmd Command, timeout time.Duration) (Frame, error) {
	raw, err := Encode(cmd.frame(s.decoder.Layout().Module()))
	if err != nil {
		return Frame{}, err
	}

	var lastErr error
	for attempt := 0; attempt <= s.opts.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Frame{}, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		if attempt > 0 {
			s.log.Debug("retrying", "cmd", cmd, "attempt", attempt, "err", lastErr)
		}

		stale, err := s.reader.drain(s.opts.DrainTimeout)
		if err != nil {
			return Frame{}, err
		}
		if stale > 0 {
			s.log.Debug("discarded stale bytes", "cmd", cmd, "count", stale)
		}

		s.log.Debugf(">>> %s % x", cmd, raw)
		if _, err := s.transport.Write(raw); err != nil {
			return Frame{}, fmt.Errorf("%w: could not write %s: %w", ErrTransport, cmd, err)
		}
		if !cmd.query() && s.opts.SettleDelay > 0 {
			if err := sleep(ctx, s.opts.SettleDelay); err != nil {
				return Frame{}, fmt.Errorf("%w: %w", ErrTimeout, err)
			}
		}

		deadline := time.Now().Add(timeout)
		capped := false
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline, capped = d, true
		}
		reply, err := s.reader.next(deadline)
		switch {
		case capped && errors.Is(err, ErrTimeout):
			return Frame{}, fmt.Errorf("%w: %w", ErrTimeout, context.DeadlineExceeded)
		case err == nil && cmd.accepts(reply):
			s.log.Debugf("<<< %s %s on %s % x", cmd, reply.Message, reply.Channel, reply.Data)
			return reply, nil
		case err == nil:
			lastErr = fmt.Errorf("unexpected %s reply on %s", reply.Message, reply.Channel)
		case errors.Is(err, ErrChecksum), errors.Is(err, ErrFraming):
			lastErr = err
		default:
			return Frame{}, err
		}
	}
	return Frame{}, fmt.Errorf("%w: %s failed after %d attempts: %w", ErrProtocol, cmd, s.opts.Retries+1, lastErr)
}

// Close releases the transport. It is safe to call more than once.
func (s *Session) Close() error {
	s.state = StateDisconnected
	if s.transport == nil {
		return nil
	}
	err := s.transport.Close()
	s.transport = nil
	s.reader = nil
	return err
}

func (s *Session) drop() {
	if err := s.Close(); err != nil {
		s.log.Debug("could not close transport", "err", err)
	}
}

// callerGaveUp reports whether err comes from the caller's context rather
// than from the panel.
func callerGaveUp(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
