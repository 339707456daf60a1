package pima

import (
	"fmt"
	"time"

	logp "github.com/charmbracelet/log"
)

const (
	DefaultOpenTimeout          = 10 * time.Second
	DefaultExchangeTimeout      = 5 * time.Second
	DefaultSettleDelay          = time.Second
	DefaultDrainTimeout         = 50 * time.Millisecond
	DefaultRetries              = 3
	DefaultPollInterval         = time.Second
	DefaultReconnectMaxInterval = time.Minute
	DefaultNoiseBudget          = 4 * maxFrameSize
)

// Options configures an Engine. Zero values take the defaults above; a
// negative SettleDelay or Retries disables them.
type Options struct {
	// Login is the panel access code, 4 to 6 digits.
	Login string

	// Zones is the panel size: 32, 96 or 144. Defaults to 32.
	Zones int

	// Partitions is how many partitions are reported and accepted.
	// Defaults to 16.
	Partitions int

	// GroupStride is the distance in bytes between zone bitfield groups in
	// the status payload. Zero means packed.
	GroupStride int

	OpenTimeout     time.Duration
	ExchangeTimeout time.Duration
	SettleDelay     time.Duration
	DrainTimeout    time.Duration

	// Retries is how many times a command is resent after a corrupt reply.
	Retries int

	// NoiseBudget is how many bytes may be skipped looking for a frame.
	NoiseBudget int

	PollInterval         time.Duration
	ReconnectMaxInterval time.Duration

	Publisher Publisher
	Logger    *logp.Logger

	// OnExchange, if set, is called after every command with its name,
	// duration and result.
	OnExchange func(name string, took time.Duration, err error)
}

func (o Options) withDefaults() Options {
	if o.Zones == 0 {
		o.Zones = 32
	}
	if o.Partitions == 0 {
		o.Partitions = MaxPartitions
	}
	if o.OpenTimeout == 0 {
		o.OpenTimeout = DefaultOpenTimeout
	}
	if o.ExchangeTimeout == 0 {
		o.ExchangeTimeout = DefaultExchangeTimeout
	}
	switch {
	case o.SettleDelay == 0:
		o.SettleDelay = DefaultSettleDelay
	case o.SettleDelay < 0:
		o.SettleDelay = 0
	}
	if o.DrainTimeout == 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	switch {
	case o.Retries == 0:
		o.Retries = DefaultRetries
	case o.Retries < 0:
		o.Retries = 0
	}
	if o.NoiseBudget == 0 {
		o.NoiseBudget = DefaultNoiseBudget
	}
	if o.PollInterval == 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.ReconnectMaxInterval == 0 {
		o.ReconnectMaxInterval = DefaultReconnectMaxInterval
	}
	if o.Publisher == nil {
		o.Publisher = nopPublisher{}
	}
	if o.Logger == nil {
		o.Logger = log
	}
	return o
}

func (o Options) layout() Layout {
	return Layout{
		Zones:       o.Zones,
		GroupStride: o.GroupStride,
		Partitions:  o.Partitions,
	}
}

func (o Options) validate() error {
	if err := o.layout().validate(); err != nil {
		return err
	}
	for name, d := range map[string]time.Duration{
		"open timeout":     o.OpenTimeout,
		"exchange timeout": o.ExchangeTimeout,
		"drain timeout":    o.DrainTimeout,
		"poll interval":    o.PollInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidArgument, name, d)
		}
	}
	return nil
}
