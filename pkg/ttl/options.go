package ttl

import (
	"errors"
	"time"

	"github.com/hashicorp/go-hclog"
)

var (
	ErrInvalidTTL       = errors.New("ttl: duration must be greater than zero")
	ErrClockBeforeEpoch = errors.New("ttl: system clock is before the unix epoch")
	ErrClosed           = errors.New("ttl: tree closed")

	errMalformedRow = errors.New("ttl: malformed index row")
)

const (
	DefaultSweepInterval = time.Second
	DefaultSweepBatch    = 512
)

type options struct {
	clock         Clock
	logger        hclog.Logger
	sweepInterval time.Duration
	sweepBatch    int
	reconcile     bool
}

// Option customizes Open and OpenTree.
type Option func(*options)

// WithClock replaces time.Now as the source of the current time.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger for the sweeper, observer and reconciler.
func WithLogger(l hclog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSweepInterval sets how often the sweeper polls for expired keys.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) { o.sweepInterval = d }
}

// WithSweepBatch caps how many expired rows one scan collects.
func WithSweepBatch(n int) Option {
	return func(o *options) { o.sweepBatch = n }
}

// WithReconcile runs the index reconciler before background work starts.
func WithReconcile(enabled bool) Option {
	return func(o *options) { o.reconcile = enabled }
}

func buildOptions(opts []Option) options {
	o := options{
		clock:         time.Now,
		sweepInterval: DefaultSweepInterval,
		sweepBatch:    DefaultSweepBatch,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = hclog.NewNullLogger()
	}
	if o.sweepInterval <= 0 {
		o.sweepInterval = DefaultSweepInterval
	}
	if o.sweepBatch <= 0 {
		o.sweepBatch = DefaultSweepBatch
	}
	return o
}
