package systray

import (
	"time"

	"go.uber.org/zap"
)

// Option configures a [Watcher], [Host], or [Item]. Options that do not
// apply to a component are ignored by it.
type Option func(*options)

type options struct {
	logger      *zap.Logger
	recorder    Recorder
	timeout     time.Duration
	trackOwners bool
	registry    *Registry
}

func newOptions(opts []Option) options {
	o := options{
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		timeout:  DefaultCallTimeout,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder sets the [Recorder] that receives measurements.
func WithRecorder(recorder Recorder) Option {
	return func(o *options) {
		if recorder != nil {
			o.recorder = recorder
		}
	}
}

// WithCallTimeout sets the timeout of remote calls made by hosts and items.
// Defaults to [DefaultCallTimeout].
func WithCallTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithOwnerTracking makes a [Watcher] track hosts and remove items whose
// owner has left the bus. It is disabled by default: registered items then
// stay in the registry for the lifetime of the watcher.
func WithOwnerTracking(enabled bool) Option {
	return func(o *options) {
		o.trackOwners = enabled
	}
}

// WithRegistry makes a [Watcher] serve an existing [Registry].
func WithRegistry(registry *Registry) Option {
	return func(o *options) {
		if registry != nil {
			o.registry = registry
		}
	}
}
