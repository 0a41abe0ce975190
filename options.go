package fluid

import (
	"time"

	"go.uber.org/zap"
)

// =====================================
// Options
// =====================================

// Observer receives one call per repository operation, for metrics
type Observer interface {
	ObserveOperation(collection, operation string, duration time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, string, time.Duration, error) {}

type options struct {
	logger   *zap.Logger
	observer Observer
	hooks    *Hooks
}

func defaultOptions() options {
	return options{
		logger:   zap.NewNop(),
		observer: nopObserver{},
	}
}

// Option configures a Registry or a Repository
type Option func(*options)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver sets the operation observer
func WithObserver(observer Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// WithHooks sets the hook registry. A Registry creates its own when none is given.
func WithHooks(hooks *Hooks) Option {
	return func(o *options) {
		o.hooks = hooks
	}
}

// OperationOption configures a single repository call
type OperationOption func(*operationConfig)

type operationConfig struct {
	skipEvents bool
}

// SkipEvents runs the operation without the hook pipeline
func SkipEvents() OperationOption {
	return func(c *operationConfig) {
		c.skipEvents = true
	}
}

func applyOperationOptions(opts []OperationOption) operationConfig {
	var cfg operationConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
