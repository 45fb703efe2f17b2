// Package policy resolves the effective fan-in configuration from layered
// sources: built-in defaults, deployment overrides, and a runtime override
// record in the store. Each layer is validated independently; an invalid
// field falls back to the value from the layer below it.
package policy

import (
	"context"
	"log/slog"
	"time"

	"github.com/tasklab/fanin/pkg/core"
)

// Config is the effective configuration for one monitor tick.
type Config struct {
	PollingInterval         time.Duration
	JobTimeout              time.Duration
	EnablePartialCompletion bool
	PartialThreshold        float64
	MaxJobsPerCycle         int
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		PollingInterval:         5 * time.Minute,
		JobTimeout:              30 * time.Minute,
		EnablePartialCompletion: true,
		PartialThreshold:        0.5,
		MaxJobsPerCycle:         50,
	}
}

// Layer holds one override layer. Nil fields leave the lower layer's value
// in place. Durations are expressed in minutes to match the stored record
// and environment shape.
type Layer struct {
	PollingIntervalMinutes     *float64
	JobTimeoutMinutes          *float64
	EnablePartialCompletion    *bool
	PartialCompletionThreshold *float64
	MaxJobsPerCycle            *int
}

// Keys recognized in the runtime override record.
const (
	keyPollingInterval  = "pollingIntervalMinutes"
	keyJobTimeout       = "jobTimeoutMinutes"
	keyEnablePartial    = "enablePartialCompletion"
	keyPartialThreshold = "partialCompletionThreshold"
	keyMaxJobsPerCycle  = "maxJobsPerCycle"
)

// LayerFromMap builds a Layer from a stored override record, tolerating
// missing keys and unexpected value types. Unusable values are left nil so
// the lower layer wins.
func LayerFromMap(values map[string]any) Layer {
	var l Layer
	if v, ok := toFloat(values[keyPollingInterval]); ok {
		l.PollingIntervalMinutes = &v
	}
	if v, ok := toFloat(values[keyJobTimeout]); ok {
		l.JobTimeoutMinutes = &v
	}
	if v, ok := values[keyEnablePartial].(bool); ok {
		l.EnablePartialCompletion = &v
	}
	if v, ok := toFloat(values[keyPartialThreshold]); ok {
		l.PartialCompletionThreshold = &v
	}
	if v, ok := toFloat(values[keyMaxJobsPerCycle]); ok {
		n := int(v)
		l.MaxJobsPerCycle = &n
	}
	return l
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Merge overlays layer on base, validating each field. Invalid fields are
// logged as warnings and keep the base value. Merge never fails.
func Merge(base Config, layer Layer, source string, logger *slog.Logger) Config {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := base

	if v := layer.PollingIntervalMinutes; v != nil {
		if *v > 0 {
			cfg.PollingInterval = minutes(*v)
		} else {
			logger.Warn("ignoring invalid polling interval override", "source", source, "value", *v)
		}
	}
	if v := layer.JobTimeoutMinutes; v != nil {
		if *v > 0 {
			cfg.JobTimeout = minutes(*v)
		} else {
			logger.Warn("ignoring invalid job timeout override", "source", source, "value", *v)
		}
	}
	if v := layer.EnablePartialCompletion; v != nil {
		cfg.EnablePartialCompletion = *v
	}
	if v := layer.PartialCompletionThreshold; v != nil {
		if *v >= 0 && *v <= 1 {
			cfg.PartialThreshold = *v
		} else {
			logger.Warn("ignoring invalid partial threshold override", "source", source, "value", *v)
		}
	}
	if v := layer.MaxJobsPerCycle; v != nil {
		if *v > 0 {
			cfg.MaxJobsPerCycle = *v
		} else {
			logger.Warn("ignoring invalid max jobs per cycle override", "source", source, "value", *v)
		}
	}
	return cfg
}

func minutes(v float64) time.Duration {
	return time.Duration(v * float64(time.Minute))
}

// Resolver produces the effective Config for a tick.
type Resolver struct {
	store  core.Store
	env    Layer
	logger *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithEnvLayer sets the deployment override layer.
func WithEnvLayer(layer Layer) ResolverOption {
	return func(r *Resolver) { r.env = layer }
}

// WithLogger sets the resolver logger.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// NewResolver creates a resolver reading runtime overrides from store.
func NewResolver(store core.Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the effective configuration: defaults, overlaid with the
// deployment layer, overlaid with the runtime store record. A store failure
// is logged and the lower layers are returned, so a tick never aborts on a
// config read.
func (r *Resolver) Resolve(ctx context.Context) Config {
	cfg := Merge(Default(), r.env, "env", r.logger)

	values, err := r.store.GetConfigOverride(ctx)
	if err != nil {
		r.logger.Warn("failed to read runtime config override", "error", err)
		return cfg
	}
	if values == nil {
		return cfg
	}
	return Merge(cfg, LayerFromMap(values), "store", r.logger)
}
