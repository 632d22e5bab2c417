package core

import (
	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures an RvmHandle at Init time.
type Option func(*RvmHandle)

// WithLogger sets the debug channel for diagnostics: precondition
// violations that would otherwise be silent no-ops get logged here
// instead of vanishing. Defaults to a no-op logger.
func WithLogger(logger log.Logger) Option {
	return func(h *RvmHandle) { h.logger = logger }
}

// WithRegisterer sets the prometheus.Registerer that engine counters are
// registered against. Defaults to a private registry, so two RvmHandles
// in the same process never collide on metric names.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(h *RvmHandle) { h.reg = reg }
}
