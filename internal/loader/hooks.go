package loader

import (
	"strings"
	"time"

	"github.com/yungbote/adgraph/internal/observability"
)

// Hooks captures loader-level observability events.
type Hooks interface {
	ObserveOperation(name, status string, dur time.Duration)
	IncConflict(name string)
	IncRetry(name string)
	IncRow(phase, kind, outcome string)
}

type noopHooks struct{}

func (noopHooks) ObserveOperation(string, string, time.Duration) {}
func (noopHooks) IncConflict(string)                             {}
func (noopHooks) IncRetry(string)                                {}
func (noopHooks) IncRow(string, string, string)                  {}

type observabilityHooks struct {
	metrics *observability.Metrics
}

// NewObservabilityHooks creates loader hooks backed by run metrics.
func NewObservabilityHooks(metrics *observability.Metrics) Hooks {
	if metrics == nil {
		return noopHooks{}
	}
	return &observabilityHooks{metrics: metrics}
}

func (h *observabilityHooks) ObserveOperation(name, status string, dur time.Duration) {
	h.metrics.ObserveOperation(strings.TrimSpace(name), strings.TrimSpace(status), dur)
}

func (h *observabilityHooks) IncConflict(name string) {
	h.metrics.IncConflict(strings.TrimSpace(name))
}

func (h *observabilityHooks) IncRetry(name string) {
	h.metrics.IncRetry(strings.TrimSpace(name))
}

func (h *observabilityHooks) IncRow(phase, kind, outcome string) {
	h.metrics.IncRow(phase, kind, outcome)
}
