package guard

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type guardMetrics struct {
	ops *prometheus.CounterVec
}

func newGuardMetrics(registry *prometheus.Registry) (*guardMetrics, error) {
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anyguard",
		Subsystem: "guard",
		Name:      "ops_total",
		Help:      "guard operations by variant, operation and result",
	}, []string{"variant", "op", "result"})
	if err := registry.Register(ops); err != nil {
		return nil, err
	}
	return &guardMetrics{ops: ops}, nil
}

func (m *guardMetrics) observe(variant Variant, op Op, err error) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(variant.String(), op.String(), resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNegativeBalanceChange):
		return "negative_balance_change"
	case errors.Is(err, ErrTokenTypeMismatch):
		return "token_type_mismatch"
	case errors.Is(err, ErrRecordNotFound):
		return "record_not_found"
	case errors.Is(err, ErrCapabilityMismatch):
		return "capability_mismatch"
	case errors.Is(err, ErrOwnershipPrecondition):
		return "ownership_precondition"
	default:
		return "error"
	}
}
