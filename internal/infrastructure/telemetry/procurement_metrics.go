package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/erp/procurement/internal/domain/procurement"
	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when a metrics set is built without a meter
var ErrMeterNil = errors.New("telemetry: meter is nil")

// ProcurementMetrics records order lifecycle and portal integration metrics
type ProcurementMetrics struct {
	transitions      *Counter
	approvals        *Counter
	dispatchAttempts *Counter
	dispatchDuration *Histogram
	inboundRejected  *Counter
	conflicts        *Counter
}

// NewProcurementMetrics creates the procurement instruments on meter
func NewProcurementMetrics(meter metric.Meter) (*ProcurementMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	m := &ProcurementMetrics{}
	var err error
	if m.transitions, err = NewCounter(meter,
		"procurement_order_transitions_total", "Applied order status transitions", "{transitions}"); err != nil {
		return nil, err
	}
	if m.approvals, err = NewCounter(meter,
		"procurement_approval_decisions_total", "Approval step decisions", "{decisions}"); err != nil {
		return nil, err
	}
	if m.dispatchAttempts, err = NewCounter(meter,
		"procurement_dispatch_attempts_total", "Portal delivery attempts by outcome", "{attempts}"); err != nil {
		return nil, err
	}
	if m.dispatchDuration, err = NewHistogram(meter,
		"procurement_dispatch_duration_seconds", "Portal delivery latency", "s", DispatchDurationBuckets...); err != nil {
		return nil, err
	}
	if m.inboundRejected, err = NewCounter(meter,
		"procurement_inbound_rejected_total", "Rejected inbound portal messages", "{messages}"); err != nil {
		return nil, err
	}
	if m.conflicts, err = NewCounter(meter,
		"procurement_concurrency_conflicts_total", "Optimistic lock conflicts", "{conflicts}"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordTransition counts an applied transition
func (m *ProcurementMetrics) RecordTransition(ctx context.Context, trigger procurement.Trigger, to procurement.OrderStatus) {
	m.transitions.Inc(ctx, AttrTrigger.String(string(trigger)), AttrToStatus.String(string(to)))
}

// RecordApprovalDecision counts an approval decision at a level
func (m *ProcurementMetrics) RecordApprovalDecision(ctx context.Context, decision string, level int) {
	m.approvals.Inc(ctx, AttrDecision.String(decision), AttrLevel.Int(level))
}

// RecordDispatchAttempt counts a finished delivery and its latency
func (m *ProcurementMetrics) RecordDispatchAttempt(ctx context.Context, op procurement.IntegrationOperation, status procurement.AttemptStatus, elapsed time.Duration) {
	m.dispatchAttempts.Inc(ctx, AttrOperation.String(string(op)), AttrStatus.String(string(status)))
	m.dispatchDuration.RecordDuration(ctx, elapsed, AttrOperation.String(string(op)), AttrStatus.String(string(status)))
}

// RecordInboundRejected counts a rejected inbound message by error code
func (m *ProcurementMetrics) RecordInboundRejected(ctx context.Context, code string) {
	m.inboundRejected.Inc(ctx, AttrErrorCode.String(code))
}

// RecordConflict counts a concurrency conflict for an operation
func (m *ProcurementMetrics) RecordConflict(ctx context.Context, operation string) {
	m.conflicts.Inc(ctx, AttrOperation.String(operation))
}
