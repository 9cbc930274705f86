package procurement

import (
	"context"
	"fmt"

	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/domain/shared"
	"go.uber.org/zap"
)

// ==================== Activity log ====================

// ActivityLogHandler writes every order event to the application log
type ActivityLogHandler struct {
	logger *zap.Logger
}

// NewActivityLogHandler creates a new ActivityLogHandler
func NewActivityLogHandler(logger *zap.Logger) *ActivityLogHandler {
	return &ActivityLogHandler{logger: logger}
}

// EventTypes returns nil: the handler receives all events
func (h *ActivityLogHandler) EventTypes() []string {
	return nil
}

// Handle logs the event
func (h *ActivityLogHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	fields := []zap.Field{
		zap.String("event_id", event.EventID().String()),
		zap.String("event_type", event.EventType()),
		zap.String("order_id", event.AggregateID().String()),
		zap.Time("occurred_at", event.OccurredAt()),
	}
	if changed, ok := event.(*procurement.OrderStatusChangedEvent); ok {
		fields = append(fields,
			zap.String("sequence_number", changed.SequenceNumber),
			zap.String("from", string(changed.FromStatus)),
			zap.String("to", string(changed.ToStatus)),
			zap.String("trigger", string(changed.Trigger)),
			zap.String("actor", changed.Actor),
		)
	}
	h.logger.Info("order activity", fields...)
	return nil
}

var _ shared.EventHandler = (*ActivityLogHandler)(nil)

// ==================== Alerts ====================

// Alert is an operator-facing notification about an order that needs attention
type Alert struct {
	Kind           string `json:"kind"`
	OrderID        string `json:"order_id"`
	SequenceNumber string `json:"sequence_number,omitempty"`
	Summary        string `json:"summary"`
	Detail         string `json:"detail,omitempty"`
}

// Alerter delivers alerts (pager, chat, mail...)
type Alerter interface {
	Raise(ctx context.Context, alert Alert) error
}

// AlertHandler raises alerts for exhausted integrations and escalated approvals
type AlertHandler struct {
	logger  *zap.Logger
	alerter Alerter
}

// NewAlertHandler creates a new AlertHandler
func NewAlertHandler(alerter Alerter, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{logger: logger, alerter: alerter}
}

// EventTypes returns the event types this handler is interested in
func (h *AlertHandler) EventTypes() []string {
	return []string{procurement.EventTypeIntegrationExhausted, procurement.EventTypeApprovalEscalated}
}

// Handle converts the event to an alert and raises it.
// A failing alerter fails the handling so the outbox retries it.
func (h *AlertHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	var alert Alert
	switch e := event.(type) {
	case *procurement.IntegrationExhaustedEvent:
		alert = Alert{
			Kind:           "integration_unresolved",
			OrderID:        e.AggregateID().String(),
			SequenceNumber: e.SequenceNumber,
			Summary:        fmt.Sprintf("portal delivery gave up after %d attempts", e.Attempts),
			Detail:         e.LastError,
		}
	case *procurement.ApprovalEscalatedEvent:
		alert = Alert{
			Kind:    "approval_escalated",
			OrderID: e.AggregateID().String(),
			Summary: fmt.Sprintf("approval step at level %d expired without a decision from %s", e.Level, e.Approver),
			Detail:  e.StepID.String(),
		}
	default:
		return fmt.Errorf("unexpected event type: %s", event.EventType())
	}

	if err := h.alerter.Raise(ctx, alert); err != nil {
		h.logger.Error("failed to raise alert",
			zap.String("kind", alert.Kind),
			zap.String("order_id", alert.OrderID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

var _ shared.EventHandler = (*AlertHandler)(nil)

// LoggingAlerter writes alerts to the log at error level
type LoggingAlerter struct {
	logger *zap.Logger
}

// NewLoggingAlerter creates a new LoggingAlerter
func NewLoggingAlerter(logger *zap.Logger) *LoggingAlerter {
	return &LoggingAlerter{logger: logger}
}

// Raise logs the alert
func (a *LoggingAlerter) Raise(_ context.Context, alert Alert) error {
	a.logger.Error("ALERT",
		zap.String("kind", alert.Kind),
		zap.String("order_id", alert.OrderID),
		zap.String("sequence_number", alert.SequenceNumber),
		zap.String("summary", alert.Summary),
		zap.String("detail", alert.Detail),
	)
	return nil
}

var _ Alerter = (*LoggingAlerter)(nil)

// ==================== Dispatch on approval ====================

// DispatchOnApprovalHandler hands newly approved orders to the retry scheduler,
// which performs the first delivery right away
type DispatchOnApprovalHandler struct {
	scheduler RetryScheduler
	clock     shared.Clock
	logger    *zap.Logger
}

// NewDispatchOnApprovalHandler creates a new DispatchOnApprovalHandler
func NewDispatchOnApprovalHandler(scheduler RetryScheduler, clock shared.Clock, logger *zap.Logger) *DispatchOnApprovalHandler {
	if clock == nil {
		clock = shared.NewSystemClock()
	}
	return &DispatchOnApprovalHandler{scheduler: scheduler, clock: clock, logger: logger}
}

// EventTypes returns the event types this handler is interested in
func (h *DispatchOnApprovalHandler) EventTypes() []string {
	return []string{procurement.EventTypeOrderStatusChanged}
}

// Handle schedules the first dispatch of an order that reached approved
func (h *DispatchOnApprovalHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	changed, ok := event.(*procurement.OrderStatusChangedEvent)
	if !ok {
		return fmt.Errorf("unexpected event type: expected %s, got %s",
			procurement.EventTypeOrderStatusChanged, event.EventType())
	}
	if changed.ToStatus != procurement.StatusApproved {
		return nil
	}
	h.scheduler.Schedule(changed.AggregateID(), h.clock.Now())
	h.logger.Info("order approved, dispatch scheduled",
		zap.String("order_id", changed.AggregateID().String()),
		zap.String("sequence_number", changed.SequenceNumber),
	)
	return nil
}

var _ shared.EventHandler = (*DispatchOnApprovalHandler)(nil)
