package event

import "github.com/erp/procurement/internal/domain/procurement"

// RegisterProcurementEvents registers every purchase order event type so the
// outbox processor can decode stored entries
func RegisterProcurementEvents(serializer *EventSerializer) {
	serializer.Register(procurement.EventTypeOrderCreated, &procurement.OrderCreatedEvent{})
	serializer.Register(procurement.EventTypeOrderStatusChanged, &procurement.OrderStatusChangedEvent{})
	serializer.Register(procurement.EventTypeApprovalRequested, &procurement.ApprovalRequestedEvent{})
	serializer.Register(procurement.EventTypeApprovalStepResolved, &procurement.ApprovalStepResolvedEvent{})
	serializer.Register(procurement.EventTypeApprovalEscalated, &procurement.ApprovalEscalatedEvent{})
	serializer.Register(procurement.EventTypeDispatchFailed, &procurement.DispatchFailedEvent{})
	serializer.Register(procurement.EventTypeIntegrationExhausted, &procurement.IntegrationExhaustedEvent{})
	serializer.Register(procurement.EventTypeSupplierResponseReceived, &procurement.SupplierResponseReceivedEvent{})
}
