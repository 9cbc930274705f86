package procurement

// OrderStatus is the lifecycle state of a purchase order
type OrderStatus string

const (
	StatusDraft            OrderStatus = "draft"
	StatusAwaitingApproval OrderStatus = "awaiting_approval"
	StatusApproved         OrderStatus = "approved"
	StatusSent             OrderStatus = "sent"
	StatusViewed           OrderStatus = "viewed"
	StatusQuestioned       OrderStatus = "questioned"
	StatusConfirmed        OrderStatus = "confirmed"
	StatusChangeRequested  OrderStatus = "change_requested"
	StatusCancelled        OrderStatus = "cancelled"
	StatusFinalized        OrderStatus = "finalized"
	StatusRejected         OrderStatus = "rejected"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []OrderStatus{
	StatusDraft, StatusAwaitingApproval, StatusApproved, StatusSent, StatusViewed,
	StatusQuestioned, StatusConfirmed, StatusChangeRequested,
	StatusCancelled, StatusFinalized, StatusRejected,
}

// IsValid reports whether s is a known status
func (s OrderStatus) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusFinalized || s == StatusRejected
}

// AcceptsSupplierResponse reports whether inbound portal answers may be applied
func (s OrderStatus) AcceptsSupplierResponse() bool {
	return s == StatusSent || s == StatusViewed || s == StatusQuestioned
}

// OrderType classifies what is being purchased
type OrderType string

const (
	OrderTypeMaterial OrderType = "material"
	OrderTypeService  OrderType = "service"
	OrderTypeMixed    OrderType = "mixed"
)

// IsValid reports whether t is a known order type
func (t OrderType) IsValid() bool {
	return t == OrderTypeMaterial || t == OrderTypeService || t == OrderTypeMixed
}

// IntegrationStatus tracks the portal delivery state of an order
type IntegrationStatus string

const (
	IntegrationIdle           IntegrationStatus = "idle"
	IntegrationSending        IntegrationStatus = "sending"
	IntegrationRetryScheduled IntegrationStatus = "retry_scheduled"
	IntegrationExhausted      IntegrationStatus = "exhausted"
	IntegrationSynced         IntegrationStatus = "synced"
)
