package procurement

import (
	"errors"
	"testing"

	"github.com/erp/procurement/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrder(t *testing.T) {
	o := newTestOrder(t)

	assert.Equal(t, StatusDraft, o.Status)
	assert.Equal(t, 1, o.Version)
	assert.True(t, o.IsNew())
	assert.Equal(t, "BRL", o.Currency)
	assert.Equal(t, IntegrationIdle, o.IntegrationStatus)
	assert.NotEmpty(t, o.CorrelationID)
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("150.00")), "got %s", o.TotalAmount)

	require.Len(t, o.Items, 2)
	assert.Equal(t, 1, o.Items[0].Sequence)
	assert.Equal(t, 2, o.Items[1].Sequence)
	assert.True(t, o.Items[0].LineTotal.Equal(decimal.RequireFromString("50.00")))
	assert.Equal(t, ItemUnanswered, o.Items[1].ConfirmationStatus)

	events := o.GetDomainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeOrderCreated, events[0].EventType())
}

func TestNewOrder_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *NewOrderInput)
		field  string
	}{
		{"zero quantity", func(in *NewOrderInput) { in.Items[0].Quantity = decimal.Zero }, "items[0].quantity"},
		{"negative price", func(in *NewOrderInput) { in.Items[1].UnitPrice = decimal.NewFromInt(-1) }, "items[1].unit_price"},
		{"missing description", func(in *NewOrderInput) { in.Items[0].Description = "" }, "items[0].description"},
		{"unknown currency", func(in *NewOrderInput) { in.Currency = "XYZ1" }, "currency"},
		{"missing supplier", func(in *NewOrderInput) { in.SupplierRef = "" }, "supplier_ref"},
		{"bad type", func(in *NewOrderInput) { in.Type = "goods" }, "type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := NewOrderInput{
				SequenceNumber: "PO-20250310-000001",
				SupplierRef:    "SUP-001",
				Type:           OrderTypeService,
				Currency:       "USD",
				CreatedBy:      "buyer",
				Items:          testItems(),
			}
			tt.mutate(&in)

			o, err := NewOrder(in, testNow)
			assert.Nil(t, o)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))

			var de *shared.DomainError
			require.True(t, errors.As(err, &de))
			assert.Contains(t, de.Details, tt.field)
		})
	}
}

func TestOrder_VersionBumpsOncePerUnitOfWork(t *testing.T) {
	o := persisted(newTestOrder(t))
	require.Equal(t, 1, o.LoadedVersion())
	assert.False(t, o.IsDirty())

	_, err := o.ReplaceItems(testItems()[:1], "buyer", testNow)
	require.NoError(t, err)
	_, err = o.Fire(TransitionRequest{Trigger: TriggerSubmit, Actor: "buyer", Origin: OriginUser}, testNow)
	require.NoError(t, err)

	assert.Equal(t, 2, o.Version)
	assert.Equal(t, 1, o.LoadedVersion())
	assert.True(t, o.IsDirty())

	o.MarkPersisted()
	_, err = o.Fire(TransitionRequest{Trigger: TriggerCancel, Actor: "buyer", Origin: OriginUser, Reason: "duplicate"}, testNow)
	require.NoError(t, err)
	assert.Equal(t, 3, o.Version)
}

func TestOrder_CheckVersion(t *testing.T) {
	o := persisted(newTestOrder(t))

	assert.NoError(t, o.CheckVersion(1))

	err := o.CheckVersion(0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConcurrencyConflict))
	assert.Equal(t, CodeConcurrencyConflict, shared.CodeOf(err))
}

func TestOrder_ReplaceItems(t *testing.T) {
	t.Run("recomputes totals in draft", func(t *testing.T) {
		o := persisted(newTestOrder(t))
		audit, err := o.ReplaceItems([]ItemSpec{
			{Description: "Cable", Quantity: decimal.RequireFromString("2.5"), Unit: "m", UnitPrice: decimal.RequireFromString("3.333")},
		}, "buyer", testNow)
		require.NoError(t, err)

		require.Len(t, o.Items, 1)
		assert.True(t, o.Items[0].LineTotal.Equal(decimal.RequireFromString("8.33")))
		assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("8.33")))
		assert.Equal(t, AuditOrderItemsUpdated, audit.Event)
		assert.Equal(t, "150.00", audit.Details["total_before"])
	})

	t.Run("rejected outside draft", func(t *testing.T) {
		o := orderIn(t, StatusAwaitingApproval)
		_, err := o.ReplaceItems(testItems(), "buyer", testNow)
		assert.True(t, errors.Is(err, ErrInvalidTransition))
		assert.Equal(t, 2, o.Version)
	})

	t.Run("invalid item leaves order untouched", func(t *testing.T) {
		o := persisted(newTestOrder(t))
		items := testItems()
		items[0].Quantity = decimal.Zero
		_, err := o.ReplaceItems(items, "buyer", testNow)
		assert.True(t, errors.Is(err, ErrValidation))
		assert.False(t, o.IsDirty())
		assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("150")))
	})
}

func TestOrder_Fire(t *testing.T) {
	t.Run("submit records audit and event", func(t *testing.T) {
		o := persisted(newTestOrder(t))
		audit, err := o.Fire(TransitionRequest{Trigger: TriggerSubmit, Actor: "buyer", Origin: OriginUser}, testNow)
		require.NoError(t, err)

		assert.Equal(t, StatusAwaitingApproval, o.Status)
		assert.NotNil(t, o.SubmittedAt)
		assert.Equal(t, "order.submit", audit.Event)
		assert.Equal(t, StatusDraft, audit.FromStatus)
		assert.Equal(t, StatusAwaitingApproval, audit.ToStatus)
		assert.Equal(t, AuditApplied, audit.Outcome)
		assert.Contains(t, audit.ChangedFields, "status")

		events := o.GetDomainEvents()
		require.Len(t, events, 1)
		changed, ok := events[0].(*OrderStatusChangedEvent)
		require.True(t, ok)
		assert.Equal(t, 2, changed.Version)
	})

	t.Run("cancel closes the order", func(t *testing.T) {
		o := orderIn(t, StatusApproved)
		_, err := o.Fire(TransitionRequest{Trigger: TriggerCancel, Actor: "buyer", Origin: OriginUser, Reason: "budget cut"}, testNow)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, o.Status)
		assert.Equal(t, "budget cut", o.CancelReason)
		assert.NotNil(t, o.ClosedAt)
	})

	t.Run("failed transition changes nothing", func(t *testing.T) {
		o := persisted(newTestOrder(t))
		_, err := o.Fire(TransitionRequest{Trigger: TriggerFinalize, Actor: "buyer", Origin: OriginUser}, testNow)
		require.Error(t, err)
		assert.Equal(t, StatusDraft, o.Status)
		assert.False(t, o.IsDirty())
		assert.Empty(t, o.GetDomainEvents())
	})
}

func TestOrder_Archive(t *testing.T) {
	o := orderIn(t, StatusSent)
	_, err := o.Archive("buyer", testNow)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	o = orderIn(t, StatusFinalized)
	audit, err := o.Archive("buyer", testNow)
	require.NoError(t, err)
	assert.NotNil(t, o.DeletedAt)
	assert.Equal(t, AuditOrderArchived, audit.Event)

	_, err = o.Archive("buyer", testNow)
	assert.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestOrder_AcceptChanges(t *testing.T) {
	o := orderIn(t, StatusSent)
	qty := decimal.NewFromInt(8)
	_, err := o.ApplySupplierResponse(&SupplierResponse{
		MessageID: "m-1",
		Payload:   ChangeRequestPayload{Items: []ItemAnswer{{ItemSequence: 1, Quantity: &qty}}, Reason: "stock"},
	}, testNow)
	require.NoError(t, err)
	require.Equal(t, StatusChangeRequested, o.Status)
	o.MarkPersisted()

	audit, err := o.AcceptChanges("buyer", testNow)
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, o.Status)
	assert.True(t, o.Items[0].Quantity.Equal(qty))
	assert.Nil(t, o.Items[0].ProposedQuantity)
	assert.Equal(t, ItemConfirmed, o.Items[0].ConfirmationStatus)
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("140")))
	assert.Equal(t, "140.00", audit.Details["total_after"])
}

func TestOrder_Dispatch(t *testing.T) {
	t.Run("single flight", func(t *testing.T) {
		o := orderIn(t, StatusApproved)
		require.NoError(t, o.BeginDispatch(false, testNow))
		assert.Equal(t, IntegrationSending, o.IntegrationStatus)
		assert.Equal(t, 1, o.DispatchAttempts)

		err := o.BeginDispatch(false, testNow)
		assert.True(t, errors.Is(err, ErrDispatchInProgress))
	})

	t.Run("restart resets the chain", func(t *testing.T) {
		o := orderIn(t, StatusApproved)
		require.NoError(t, o.BeginDispatch(false, testNow))
		o.DispatchFailed(true, testNow)
		assert.Equal(t, IntegrationExhausted, o.IntegrationStatus)
		assert.Equal(t, StatusApproved, o.Status)

		require.NoError(t, o.BeginDispatch(true, testNow))
		assert.Equal(t, 1, o.DispatchAttempts)
	})

	t.Run("only approved orders", func(t *testing.T) {
		o := orderIn(t, StatusDraft)
		assert.True(t, errors.Is(o.BeginDispatch(false, testNow), ErrInvalidTransition))
	})
}
