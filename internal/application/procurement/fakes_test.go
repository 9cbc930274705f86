package procurement

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// memStore is an in-memory order store with the same commit rules as the
// gorm unit of work: version-checked order writes, a unique message index and
// outbox capture.
type memStore struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]*procurement.Order
	steps     map[uuid.UUID]*procurement.ApprovalStep
	attempts  map[uuid.UUID]*procurement.IntegrationAttempt
	responses map[string]*procurement.SupplierResponse
	audit     []*procurement.AuditEvent
	outbox    []shared.DomainEvent
	sequences map[string]int
	commits   int

	// interfere runs once inside the next commit, before the version check
	interfere func(m *memStore)
}

func newMemStore() *memStore {
	return &memStore{
		orders:    make(map[uuid.UUID]*procurement.Order),
		steps:     make(map[uuid.UUID]*procurement.ApprovalStep),
		attempts:  make(map[uuid.UUID]*procurement.IntegrationAttempt),
		responses: make(map[string]*procurement.SupplierResponse),
		sequences: make(map[string]int),
	}
}

func (m *memStore) store() Store {
	return Store{
		Orders:     memOrders{m},
		Steps:      memSteps{m},
		Attempts:   memAttempts{m},
		Responses:  memResponses{m},
		Ledger:     m,
		UnitOfWork: m,
	}
}

func cloneOrder(o *procurement.Order) *procurement.Order {
	c := *o
	c.Items = append([]procurement.OrderItem(nil), o.Items...)
	c.ClearDomainEvents()
	return &c
}

func responseKey(correlationID, messageID string) string {
	return correlationID + "|" + messageID
}

// bumpVersion simulates a concurrent writer on the stored order
func (m *memStore) bumpVersion(id uuid.UUID) {
	m.orders[id].Version++
}

func (m *memStore) Commit(ctx context.Context, cs *procurement.Changeset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if f := m.interfere; f != nil {
		m.interfere = nil
		f(m)
	}
	m.commits++

	o := cs.Order
	if o != nil {
		stored, exists := m.orders[o.ID]
		switch {
		case o.IsNew():
			if exists {
				return procurement.ErrConcurrencyConflict.With("order_id", o.ID.String())
			}
			for _, other := range m.orders {
				if other.SequenceNumber == o.SequenceNumber {
					return procurement.ErrConcurrencyConflict.With("sequence_number", o.SequenceNumber)
				}
			}
		case o.IsDirty():
			if !exists || stored.Version != o.LoadedVersion() {
				return procurement.ErrConcurrencyConflict.With("order_id", o.ID.String())
			}
		}
	}
	if r := cs.Response; r != nil {
		if _, dup := m.responses[responseKey(r.CorrelationID, r.MessageID)]; dup {
			return procurement.ErrDuplicateMessage.With("message_id", r.MessageID)
		}
	}

	if o != nil && o.IsDirty() {
		m.orders[o.ID] = cloneOrder(o)
	}
	for _, s := range cs.Steps {
		c := *s
		m.steps[s.ID] = &c
	}
	for _, a := range cs.Attempts {
		c := *a
		m.attempts[a.ID] = &c
	}
	if r := cs.Response; r != nil {
		c := *r
		m.responses[responseKey(r.CorrelationID, r.MessageID)] = &c
	}
	m.audit = append(m.audit, cs.Audit...)
	if o != nil {
		m.outbox = append(m.outbox, o.GetDomainEvents()...)
		o.MarkPersisted()
	}
	return nil
}

func (m *memStore) Record(_ context.Context, events ...*procurement.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, events...)
	return nil
}

func (m *memStore) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*procurement.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*procurement.AuditEvent
	for _, e := range m.audit {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

// auditRows returns the ledger rows of an order with the given event name
func (m *memStore) auditRows(orderID uuid.UUID, event string) []*procurement.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*procurement.AuditEvent
	for _, e := range m.audit {
		if e.OrderID == orderID && e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// eventsOfType returns the outbox events of the given type
func (m *memStore) eventsOfType(eventType string) []shared.DomainEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []shared.DomainEvent
	for _, e := range m.outbox {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// attemptsOf returns the attempts of an order oldest first
func (m *memStore) attemptsOf(orderID uuid.UUID) []*procurement.IntegrationAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*procurement.IntegrationAttempt
	for _, a := range m.attempts {
		if a.OrderID == orderID {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].AttemptNumber < out[j].AttemptNumber
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *memStore) order(id uuid.UUID) *procurement.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := cloneOrder(m.orders[id])
	o.MarkPersisted()
	return o
}

type memOrders struct{ m *memStore }

func (r memOrders) FindByID(_ context.Context, id uuid.UUID) (*procurement.Order, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	o, ok := r.m.orders[id]
	if !ok || o.DeletedAt != nil {
		return nil, procurement.ErrOrderNotFound.With("order_id", id.String())
	}
	c := cloneOrder(o)
	c.MarkPersisted()
	return c, nil
}

func (r memOrders) FindByCorrelationID(_ context.Context, correlationID string) (*procurement.Order, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, o := range r.m.orders {
		if o.CorrelationID == correlationID && o.DeletedAt == nil {
			c := cloneOrder(o)
			c.MarkPersisted()
			return c, nil
		}
	}
	return nil, procurement.ErrOrderNotFound.With("correlation_id", correlationID)
}

func (r memOrders) FindAll(_ context.Context, filter procurement.OrderFilter) ([]*procurement.Order, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var all []*procurement.Order
	for _, o := range r.m.orders {
		if o.DeletedAt != nil && !filter.IncludeArchived {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.SupplierRef != "" && o.SupplierRef != filter.SupplierRef {
			continue
		}
		if filter.CostCenter != "" && o.CostCenter != filter.CostCenter {
			continue
		}
		c := cloneOrder(o)
		c.MarkPersisted()
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].SequenceNumber < all[j].SequenceNumber })
	total := int64(len(all))
	start := filter.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + filter.Limit()
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (r memOrders) GenerateSequenceNumber(_ context.Context, now time.Time) (string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	day := now.UTC().Format("20060102")
	r.m.sequences[day]++
	return fmt.Sprintf("PO-%s-%06d", day, r.m.sequences[day]), nil
}

type memSteps struct{ m *memStore }

func (r memSteps) FindByID(_ context.Context, id uuid.UUID) (*procurement.ApprovalStep, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.steps[id]
	if !ok {
		return nil, procurement.ErrStepNotFound.With("step_id", id.String())
	}
	c := *s
	return &c, nil
}

func (r memSteps) FindByOrder(_ context.Context, orderID uuid.UUID) ([]*procurement.ApprovalStep, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*procurement.ApprovalStep
	for _, s := range r.m.steps {
		if s.OrderID == orderID {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].OriginalApprover < out[j].OriginalApprover
	})
	return out, nil
}

func (r memSteps) FindDueForExpiry(_ context.Context, now time.Time, limit int) ([]*procurement.ApprovalStep, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*procurement.ApprovalStep
	for _, s := range r.m.steps {
		if s.Status == procurement.StepPending && s.IsActive() && s.ExpiresAt != nil && !s.ExpiresAt.After(now) {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memAttempts struct{ m *memStore }

func (r memAttempts) FindByOrder(_ context.Context, orderID uuid.UUID) ([]*procurement.IntegrationAttempt, error) {
	return r.m.attemptsOf(orderID), nil
}

func (r memAttempts) FindInFlight(_ context.Context, orderID uuid.UUID) (*procurement.IntegrationAttempt, error) {
	for _, a := range r.m.attemptsOf(orderID) {
		if a.Status == procurement.AttemptSending {
			return a, nil
		}
	}
	return nil, nil
}

func (r memAttempts) LastAttemptNumber(_ context.Context, orderID uuid.UUID, op procurement.IntegrationOperation) (int, error) {
	last := 0
	for _, a := range r.m.attemptsOf(orderID) {
		if a.Operation == op && a.AttemptNumber > last {
			last = a.AttemptNumber
		}
	}
	return last, nil
}

func (r memAttempts) FindScheduledRetries(ctx context.Context) ([]*procurement.IntegrationAttempt, error) {
	r.m.mu.Lock()
	var waiting []uuid.UUID
	for id, o := range r.m.orders {
		if o.IntegrationStatus == procurement.IntegrationRetryScheduled {
			waiting = append(waiting, id)
		}
	}
	r.m.mu.Unlock()

	var out []*procurement.IntegrationAttempt
	for _, id := range waiting {
		var latest *procurement.IntegrationAttempt
		for _, a := range r.m.attemptsOf(id) {
			if a.Operation.IsDelivery() && a.Status == procurement.AttemptError {
				latest = a
			}
		}
		if latest != nil {
			out = append(out, latest)
		}
	}
	return out, nil
}

func (r memAttempts) FindStaleInFlight(_ context.Context, before time.Time) ([]*procurement.IntegrationAttempt, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*procurement.IntegrationAttempt
	for _, a := range r.m.attempts {
		if a.Status == procurement.AttemptSending && a.StartedAt != nil && a.StartedAt.Before(before) {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

type memResponses struct{ m *memStore }

func (r memResponses) FindByMessage(_ context.Context, correlationID, messageID string) (*procurement.SupplierResponse, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	resp, ok := r.m.responses[responseKey(correlationID, messageID)]
	if !ok {
		return nil, procurement.ErrResponseNotFound.With("message_id", messageID)
	}
	c := *resp
	return &c, nil
}

func (r memResponses) FindByOrder(_ context.Context, orderID uuid.UUID) ([]*procurement.SupplierResponse, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*procurement.SupplierResponse
	for _, resp := range r.m.responses {
		if resp.OrderID == orderID {
			c := *resp
			out = append(out, &c)
		}
	}
	return out, nil
}

// MockPortalGateway is a mock implementation of procurement.PortalGateway
type MockPortalGateway struct {
	mock.Mock
}

func (m *MockPortalGateway) Sign(snapshot procurement.OrderSnapshot) (*procurement.SignedMessage, error) {
	args := m.Called(snapshot)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*procurement.SignedMessage), args.Error(1)
}

func (m *MockPortalGateway) Send(ctx context.Context, msg *procurement.SignedMessage) (*procurement.PortalReceipt, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*procurement.PortalReceipt), args.Error(1)
}

// recordingScheduler keeps the latest schedule per order
type recordingScheduler struct {
	mu        sync.Mutex
	scheduled map[uuid.UUID]time.Time
	cancelled []uuid.UUID
}

func newRecordingScheduler() *recordingScheduler {
	return &recordingScheduler{scheduled: make(map[uuid.UUID]time.Time)}
}

func (s *recordingScheduler) Schedule(orderID uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled[orderID] = at
}

func (s *recordingScheduler) Cancel(orderID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scheduled, orderID)
	s.cancelled = append(s.cancelled, orderID)
}

func (s *recordingScheduler) at(orderID uuid.UUID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.scheduled[orderID]
	return at, ok
}

// stubVerifier accepts exactly one signature value
type stubVerifier struct {
	valid string
}

func (v stubVerifier) Verify(supplierRef, _ string, _ []byte, signature string) error {
	if signature != v.valid {
		return procurement.ErrInvalidSignature.With("supplier_ref", supplierRef)
	}
	return nil
}

// countingMetrics counts recorded measurements by name
type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{counts: make(map[string]int)}
}

func (c *countingMetrics) inc(key string) {
	c.mu.Lock()
	c.counts[key]++
	c.mu.Unlock()
}

func (c *countingMetrics) get(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

func (c *countingMetrics) RecordTransition(_ context.Context, trigger procurement.Trigger, to procurement.OrderStatus) {
	c.inc("transition:" + string(trigger) + ":" + string(to))
}

func (c *countingMetrics) RecordApprovalDecision(_ context.Context, decision string, _ int) {
	c.inc("decision:" + decision)
}

func (c *countingMetrics) RecordDispatchAttempt(_ context.Context, _ procurement.IntegrationOperation, status procurement.AttemptStatus, _ time.Duration) {
	c.inc("dispatch:" + string(status))
}

func (c *countingMetrics) RecordInboundRejected(_ context.Context, code string) {
	c.inc("inbound_rejected:" + code)
}

func (c *countingMetrics) RecordConflict(_ context.Context, operation string) {
	c.inc("conflict:" + operation)
}
