package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/erp/procurement/internal/infrastructure/cache"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type processorFixture struct {
	repo      *GormOutboxRepository
	bus       *InMemoryEventBus
	clock     *shared.ManualClock
	processor *OutboxProcessor
	publisher *OutboxPublisher
}

func newProcessorFixture(t *testing.T) *processorFixture {
	db := setupOutboxDB(t)
	serializer := NewEventSerializer()
	RegisterProcurementEvents(serializer)
	repo := NewGormOutboxRepository(db)
	bus := NewInMemoryEventBus(zap.NewNop())
	clock := shared.NewManualClock(time.Now())
	return &processorFixture{
		repo:      repo,
		bus:       bus,
		clock:     clock,
		processor: NewOutboxProcessor(repo, bus, serializer, DefaultOutboxProcessorConfig(), clock, zap.NewNop()),
		publisher: NewOutboxPublisher(serializer, 3),
	}
}

func (f *processorFixture) enqueue(t *testing.T, events ...shared.DomainEvent) {
	require.NoError(t, f.publisher.PublishWithTx(context.Background(), f.repo.db, events...))
}

func (f *processorFixture) counts(t *testing.T) map[shared.OutboxStatus]int64 {
	counts, err := f.repo.CountByStatus(context.Background())
	require.NoError(t, err)
	return counts
}

func TestOutboxProcessor_DeliversPendingEntries(t *testing.T) {
	f := newProcessorFixture(t)
	h := newTestHandler("activity", procurement.EventTypeOrderStatusChanged)
	f.bus.Subscribe(h)
	f.enqueue(t, newStatusChangedEvent(uuid.New(), procurement.StatusApproved), newStatusChangedEvent(uuid.New(), procurement.StatusSent))

	handled := f.processor.ProcessOnce(context.Background())

	assert.Equal(t, 2, handled)
	assert.Equal(t, 2, h.count())
	assert.Equal(t, int64(2), f.counts(t)[shared.OutboxStatusSent])

	delivered := h.handled[0].(*procurement.OrderStatusChangedEvent)
	assert.Equal(t, procurement.TriggerApprove, delivered.Trigger)
}

func TestOutboxProcessor_RetriesOnlyFailedHandlers(t *testing.T) {
	f := newProcessorFixture(t)
	store := cache.NewInMemoryIdempotencyStore(nil, 0)
	defer store.Close()

	activity := newTestHandler("activity", procurement.EventTypeOrderStatusChanged)
	alerts := newTestHandler("alerts", procurement.EventTypeOrderStatusChanged)
	alerts.setError(errors.New("pager unavailable"))
	for _, h := range WrapHandlersWithIdempotency([]shared.EventHandler{activity, alerts}, store, zap.NewNop()) {
		f.bus.Subscribe(h)
	}
	f.enqueue(t, newStatusChangedEvent(uuid.New(), procurement.StatusApproved))

	f.processor.ProcessOnce(context.Background())
	assert.Equal(t, int64(1), f.counts(t)[shared.OutboxStatusFailed])

	alerts.setError(nil)
	f.clock.Advance(time.Hour)
	f.processor.ProcessOnce(context.Background())

	assert.Equal(t, int64(1), f.counts(t)[shared.OutboxStatusSent])
	assert.Equal(t, 1, activity.count(), "succeeded handler is not rerun")
	assert.Equal(t, 2, alerts.count())
}

func TestOutboxProcessor_DeadLettersAfterMaxRetries(t *testing.T) {
	f := newProcessorFixture(t)
	h := newTestHandler("alerts", procurement.EventTypeOrderStatusChanged)
	h.setError(errors.New("permanent failure"))
	f.bus.Subscribe(h)
	f.enqueue(t, newStatusChangedEvent(uuid.New(), procurement.StatusApproved))

	for i := 0; i < 3; i++ {
		f.processor.ProcessOnce(context.Background())
		f.clock.Advance(time.Hour)
	}

	dead, total, err := f.repo.FindDead(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, 3, dead[0].RetryCount)
	assert.Contains(t, dead[0].LastError, "permanent failure")
}

func TestOutboxProcessor_UndecodableEntryFails(t *testing.T) {
	f := newProcessorFixture(t)
	entry := shared.NewOutboxEntry(newStatusChangedEvent(uuid.New(), procurement.StatusApproved), []byte(`{"to_status":`))
	require.NoError(t, f.repo.Save(context.Background(), entry))

	f.processor.ProcessOnce(context.Background())

	stored, err := f.repo.FindByID(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.OutboxStatusFailed, stored.Status)
	assert.Contains(t, stored.LastError, "failed to unmarshal")
}

func TestOutboxProcessor_Cleanup(t *testing.T) {
	f := newProcessorFixture(t)
	f.bus.Subscribe(newTestHandler("activity"))
	f.enqueue(t, newStatusChangedEvent(uuid.New(), procurement.StatusApproved))
	f.processor.ProcessOnce(context.Background())

	assert.Zero(t, f.processor.Cleanup(context.Background()))

	f.clock.Advance(8 * 24 * time.Hour)
	assert.Equal(t, int64(1), f.processor.Cleanup(context.Background()))
}

func TestOutboxProcessor_StartStop(t *testing.T) {
	f := newProcessorFixture(t)
	f.processor.config.PollInterval = 10 * time.Millisecond
	h := newTestHandler("activity")
	f.bus.Subscribe(h)
	f.enqueue(t, newStatusChangedEvent(uuid.New(), procurement.StatusApproved))

	require.NoError(t, f.processor.Start(context.Background()))
	assert.Eventually(t, func() bool { return h.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, f.processor.Stop(ctx))
}
