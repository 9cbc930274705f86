package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/erp/procurement/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupProcurementDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.ProcurementModels()...))
	return db
}

var testNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newTestOrder(t *testing.T, seq string) *procurement.Order {
	t.Helper()
	o, err := procurement.NewOrder(procurement.NewOrderInput{
		SequenceNumber: seq,
		SupplierRef:    "SUP-001",
		SupplierName:   "Acme Supplies",
		Type:           procurement.OrderTypeMaterial,
		Currency:       "EUR",
		CostCenter:     "CC-10",
		CreatedBy:      "buyer-1",
		Items: []procurement.ItemSpec{
			{Description: "Steel bolts", Quantity: decimal.NewFromInt(100), Unit: "pcs", UnitPrice: decimal.RequireFromString("0.25")},
			{Description: "Washers", Quantity: decimal.NewFromInt(200), Unit: "pcs", UnitPrice: decimal.RequireFromString("0.05")},
		},
	}, testNow)
	require.NoError(t, err)
	return o
}

// recordingSaver stands in for the outbox publisher and checks it receives the transaction
type recordingSaver struct {
	saved []shared.DomainEvent
}

func (s *recordingSaver) SaveEvents(_ context.Context, tx interface{}, events ...shared.DomainEvent) error {
	if _, ok := tx.(*gorm.DB); !ok {
		return shared.NewDomainError("BAD_TX", "expected *gorm.DB")
	}
	s.saved = append(s.saved, events...)
	return nil
}
