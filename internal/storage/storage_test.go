package storage

import (
	"testing"

	"shuq/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SQLiteMemoryMigrates(t *testing.T) {
	db, err := Open(DriverSQLite, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	assert.True(t, db.Migrator().HasTable(&model.Product{}))
	assert.True(t, db.Migrator().HasTable(&model.OfferAttempt{}))

	p := model.Product{SKU: "SKU-1", Name: "Lamp", Price: decimal.NewFromInt(100), MaxDiscountPercentage: 10}
	require.NoError(t, db.Create(&p).Error)

	var got model.Product
	require.NoError(t, db.Where("sku = ?", "SKU-1").First(&got).Error)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(100)))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("mysql", "whatever", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported db driver")
}
