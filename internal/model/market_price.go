package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketPrice is the latest known average market price of a type. Rows are
// replaced wholesale at the start of each sync cycle.
type MarketPrice struct {
	TypeID       int64           `gorm:"primaryKey"` // Upstream type ID
	AveragePrice decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	UpdatedAt    time.Time
}
