package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExtractionStatus is the lifecycle state of an extraction.
type ExtractionStatus string

const (
	StatusStarted   ExtractionStatus = "STARTED"
	StatusCanceled  ExtractionStatus = "CANCELED"
	StatusReady     ExtractionStatus = "READY"
	StatusCompleted ExtractionStatus = "COMPLETED"
	StatusFractured ExtractionStatus = "FRACTURED"
	StatusUndefined ExtractionStatus = "UNDEFINED"
)

// IsTerminal reports whether no further transition may leave the status.
func (s ExtractionStatus) IsTerminal() bool {
	switch s {
	case StatusCanceled, StatusCompleted, StatusFractured:
		return true
	}
	return false
}

// Extraction is one timed mining operation at a refinery. The pair
// (refinery_id, ready_time) is the functional primary key: the upstream can
// restart an identical window, but never two concurrent windows with the
// same ready time on the same structure.
type Extraction struct {
	ID         int64            `gorm:"primaryKey"`
	RefineryID int64            `gorm:"uniqueIndex:uq_extraction_key;not null"`
	ReadyTime  time.Time        `gorm:"uniqueIndex:uq_extraction_key;not null;index"`
	Status     ExtractionStatus `gorm:"size:16;not null;index"`
	AutoTime   time.Time

	StartedBy   *int64 // Upstream character IDs
	CanceledBy  *int64
	FracturedBy *int64
	CanceledAt  *time.Time
	FinishedAt  *time.Time

	Value     decimal.NullDecimal `gorm:"type:decimal(20,2)"` // Calculated value estimate, ISK
	IsJackpot *bool               // nil until products are known

	// Set once a jackpot alert has been pushed, to keep replays quiet.
	JackpotNotifiedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	// Associations
	Refinery Refinery            `gorm:"constraint:OnDelete:CASCADE"`
	Products []ExtractionProduct `gorm:"foreignKey:ExtractionID;constraint:OnDelete:CASCADE"`
}

// ExtractionProduct is the absolute ore volume of one type within an
// extraction's yield.
type ExtractionProduct struct {
	ID           int64   `gorm:"primaryKey"`
	ExtractionID int64   `gorm:"uniqueIndex:uq_extraction_ore;not null"`
	OreTypeID    int64   `gorm:"uniqueIndex:uq_extraction_ore;not null"`
	Volume       float64 `gorm:"not null"` // m³

	OreType OreType `gorm:"constraint:OnDelete:CASCADE"`
}
