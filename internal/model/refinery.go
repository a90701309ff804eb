package model

import "time"

// Owner is a corporation owning refineries. Credential state and sync
// bookkeeping live here; the sync job writes them, the reconstructor only
// reads IsEnabled to decide whether an owner's events are processed at all.
type Owner struct {
	CorporationID int64  `gorm:"primaryKey"` // Upstream corporation ID
	Name          string `gorm:"size:256"`
	IsEnabled     bool   `gorm:"not null;default:true"`
	LastUpdateAt  *time.Time
	LastUpdateOk  *bool
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Associations
	Refineries []Refinery `gorm:"foreignKey:OwnerID"`
}

// Refinery is a moon-drilling structure. The moon link is nullable: a
// refinery can be seen in notifications before its moon is resolved.
type Refinery struct {
	ID        int64  `gorm:"primaryKey"` // Upstream structure ID
	Name      string `gorm:"size:256;index"`
	OwnerID   *int64 `gorm:"index"`
	MoonID    *int64 `gorm:"uniqueIndex"` // At most one refinery per moon
	CreatedAt time.Time
	UpdatedAt time.Time

	// Associations
	Owner *Owner `gorm:"constraint:OnDelete:CASCADE"`
	Moon  *Moon  `gorm:"constraint:OnDelete:SET NULL"`
}
