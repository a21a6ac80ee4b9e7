package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Category groups items for browsing and reporting
type Category struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Item is an inventory good that requests draw stock from
type Item struct {
	ID              uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ItemNo          *string         `gorm:"type:varchar(100);uniqueIndex" json:"item_no"` // unique when present
	Name            string          `gorm:"type:varchar(255);not null" json:"name"`
	Description     string          `gorm:"type:text" json:"description"`
	CategoryID      *uuid.UUID      `gorm:"type:uuid;index" json:"category_id"`
	Category        *Category       `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	QuantityOnHand  int             `gorm:"type:int;default:0;not null" json:"quantity_on_hand"`
	ReorderLevel    int             `gorm:"type:int;default:0" json:"reorder_level"`
	ReorderQuantity int             `gorm:"type:int;default:0" json:"reorder_quantity"`
	Unit            string          `gorm:"type:varchar(50)" json:"unit"` // piece, box, ream...
	UnitCost        decimal.Decimal `gorm:"type:decimal(12,2);default:0" json:"unit_cost"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	DeletedAt       gorm.DeletedAt  `gorm:"index" json:"-"`
}

// LowOnStock reports whether quantity on hand has fallen to the reorder level
func (i *Item) LowOnStock() bool {
	return i.QuantityOnHand <= i.ReorderLevel
}

// MovementType values for the stock ledger
const (
	MovementIn     = "IN"
	MovementOut    = "OUT"
	MovementAdjust = "ADJUST"
)

// StockMovement records every stock change as an append-only ledger row
type StockMovement struct {
	ID              uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ItemID          uuid.UUID  `gorm:"type:uuid;not null;index" json:"item_id"`
	RequestID       *uuid.UUID `gorm:"type:uuid;index" json:"request_id"` // nil for manual adjustments
	MovementType    string     `gorm:"type:varchar(10);not null" json:"movement_type"`
	QuantityChanged int        `gorm:"type:int;not null" json:"quantity_changed"`
	StockAfter      int        `gorm:"type:int;not null" json:"stock_after"`
	Note            string     `gorm:"type:text" json:"note"`
	CreatedAt       time.Time  `json:"created_at"`
}
