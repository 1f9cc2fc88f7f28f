package models

import "gorm.io/gorm"

// Listing modes
const (
	ListingModeSell = "sell"
	ListingModeSwap = "swap"
)

// Listing statuses
const (
	ListingStatusActive = "active"
	ListingStatusClosed = "closed"
)

// Listing is a marketplace post for a secondhand item.
type Listing struct {
	gorm.Model
	UserID      uint   `gorm:"not null;index" json:"user_id"`
	Title       string `gorm:"not null;size:120" json:"title"`
	Description string `gorm:"type:text" json:"description"`
	Category    string `gorm:"not null;index" json:"category"` // electronics, furniture, vehicles, ...
	Condition   string `json:"condition"`                      // new, like_new, used
	Price       int    `gorm:"default:0" json:"price"`          // ETB, zero for swaps
	Mode        string `gorm:"not null;default:'sell'" json:"mode"`
	SwapFor     string `json:"swap_for,omitempty"`
	Location    string `json:"location"`
	Status      string `gorm:"not null;default:'active';index" json:"status"`

	User User `json:"-"`
}
