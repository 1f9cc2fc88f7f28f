package models

import (
	"gorm.io/gorm"
)

// User represents a marketplace account
type User struct {
	gorm.Model

	// Authentication fields
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`
	TokenVersion int    `gorm:"default:0" json:"-"`

	// Profile information
	Name     *string `json:"name,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Location string  `json:"location,omitempty"` // city, e.g. Addis Ababa

	// Account status
	IsActive bool `gorm:"default:true" json:"is_active"`

	// Relations
	Quota        *QuotaLedger         `gorm:"foreignKey:UserID" json:"quota,omitempty"`
	Listings     []Listing            `gorm:"foreignKey:UserID" json:"listings,omitempty"`
	Transactions []PaymentTransaction `gorm:"foreignKey:UserID" json:"transactions,omitempty"`
}

// DisplayName returns the profile name, falling back to the email address.
func (u *User) DisplayName() string {
	if u.Name != nil && *u.Name != "" {
		return *u.Name
	}
	return u.Email
}
