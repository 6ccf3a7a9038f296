package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	TokenYear   = "{YEAR}"
	TokenPrefix = "{PREFIX}"
	TokenNumber = "{NUMBER}"

	DefaultReceiptTemplate  = "{PREFIX}-{NUMBER}"
	DefaultReceiptPadLength = 6
)

// ReceiptNumbering is the tenant-owned configuration for receipt numbers.
// LastIssuedNumber is an advisory high-water mark; the stored receipts are the source of truth.
type ReceiptNumbering struct {
	Prefix           string `gorm:"type:varchar(20);default:'REC'" json:"prefix"`
	Template         string `gorm:"type:varchar(100)" json:"template"`
	PadLength        int    `gorm:"default:6" json:"pad_length"`
	ResetYearly      bool   `gorm:"default:false" json:"reset_yearly"`
	InitialNumber    int64  `gorm:"default:0" json:"initial_number"`
	LastIssuedNumber int64  `gorm:"default:0" json:"last_issued_number"`
}

// EffectiveTemplate falls back to the default template when none is configured
func (n ReceiptNumbering) EffectiveTemplate() string {
	if n.Template == "" {
		return DefaultReceiptTemplate
	}
	return n.Template
}

// EffectivePadLength falls back to the default width when none is configured
func (n ReceiptNumbering) EffectivePadLength() int {
	if n.PadLength <= 0 {
		return DefaultReceiptPadLength
	}
	return n.PadLength
}

// Business is the tenant
type Business struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Name     string `gorm:"type:varchar(255)" json:"name"`
	Email    string `gorm:"type:varchar(255)" json:"email"`
	Phone    string `gorm:"type:varchar(50)" json:"phone"`
	Currency string `gorm:"type:varchar(3);default:'COP'" json:"currency"`
	Timezone string `gorm:"type:varchar(64);default:'UTC'" json:"timezone"`

	ReceiptNumbering ReceiptNumbering `gorm:"embedded;embeddedPrefix:receipt_" json:"receipt_numbering"`
}

// Location returns the business time zone, UTC when unset or invalid
func (b Business) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
