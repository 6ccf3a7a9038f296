package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Sale is a point-of-sale transaction
type Sale struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	BusinessID    uint   `gorm:"index;not null" json:"business_id"`
	CustomerName  string `gorm:"type:varchar(255)" json:"customer_name"`
	CustomerEmail string `gorm:"type:varchar(255)" json:"customer_email"`
	CustomerPhone string `gorm:"type:varchar(50)" json:"customer_phone"`
	SellerName    string `gorm:"type:varchar(255)" json:"seller_name"`
	Description   string `gorm:"type:varchar(255)" json:"description"`

	Subtotal       int64           `json:"subtotal"`
	DiscountAmount int64           `json:"discount_amount"`
	TaxRate        decimal.Decimal `gorm:"type:decimal(5,2);default:0" json:"tax_rate"`
	PaidAmount     int64           `json:"paid_amount"`

	PaymentAttemptID *uint `json:"payment_attempt_id,omitempty"`
}

// Total is subtotal less discount plus tax, rounded half away from zero to minor units
func (s Sale) Total() int64 {
	taxable := s.Subtotal - s.DiscountAmount
	tax := decimal.NewFromInt(taxable).Mul(s.TaxRate).Div(decimal.NewFromInt(100)).Round(0).IntPart()
	return taxable + tax
}

func (s Sale) IsFullyPaid() bool {
	return s.PaidAmount >= s.Total()
}
