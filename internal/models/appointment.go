package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	SourcePaymentStatusPending = "pending"
	SourcePaymentStatusPaid    = "paid"
)

// Appointment is a booked service. Only the fields receipts need are mapped here.
type Appointment struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	BusinessID    uint      `gorm:"index;not null" json:"business_id"`
	CustomerName  string    `gorm:"type:varchar(255)" json:"customer_name"`
	CustomerEmail string    `gorm:"type:varchar(255)" json:"customer_email"`
	CustomerPhone string    `gorm:"type:varchar(50)" json:"customer_phone"`
	StaffName     string    `gorm:"type:varchar(255)" json:"staff_name"`
	ServiceName   string    `gorm:"type:varchar(255)" json:"service_name"`
	ScheduledAt   time.Time `json:"scheduled_at"`

	Price          int64           `json:"price"`
	DiscountAmount int64           `json:"discount_amount"`
	TipAmount      int64           `json:"tip_amount"`
	TaxRate        decimal.Decimal `gorm:"type:decimal(5,2);default:0" json:"tax_rate"`

	PaymentStatus    string `gorm:"type:varchar(20);default:'pending'" json:"payment_status"`
	PaymentAttemptID *uint  `json:"payment_attempt_id,omitempty"`
}

func (a Appointment) IsFullyPaid() bool {
	return a.PaymentStatus == SourcePaymentStatusPaid
}
