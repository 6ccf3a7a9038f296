package models

import (
	"time"
)

type ReceiptStatus string

const (
	ReceiptStatusActive    ReceiptStatus = "ACTIVE"
	ReceiptStatusCancelled ReceiptStatus = "CANCELLED"
	ReceiptStatusRefunded  ReceiptStatus = "REFUNDED"
)

type DeliveryChannel string

const (
	DeliveryChannelEmail    DeliveryChannel = "email"
	DeliveryChannelWhatsapp DeliveryChannel = "whatsapp"
)

// Receipt is an issued document. Names and amounts are a snapshot taken at issuance.
// At most one ACTIVE receipt exists per source, enforced by a partial unique index.
type Receipt struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	BusinessID     uint   `gorm:"<-:create;not null;uniqueIndex:idx_receipts_business_number,priority:1;uniqueIndex:idx_receipts_business_sequence,priority:1" json:"business_id"`
	SequenceYear   int    `gorm:"<-:create;not null;uniqueIndex:idx_receipts_business_sequence,priority:2" json:"sequence_year"`
	SequenceNumber int64  `gorm:"<-:create;not null;uniqueIndex:idx_receipts_business_sequence,priority:3" json:"sequence_number"`
	ReceiptNumber  string `gorm:"<-:create;type:varchar(100);not null;uniqueIndex:idx_receipts_business_number,priority:2" json:"receipt_number"`

	SourceType       SourceType `gorm:"<-:create;type:varchar(30);not null;uniqueIndex:idx_receipts_active_source,priority:1,where:status = 'ACTIVE'" json:"source_type"`
	SourceID         uint       `gorm:"<-:create;not null;uniqueIndex:idx_receipts_active_source,priority:2,where:status = 'ACTIVE'" json:"source_id"`
	PaymentAttemptID *uint      `gorm:"index" json:"payment_attempt_id,omitempty"`

	Currency string `gorm:"type:varchar(3)" json:"currency"`
	Subtotal int64  `json:"subtotal"`
	Discount int64  `json:"discount"`
	Tax      int64  `json:"tax"`
	Tip      int64  `json:"tip"`
	Total    int64  `json:"total"`

	PayerName     string    `gorm:"type:varchar(255)" json:"payer_name"`
	PayerEmail    string    `gorm:"type:varchar(255)" json:"payer_email"`
	PayerPhone    string    `gorm:"type:varchar(50)" json:"payer_phone"`
	PerformerName string    `gorm:"type:varchar(255)" json:"performer_name"`
	Description   string    `gorm:"type:varchar(255)" json:"description"`
	IssuedAt      time.Time `json:"issued_at"`

	Status       ReceiptStatus `gorm:"type:varchar(20);not null;default:'ACTIVE'" json:"status"`
	CancelledAt  *time.Time    `json:"cancelled_at,omitempty"`
	CancelReason string        `gorm:"type:varchar(255)" json:"cancel_reason,omitempty"`

	SentViaEmailAt    *time.Time `json:"sent_via_email_at,omitempty"`
	SentViaWhatsappAt *time.Time `json:"sent_via_whatsapp_at,omitempty"`
}
