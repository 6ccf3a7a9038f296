package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

var ErrRecurringWithoutOrigin = errors.New("recurring payment attempt requires an origin attempt")

// PaymentAttemptHistory is the append-only trail of every state written for an attempt
type PaymentAttemptHistory struct {
	ID                uint          `gorm:"primaryKey" json:"id"`
	PaymentAttemptID  uint          `gorm:"index;not null" json:"payment_attempt_id"`
	TransactionID     string        `gorm:"type:varchar(100);index" json:"transaction_id"`
	FromStatus        PaymentStatus `gorm:"type:varchar(20)" json:"from_status,omitempty"`
	ToStatus          PaymentStatus `gorm:"type:varchar(20);not null" json:"to_status"`
	Scenario          Scenario      `gorm:"type:varchar(30)" json:"scenario,omitempty"`
	CurrentStep       string        `gorm:"type:varchar(50)" json:"current_step,omitempty"`
	CurrentStepStatus string        `gorm:"type:varchar(50)" json:"current_step_status,omitempty"`
	Note              string        `gorm:"type:varchar(255)" json:"note,omitempty"`

	Response  datatypes.JSONType[ProviderResponse] `gorm:"type:jsonb" json:"response"`
	CreatedAt time.Time                            `json:"created_at"`
}
