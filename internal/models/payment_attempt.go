package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentStatus is the internal lifecycle state of a payment attempt
type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "PENDING"
	PaymentStatusStepUpPending PaymentStatus = "STEP_UP_PENDING"
	PaymentStatusCompleted     PaymentStatus = "COMPLETED"
	PaymentStatusDeclined      PaymentStatus = "DECLINED"
	PaymentStatusError         PaymentStatus = "ERROR"
	PaymentStatusCancelled     PaymentStatus = "CANCELLED"
)

// IsTerminal reports whether no further status change is accepted
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusDeclined, PaymentStatusError, PaymentStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo enforces that terminal states never move again.
// Non-terminal states may move freely among themselves or into the terminal set.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if s == next {
		return true
	}
	return !s.IsTerminal()
}

// Scenario is the classifier's reading of the 3-D Secure sub-state of a gateway response
type Scenario string

const (
	ScenarioNo3DS              Scenario = "no_3ds"
	ScenarioNoChallengeSuccess Scenario = "no_challenge_success"
	ScenarioChallengeDenied    Scenario = "challenge_denied"
	ScenarioChallengeRequired  Scenario = "challenge_required"
	ScenarioChallengeCompleted Scenario = "challenge_completed"
	ScenarioVersionError       Scenario = "version_error"
	ScenarioAuthError          Scenario = "auth_error"
	ScenarioUnknown            Scenario = "unknown"
)

// SourceType names what a payment or receipt is for
type SourceType string

const (
	SourceTypeAppointment        SourceType = "appointment"
	SourceTypeSale               SourceType = "sale"
	SourceTypeSubscriptionCharge SourceType = "subscription_charge"
)

// BrowserInfo is the device fingerprint the gateway requires for 3-D Secure
type BrowserInfo struct {
	ColorDepth   string `json:"browser_color_depth"`
	ScreenHeight string `json:"browser_screen_height"`
	ScreenWidth  string `json:"browser_screen_width"`
	Language     string `json:"browser_language"`
	UserAgent    string `json:"browser_user_agent"`
	TimeZone     string `json:"browser_tz"`
}

// ThreeDSData is the last authentication sub-state reported by the gateway
type ThreeDSData struct {
	AuthType          string `json:"auth_type,omitempty"`
	CurrentStep       string `json:"current_step,omitempty"`
	CurrentStepStatus string `json:"current_step_status,omitempty"`
	// ChallengeContent is kept escaped exactly as the gateway sent it
	ChallengeContent string `json:"challenge_content,omitempty"`
}

// ProviderResponse keeps the gateway answer for audit and replay
type ProviderResponse struct {
	TransactionID string          `json:"transaction_id"`
	Status        string          `json:"status"`
	StatusMessage string          `json:"status_message,omitempty"`
	ReceivedAt    time.Time       `json:"received_at"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// PaymentAttempt is one charge sent to the gateway. Rows are never deleted.
type PaymentAttempt struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	BusinessID uint       `gorm:"<-:create;index;not null" json:"business_id"`
	SourceType SourceType `gorm:"type:varchar(30);index:idx_payment_attempts_source,priority:1" json:"source_type,omitempty"`
	SourceID   *uint      `gorm:"index:idx_payment_attempts_source,priority:2" json:"source_id,omitempty"`

	Reference     string `gorm:"<-:create;type:varchar(100);uniqueIndex;not null" json:"reference"`
	TransactionID string `gorm:"<-:create;type:varchar(100);uniqueIndex;not null" json:"transaction_id"`

	AmountInCents int64  `gorm:"not null" json:"amount_in_cents"`
	Currency      string `gorm:"type:varchar(3);not null" json:"currency"`
	PayerEmail    string `gorm:"type:varchar(255)" json:"payer_email"`
	PayerName     string `gorm:"type:varchar(255)" json:"payer_name"`

	Status            PaymentStatus `gorm:"type:varchar(20);index;not null" json:"status"`
	Scenario          Scenario      `gorm:"type:varchar(30)" json:"scenario,omitempty"`
	CurrentStep       string        `gorm:"type:varchar(50)" json:"current_step,omitempty"`
	CurrentStepStatus string        `gorm:"type:varchar(50)" json:"current_step_status,omitempty"`

	// PaymentSourceID is the gateway's opaque reusable instrument reference
	PaymentSourceID *string `gorm:"type:varchar(100)" json:"payment_source_id,omitempty"`
	AutoRenew       bool    `gorm:"default:false" json:"auto_renew"`
	Recurring       bool    `gorm:"default:false;index" json:"recurring"`
	OriginAttemptID *uint   `gorm:"index" json:"origin_attempt_id,omitempty"`

	DueDate *time.Time `json:"due_date,omitempty"`
	PaidAt  *time.Time `json:"paid_at,omitempty"`

	BrowserInfo      datatypes.JSONType[BrowserInfo]      `gorm:"type:jsonb" json:"browser_info"`
	ThreeDS          datatypes.JSONType[ThreeDSData]      `gorm:"column:three_ds;type:jsonb" json:"three_ds"`
	ProviderResponse datatypes.JSONType[ProviderResponse] `gorm:"type:jsonb" json:"provider_response"`

	Histories []PaymentAttemptHistory `gorm:"foreignKey:PaymentAttemptID" json:"histories,omitempty"`
}

// HasUsableInstrument reports whether the attempt can seed a recurring charge
func (p PaymentAttempt) HasUsableInstrument() bool {
	return p.Status == PaymentStatusCompleted && !p.Recurring && p.PaymentSourceID != nil && *p.PaymentSourceID != ""
}

// BeforeCreate rejects recurring rows that do not point back at their origin
func (p *PaymentAttempt) BeforeCreate(tx *gorm.DB) error {
	if p.Recurring && p.OriginAttemptID == nil {
		return ErrRecurringWithoutOrigin
	}
	return nil
}
