package handlers

import (
	"strings"
	"time"

	"reservo_app_echo/internal/models"
	"reservo_app_echo/internal/services"
)

// InitiatePaymentRequest is the JSON body of POST /api/payments
type InitiatePaymentRequest struct {
	BusinessID      uint               `json:"business_id"`
	AmountInCents   int64              `json:"amount_in_cents"`
	Currency        string             `json:"currency"`
	PayerEmail      string             `json:"payer_email"`
	PayerName       string             `json:"payer_name"`
	AcceptanceToken string             `json:"acceptance_token"`
	CardToken       string             `json:"card_token"`
	BrowserInfo     models.BrowserInfo `json:"browser_info"`
	SourceType      models.SourceType  `json:"source_type,omitempty"`
	SourceID        *uint              `json:"source_id,omitempty"`
	AutoRenew       bool               `json:"auto_renew"`
	DueDate         *time.Time         `json:"due_date,omitempty"`
}

func (r InitiatePaymentRequest) toCharge() services.ChargeRequest {
	return services.ChargeRequest{
		BusinessID:      r.BusinessID,
		AmountInCents:   r.AmountInCents,
		Currency:        strings.ToUpper(strings.TrimSpace(r.Currency)),
		PayerEmail:      strings.TrimSpace(r.PayerEmail),
		PayerName:       strings.TrimSpace(r.PayerName),
		AcceptanceToken: r.AcceptanceToken,
		CardToken:       r.CardToken,
		BrowserInfo:     r.BrowserInfo,
		SourceType:      r.SourceType,
		SourceID:        r.SourceID,
		AutoRenew:       r.AutoRenew,
		DueDate:         r.DueDate,
	}
}

// RecurringChargeRequest is the JSON body of POST /api/businesses/:business_id/recurring-charges
type RecurringChargeRequest struct {
	AmountInCents int64  `json:"amount_in_cents"`
	Currency      string `json:"currency,omitempty"`
}

// IssueReceiptRequest is the JSON body of POST /api/receipts
type IssueReceiptRequest struct {
	SourceType models.SourceType `json:"source_type"`
	SourceID   uint              `json:"source_id"`
}

// CancelReceiptRequest is the JSON body of POST /api/receipts/:id/cancel
type CancelReceiptRequest struct {
	Reason string `json:"reason"`
}
