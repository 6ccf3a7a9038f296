package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reservo_app_echo/internal/middleware"
	"reservo_app_echo/internal/models"
	"reservo_app_echo/internal/services"
)

type stubPayments struct {
	charge  services.ChargeRequest
	refresh string
	result  *services.PaymentResult
	err     error
}

func (s *stubPayments) Initiate(ctx context.Context, req services.ChargeRequest) (*services.PaymentResult, error) {
	s.charge = req
	return s.result, s.err
}

func (s *stubPayments) RefreshStatus(ctx context.Context, transactionID string) (*services.PaymentResult, error) {
	s.refresh = transactionID
	return s.result, s.err
}

type stubRecurring struct {
	businessID uint
	amount     int64
	currency   string
	err        error
}

func (s *stubRecurring) ChargeRecurring(ctx context.Context, businessID uint, amountInCents int64, currency string) (*services.RecurringChargeResult, error) {
	s.businessID, s.amount, s.currency = businessID, amountInCents, currency
	if s.err != nil {
		return nil, s.err
	}
	return &services.RecurringChargeResult{PaymentID: 2, TransactionID: "t-rec", Status: models.PaymentStatusDeclined, OriginAttemptID: 1}, nil
}

type stubReceipts struct {
	sourceType models.SourceType
	sourceID   uint
	reason     string
	err        error
}

func (s *stubReceipts) IssueReceipt(ctx context.Context, sourceType models.SourceType, sourceID uint) (*models.Receipt, error) {
	s.sourceType, s.sourceID = sourceType, sourceID
	if s.err != nil {
		return nil, s.err
	}
	return &models.Receipt{ID: 1, ReceiptNumber: "REC-000001", SourceType: sourceType, SourceID: sourceID, Status: models.ReceiptStatusActive}, nil
}

func (s *stubReceipts) Cancel(ctx context.Context, receiptID uint, reason string) (*models.Receipt, error) {
	s.reason = reason
	if s.err != nil {
		return nil, s.err
	}
	return &models.Receipt{ID: receiptID, Status: models.ReceiptStatusCancelled, CancelReason: reason}, nil
}

func newTestServer(p *stubPayments, r *stubRecurring, rc *stubReceipts) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = middleware.CustomErrorHandler(zap.NewNop())

	ph := NewPaymentHandler(p, r)
	rh := NewReceiptHandler(rc)
	e.GET("/healthz", Healthz)
	e.POST("/api/payments", ph.InitiatePayment)
	e.POST("/api/payments/:transaction_id/refresh", ph.RefreshStatus)
	e.POST("/api/businesses/:business_id/recurring-charges", ph.ChargeRecurring)
	e.POST("/api/receipts", rh.IssueReceipt)
	e.POST("/api/receipts/:id/cancel", rh.CancelReceipt)
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestInitiatePaymentHandler(t *testing.T) {
	payments := &stubPayments{result: &services.PaymentResult{
		PaymentID: 1, TransactionID: "12-abc", Status: models.PaymentStatusStepUpPending,
		Scenario: models.ScenarioChallengeRequired, RequiresAction: true, ChallengeContent: "<form></form>",
	}}
	e := newTestServer(payments, &stubRecurring{}, &stubReceipts{})

	rec := do(e, http.MethodPost, "/api/payments", `{
		"business_id": 4, "amount_in_cents": 150000, "currency": " cop ", "payer_email": "a@b.co",
		"card_token": "tok_1", "acceptance_token": "acc", "browser_info": {"browser_tz": "300"},
		"source_type": "appointment", "source_id": 9
	}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "COP", payments.charge.Currency)
	assert.Equal(t, "300", payments.charge.BrowserInfo.TimeZone)
	require.NotNil(t, payments.charge.SourceID)
	assert.Equal(t, uint(9), *payments.charge.SourceID)

	var body services.PaymentResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.RequiresAction)
	assert.Equal(t, "<form></form>", body.ChallengeContent)
}

func TestInitiatePaymentHandlerErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"malformed json", `{"business_id":`, nil, http.StatusBadRequest},
		{"validation", `{}`, &services.ValidationError{Fields: []services.FieldError{{Field: "card_token", Message: "is required"}}}, http.StatusBadRequest},
		{"gateway", `{}`, &services.GatewayError{Op: "create_transaction", StatusCode: 503}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestServer(&stubPayments{err: tt.err}, &stubRecurring{}, &stubReceipts{})
			rec := do(e, http.MethodPost, "/api/payments", tt.body)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestRefreshStatusHandler(t *testing.T) {
	payments := &stubPayments{result: &services.PaymentResult{TransactionID: "12-abc", Status: models.PaymentStatusCompleted}}
	e := newTestServer(payments, &stubRecurring{}, &stubReceipts{})

	rec := do(e, http.MethodPost, "/api/payments/12-abc/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12-abc", payments.refresh)

	payments.err = services.ErrPaymentNotFound
	rec = do(e, http.MethodPost, "/api/payments/nope/refresh", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChargeRecurringHandler(t *testing.T) {
	recurring := &stubRecurring{}
	e := newTestServer(&stubPayments{}, recurring, &stubReceipts{})

	rec := do(e, http.MethodPost, "/api/businesses/7/recurring-charges", `{"amount_in_cents": 49900, "currency": "cop"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, uint(7), recurring.businessID)
	assert.Equal(t, "COP", recurring.currency)
	assert.Contains(t, rec.Body.String(), `"status":"DECLINED"`)

	rec = do(e, http.MethodPost, "/api/businesses/abc/recurring-charges", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	recurring.err = services.ErrNoInstrumentOnFile
	rec = do(e, http.MethodPost, "/api/businesses/7/recurring-charges", `{"amount_in_cents": 100}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReceiptHandlers(t *testing.T) {
	receipts := &stubReceipts{}
	e := newTestServer(&stubPayments{}, &stubRecurring{}, receipts)

	rec := do(e, http.MethodPost, "/api/receipts", `{"source_type": "sale", "source_id": 3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.SourceTypeSale, receipts.sourceType)
	assert.Contains(t, rec.Body.String(), `"receipt_number":"REC-000001"`)

	rec = do(e, http.MethodPost, "/api/receipts", `{"source_type": "sale"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPost, "/api/receipts/1/cancel", `{"reason": "duplicate"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate", receipts.reason)

	receipts.err = services.ErrSourceNotFullyPaid
	rec = do(e, http.MethodPost, "/api/receipts", `{"source_type": "appointment", "source_id": 3}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	receipts.err = services.ErrReceiptNotActive
	rec = do(e, http.MethodPost, "/api/receipts/1/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthz(t *testing.T) {
	e := newTestServer(&stubPayments{}, &stubRecurring{}, &stubReceipts{})
	rec := do(e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
