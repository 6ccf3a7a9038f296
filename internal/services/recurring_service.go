package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"reservo_app_echo/internal/models"
)

// RecurringChargeResult is returned by ChargeRecurring
type RecurringChargeResult struct {
	PaymentID       uint                 `json:"payment_id"`
	TransactionID   string               `json:"transaction_id"`
	Status          models.PaymentStatus `json:"status"`
	OriginAttemptID uint                 `json:"origin_attempt_id"`
}

// RecurringService charges a stored instrument with no cardholder present
type RecurringService struct {
	gateway   Gateway
	ledger    PaymentLedger
	locker    RenewalLocker
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewRecurringService builds the processor. locker may be nil when Redis is not configured.
func NewRecurringService(gateway Gateway, ledger PaymentLedger, locker RenewalLocker, publisher Publisher, logger *zap.Logger) *RecurringService {
	return &RecurringService{
		gateway:   gateway,
		ledger:    ledger,
		locker:    locker,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// ChargeRecurring bills businessID against its most recent renewable instrument.
// currency falls back to the origin attempt's currency when empty.
func (s *RecurringService) ChargeRecurring(ctx context.Context, businessID uint, amountInCents int64, currency string) (*RecurringChargeResult, error) {
	verr := &ValidationError{}
	if businessID == 0 {
		verr.add("business_id", "is required")
	}
	if amountInCents <= 0 {
		verr.add("amount_in_cents", "must be greater than zero")
	}
	if currency != "" && len(strings.TrimSpace(currency)) != 3 {
		verr.add("currency", "must be a 3-letter ISO code")
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, businessID)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	origin, err := s.ledger.LatestRenewableSource(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up payment instrument: %w", err)
	}
	if origin == nil || !origin.HasUsableInstrument() {
		return nil, ErrNoInstrumentOnFile
	}

	acceptanceToken, err := s.gateway.AcceptanceToken(ctx)
	if err != nil {
		return nil, err
	}

	if currency == "" {
		currency = origin.Currency
	}
	currency = strings.ToUpper(currency)

	reference := "rec_" + uuid.NewString()
	tx, err := s.gateway.CreateRecurringTransaction(ctx, RecurringTransactionRequest{
		AmountInCents:   amountInCents,
		Currency:        currency,
		CustomerEmail:   origin.PayerEmail,
		AcceptanceToken: acceptanceToken,
		Reference:       reference,
		PaymentSourceID: *origin.PaymentSourceID,
	})
	if err != nil {
		s.logger.Warn("recurring charge failed", zap.Uint("business_id", businessID), zap.Uint("origin_attempt_id", origin.ID), zap.Error(err))
		return nil, err
	}

	scenario := ClassifyScenario(tx)
	status := resolveStatus(scenario, tx.Status)
	now := s.now()

	originID := origin.ID
	sourceID := *origin.PaymentSourceID
	attempt := &models.PaymentAttempt{
		BusinessID:      businessID,
		SourceType:      models.SourceTypeSubscriptionCharge,
		Reference:       reference,
		TransactionID:   tx.ID,
		AmountInCents:   amountInCents,
		Currency:        currency,
		PayerEmail:      origin.PayerEmail,
		PayerName:       origin.PayerName,
		Status:          status,
		Scenario:        scenario,
		PaymentSourceID: &sourceID,
		Recurring:       true,
		OriginAttemptID: &originID,
		DueDate:         &now,
		ThreeDS:         datatypes.NewJSONType(threeDSData(tx)),
	}
	attempt.ProviderResponse = datatypes.NewJSONType(models.ProviderResponse{
		TransactionID: tx.ID,
		Status:        tx.Status,
		StatusMessage: tx.StatusMessage,
		ReceivedAt:    now,
		Raw:           tx.Raw,
	})
	if status == models.PaymentStatusCompleted {
		attempt.PaidAt = &now
	}

	if err := s.ledger.Create(ctx, attempt, "recurring charge"); err != nil {
		s.logger.Error("recurring transaction created but attempt not stored",
			zap.String("transaction_id", tx.ID), zap.String("reference", reference), zap.Error(err))
		return nil, fmt.Errorf("failed to store payment attempt: %w", err)
	}

	s.logger.Info("recurring charge created",
		zap.Uint("business_id", businessID),
		zap.Uint("payment_id", attempt.ID),
		zap.String("status", string(status)))

	publishBestEffort(ctx, s.publisher, s.logger, RoutingKeyPaymentStatusChanged, PaymentStatusChangedEvent{
		PaymentID:     attempt.ID,
		BusinessID:    businessID,
		TransactionID: attempt.TransactionID,
		ToStatus:      attempt.Status,
		Scenario:      attempt.Scenario,
		Recurring:     true,
		Timestamp:     now,
	})

	return &RecurringChargeResult{
		PaymentID:       attempt.ID,
		TransactionID:   attempt.TransactionID,
		Status:          attempt.Status,
		OriginAttemptID: originID,
	}, nil
}
