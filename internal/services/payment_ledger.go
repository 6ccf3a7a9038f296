package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"reservo_app_echo/internal/models"
)

// AttemptUpdate is the state read back from the gateway for an existing attempt
type AttemptUpdate struct {
	Status            models.PaymentStatus
	Scenario          models.Scenario
	CurrentStep       string
	CurrentStepStatus string
	PaymentSourceID   string
	ThreeDS           models.ThreeDSData
	Response          models.ProviderResponse
	Note              string
}

// UpdateOutcome reports what ApplyUpdate did with an AttemptUpdate
type UpdateOutcome struct {
	Attempt  *models.PaymentAttempt
	Previous models.PaymentStatus
	Changed  bool
	// Rejected is set when the update would have moved a terminal status
	Rejected bool
}

// PaymentLedger is the only writer of payment attempts
type PaymentLedger interface {
	Create(ctx context.Context, attempt *models.PaymentAttempt, note string) error
	FindByTransactionID(ctx context.Context, transactionID string) (*models.PaymentAttempt, error)
	// ApplyUpdate writes upd only when the status differs and the transition is allowed
	ApplyUpdate(ctx context.Context, transactionID string, upd AttemptUpdate) (UpdateOutcome, error)
	LatestRenewableSource(ctx context.Context, businessID uint) (*models.PaymentAttempt, error)
	ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]models.PaymentAttempt, error)
	ListCompletedWithoutReceipt(ctx context.Context, limit int) ([]models.PaymentAttempt, error)
}

// applyTo copies upd onto attempt and returns the changed columns
func (upd AttemptUpdate) applyTo(attempt *models.PaymentAttempt, now time.Time) map[string]interface{} {
	attempt.Status = upd.Status
	attempt.Scenario = upd.Scenario
	attempt.CurrentStep = upd.CurrentStep
	attempt.CurrentStepStatus = upd.CurrentStepStatus
	attempt.ThreeDS = datatypes.NewJSONType(upd.ThreeDS)
	attempt.ProviderResponse = datatypes.NewJSONType(upd.Response)

	cols := map[string]interface{}{
		"status":              attempt.Status,
		"scenario":            attempt.Scenario,
		"current_step":        attempt.CurrentStep,
		"current_step_status": attempt.CurrentStepStatus,
		"three_ds":            attempt.ThreeDS,
		"provider_response":   attempt.ProviderResponse,
	}

	if upd.PaymentSourceID != "" && (attempt.PaymentSourceID == nil || *attempt.PaymentSourceID == "") {
		src := upd.PaymentSourceID
		attempt.PaymentSourceID = &src
		cols["payment_source_id"] = src
	}
	if upd.Status == models.PaymentStatusCompleted && attempt.PaidAt == nil {
		paidAt := now
		attempt.PaidAt = &paidAt
		cols["paid_at"] = paidAt
	}
	return cols
}

func historyEntry(attempt *models.PaymentAttempt, from models.PaymentStatus, note string) models.PaymentAttemptHistory {
	return models.PaymentAttemptHistory{
		PaymentAttemptID:  attempt.ID,
		TransactionID:     attempt.TransactionID,
		FromStatus:        from,
		ToStatus:          attempt.Status,
		Scenario:          attempt.Scenario,
		CurrentStep:       attempt.CurrentStep,
		CurrentStepStatus: attempt.CurrentStepStatus,
		Note:              note,
		Response:          attempt.ProviderResponse,
	}
}

// receiptSourceOf returns the source a receipt for this attempt belongs to.
// Subscription charges are their own source.
func receiptSourceOf(attempt *models.PaymentAttempt) (models.SourceType, uint, bool) {
	switch {
	case attempt.SourceType == "":
		return "", 0, false
	case attempt.SourceType == models.SourceTypeSubscriptionCharge && attempt.SourceID == nil:
		return attempt.SourceType, attempt.ID, true
	case attempt.SourceID == nil:
		return "", 0, false
	}
	return attempt.SourceType, *attempt.SourceID, true
}

type GormPaymentLedger struct {
	db *gorm.DB
}

func NewGormPaymentLedger(db *gorm.DB) *GormPaymentLedger {
	return &GormPaymentLedger{db: db}
}

func (l *GormPaymentLedger) Create(ctx context.Context, attempt *models.PaymentAttempt, note string) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(attempt).Error; err != nil {
			return err
		}
		history := historyEntry(attempt, "", note)
		return tx.Create(&history).Error
	})
}

func (l *GormPaymentLedger) FindByTransactionID(ctx context.Context, transactionID string) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	err := l.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &attempt, nil
}

func (l *GormPaymentLedger) ApplyUpdate(ctx context.Context, transactionID string, upd AttemptUpdate) (UpdateOutcome, error) {
	var out UpdateOutcome

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var attempt models.PaymentAttempt
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("transaction_id = ?", transactionID).
			First(&attempt).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}

		out.Attempt = &attempt
		out.Previous = attempt.Status

		if attempt.Status == upd.Status {
			return nil
		}
		if !attempt.Status.CanTransitionTo(upd.Status) {
			out.Rejected = true
			return nil
		}

		cols := upd.applyTo(&attempt, time.Now())
		if err := tx.Model(&attempt).Updates(cols).Error; err != nil {
			return err
		}

		history := historyEntry(&attempt, out.Previous, upd.Note)
		if err := tx.Create(&history).Error; err != nil {
			return err
		}
		out.Changed = true
		return nil
	})

	return out, err
}

func (l *GormPaymentLedger) LatestRenewableSource(ctx context.Context, businessID uint) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	err := l.db.WithContext(ctx).
		Where("business_id = ? AND status = ? AND recurring = ? AND auto_renew = ?", businessID, models.PaymentStatusCompleted, false, true).
		Where("payment_source_id IS NOT NULL AND payment_source_id <> ''").
		Order("created_at DESC").
		First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

func (l *GormPaymentLedger) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]models.PaymentAttempt, error) {
	var attempts []models.PaymentAttempt
	err := l.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", []models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusStepUpPending}, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&attempts).Error
	return attempts, err
}

// ListCompletedWithoutReceipt returns completed payments whose source is fully paid and has never
// had a receipt. A cancelled receipt counts: reissuing after a cancellation is an explicit request.
func (l *GormPaymentLedger) ListCompletedWithoutReceipt(ctx context.Context, limit int) ([]models.PaymentAttempt, error) {
	var attempts []models.PaymentAttempt
	err := l.db.WithContext(ctx).
		Where("status = ? AND source_type <> ''", models.PaymentStatusCompleted).
		Where("(source_id IS NOT NULL OR source_type = ?)", models.SourceTypeSubscriptionCharge).
		Where(`NOT EXISTS (
			SELECT 1 FROM receipts r
			WHERE r.source_type = payment_attempts.source_type
			  AND r.source_id = COALESCE(payment_attempts.source_id, payment_attempts.id)
		)`).
		Where(`(payment_attempts.source_type = ?
			OR (payment_attempts.source_type = ? AND EXISTS (
				SELECT 1 FROM appointments a
				WHERE a.id = payment_attempts.source_id AND a.deleted_at IS NULL AND a.payment_status = ?))
			OR (payment_attempts.source_type = ? AND EXISTS (
				SELECT 1 FROM sales s
				WHERE s.id = payment_attempts.source_id AND s.deleted_at IS NULL
				  AND s.paid_amount >= (s.subtotal - s.discount_amount)
				      + ROUND((s.subtotal - s.discount_amount) * s.tax_rate / 100))))`,
			models.SourceTypeSubscriptionCharge,
			models.SourceTypeAppointment, models.SourcePaymentStatusPaid,
			models.SourceTypeSale).
		Order("id ASC").
		Limit(limit).
		Find(&attempts).Error
	return attempts, err
}
