package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"reservo_app_echo/internal/models"
	"reservo_app_echo/internal/services"
)

const (
	TaskExpireStalePayments = "expire_stale_payments"
	TaskChargeRecurring     = "charge_recurring"
)

// StalePaymentExpirer is implemented by services.PaymentService
type StalePaymentExpirer interface {
	ExpireStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// RecurringCharger is implemented by services.RecurringService
type RecurringCharger interface {
	ChargeRecurring(ctx context.Context, businessID uint, amountInCents int64, currency string) (*services.RecurringChargeResult, error)
}

// ExpireStalePaymentsArgs optionally overrides the sweep defaults
type ExpireStalePaymentsArgs struct {
	OlderThanMinutes int `json:"older_than_minutes,omitempty"`
	Limit            int `json:"limit,omitempty"`
}

// ExpireStalePaymentsTaskDef sweeps attempts stuck in PENDING or STEP_UP_PENDING
type ExpireStalePaymentsTaskDef struct {
	expirer StalePaymentExpirer
	expiry  time.Duration
	limit   int
	now     func() time.Time
	logger  *zap.Logger
}

func (t *ExpireStalePaymentsTaskDef) TaskID() string {
	return TaskExpireStalePayments
}

// CreateTask builds a recurring sweep task following rule
func (t *ExpireStalePaymentsTaskDef) CreateTask(args ExpireStalePaymentsArgs, due time.Time, rule string) (*models.ScheduledTask, error) {
	return BuildScheduledTask(t.TaskID(), args, due, &rule, models.ScheduledTaskTypeRecurring, 1)
}

func (t *ExpireStalePaymentsTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	args, err := decodeArgs[ExpireStalePaymentsArgs](task)
	if err != nil {
		return nil, err
	}

	expiry := t.expiry
	if args.OlderThanMinutes > 0 {
		expiry = time.Duration(args.OlderThanMinutes) * time.Minute
	}
	limit := t.limit
	if args.Limit > 0 {
		limit = args.Limit
	}

	cutoff := t.now().Add(-expiry)
	expired, err := t.expirer.ExpireStale(ctx, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to expire stale payments: %w", err)
	}

	if expired > 0 {
		t.logger.Info("stale payment attempts expired", zap.Int("count", expired), zap.Time("cutoff", cutoff))
	}
	return map[string]interface{}{
		"status":  "success",
		"expired": expired,
		"cutoff":  cutoff.Format(time.RFC3339),
	}, nil
}

// ChargeRecurringArgs identifies the renewal to charge
type ChargeRecurringArgs struct {
	BusinessID uint   `json:"business_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency,omitempty"`
}

// ChargeRecurringTaskDef charges a business's subscription against its stored instrument
type ChargeRecurringTaskDef struct {
	charger RecurringCharger
	logger  *zap.Logger
}

func (t *ChargeRecurringTaskDef) TaskID() string {
	return TaskChargeRecurring
}

// CreateTask builds a renewal task; rule is an RFC 5545 RRULE such as FREQ=MONTHLY
func (t *ChargeRecurringTaskDef) CreateTask(args ChargeRecurringArgs, due time.Time, rule string) (*models.ScheduledTask, error) {
	return BuildScheduledTask(t.TaskID(), args, due, &rule, models.ScheduledTaskTypeRecurring, 1)
}

// HandleExecution never retries within a run: a second charge attempt is left to the next cadence
func (t *ChargeRecurringTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	args, err := decodeArgs[ChargeRecurringArgs](task)
	if err != nil {
		return nil, err
	}
	if args.BusinessID == 0 || args.Amount <= 0 {
		return nil, Permanent(fmt.Errorf("business_id and a positive amount are required"))
	}

	res, err := t.charger.ChargeRecurring(ctx, args.BusinessID, args.Amount, strings.ToUpper(args.Currency))
	if err != nil {
		if errors.Is(err, services.ErrRenewalInProgress) {
			return map[string]interface{}{"status": "skipped", "message": err.Error()}, nil
		}
		return nil, Permanent(err)
	}

	t.logger.Info("recurring charge processed",
		zap.Uint("business_id", args.BusinessID),
		zap.String("transaction_id", res.TransactionID),
		zap.String("status", string(res.Status)))

	return map[string]interface{}{
		"status":            "success",
		"payment_id":        res.PaymentID,
		"transaction_id":    res.TransactionID,
		"payment_status":    string(res.Status),
		"origin_attempt_id": res.OriginAttemptID,
	}, nil
}
