package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"reservo_app_echo/internal/models"
	"reservo_app_echo/internal/services"
)

const (
	TaskReconcileReceipts = "reconcile_receipts"
	TaskDeliverReceipt    = "deliver_receipt"
)

// ReceiptReconciler is implemented by services.ReceiptService
type ReceiptReconciler interface {
	Reconcile(ctx context.Context, ledger services.PaymentLedger, limit int) (issued int, failed int, err error)
}

// ReceiptDeliverer is implemented by services.ReceiptDeliveryService
type ReceiptDeliverer interface {
	Deliver(ctx context.Context, receiptID uint, channel models.DeliveryChannel) error
}

type ReconcileReceiptsArgs struct {
	Limit int `json:"limit,omitempty"`
}

// ReconcileReceiptsTaskDef issues receipts for completed payments that never got one
type ReconcileReceiptsTaskDef struct {
	reconciler ReceiptReconciler
	ledger     services.PaymentLedger
	limit      int
	logger     *zap.Logger
}

func (t *ReconcileReceiptsTaskDef) TaskID() string {
	return TaskReconcileReceipts
}

func (t *ReconcileReceiptsTaskDef) CreateTask(args ReconcileReceiptsArgs, due time.Time, rule string) (*models.ScheduledTask, error) {
	return BuildScheduledTask(t.TaskID(), args, due, &rule, models.ScheduledTaskTypeRecurring, 1)
}

func (t *ReconcileReceiptsTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	args, err := decodeArgs[ReconcileReceiptsArgs](task)
	if err != nil {
		return nil, err
	}
	limit := t.limit
	if args.Limit > 0 {
		limit = args.Limit
	}

	issued, failed, err := t.reconciler.Reconcile(ctx, t.ledger, limit)
	if err != nil {
		return nil, err
	}
	if failed > 0 {
		t.logger.Warn("receipt reconciliation left payments without receipt", zap.Int("issued", issued), zap.Int("failed", failed))
	}

	return map[string]interface{}{
		"status": "success",
		"issued": issued,
		"failed": failed,
	}, nil
}

// DeliverReceiptArgs names the receipt and the channel to send it through
type DeliverReceiptArgs struct {
	ReceiptID uint                   `json:"receipt_id"`
	Channel   models.DeliveryChannel `json:"channel"`
}

type DeliverReceiptTaskDef struct {
	deliverer ReceiptDeliverer
}

func (t *DeliverReceiptTaskDef) TaskID() string {
	return TaskDeliverReceipt
}

// CreateTask builds a one-time delivery task due now
func (t *DeliverReceiptTaskDef) CreateTask(args DeliverReceiptArgs) (*models.ScheduledTask, error) {
	return BuildScheduledTask(t.TaskID(), args, time.Now(), nil, models.ScheduledTaskTypeOneTime, 3)
}

func (t *DeliverReceiptTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	args, err := decodeArgs[DeliverReceiptArgs](task)
	if err != nil {
		return nil, err
	}
	if args.ReceiptID == 0 {
		return nil, Permanent(fmt.Errorf("receipt_id is required"))
	}
	if args.Channel != models.DeliveryChannelEmail && args.Channel != models.DeliveryChannelWhatsapp {
		return nil, Permanent(fmt.Errorf("unsupported delivery channel %q", args.Channel))
	}

	if err := t.deliverer.Deliver(ctx, args.ReceiptID, args.Channel); err != nil {
		if errors.Is(err, services.ErrReceiptNotFound) || errors.Is(err, services.ErrReceiptNotActive) {
			return nil, Permanent(err)
		}
		return nil, err
	}

	return map[string]interface{}{
		"status":     "success",
		"receipt_id": args.ReceiptID,
		"channel":    string(args.Channel),
	}, nil
}
