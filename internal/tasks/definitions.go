package tasks

import (
	"time"

	"go.uber.org/zap"

	"reservo_app_echo/internal/services"
)

const defaultBatchSize = 100

// Deps are the services the task handlers call into
type Deps struct {
	Payments  StalePaymentExpirer
	Recurring RecurringCharger
	Receipts  ReceiptReconciler
	Delivery  ReceiptDeliverer
	Ledger    services.PaymentLedger

	StepUpExpiry time.Duration
	BatchSize    int
	Logger       *zap.Logger
	Now          func() time.Time
}

// DefineTasks registers all available tasks
func DefineTasks(r *Registry, deps Deps) {
	if deps.BatchSize <= 0 {
		deps.BatchSize = defaultBatchSize
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	expire := &ExpireStalePaymentsTaskDef{
		expirer: deps.Payments,
		expiry:  deps.StepUpExpiry,
		limit:   deps.BatchSize,
		now:     deps.Now,
		logger:  deps.Logger,
	}
	r.Register(expire.TaskID(), expire.HandleExecution)

	recurring := &ChargeRecurringTaskDef{charger: deps.Recurring, logger: deps.Logger}
	r.Register(recurring.TaskID(), recurring.HandleExecution)

	reconcile := &ReconcileReceiptsTaskDef{
		reconciler: deps.Receipts,
		ledger:     deps.Ledger,
		limit:      deps.BatchSize,
		logger:     deps.Logger,
	}
	r.Register(reconcile.TaskID(), reconcile.HandleExecution)

	deliver := &DeliverReceiptTaskDef{deliverer: deps.Delivery}
	r.Register(deliver.TaskID(), deliver.HandleExecution)
}
