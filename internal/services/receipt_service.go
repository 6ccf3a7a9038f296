package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"reservo_app_echo/internal/models"
)

// ReceiptService issues receipts exactly once per source event.
// It never touches payment attempts; a failed issuance is left for reconciliation.
type ReceiptService struct {
	repo      ReceiptRepository
	allocator ReceiptNumberAllocator
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewReceiptService(repo ReceiptRepository, publisher Publisher, logger *zap.Logger) *ReceiptService {
	return &ReceiptService{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// IssueForCompletedPayment issues the receipt for the source the attempt paid for
func (s *ReceiptService) IssueForCompletedPayment(ctx context.Context, attempt *models.PaymentAttempt) (*models.Receipt, error) {
	if attempt.Status != models.PaymentStatusCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrPaymentNotCompleted, attempt.TransactionID, attempt.Status)
	}
	sourceType, sourceID, ok := receiptSourceOf(attempt)
	if !ok {
		return nil, fmt.Errorf("%w: payment %d has no source event", ErrReceiptSourceNotFound, attempt.ID)
	}
	return s.IssueReceipt(ctx, sourceType, sourceID)
}

// IssueReceipt returns the ACTIVE receipt for the source, creating it if needed
func (s *ReceiptService) IssueReceipt(ctx context.Context, sourceType models.SourceType, sourceID uint) (*models.Receipt, error) {
	receipt, err := s.issue(ctx, sourceType, sourceID)
	if err != nil {
		s.logger.Warn("receipt issuance failed",
			zap.String("source_type", string(sourceType)),
			zap.Uint("source_id", sourceID),
			zap.Error(err))
		return nil, err
	}
	return receipt, nil
}

func (s *ReceiptService) issue(ctx context.Context, sourceType models.SourceType, sourceID uint) (*models.Receipt, error) {
	src, err := s.repo.LoadSource(ctx, sourceType, sourceID)
	if err != nil {
		return nil, err
	}
	if !src.FullyPaid {
		return nil, fmt.Errorf("%w: %s %d", ErrSourceNotFullyPaid, sourceType, sourceID)
	}

	existing, err := s.repo.FindActiveBySource(ctx, sourceType, sourceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	var receipt *models.Receipt
	created := false

	err = s.repo.WithTenantLock(ctx, src.BusinessID, func(tx ReceiptTx) error {
		// Another issuer may have won the race while we waited for the lock
		existing, err := tx.FindActiveBySource(ctx, sourceType, sourceID)
		if err != nil {
			return err
		}
		if existing != nil {
			receipt = existing
			return nil
		}

		current, err := tx.LoadSource(ctx, sourceType, sourceID)
		if err != nil {
			return err
		}
		if !current.FullyPaid {
			return fmt.Errorf("%w: %s %d", ErrSourceNotFullyPaid, sourceType, sourceID)
		}

		business, err := tx.LockBusiness(ctx, current.BusinessID)
		if err != nil {
			return err
		}

		now := s.now()
		alloc, err := s.allocator.Allocate(ctx, tx, business, now)
		if err != nil {
			return err
		}

		receipt = snapshotReceipt(current, business, alloc, now)
		if err := tx.CreateReceipt(ctx, receipt); err != nil {
			return fmt.Errorf("failed to create receipt %s: %w", alloc.ReceiptNumber, err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.logger.Info("receipt issued",
			zap.Uint("business_id", receipt.BusinessID),
			zap.String("receipt_number", receipt.ReceiptNumber),
			zap.String("source_type", string(sourceType)),
			zap.Uint("source_id", sourceID))

		publishBestEffort(ctx, s.publisher, s.logger, RoutingKeyReceiptIssued, ReceiptIssuedEvent{
			ReceiptID:      receipt.ID,
			BusinessID:     receipt.BusinessID,
			ReceiptNumber:  receipt.ReceiptNumber,
			SequenceNumber: receipt.SequenceNumber,
			SourceType:     receipt.SourceType,
			SourceID:       receipt.SourceID,
			Total:          receipt.Total,
			Timestamp:      receipt.IssuedAt,
		})
	}
	return receipt, nil
}

func snapshotReceipt(src *ReceiptSource, business models.Business, alloc NumberAllocation, now time.Time) *models.Receipt {
	currency := src.Currency
	if currency == "" {
		currency = business.Currency
	}
	return &models.Receipt{
		BusinessID:       src.BusinessID,
		SequenceYear:     alloc.SequenceYear,
		SequenceNumber:   alloc.SequenceNumber,
		ReceiptNumber:    alloc.ReceiptNumber,
		SourceType:       src.Type,
		SourceID:         src.ID,
		PaymentAttemptID: src.PaymentAttemptID,
		Currency:         strings.ToUpper(currency),
		Subtotal:         src.Subtotal,
		Discount:         src.Discount,
		Tax:              src.Tax,
		Tip:              src.Tip,
		Total:            src.Total,
		PayerName:        src.PayerName,
		PayerEmail:       src.PayerEmail,
		PayerPhone:       src.PayerPhone,
		PerformerName:    src.PerformerName,
		Description:      src.Description,
		IssuedAt:         now,
		Status:           models.ReceiptStatusActive,
	}
}

// Cancel soft-cancels an ACTIVE receipt. Its number is never reused.
func (s *ReceiptService) Cancel(ctx context.Context, receiptID uint, reason string) (*models.Receipt, error) {
	receipt, err := s.repo.Cancel(ctx, receiptID, strings.TrimSpace(reason), s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info("receipt cancelled", zap.Uint("receipt_id", receiptID), zap.String("receipt_number", receipt.ReceiptNumber))
	return receipt, nil
}

// Reconcile issues receipts for completed payments whose fully paid source never had one
func (s *ReceiptService) Reconcile(ctx context.Context, ledger PaymentLedger, limit int) (issued int, failed int, err error) {
	attempts, err := ledger.ListCompletedWithoutReceipt(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list payments without receipt: %w", err)
	}

	for i := range attempts {
		if _, err := s.IssueForCompletedPayment(ctx, &attempts[i]); err != nil {
			failed++
			continue
		}
		issued++
	}
	return issued, failed, nil
}
