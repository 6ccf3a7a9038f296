package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"reservo_app_echo/internal/models"
)

// ReceiptTx is the set of operations available inside a tenant's numbering scope
type ReceiptTx interface {
	NumberingStore
	ReceiptSourceLoader
	LockBusiness(ctx context.Context, businessID uint) (models.Business, error)
	FindActiveBySource(ctx context.Context, sourceType models.SourceType, sourceID uint) (*models.Receipt, error)
	CreateReceipt(ctx context.Context, receipt *models.Receipt) error
}

// ReceiptRepository stores receipts. Numbering only happens inside WithTenantLock.
type ReceiptRepository interface {
	ReceiptSourceLoader
	// WithTenantLock runs fn in one transaction holding the business's numbering lock.
	// The lock is released on commit or rollback.
	WithTenantLock(ctx context.Context, businessID uint, fn func(tx ReceiptTx) error) error
	FindActiveBySource(ctx context.Context, sourceType models.SourceType, sourceID uint) (*models.Receipt, error)
	FindByID(ctx context.Context, id uint) (*models.Receipt, error)
	Cancel(ctx context.Context, id uint, reason string, at time.Time) (*models.Receipt, error)
	MarkDelivered(ctx context.Context, id uint, channel models.DeliveryChannel, at time.Time) error
}

// numberingLockKey maps a business to a pg advisory lock key
func numberingLockKey(businessID uint) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "receipt_numbering:%d", businessID)
	return int64(h.Sum64())
}

type GormReceiptRepository struct {
	db *gorm.DB
}

func NewGormReceiptRepository(db *gorm.DB) *GormReceiptRepository {
	return &GormReceiptRepository{db: db}
}

func (r *GormReceiptRepository) WithTenantLock(ctx context.Context, businessID uint, fn func(tx ReceiptTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", numberingLockKey(businessID)).Error; err != nil {
			return fmt.Errorf("failed to acquire numbering lock: %w", err)
		}
		return fn(&gormReceiptTx{db: tx})
	})
}

func (r *GormReceiptRepository) LoadSource(ctx context.Context, sourceType models.SourceType, sourceID uint) (*ReceiptSource, error) {
	return loadReceiptSource(ctx, r.db, sourceType, sourceID)
}

func (r *GormReceiptRepository) FindActiveBySource(ctx context.Context, sourceType models.SourceType, sourceID uint) (*models.Receipt, error) {
	return findActiveReceipt(ctx, r.db, sourceType, sourceID)
}

func (r *GormReceiptRepository) FindByID(ctx context.Context, id uint) (*models.Receipt, error) {
	var receipt models.Receipt
	if err := r.db.WithContext(ctx).First(&receipt, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReceiptNotFound
		}
		return nil, err
	}
	return &receipt, nil
}

func (r *GormReceiptRepository) Cancel(ctx context.Context, id uint, reason string, at time.Time) (*models.Receipt, error) {
	var receipt models.Receipt
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&receipt, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReceiptNotFound
			}
			return err
		}
		if receipt.Status != models.ReceiptStatusActive {
			return ErrReceiptNotActive
		}

		receipt.Status = models.ReceiptStatusCancelled
		receipt.CancelledAt = &at
		receipt.CancelReason = reason
		return tx.Model(&receipt).Updates(map[string]interface{}{
			"status":        receipt.Status,
			"cancelled_at":  at,
			"cancel_reason": reason,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (r *GormReceiptRepository) MarkDelivered(ctx context.Context, id uint, channel models.DeliveryChannel, at time.Time) error {
	column := "sent_via_email_at"
	if channel == models.DeliveryChannelWhatsapp {
		column = "sent_via_whatsapp_at"
	}
	res := r.db.WithContext(ctx).Model(&models.Receipt{}).Where("id = ?", id).Update(column, at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrReceiptNotFound
	}
	return nil
}

func findActiveReceipt(ctx context.Context, db *gorm.DB, sourceType models.SourceType, sourceID uint) (*models.Receipt, error) {
	var receipt models.Receipt
	err := db.WithContext(ctx).
		Where("source_type = ? AND source_id = ? AND status = ?", sourceType, sourceID, models.ReceiptStatusActive).
		First(&receipt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &receipt, nil
}

type gormReceiptTx struct {
	db *gorm.DB
}

func (t *gormReceiptTx) LoadSource(ctx context.Context, sourceType models.SourceType, sourceID uint) (*ReceiptSource, error) {
	return loadReceiptSource(ctx, t.db, sourceType, sourceID)
}

func (t *gormReceiptTx) LockBusiness(ctx context.Context, businessID uint) (models.Business, error) {
	var business models.Business
	err := t.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&business, businessID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return business, ErrBusinessNotFound
		}
		return business, err
	}
	return business, nil
}

func (t *gormReceiptTx) FindActiveBySource(ctx context.Context, sourceType models.SourceType, sourceID uint) (*models.Receipt, error) {
	return findActiveReceipt(ctx, t.db, sourceType, sourceID)
}

func (t *gormReceiptTx) CreateReceipt(ctx context.Context, receipt *models.Receipt) error {
	return t.db.WithContext(ctx).Create(receipt).Error
}

func (t *gormReceiptTx) MaxSequence(ctx context.Context, businessID uint, year *int) (int64, error) {
	q := t.db.WithContext(ctx).Model(&models.Receipt{}).Where("business_id = ?", businessID)
	if year != nil {
		q = q.Where("sequence_year = ?", *year)
	}

	var highest int64
	err := q.Select("COALESCE(MAX(sequence_number), 0)").Scan(&highest).Error
	return highest, err
}

func (t *gormReceiptTx) ReceiptNumbersLike(ctx context.Context, businessID uint, pattern string) ([]string, error) {
	var numbers []string
	err := t.db.WithContext(ctx).Model(&models.Receipt{}).
		Where("business_id = ? AND receipt_number LIKE ?", businessID, pattern).
		Pluck("receipt_number", &numbers).Error
	return numbers, err
}

func (t *gormReceiptTx) SaveHighWaterMark(ctx context.Context, businessID uint, number int64) error {
	return t.db.WithContext(ctx).Model(&models.Business{}).
		Where("id = ?", businessID).
		Update("receipt_last_issued_number", number).Error
}
