package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"reservo_app_echo/internal/models"
)

// ReceiptSource is the current state of the event a receipt documents
type ReceiptSource struct {
	Type             models.SourceType
	ID               uint
	BusinessID       uint
	PaymentAttemptID *uint
	FullyPaid        bool

	Currency string
	Subtotal int64
	Discount int64
	Tax      int64
	Tip      int64
	Total    int64

	PayerName     string
	PayerEmail    string
	PayerPhone    string
	PerformerName string
	Description   string
}

// ReceiptSourceLoader reads a source event by type and id
type ReceiptSourceLoader interface {
	LoadSource(ctx context.Context, sourceType models.SourceType, sourceID uint) (*ReceiptSource, error)
}

// taxOn rounds taxable * rate% half away from zero to minor units
func taxOn(taxable int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(taxable).Mul(rate).Div(decimal.NewFromInt(100)).Round(0).IntPart()
}

func sourceFromAppointment(a models.Appointment, currency string) *ReceiptSource {
	taxable := a.Price - a.DiscountAmount
	tax := taxOn(taxable, a.TaxRate)
	return &ReceiptSource{
		Type:             models.SourceTypeAppointment,
		ID:               a.ID,
		BusinessID:       a.BusinessID,
		PaymentAttemptID: a.PaymentAttemptID,
		FullyPaid:        a.IsFullyPaid(),
		Currency:         currency,
		Subtotal:         a.Price,
		Discount:         a.DiscountAmount,
		Tax:              tax,
		Tip:              a.TipAmount,
		Total:            taxable + tax + a.TipAmount,
		PayerName:        a.CustomerName,
		PayerEmail:       a.CustomerEmail,
		PayerPhone:       a.CustomerPhone,
		PerformerName:    a.StaffName,
		Description:      a.ServiceName,
	}
}

func sourceFromSale(s models.Sale, currency string) *ReceiptSource {
	return &ReceiptSource{
		Type:             models.SourceTypeSale,
		ID:               s.ID,
		BusinessID:       s.BusinessID,
		PaymentAttemptID: s.PaymentAttemptID,
		FullyPaid:        s.IsFullyPaid(),
		Currency:         currency,
		Subtotal:         s.Subtotal,
		Discount:         s.DiscountAmount,
		Tax:              taxOn(s.Subtotal-s.DiscountAmount, s.TaxRate),
		Total:            s.Total(),
		PayerName:        s.CustomerName,
		PayerEmail:       s.CustomerEmail,
		PayerPhone:       s.CustomerPhone,
		PerformerName:    s.SellerName,
		Description:      s.Description,
	}
}

func sourceFromSubscriptionCharge(p models.PaymentAttempt, businessName string) *ReceiptSource {
	id := p.ID
	return &ReceiptSource{
		Type:             models.SourceTypeSubscriptionCharge,
		ID:               p.ID,
		BusinessID:       p.BusinessID,
		PaymentAttemptID: &id,
		FullyPaid:        p.Status == models.PaymentStatusCompleted,
		Currency:         p.Currency,
		Subtotal:         p.AmountInCents,
		Total:            p.AmountInCents,
		PayerName:        p.PayerName,
		PayerEmail:       p.PayerEmail,
		PerformerName:    businessName,
		Description:      "Subscription charge",
	}
}

// loadReceiptSource reads through db, which may be a transaction
func loadReceiptSource(ctx context.Context, db *gorm.DB, sourceType models.SourceType, sourceID uint) (*ReceiptSource, error) {
	db = db.WithContext(ctx)

	notFound := func(err error) error {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s %d", ErrReceiptSourceNotFound, sourceType, sourceID)
		}
		return err
	}

	switch sourceType {
	case models.SourceTypeAppointment:
		var a models.Appointment
		if err := db.First(&a, sourceID).Error; err != nil {
			return nil, notFound(err)
		}
		return sourceFromAppointment(a, businessCurrency(db, a.BusinessID)), nil

	case models.SourceTypeSale:
		var s models.Sale
		if err := db.First(&s, sourceID).Error; err != nil {
			return nil, notFound(err)
		}
		return sourceFromSale(s, businessCurrency(db, s.BusinessID)), nil

	case models.SourceTypeSubscriptionCharge:
		var p models.PaymentAttempt
		if err := db.Where("source_type = ?", models.SourceTypeSubscriptionCharge).First(&p, sourceID).Error; err != nil {
			return nil, notFound(err)
		}
		var b models.Business
		if err := db.Select("name").First(&b, p.BusinessID).Error; err != nil {
			return nil, notFound(err)
		}
		return sourceFromSubscriptionCharge(p, b.Name), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnsupportedSourceType, sourceType)
}

func businessCurrency(db *gorm.DB, businessID uint) string {
	var b models.Business
	if err := db.Select("currency").First(&b, businessID).Error; err != nil {
		return ""
	}
	return b.Currency
}
