package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"reservo_app_echo/internal/models"
)

// ReceiptDeliveryService sends issued receipts to the payer and stamps the channel used
type ReceiptDeliveryService struct {
	repo     ReceiptRepository
	email    EmailSender
	whatsapp WhatsAppSender
	logger   *zap.Logger
	now      func() time.Time
}

func NewReceiptDeliveryService(repo ReceiptRepository, email EmailSender, whatsapp WhatsAppSender, logger *zap.Logger) *ReceiptDeliveryService {
	return &ReceiptDeliveryService{
		repo:     repo,
		email:    email,
		whatsapp: whatsapp,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *ReceiptDeliveryService) Deliver(ctx context.Context, receiptID uint, channel models.DeliveryChannel) error {
	receipt, err := s.repo.FindByID(ctx, receiptID)
	if err != nil {
		return err
	}
	if receipt.Status != models.ReceiptStatusActive {
		return fmt.Errorf("%w: %s", ErrReceiptNotActive, receipt.ReceiptNumber)
	}

	body := RenderReceiptText(receipt)

	switch channel {
	case models.DeliveryChannelEmail:
		if receipt.PayerEmail == "" {
			return fmt.Errorf("receipt %s has no payer email", receipt.ReceiptNumber)
		}
		subject := "Receipt " + receipt.ReceiptNumber
		if err := s.email.SendEmail([]string{receipt.PayerEmail}, subject, body); err != nil {
			return err
		}
	case models.DeliveryChannelWhatsapp:
		if receipt.PayerPhone == "" {
			return fmt.Errorf("receipt %s has no payer phone", receipt.ReceiptNumber)
		}
		if err := s.whatsapp.SendMessage(ctx, receipt.PayerPhone, body); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported delivery channel %q", channel)
	}

	if err := s.repo.MarkDelivered(ctx, receipt.ID, channel, s.now()); err != nil {
		return fmt.Errorf("receipt sent but delivery not recorded: %w", err)
	}

	s.logger.Info("receipt delivered", zap.String("receipt_number", receipt.ReceiptNumber), zap.String("channel", string(channel)))
	return nil
}

// RenderReceiptText is the plain-text body used by every channel
func RenderReceiptText(r *models.Receipt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Receipt %s\n", r.ReceiptNumber)
	fmt.Fprintf(&b, "Issued: %s\n", r.IssuedAt.Format("2006-01-02 15:04"))
	if r.PayerName != "" {
		fmt.Fprintf(&b, "Customer: %s\n", r.PayerName)
	}
	if r.PerformerName != "" {
		fmt.Fprintf(&b, "Attended by: %s\n", r.PerformerName)
	}
	if r.Description != "" {
		fmt.Fprintf(&b, "%s\n", r.Description)
	}
	b.WriteString("\n")

	line := func(label string, amount int64) {
		fmt.Fprintf(&b, "%-10s %s %s\n", label, formatMinorUnits(amount), r.Currency)
	}
	line("Subtotal", r.Subtotal)
	if r.Discount != 0 {
		line("Discount", -r.Discount)
	}
	if r.Tax != 0 {
		line("Tax", r.Tax)
	}
	if r.Tip != 0 {
		line("Tip", r.Tip)
	}
	line("Total", r.Total)
	return b.String()
}

func formatMinorUnits(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}
