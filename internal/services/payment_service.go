package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"reservo_app_echo/internal/models"
)

// ChargeRequest is a new card payment that may require step-up authentication
type ChargeRequest struct {
	BusinessID      uint
	AmountInCents   int64
	Currency        string
	PayerEmail      string
	PayerName       string
	AcceptanceToken string
	// CardToken is the opaque reference from the gateway's tokenization step
	CardToken   string
	BrowserInfo models.BrowserInfo

	SourceType models.SourceType
	SourceID   *uint
	AutoRenew  bool
	DueDate    *time.Time
}

// PaymentResult is returned by Initiate and RefreshStatus
type PaymentResult struct {
	PaymentID        uint                 `json:"payment_id"`
	TransactionID    string               `json:"transaction_id"`
	Status           models.PaymentStatus `json:"status"`
	Scenario         models.Scenario      `json:"scenario"`
	RequiresAction   bool                 `json:"requires_action"`
	ChallengeContent string               `json:"challenge_content,omitempty"`
}

// PaymentService drives step-up authenticated card payments to a terminal state
type PaymentService struct {
	gateway   Gateway
	ledger    PaymentLedger
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewPaymentService(gateway Gateway, ledger PaymentLedger, publisher Publisher, logger *zap.Logger) *PaymentService {
	return &PaymentService{
		gateway:   gateway,
		ledger:    ledger,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func (r ChargeRequest) validate() error {
	verr := &ValidationError{}

	if r.BusinessID == 0 {
		verr.add("business_id", "is required")
	}
	if r.AmountInCents <= 0 {
		verr.add("amount_in_cents", "must be greater than zero")
	}
	if len(strings.TrimSpace(r.Currency)) != 3 {
		verr.add("currency", "must be a 3-letter ISO code")
	}
	if _, err := mail.ParseAddress(r.PayerEmail); err != nil {
		verr.add("payer_email", "must be a valid email address")
	}
	if strings.TrimSpace(r.PayerName) == "" {
		verr.add("payer_name", "is required")
	}
	if strings.TrimSpace(r.AcceptanceToken) == "" {
		verr.add("acceptance_token", "is required")
	}
	if strings.TrimSpace(r.CardToken) == "" {
		verr.add("card_token", "is required")
	}

	switch r.SourceType {
	case "", models.SourceTypeSubscriptionCharge:
	case models.SourceTypeAppointment, models.SourceTypeSale:
		if r.SourceID == nil || *r.SourceID == 0 {
			verr.add("source_id", "is required for "+string(r.SourceType))
		}
	default:
		verr.add("source_type", "is not supported")
	}

	validateBrowserInfo(r.BrowserInfo, verr)
	return verr.orNil()
}

func validateBrowserInfo(b models.BrowserInfo, verr *ValidationError) {
	numeric := []struct{ field, value string }{
		{"browser_info.browser_color_depth", b.ColorDepth},
		{"browser_info.browser_screen_height", b.ScreenHeight},
		{"browser_info.browser_screen_width", b.ScreenWidth},
	}
	for _, f := range numeric {
		n, err := strconv.Atoi(strings.TrimSpace(f.value))
		if err != nil || n <= 0 {
			verr.add(f.field, "must be a positive integer")
		}
	}

	if strings.TrimSpace(b.Language) == "" {
		verr.add("browser_info.browser_language", "is required")
	}
	if strings.TrimSpace(b.UserAgent) == "" {
		verr.add("browser_info.browser_user_agent", "is required")
	}
	if _, err := strconv.Atoi(strings.TrimSpace(b.TimeZone)); err != nil {
		verr.add("browser_info.browser_tz", "must be the UTC offset in minutes")
	}
}

// Initiate validates req, creates the gateway transaction and records the attempt.
// No attempt is stored when validation or the gateway call fails.
func (s *PaymentService) Initiate(ctx context.Context, req ChargeRequest) (*PaymentResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	reference := "pay_" + uuid.NewString()
	tx, err := s.gateway.CreateTransaction(ctx, CreateTransactionRequest{
		AmountInCents:   req.AmountInCents,
		Currency:        strings.ToUpper(req.Currency),
		CustomerEmail:   req.PayerEmail,
		AcceptanceToken: req.AcceptanceToken,
		Reference:       reference,
		PaymentMethod: CardPaymentMethod{
			Type:         "CARD",
			Token:        req.CardToken,
			Installments: 1,
		},
		IsThreeDS:    true,
		CustomerData: CustomerData{FullName: req.PayerName},
		BrowserInfo:  req.BrowserInfo,
	})
	if err != nil {
		s.logger.Warn("create transaction failed", zap.Uint("business_id", req.BusinessID), zap.String("reference", reference), zap.Error(err))
		return nil, err
	}

	scenario := s.classify(tx)
	status := resolveStatus(scenario, tx.Status)

	attempt := &models.PaymentAttempt{
		BusinessID:        req.BusinessID,
		SourceType:        req.SourceType,
		SourceID:          req.SourceID,
		Reference:         reference,
		TransactionID:     tx.ID,
		AmountInCents:     req.AmountInCents,
		Currency:          strings.ToUpper(req.Currency),
		PayerEmail:        req.PayerEmail,
		PayerName:         req.PayerName,
		AutoRenew:         req.AutoRenew,
		DueDate:           req.DueDate,
		BrowserInfo:       datatypes.NewJSONType(req.BrowserInfo),
		ProviderResponse:  datatypes.NewJSONType(s.providerResponse(tx)),
		ThreeDS:           datatypes.NewJSONType(threeDSData(tx)),
		Status:            status,
		Scenario:          scenario,
		CurrentStep:       stepOf(tx),
		CurrentStepStatus: stepStatusOf(tx),
	}
	if tx.PaymentSourceID != "" {
		src := tx.PaymentSourceID
		attempt.PaymentSourceID = &src
	}
	if status == models.PaymentStatusCompleted {
		paidAt := s.now()
		attempt.PaidAt = &paidAt
	}

	if err := s.ledger.Create(ctx, attempt, "created"); err != nil {
		s.logger.Error("gateway transaction created but attempt not stored",
			zap.String("transaction_id", tx.ID), zap.String("reference", reference), zap.Error(err))
		return nil, fmt.Errorf("failed to store payment attempt: %w", err)
	}

	s.logger.Info("payment initiated",
		zap.Uint("payment_id", attempt.ID),
		zap.String("transaction_id", attempt.TransactionID),
		zap.String("status", string(attempt.Status)),
		zap.String("scenario", string(attempt.Scenario)))

	s.publishStatusChange(ctx, attempt, "")
	return s.resultFor(attempt)
}

// RefreshStatus re-queries the gateway and records the result when the status moved.
// A terminal attempt is returned as stored without a gateway call.
func (s *PaymentService) RefreshStatus(ctx context.Context, transactionID string) (*PaymentResult, error) {
	attempt, err := s.ledger.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if attempt.Status.IsTerminal() {
		return s.resultFor(attempt)
	}

	tx, err := s.gateway.GetTransaction(ctx, transactionID)
	if err != nil {
		s.logger.Warn("get transaction failed", zap.String("transaction_id", transactionID), zap.Error(err))
		return nil, err
	}

	out, err := s.apply(ctx, transactionID, tx, "refreshed")
	if err != nil {
		return nil, err
	}
	return s.resultFor(out.Attempt)
}

// ExpireStale resolves attempts left non-terminal past cutoff. Each one is re-queried once and
// moved to ERROR only when the gateway answers with a state that is still undecided. Attempts
// whose re-query fails are left for the next sweep.
func (s *PaymentService) ExpireStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stale, err := s.ledger.ListStale(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale payments: %w", err)
	}

	expired := 0
	for _, candidate := range stale {
		result, err := s.RefreshStatus(ctx, candidate.TransactionID)
		switch {
		case err == nil && result.Status.IsTerminal():
			continue
		case err != nil && !errors.Is(err, ErrChallengeNotRenderable):
			s.logger.Warn("refresh before expiry failed, retrying on next sweep",
				zap.String("transaction_id", candidate.TransactionID), zap.Error(err))
			continue
		}

		// Re-read so the expiry keeps whatever step data the refresh just stored
		attempt, err := s.ledger.FindByTransactionID(ctx, candidate.TransactionID)
		if err != nil {
			s.logger.Error("failed to reload payment before expiry", zap.String("transaction_id", candidate.TransactionID), zap.Error(err))
			continue
		}
		if attempt.Status.IsTerminal() {
			continue
		}

		out, err := s.ledger.ApplyUpdate(ctx, attempt.TransactionID, AttemptUpdate{
			Status:            models.PaymentStatusError,
			Scenario:          attempt.Scenario,
			CurrentStep:       attempt.CurrentStep,
			CurrentStepStatus: attempt.CurrentStepStatus,
			ThreeDS:           attempt.ThreeDS.Data(),
			Response:          attempt.ProviderResponse.Data(),
			Note:              "expired",
		})
		if err != nil {
			s.logger.Error("failed to expire payment", zap.String("transaction_id", attempt.TransactionID), zap.Error(err))
			continue
		}
		if out.Changed {
			expired++
			s.logger.Info("payment expired", zap.String("transaction_id", attempt.TransactionID), zap.String("from", string(out.Previous)))
			s.publishStatusChange(ctx, out.Attempt, out.Previous)
		}
	}
	return expired, nil
}

func (s *PaymentService) apply(ctx context.Context, transactionID string, tx *GatewayTransaction, note string) (UpdateOutcome, error) {
	scenario := s.classify(tx)
	status := resolveStatus(scenario, tx.Status)

	out, err := s.ledger.ApplyUpdate(ctx, transactionID, AttemptUpdate{
		Status:            status,
		Scenario:          scenario,
		CurrentStep:       stepOf(tx),
		CurrentStepStatus: stepStatusOf(tx),
		PaymentSourceID:   tx.PaymentSourceID,
		ThreeDS:           threeDSData(tx),
		Response:          s.providerResponse(tx),
		Note:              note,
	})
	if err != nil {
		return out, err
	}

	switch {
	case out.Rejected:
		s.logger.Warn("stale status update ignored",
			zap.String("transaction_id", transactionID),
			zap.String("stored", string(out.Previous)),
			zap.String("received", string(status)))
	case out.Changed:
		s.logger.Info("payment status changed",
			zap.String("transaction_id", transactionID),
			zap.String("from", string(out.Previous)),
			zap.String("to", string(out.Attempt.Status)))
		s.publishStatusChange(ctx, out.Attempt, out.Previous)
	}
	return out, nil
}

func (s *PaymentService) classify(tx *GatewayTransaction) models.Scenario {
	scenario := ClassifyScenario(tx)
	if scenario == models.ScenarioUnknown {
		s.logger.Warn("unclassified 3DS state",
			zap.String("transaction_id", tx.ID),
			zap.String("auth_type", tx.ThreeDSAuthType),
			zap.String("step", stepOf(tx)),
			zap.String("step_status", stepStatusOf(tx)))
	}
	return scenario
}

func (s *PaymentService) resultFor(attempt *models.PaymentAttempt) (*PaymentResult, error) {
	result := &PaymentResult{
		PaymentID:     attempt.ID,
		TransactionID: attempt.TransactionID,
		Status:        attempt.Status,
		Scenario:      attempt.Scenario,
	}

	if attempt.Scenario != models.ScenarioChallengeRequired || attempt.Status.IsTerminal() {
		return result, nil
	}

	content, err := DecodeChallengeContent(attempt.ThreeDS.Data().ChallengeContent)
	if err != nil {
		s.logger.Error("challenge content not renderable", zap.String("transaction_id", attempt.TransactionID), zap.Error(err))
		return nil, fmt.Errorf("transaction %s: %w", attempt.TransactionID, err)
	}
	result.RequiresAction = true
	result.ChallengeContent = content
	return result, nil
}

func (s *PaymentService) providerResponse(tx *GatewayTransaction) models.ProviderResponse {
	return models.ProviderResponse{
		TransactionID: tx.ID,
		Status:        tx.Status,
		StatusMessage: tx.StatusMessage,
		ReceivedAt:    s.now(),
		Raw:           tx.Raw,
	}
}

func (s *PaymentService) publishStatusChange(ctx context.Context, attempt *models.PaymentAttempt, from models.PaymentStatus) {
	publishBestEffort(ctx, s.publisher, s.logger, RoutingKeyPaymentStatusChanged, PaymentStatusChangedEvent{
		PaymentID:     attempt.ID,
		BusinessID:    attempt.BusinessID,
		TransactionID: attempt.TransactionID,
		FromStatus:    from,
		ToStatus:      attempt.Status,
		Scenario:      attempt.Scenario,
		Recurring:     attempt.Recurring,
		Timestamp:     s.now(),
	})
}

func threeDSData(tx *GatewayTransaction) models.ThreeDSData {
	data := models.ThreeDSData{AuthType: tx.ThreeDSAuthType}
	if tx.ThreeDSAuth != nil {
		data.CurrentStep = tx.ThreeDSAuth.CurrentStep
		data.CurrentStepStatus = tx.ThreeDSAuth.CurrentStepStatus
		data.ChallengeContent = tx.ThreeDSAuth.ChallengeContent
	}
	return data
}

func stepOf(tx *GatewayTransaction) string {
	if tx.ThreeDSAuth == nil {
		return ""
	}
	return tx.ThreeDSAuth.CurrentStep
}

func stepStatusOf(tx *GatewayTransaction) string {
	if tx.ThreeDSAuth == nil {
		return ""
	}
	return tx.ThreeDSAuth.CurrentStepStatus
}
