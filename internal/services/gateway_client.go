package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"reservo_app_echo/internal/config"
	"reservo_app_echo/internal/models"
)

// Gateway is the outbound boundary to the card payment gateway
type Gateway interface {
	CreateTransaction(ctx context.Context, req CreateTransactionRequest) (*GatewayTransaction, error)
	GetTransaction(ctx context.Context, transactionID string) (*GatewayTransaction, error)
	CreateRecurringTransaction(ctx context.Context, req RecurringTransactionRequest) (*GatewayTransaction, error)
	AcceptanceToken(ctx context.Context) (string, error)
}

type CardPaymentMethod struct {
	Type         string `json:"type"`
	Token        string `json:"token"`
	Installments int    `json:"installments"`
}

type CustomerData struct {
	FullName string `json:"full_name"`
}

type CreateTransactionRequest struct {
	AmountInCents   int64              `json:"amount_in_cents"`
	Currency        string             `json:"currency"`
	CustomerEmail   string             `json:"customer_email"`
	AcceptanceToken string             `json:"acceptance_token"`
	Reference       string             `json:"reference"`
	PaymentMethod   CardPaymentMethod  `json:"payment_method"`
	IsThreeDS       bool               `json:"is_three_ds"`
	CustomerData    CustomerData       `json:"customer_data"`
	BrowserInfo     models.BrowserInfo `json:"customer_browser_info"`
}

// RecurringTransactionRequest charges a stored payment source with no cardholder present
type RecurringTransactionRequest struct {
	AmountInCents   int64  `json:"amount_in_cents"`
	Currency        string `json:"currency"`
	CustomerEmail   string `json:"customer_email"`
	AcceptanceToken string `json:"acceptance_token"`
	Reference       string `json:"reference"`
	PaymentSourceID string `json:"payment_source_id"`
	Recurrent       bool   `json:"recurrent"`
}

type ThreeDSAuth struct {
	CurrentStep       string `json:"current_step"`
	CurrentStepStatus string `json:"current_step_status"`
	ChallengeContent  string `json:"challenge_content,omitempty"`
}

// GatewayTransaction is the shape returned by create, status and recurring calls
type GatewayTransaction struct {
	ID              string       `json:"id"`
	Status          string       `json:"status"`
	StatusMessage   string       `json:"status_message,omitempty"`
	Reference       string       `json:"reference"`
	AmountInCents   int64        `json:"amount_in_cents"`
	Currency        string       `json:"currency"`
	PaymentSourceID string       `json:"payment_source_id,omitempty"`
	ThreeDSAuthType string       `json:"three_ds_auth_type,omitempty"`
	ThreeDSAuth     *ThreeDSAuth `json:"three_ds_auth,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type transactionEnvelope struct {
	Data GatewayTransaction `json:"data"`
}

type merchantEnvelope struct {
	Data struct {
		PresignedAcceptance struct {
			AcceptanceToken string `json:"acceptance_token"`
		} `json:"presigned_acceptance"`
	} `json:"data"`
}

// GatewayClient talks to the gateway REST API
type GatewayClient struct {
	cfg    config.GatewayConfig
	client *http.Client
	cache  Cache
	logger *zap.Logger
}

// NewGatewayClient builds a client from explicit configuration. cache may be nil.
func NewGatewayClient(cfg config.GatewayConfig, cache *RedisCache, logger *zap.Logger) *GatewayClient {
	g := &GatewayClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
	if cache != nil {
		g.cache = cache
	}
	return g
}

func (g *GatewayClient) CreateTransaction(ctx context.Context, req CreateTransactionRequest) (*GatewayTransaction, error) {
	return g.transaction(ctx, "create_transaction", http.MethodPost, "/transactions", req)
}

func (g *GatewayClient) GetTransaction(ctx context.Context, transactionID string) (*GatewayTransaction, error) {
	return g.transaction(ctx, "get_transaction", http.MethodGet, "/transactions/"+url.PathEscape(transactionID), nil)
}

func (g *GatewayClient) CreateRecurringTransaction(ctx context.Context, req RecurringTransactionRequest) (*GatewayTransaction, error) {
	req.Recurrent = true
	tx, err := g.transaction(ctx, "create_recurring_transaction", http.MethodPost, "/transactions", req)

	var gwErr *GatewayError
	if errors.As(err, &gwErr) && rejectsCredentials(gwErr.StatusCode) {
		g.invalidateAcceptanceToken(ctx)
	}
	return tx, err
}

// AcceptanceToken returns the merchant's presigned acceptance token, cached in Redis when available
func (g *GatewayClient) AcceptanceToken(ctx context.Context) (string, error) {
	if g.cache == nil {
		return g.fetchAcceptanceToken(ctx)
	}

	return GetOrSet(g.cache, ctx, g.acceptanceTokenKey(), g.cfg.AcceptanceTokenTTL, func() (string, error) {
		return g.fetchAcceptanceToken(ctx)
	})
}

func (g *GatewayClient) acceptanceTokenKey() string {
	return "gateway:acceptance_token:" + g.cfg.PublicKey
}

// invalidateAcceptanceToken drops the cached token so the next charge fetches a fresh one
func (g *GatewayClient) invalidateAcceptanceToken(ctx context.Context) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Delete(ctx, g.acceptanceTokenKey()); err != nil {
		g.logger.Warn("failed to drop cached acceptance token", zap.Error(err))
		return
	}
	g.logger.Info("cached acceptance token dropped after gateway rejection")
}

func rejectsCredentials(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusUnprocessableEntity
}

func (g *GatewayClient) fetchAcceptanceToken(ctx context.Context) (string, error) {
	body, err := g.makeRequest(ctx, "get_merchant", http.MethodGet, "/merchants/"+g.cfg.PublicKey, nil, g.cfg.PublicKey)
	if err != nil {
		return "", err
	}

	var env merchantEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", &GatewayError{Op: "get_merchant", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	token := env.Data.PresignedAcceptance.AcceptanceToken
	if token == "" {
		return "", &GatewayError{Op: "get_merchant", Err: errors.New("response carried no acceptance token")}
	}
	return token, nil
}

func (g *GatewayClient) transaction(ctx context.Context, op, method, endpoint string, payload interface{}) (*GatewayTransaction, error) {
	body, err := g.makeRequest(ctx, op, method, endpoint, payload, g.cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	var env transactionEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &GatewayError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if env.Data.ID == "" {
		return nil, &GatewayError{Op: op, Err: errors.New("response carried no transaction id")}
	}
	env.Data.Raw = json.RawMessage(body)
	return &env.Data, nil
}

func (g *GatewayClient) makeRequest(ctx context.Context, op, method, endpoint string, payload interface{}, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		bodyReader = bytes.NewBuffer(data)
	}

	target := strings.TrimSuffix(g.cfg.BaseURL, "/") + endpoint
	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("gateway request failed", zap.String("op", op), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return nil, &GatewayError{Op: op, Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GatewayError{Op: op, Timeout: isTimeout(err), Err: fmt.Errorf("failed to read response: %w", err)}
	}

	g.logger.Debug("gateway request", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= 400 {
		return nil, &GatewayError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
