package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"reservo_app_echo/internal/services"
)

// PaymentCoordinator is implemented by services.PaymentService
type PaymentCoordinator interface {
	Initiate(ctx context.Context, req services.ChargeRequest) (*services.PaymentResult, error)
	RefreshStatus(ctx context.Context, transactionID string) (*services.PaymentResult, error)
}

// RecurringCharger is implemented by services.RecurringService
type RecurringCharger interface {
	ChargeRecurring(ctx context.Context, businessID uint, amountInCents int64, currency string) (*services.RecurringChargeResult, error)
}

type PaymentHandler struct {
	payments  PaymentCoordinator
	recurring RecurringCharger
}

func NewPaymentHandler(payments PaymentCoordinator, recurring RecurringCharger) *PaymentHandler {
	return &PaymentHandler{payments: payments, recurring: recurring}
}

// InitiatePayment starts a card payment. A decline is a 200 with status DECLINED.
func (h *PaymentHandler) InitiatePayment(c echo.Context) error {
	var req InitiatePaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	result, err := h.payments.Initiate(c.Request().Context(), req.toCharge())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

// RefreshStatus re-queries the gateway for an attempt's current state
func (h *PaymentHandler) RefreshStatus(c echo.Context) error {
	transactionID := strings.TrimSpace(c.Param("transaction_id"))
	if transactionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid transaction ID")
	}

	result, err := h.payments.RefreshStatus(c.Request().Context(), transactionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// ChargeRecurring bills the business against its stored instrument
func (h *PaymentHandler) ChargeRecurring(c echo.Context) error {
	businessID, err := strconv.ParseUint(c.Param("business_id"), 10, 32)
	if err != nil || businessID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid business ID")
	}

	var req RecurringChargeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	result, err := h.recurring.ChargeRecurring(c.Request().Context(), uint(businessID), req.AmountInCents, strings.ToUpper(strings.TrimSpace(req.Currency)))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}
