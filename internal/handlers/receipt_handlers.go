package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"reservo_app_echo/internal/models"
)

// ReceiptIssuer is implemented by services.ReceiptService
type ReceiptIssuer interface {
	IssueReceipt(ctx context.Context, sourceType models.SourceType, sourceID uint) (*models.Receipt, error)
	Cancel(ctx context.Context, receiptID uint, reason string) (*models.Receipt, error)
}

type ReceiptHandler struct {
	receipts ReceiptIssuer
}

func NewReceiptHandler(receipts ReceiptIssuer) *ReceiptHandler {
	return &ReceiptHandler{receipts: receipts}
}

// IssueReceipt returns the source's ACTIVE receipt, issuing it on first call
func (h *ReceiptHandler) IssueReceipt(c echo.Context) error {
	var req IssueReceiptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.SourceType == "" || req.SourceID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "source_type and source_id are required")
	}

	receipt, err := h.receipts.IssueReceipt(c.Request().Context(), req.SourceType, req.SourceID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, receipt)
}

// CancelReceipt soft-cancels a receipt; its number is never reissued
func (h *ReceiptHandler) CancelReceipt(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid receipt ID")
	}

	var req CancelReceiptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	receipt, err := h.receipts.Cancel(c.Request().Context(), uint(id), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, receipt)
}

// Healthz reports liveness
func Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
