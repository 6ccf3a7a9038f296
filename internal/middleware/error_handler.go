package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"reservo_app_echo/internal/services"
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error   string                `json:"error"`
	Message string                `json:"message"`
	Fields  []services.FieldError `json:"fields,omitempty"`
}

// CustomErrorHandler maps service errors to HTTP statuses and writes them as JSON
func CustomErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, body := classify(err)

		if code >= http.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Int("status", code),
				zap.Error(err))
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, body)
		}
		if err != nil {
			logger.Error("failed to write error response", zap.Error(err))
		}
	}
}

func classify(err error) (int, ErrorResponse) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok || msg == "" {
			msg = http.StatusText(he.Code)
		}
		return he.Code, ErrorResponse{Error: codeForStatus(he.Code), Message: msg}
	}

	var verr *services.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, ErrorResponse{Error: "validation_failed", Message: verr.Error(), Fields: verr.Fields}
	}

	var gwErr *services.GatewayError
	if errors.As(err, &gwErr) {
		if gwErr.Timeout {
			return http.StatusGatewayTimeout, ErrorResponse{Error: "gateway_timeout", Message: "the payment gateway did not answer in time"}
		}
		return http.StatusBadGateway, ErrorResponse{Error: "gateway_error", Message: "the payment gateway request failed"}
	}

	switch {
	case errors.Is(err, services.ErrPaymentNotFound),
		errors.Is(err, services.ErrReceiptNotFound),
		errors.Is(err, services.ErrReceiptSourceNotFound),
		errors.Is(err, services.ErrBusinessNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()}

	case errors.Is(err, services.ErrNoInstrumentOnFile):
		return http.StatusConflict, ErrorResponse{Error: "no_instrument_on_file", Message: err.Error()}
	case errors.Is(err, services.ErrSourceNotFullyPaid):
		return http.StatusConflict, ErrorResponse{Error: "source_not_fully_paid", Message: err.Error()}
	case errors.Is(err, services.ErrRenewalInProgress):
		return http.StatusConflict, ErrorResponse{Error: "renewal_in_progress", Message: err.Error()}
	case errors.Is(err, services.ErrReceiptNotActive):
		return http.StatusConflict, ErrorResponse{Error: "receipt_not_active", Message: err.Error()}
	case errors.Is(err, services.ErrPaymentNotCompleted):
		return http.StatusConflict, ErrorResponse{Error: "payment_not_completed", Message: err.Error()}

	case errors.Is(err, services.ErrUnsupportedSourceType):
		return http.StatusBadRequest, ErrorResponse{Error: "unsupported_source_type", Message: err.Error()}
	case errors.Is(err, services.ErrChallengeNotRenderable):
		return http.StatusBadGateway, ErrorResponse{Error: "challenge_not_renderable", Message: err.Error()}
	}

	return http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Something went wrong. Please try again later."}
}

func codeForStatus(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusServiceUnavailable:
		return "unavailable"
	}
	if code >= http.StatusInternalServerError {
		return "internal_error"
	}
	return "error"
}
