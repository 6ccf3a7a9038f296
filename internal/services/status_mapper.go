package services

import (
	"strings"

	"reservo_app_echo/internal/models"
)

var gatewayStatuses = map[string]models.PaymentStatus{
	"APPROVED":         models.PaymentStatusCompleted,
	"COMPLETED":        models.PaymentStatusCompleted,
	"DECLINED":         models.PaymentStatusDeclined,
	"ERROR":            models.PaymentStatusError,
	"VOIDED":           models.PaymentStatusCancelled,
	"CANCELLED":        models.PaymentStatusCancelled,
	"PENDING":          models.PaymentStatusPending,
	"PENDING_3DS":      models.PaymentStatusStepUpPending,
	"THREE_DS_PENDING": models.PaymentStatusStepUpPending,
}

// MapGatewayStatus translates the gateway status vocabulary into the internal lifecycle.
// Anything unrecognised is PENDING: not yet decided rather than failed.
func MapGatewayStatus(status string) models.PaymentStatus {
	if mapped, ok := gatewayStatuses[strings.ToUpper(strings.TrimSpace(status))]; ok {
		return mapped
	}
	return models.PaymentStatusPending
}

// resolveStatus combines the classified scenario with the gateway status.
// The scenario wins whenever it already determines the outcome.
func resolveStatus(scenario models.Scenario, gatewayStatus string) models.PaymentStatus {
	switch scenario {
	case models.ScenarioVersionError, models.ScenarioAuthError:
		return models.PaymentStatusError
	case models.ScenarioChallengeDenied:
		return models.PaymentStatusDeclined
	case models.ScenarioChallengeRequired:
		return models.PaymentStatusStepUpPending
	case models.ScenarioUnknown:
		return models.PaymentStatusPending
	}
	return MapGatewayStatus(gatewayStatus)
}
