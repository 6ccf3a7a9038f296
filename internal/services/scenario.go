package services

import (
	"fmt"
	"strings"

	"reservo_app_echo/internal/models"
)

// Authentication-type tags as sent by the gateway
const (
	AuthTypeNoChallengeSuccess = "no_challenge_success"
	AuthTypeChallengeDenied    = "challenge_denied"
	AuthTypeChallengeV2        = "challenge_v2"
	AuthTypeVersionError       = "supported_version_error"
	AuthTypeAuthError          = "authentication_error"
)

const (
	StepChallenge      = "CHALLENGE"
	StepAuthentication = "AUTHENTICATION"
	StepStatusPending  = "PENDING"
	StepStatusDone     = "COMPLETED"
)

// ClassifyScenario interprets the 3-D Secure sub-state of a gateway transaction.
// It is total: every input yields exactly one scenario.
func ClassifyScenario(tx *GatewayTransaction) models.Scenario {
	if tx == nil {
		return models.ScenarioUnknown
	}

	tag := strings.ToLower(strings.TrimSpace(tx.ThreeDSAuthType))
	switch tag {
	case "":
		if tx.ThreeDSAuth == nil {
			return models.ScenarioNo3DS
		}
		return classifyStep(tx.ThreeDSAuth)
	case AuthTypeNoChallengeSuccess:
		return models.ScenarioNoChallengeSuccess
	case AuthTypeChallengeDenied:
		return models.ScenarioChallengeDenied
	case AuthTypeChallengeV2:
		if tx.ThreeDSAuth == nil {
			return models.ScenarioUnknown
		}
		return classifyStep(tx.ThreeDSAuth)
	case AuthTypeVersionError, "version_error":
		return models.ScenarioVersionError
	case AuthTypeAuthError, "auth_error":
		return models.ScenarioAuthError
	}
	return models.ScenarioUnknown
}

func classifyStep(auth *ThreeDSAuth) models.Scenario {
	step := strings.ToUpper(auth.CurrentStep)
	status := strings.ToUpper(auth.CurrentStepStatus)

	switch {
	case step == StepChallenge && status == StepStatusPending:
		return models.ScenarioChallengeRequired
	case step == StepAuthentication && status == StepStatusDone:
		return models.ScenarioChallengeCompleted
	}
	return models.ScenarioUnknown
}

var challengeUnescaper = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#x27;", "'",
	"&amp;", "&",
)

var challengeEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
)

// DecodeChallengeContent unescapes the challenge markup sent by the gateway.
// Content that does not decode into markup is an error, never passed through.
func DecodeChallengeContent(escaped string) (string, error) {
	if strings.TrimSpace(escaped) == "" {
		return "", fmt.Errorf("%w: empty content", ErrChallengeNotRenderable)
	}

	decoded := challengeUnescaper.Replace(escaped)
	if !strings.Contains(decoded, "<") {
		return "", fmt.Errorf("%w: no markup after decoding", ErrChallengeNotRenderable)
	}
	return decoded, nil
}

// EscapeChallengeContent is the inverse of DecodeChallengeContent
func EscapeChallengeContent(markup string) string {
	return challengeEscaper.Replace(markup)
}
