package services

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"reservo_app_echo/internal/config"
)

var ErrFirebaseNotConfigured = errors.New("FIREBASE_CREDENTIALS_PATH is not set")

// NewFirebaseAuth builds the ID token verifier used to protect the API
func NewFirebaseAuth(ctx context.Context, cfg config.Config, logger *zap.Logger) (*auth.Client, error) {
	if cfg.FirebaseCredentialsPath == "" {
		return nil, ErrFirebaseNotConfigured
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(cfg.FirebaseCredentialsPath))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase auth: %w", err)
	}

	logger.Info("firebase auth ready", zap.String("credentials", cfg.FirebaseCredentialsPath))
	return client, nil
}
