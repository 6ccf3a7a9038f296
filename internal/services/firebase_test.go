package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"reservo_app_echo/internal/config"
)

func TestNewFirebaseAuthRequiresCredentials(t *testing.T) {
	client, err := NewFirebaseAuth(context.Background(), config.Config{}, testLogger())
	assert.ErrorIs(t, err, ErrFirebaseNotConfigured)
	assert.Nil(t, client)
}
