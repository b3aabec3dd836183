package services

import (
	"context"
	"fmt"
	"time"

	"formation-booking/internal/database"
	"formation-booking/internal/logger"
)

// TokenService обслуживает токены сброса пароля.
type TokenService struct {
	db  *database.DB
	log *logger.Logger
}

// NewTokenService создаёт сервис токенов.
func NewTokenService(db *database.DB, log *logger.Logger) *TokenService {
	return &TokenService{db: db, log: log}
}

// DeactivateExpiredTokens гасит доступные токены с истёкшим сроком.
func (s *TokenService) DeactivateExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE password_reset_tokens
		SET is_available = false
		WHERE is_available = true AND expiry_date < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		s.log.WithField("count", rows).Info("Expired reset tokens deactivated")
	}
	return rows, nil
}
