package services

import (
	"context"
	"database/sql"
	"fmt"

	"formation-booking/internal/apperror"
	"formation-booking/internal/database"
	"formation-booking/internal/logger"
	"formation-booking/internal/models"

	"github.com/google/uuid"
)

// UserService читает пользователей для снимков транзакций.
type UserService struct {
	db  *database.DB
	log *logger.Logger
}

// NewUserService создаёт сервис пользователей.
func NewUserService(db *database.DB, log *logger.Logger) *UserService {
	return &UserService{db: db, log: log}
}

// GetUser возвращает пользователя. q может быть транзакцией вызывающего.
func (s *UserService) GetUser(ctx context.Context, q database.Querier, userID uuid.UUID) (*models.User, error) {
	if q == nil {
		q = s.db
	}

	user := &models.User{}
	err := q.QueryRowContext(ctx, `
		SELECT id, email, full_name, phone, created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.FullName, &user.Phone, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user not found", err)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}
