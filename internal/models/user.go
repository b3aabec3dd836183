package models

import (
	"time"

	"github.com/google/uuid"
)

// User представляет пользователя, оформляющего покупки
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	FullName  string    `json:"full_name" db:"full_name"`
	Phone     string    `json:"phone" db:"phone"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Snapshot копирует данные пользователя для транзакции.
func (u *User) Snapshot() UserSnapshot {
	return UserSnapshot{
		ID:       u.ID,
		Email:    u.Email,
		FullName: u.FullName,
		Phone:    u.Phone,
	}
}
