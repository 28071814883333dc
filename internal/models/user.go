package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an account allowed to chat.
// PasswordHash holds an argon2id PHC string, or bcrypt for imported accounts.
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Name         string    `db:"name" json:"name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}
