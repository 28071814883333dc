package storage

import "errors"

var (
	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailTaken is returned when creating a user with an existing email
	ErrEmailTaken = errors.New("email already registered")

	// ErrConversationNotFound is returned when a conversation does not exist
	// or belongs to another user
	ErrConversationNotFound = errors.New("conversation not found")
)
