package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the application.
var (
	ErrNotFound               = errors.New("resource not found")
	ErrUnauthorized           = errors.New("unauthorized access")
	ErrConflict               = errors.New("resource already exists")
	ErrInvalidInput           = errors.New("invalid input")
	ErrNotAParticipant        = errors.New("not a participant in this conversation")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
)

// ErrSelfConversation is returned when both sides of a conversation are the same user.
var ErrSelfConversation = fmt.Errorf("%w: conversation with oneself", ErrInvalidInput)
