package core

import "errors"

var (
	ErrSessionNotFound = errors.New("chat session not found")
	ErrSessionBusy     = errors.New("chat session is already waiting for a reply")
	ErrEmptyMessage    = errors.New("message content cannot be empty")
	ErrUnknownModel    = errors.New("unknown model")
	ErrPremiumRequired = errors.New("model requires a premium subscription")
	ErrInvalidPlan     = errors.New("subscription plan must be monthly or yearly")
)
