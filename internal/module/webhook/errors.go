package webhook

import "errors"

var (
	// ErrEventNotFound means no stored webhook event matches the lookup.
	ErrEventNotFound = errors.New("webhook event not found")
	// ErrDuplicateEvent means the provider event was already recorded.
	ErrDuplicateEvent = errors.New("duplicate webhook event")
)
