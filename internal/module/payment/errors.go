package payment

import "errors"

var (
	// ErrIntentNotFound means no payment intent matches the tenant-scoped lookup.
	ErrIntentNotFound = errors.New("payment intent not found")
	// ErrTransactionNotFound means no transaction matches the lookup.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrIntentTerminal means the intent already settled or was canceled.
	ErrIntentTerminal = errors.New("payment intent is in a terminal state")
	// ErrIntentNotConfirmable means the intent's gateway state does not
	// allow confirmation.
	ErrIntentNotConfirmable = errors.New("payment intent cannot be confirmed in its current state")
)
