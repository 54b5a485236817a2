package refund

import "errors"

var (
	// ErrRefundNotFound means no refund matches the tenant-scoped lookup.
	ErrRefundNotFound = errors.New("refund not found")
	// ErrNotRefundable means the transaction is not in a refundable state.
	ErrNotRefundable = errors.New("transaction is not refundable")
	// ErrWindowExpired means the refund period for the transaction has passed.
	ErrWindowExpired = errors.New("refund window has expired")
	// ErrAmountExceedsBalance means the requested amount exceeds the
	// transaction's remaining refundable balance.
	ErrAmountExceedsBalance = errors.New("refund amount exceeds remaining balance")
	// ErrNoChargeReference means the transaction carries no provider charge
	// reference to refund against.
	ErrNoChargeReference = errors.New("transaction has no provider charge reference")
)
