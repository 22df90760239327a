package ledger

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidBookingType     = errors.New("invalid booking type")
	ErrInvalidCategory        = errors.New("invalid account category")
	ErrDuplicateAccount       = errors.New("account already exists")
	ErrAccountInUse           = errors.New("account in use")
	ErrTransactionInUse       = errors.New("transaction is reversed by another transaction")
	ErrUnbalanced             = errors.New("transaction is not balanced")
	ErrEmptyTransaction       = errors.New("transaction has no bookings")
	ErrReversalCycle          = errors.New("reversal chain forms a cycle")
	ErrAlreadyProcessed       = errors.New("import source already processed")
	ErrInvalidStateTransition = errors.New("invalid import source state transition")
	ErrInvalidSettings        = errors.New("invalid bookkeeping settings")
)
