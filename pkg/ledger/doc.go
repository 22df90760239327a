// Package ledger is the double-entry core of the bookkeeping engine.
//
// It owns accounts, transactions and their bookings, computes
// category-aware balances and tracks the lifecycle of import sources.
// Amounts are positive fixed-point decimals with two places; the direction
// of a booking lives only in its BookingType.
//
// Transactions are built either incrementally (CreateTransaction followed by
// AddBooking, with IsBalanced telling the caller when it is complete) or in
// one atomic step with RecordTransaction, which refuses unbalanced input.
package ledger
