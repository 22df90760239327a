// Package reconcile turns raw bank-statement lines into ledger transactions.
//
// Every raw transaction is offered to all registered matchers. Exactly one
// of them must claim it; the Processor then commits the transactions that
// matcher built and moves the owning import source through its states.
package reconcile
