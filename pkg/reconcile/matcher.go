package reconcile

import (
	"context"

	"github.com/henryk/byro/pkg/ledger"
)

// Request is what a matcher gets to look at.
type Request struct {
	Raw      *RawTransaction
	Settings ledger.Settings
}

// Result is a matcher's claim on a raw transaction. An empty result means
// the matcher recognised the line but could not build transactions for it.
type Result struct {
	Transactions []*ledger.Transaction
}

func (r *Result) usable() bool {
	return r != nil && len(r.Transactions) > 0
}

// Matcher turns raw transactions it recognises into unsaved ledger
// transactions. It returns a nil Result and nil error for lines it has no
// opinion on. Matchers must be safe for concurrent use.
type Matcher interface {
	Name() string
	Match(ctx context.Context, req Request) (*Result, error)
}

// MatcherFunc adapts a function to the Matcher interface.
type MatcherFunc struct {
	ID string
	Fn func(ctx context.Context, req Request) (*Result, error)
}

func (m MatcherFunc) Name() string {
	return m.ID
}

func (m MatcherFunc) Match(ctx context.Context, req Request) (*Result, error) {
	return m.Fn(ctx, req)
}
