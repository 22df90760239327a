package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/henryk/byro/pkg/ledger"
	"github.com/henryk/byro/pkg/log"
)

// Dispatcher offers raw transactions to every registered matcher and
// insists that exactly one of them claims each.
type Dispatcher struct {
	mu       sync.RWMutex
	matchers []Matcher
	settings ledger.Settings
	logger   log.Logger
}

func NewDispatcher(settings ledger.Settings, logger log.Logger, matchers ...Matcher) *Dispatcher {
	return &Dispatcher{
		matchers: matchers,
		settings: settings,
		logger:   log.OrNoop(logger).WithName("reconcile"),
	}
}

// Register adds a matcher after the ones already registered.
func (d *Dispatcher) Register(m Matcher) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.matchers = append(d.matchers, m)
}

func (d *Dispatcher) Matchers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, len(d.matchers))
	for i, m := range d.matchers {
		names[i] = m.Name()
	}
	return names
}

type response struct {
	matcher string
	result  *Result
	err     error
}

// Process returns the transactions of the single matcher that claims raw.
// All matchers run concurrently and every answer is collected before one is
// chosen:
//
//   - more than one usable result fails with *AmbiguousMatchError
//   - otherwise the first matcher error, in registration order, is returned as is
//   - otherwise the single usable result wins
//   - an empty result fails with *MatchFailedError
//   - no answer at all fails with ErrNoMatcherHandled
//
// The transactions are not persisted.
func (d *Dispatcher) Process(ctx context.Context, raw *RawTransaction) ([]*ledger.Transaction, error) {
	d.mu.RLock()
	matchers := append([]Matcher(nil), d.matchers...)
	d.mu.RUnlock()

	req := Request{Raw: raw, Settings: d.settings}
	responses := make([]response, len(matchers))

	var wg sync.WaitGroup
	for i, m := range matchers {
		wg.Add(1)
		go func(i int, m Matcher) {
			defer wg.Done()
			responses[i] = d.ask(ctx, m, req)
		}(i, m)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.adjudicate(raw, responses)
}

func (d *Dispatcher) ask(ctx context.Context, m Matcher, req Request) (resp response) {
	resp.matcher = m.Name()
	defer func() {
		if r := recover(); r != nil {
			resp.result = nil
			resp.err = fmt.Errorf("matcher %s panicked: %v", resp.matcher, r)
		}
	}()
	resp.result, resp.err = m.Match(ctx, req)
	return resp
}

func (d *Dispatcher) adjudicate(raw *RawTransaction, responses []response) ([]*ledger.Transaction, error) {
	var (
		usable    []response
		firstErr  *response
		emptyFrom string
	)
	for i := range responses {
		r := &responses[i]
		switch {
		case r.err != nil:
			if firstErr == nil {
				firstErr = r
			}
		case r.result.usable():
			usable = append(usable, *r)
		case r.result != nil && emptyFrom == "":
			emptyFrom = r.matcher
		}
	}

	logger := d.logger.WithKV("raw", raw.ID)
	switch {
	case len(usable) > 1:
		names := make([]string, len(usable))
		for i, r := range usable {
			names[i] = r.matcher
		}
		logger.Error("ambiguous match, check matcher configuration", "matchers", names)
		return nil, &AmbiguousMatchError{RawID: raw.ID, Matchers: names}

	case firstErr != nil:
		logger.Warn("matcher failed", "matcher", firstErr.matcher, "error", firstErr.err)
		return nil, firstErr.err

	case len(usable) == 1:
		for _, t := range usable[0].result.Transactions {
			if t == nil {
				return nil, &MatchFailedError{RawID: raw.ID, Matcher: usable[0].matcher}
			}
		}
		logger.Debug("raw transaction matched", "matcher", usable[0].matcher, "transactions", len(usable[0].result.Transactions))
		return usable[0].result.Transactions, nil

	case emptyFrom != "":
		return nil, &MatchFailedError{RawID: raw.ID, Matcher: emptyFrom}

	default:
		return nil, fmt.Errorf("%w: raw transaction %d", ErrNoMatcherHandled, raw.ID)
	}
}
