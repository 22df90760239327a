package reconcile

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoMatcherHandled = errors.New("no matcher handled the raw transaction")
	ErrAmbiguousMatch   = errors.New("more than one matcher claimed the raw transaction")
	ErrMatchFailed      = errors.New("matcher produced no transactions")
)

// AmbiguousMatchError names the matchers that all claimed one raw
// transaction. It is a configuration problem, not a data problem.
type AmbiguousMatchError struct {
	RawID    uint
	Matchers []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("%s: raw transaction %d claimed by %s", ErrAmbiguousMatch, e.RawID, strings.Join(e.Matchers, ", "))
}

func (e *AmbiguousMatchError) Is(target error) bool {
	return target == ErrAmbiguousMatch
}

// MatchFailedError reports a matcher that answered with an empty result.
type MatchFailedError struct {
	RawID   uint
	Matcher string
}

func (e *MatchFailedError) Error() string {
	return fmt.Sprintf("%s: %s on raw transaction %d", ErrMatchFailed, e.Matcher, e.RawID)
}

func (e *MatchFailedError) Is(target error) bool {
	return target == ErrMatchFailed
}
