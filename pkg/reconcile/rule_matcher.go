package reconcile

import (
	"context"
	"regexp"

	"github.com/henryk/byro/pkg/ledger"
)

// Direction restricts a rule to incoming or outgoing money.
type Direction string

const (
	DirectionAny Direction = ""
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

func (d Direction) Valid() bool {
	return d == DirectionAny || d == DirectionIn || d == DirectionOut
}

// Rule books every raw transaction whose reference and counterparty match
// against a fixed account. Money in debits the bank and credits the
// account; money out does the opposite.
type Rule struct {
	Name         string
	Reference    *regexp.Regexp
	Counterparty *regexp.Regexp
	Direction    Direction
	AccountID    uint
	Memo         string
}

// RuleMatcher applies one Rule.
type RuleMatcher struct {
	rule          Rule
	bankAccountID uint
}

func NewRuleMatcher(rule Rule, bankAccountID uint) *RuleMatcher {
	return &RuleMatcher{rule: rule, bankAccountID: bankAccountID}
}

func (m *RuleMatcher) Name() string {
	return "rule:" + m.rule.Name
}

func (m *RuleMatcher) Match(_ context.Context, req Request) (*Result, error) {
	raw := req.Raw
	if raw.Amount.IsZero() || !m.matches(raw) {
		return nil, nil
	}

	memo := m.rule.Memo
	if memo == "" {
		memo = raw.Reference
	}

	t := ledger.NewTransaction(memo, raw.ValueDate)
	amount := raw.Amount.Abs()
	bank := ledger.ImportedBy(m.Name())
	counter := []ledger.BookingOption{ledger.ImportedBy(m.Name()), ledger.WithMemo(raw.Counterparty)}
	if raw.Amount.IsPositive() {
		t.Debit(m.bankAccountID, amount, bank)
		t.Credit(m.rule.AccountID, amount, counter...)
	} else {
		t.Debit(m.rule.AccountID, amount, counter...)
		t.Credit(m.bankAccountID, amount, bank)
	}
	return &Result{Transactions: []*ledger.Transaction{t}}, nil
}

func (m *RuleMatcher) matches(raw *RawTransaction) bool {
	switch m.rule.Direction {
	case DirectionIn:
		if !raw.Amount.IsPositive() {
			return false
		}
	case DirectionOut:
		if !raw.Amount.IsNegative() {
			return false
		}
	}
	if m.rule.Reference != nil && !m.rule.Reference.MatchString(raw.Reference) {
		return false
	}
	if m.rule.Counterparty != nil && !m.rule.Counterparty.MatchString(raw.Counterparty) {
		return false
	}
	return true
}
