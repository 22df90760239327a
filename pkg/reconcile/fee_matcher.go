package reconcile

import (
	"context"
	"strings"
	"unicode"

	"github.com/henryk/byro/pkg/ledger"
	"github.com/henryk/byro/pkg/log"
)

// MemberLookup resolves member numbers.
type MemberLookup interface {
	MemberNumbers(ctx context.Context) (map[string]uint, error)
}

// MemberFeeMatcher claims incoming payments whose reference mentions
// exactly one member number and books them as a fee payment: debit the
// bank account, credit fees receivable for that member.
type MemberFeeMatcher struct {
	members       MemberLookup
	bankAccountID uint
}

func NewMemberFeeMatcher(members MemberLookup, bankAccountID uint) *MemberFeeMatcher {
	return &MemberFeeMatcher{members: members, bankAccountID: bankAccountID}
}

func (m *MemberFeeMatcher) Name() string {
	return "member_fee"
}

func (m *MemberFeeMatcher) Match(ctx context.Context, req Request) (*Result, error) {
	raw := req.Raw
	if !raw.Amount.IsPositive() {
		return nil, nil
	}

	numbers, err := m.members.MemberNumbers(ctx)
	if err != nil {
		return nil, err
	}

	found := make(map[uint]struct{})
	for _, token := range referenceTokens(raw.Reference) {
		for number, id := range numbers {
			if strings.EqualFold(token, number) {
				found[id] = struct{}{}
			}
		}
	}

	switch len(found) {
	case 0:
		return nil, nil
	case 1:
	default:
		// Recognised, but the payment would have to be split by hand.
		log.FromContext(ctx).Warn("payment reference names several members", "raw", raw.ID, "members", len(found))
		return &Result{}, nil
	}

	var memberID uint
	for id := range found {
		memberID = id
	}

	t := ledger.NewTransaction(raw.Reference, raw.ValueDate)
	t.Debit(m.bankAccountID, raw.Amount, ledger.ImportedBy(m.Name()))
	t.Credit(req.Settings.FeesReceivableAccountID, raw.Amount,
		ledger.ForMember(memberID), ledger.ImportedBy(m.Name()), ledger.WithMemo(raw.Counterparty))
	return &Result{Transactions: []*ledger.Transaction{t}}, nil
}

// referenceTokens splits a payment reference into candidate member numbers.
func referenceTokens(reference string) []string {
	return strings.FieldsFunc(reference, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(",;:()[]", r)
	})
}
