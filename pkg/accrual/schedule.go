package accrual

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/henryk/byro/pkg/members"
)

// addMonths moves t by n calendar months, keeping the day of month where it
// exists and clamping to the last day otherwise (Jan 31 + 1 = Feb 29 in a
// leap year).
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	if last := first.AddDate(0, 1, -1).Day(); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

// Anchors returns the billing dates of ms from cutoff up to and including
// until. Anchors are always counted from ms.Start so that they do not drift
// with the cutoff; a zero cutoff means no lower bound.
func Anchors(ms members.Membership, cutoff, until time.Time) []time.Time {
	if ms.Interval <= 0 {
		return nil
	}

	start := members.Day(ms.Start)
	limit := members.Day(until)

	var anchors []time.Time
	for k := 0; ; k++ {
		anchor := addMonths(start, k*ms.Interval)
		if anchor.After(limit) || !ms.ActiveAt(anchor) {
			break
		}
		if !cutoff.IsZero() && anchor.Before(cutoff) {
			continue
		}
		anchors = append(anchors, anchor)
	}
	return anchors
}

type dueDate struct {
	Date   time.Time
	Amount decimal.Decimal
}

// dueDates merges the anchors of all memberships. Memberships that fall due
// on the same day owe their amounts together.
func dueDates(memberships []members.Membership, cutoff, until time.Time) []dueDate {
	byDate := make(map[time.Time]decimal.Decimal)
	for _, ms := range memberships {
		for _, anchor := range Anchors(ms, cutoff, until) {
			byDate[anchor] = byDate[anchor].Add(ms.Amount)
		}
	}

	out := make([]dueDate, 0, len(byDate))
	for date, amount := range byDate {
		out = append(out, dueDate{Date: date, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
