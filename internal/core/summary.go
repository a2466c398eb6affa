package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount decimal.Decimal
}

// AggregateResult is the derived view of a filtered record set. It is
// computed wholesale and never mutated afterwards.
type AggregateResult struct {
	Records    []Expense
	Total      decimal.Decimal
	ByCategory map[string]decimal.Decimal
}

// SortRecords orders records by date descending, breaking ties by ascending ID.
func SortRecords(records []Expense) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		return a.ID < b.ID
	})
}

// Sum adds up the amounts; an empty set sums to zero.
func Sum(records []Expense) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Amount)
	}
	return total
}

// GroupSum sums amounts per category. Categories without records are absent.
func GroupSum(records []Expense) map[string]decimal.Decimal {
	sums := make(map[string]decimal.Decimal)
	for _, r := range records {
		sums[r.Category] = sums[r.Category].Add(r.Amount)
	}
	return sums
}

// Aggregate copies and sorts records and derives both totals from that copy.
func Aggregate(records []Expense) AggregateResult {
	sorted := append([]Expense(nil), records...)
	SortRecords(sorted)
	return AggregateResult{
		Records:    sorted,
		Total:      Sum(sorted),
		ByCategory: GroupSum(sorted),
	}
}

// Categories returns the per-category totals sorted by name.
func (r AggregateResult) Categories() []CategoryAmount {
	out := make([]CategoryAmount, 0, len(r.ByCategory))
	for name, amount := range r.ByCategory {
		out = append(out, CategoryAmount{Name: name, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
