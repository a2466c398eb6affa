package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateScenario(t *testing.T) {
	a := Expense{ID: 1, Title: "A", Amount: dec("100"), Category: "Food", Date: day(1)}
	b := Expense{ID: 2, Title: "B", Amount: dec("50"), Category: "Food", Date: day(2)}
	c := Expense{ID: 3, Title: "C", Amount: dec("30"), Category: "Transport", Date: day(1)}

	res := Aggregate([]Expense{c, a, b})

	require.Len(t, res.Records, 3)
	assert.Equal(t, []int64{2, 1, 3}, ids(res.Records))
	assert.True(t, res.Total.Equal(dec("180")))
	require.Len(t, res.ByCategory, 2)
	assert.True(t, res.ByCategory["Food"].Equal(dec("150")))
	assert.True(t, res.ByCategory["Transport"].Equal(dec("30")))
}

func TestAggregateEmpty(t *testing.T) {
	res := Aggregate(nil)
	assert.Empty(t, res.Records)
	assert.True(t, res.Total.IsZero())
	assert.Empty(t, res.ByCategory)
}

func TestAggregateConsistency(t *testing.T) {
	var records []Expense
	cats := []string{"Hrana", "Stan", "Zabava"}
	for i := 1; i <= 30; i++ {
		records = append(records, Expense{
			ID:       int64(i),
			Amount:   decimal.New(int64(i*37%101+1), -2),
			Category: cats[i%len(cats)],
			Date:     day(i%5 + 1),
		})
	}

	res := Aggregate(records)

	sum := decimal.Zero
	for _, v := range res.ByCategory {
		sum = sum.Add(v)
	}
	assert.True(t, res.Total.Equal(sum), "total %s != sum of buckets %s", res.Total, sum)

	counts := map[string]int{}
	for _, r := range res.Records {
		counts[r.Category]++
	}
	n := 0
	for cat, c := range counts {
		_, ok := res.ByCategory[cat]
		assert.True(t, ok, "category %s missing", cat)
		n += c
	}
	assert.Equal(t, len(res.Records), n)
	assert.Len(t, res.ByCategory, len(counts))
}

func TestAggregateIsStableAndDoesNotMutateInput(t *testing.T) {
	in := []Expense{
		{ID: 5, Date: day(1)}, {ID: 2, Date: day(1)}, {ID: 9, Date: day(3)}, {ID: 1, Date: day(1)},
	}
	first := Aggregate(in)
	second := Aggregate(in)

	assert.Equal(t, []int64{9, 1, 2, 5}, ids(first.Records))
	assert.Equal(t, ids(first.Records), ids(second.Records))
	assert.Equal(t, []int64{5, 2, 9, 1}, ids(in))
}

func TestCategoriesSorted(t *testing.T) {
	res := Aggregate([]Expense{
		{ID: 1, Amount: dec("1"), Category: "Zabava", Date: day(1)},
		{ID: 2, Amount: dec("2"), Category: "Hrana", Date: day(1)},
	})
	cats := res.Categories()
	require.Len(t, cats, 2)
	assert.Equal(t, "Hrana", cats[0].Name)
	assert.Equal(t, "Zabava", cats[1].Name)
}

func ids(records []Expense) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
