package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type (
	// Expense is a single recorded expense. Amount is stored in whatever
	// display currency was active when it was created or last converted.
	Expense struct {
		ID       int64 // Store-assigned, zero until inserted
		Title    string
		Amount   decimal.Decimal
		Category string
		Note     string // Empty means no note
		Date     time.Time
	}

	// Filter selects the visible expenses: From <= Date <= To and, when
	// Category is set, an exact category match.
	Filter struct {
		From     time.Time
		To       time.Time
		Category *string
	}
)

var (
	ErrValidation      = errors.New("validation error")
	ErrInvalidAmount   = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrEmptyTitle      = fmt.Errorf("%w: empty title", ErrValidation)
	ErrTitleTooLong    = fmt.Errorf("%w: title too long (max 200 characters)", ErrValidation)
	ErrEmptyCategory   = fmt.Errorf("%w: empty category", ErrValidation)
	ErrInvalidDate     = fmt.Errorf("%w: invalid date", ErrValidation)
	ErrInvalidCurrency = fmt.Errorf("%w: invalid currency", ErrValidation)
)

const maxTitleLength = 200

// DefaultCategories is the category list offered for new expenses.
var DefaultCategories = []string{"Hrana", "Prijevoz", "Stan", "Zabava", "Ostalo"}

// Validate checks the user-editable fields. The ID is not inspected.
func (e Expense) Validate() error {
	title := strings.TrimSpace(e.Title)
	if title == "" {
		return ErrEmptyTitle
	}
	if len(title) > maxTitleLength {
		return ErrTitleTooLong
	}
	if !e.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(e.Category) == "" {
		return ErrEmptyCategory
	}
	if e.Date.IsZero() || e.Date.Before(time.UnixMilli(0)) {
		return ErrInvalidDate
	}
	return nil
}

// Normalize trims text fields and truncates the date to UTC milliseconds,
// the precision every store persists.
func (e Expense) Normalize() Expense {
	e.Title = strings.TrimSpace(e.Title)
	e.Category = strings.TrimSpace(e.Category)
	e.Note = strings.TrimSpace(e.Note)
	e.Date = NormalizeDate(e.Date)
	return e
}

// WithAmount returns a copy with only the amount replaced.
func (e Expense) WithAmount(amount decimal.Decimal) Expense {
	e.Amount = amount
	return e
}

// NormalizeDate returns t in UTC at millisecond precision.
func NormalizeDate(t time.Time) time.Time {
	return FromMillis(t.UnixMilli())
}

// FromMillis converts Unix milliseconds to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Matches reports whether e is visible under the filter.
func (f Filter) Matches(e Expense) bool {
	if e.Date.Before(f.From) || e.Date.After(f.To) {
		return false
	}
	if f.Category != nil && e.Category != *f.Category {
		return false
	}
	return true
}

// WithCategory returns a copy of f restricted to category; an empty
// category clears the restriction.
func (f Filter) WithCategory(category string) Filter {
	category = strings.TrimSpace(category)
	if category == "" {
		f.Category = nil
		return f
	}
	f.Category = &category
	return f
}

// CategoryName returns the category restriction or "" for all categories.
func (f Filter) CategoryName() string {
	if f.Category == nil {
		return ""
	}
	return *f.Category
}

// Equal compares two filters by value.
func (f Filter) Equal(o Filter) bool {
	return f.From.Equal(o.From) && f.To.Equal(o.To) && f.CategoryName() == o.CategoryName() &&
		(f.Category == nil) == (o.Category == nil)
}

// AllTime matches every expense dated from the Unix epoch onwards.
func AllTime() Filter {
	return Filter{From: FromMillis(0), To: FromMillis(math.MaxInt64)}
}

// CurrentMonth spans from the first day of now's month, midnight in now's
// location, up to now.
func CurrentMonth(now time.Time) Filter {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return Filter{From: NormalizeDate(start), To: NormalizeDate(now)}
}
