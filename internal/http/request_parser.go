package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"expenses/internal/core"
	"expenses/internal/services"
)

const maxBodyBytes = 1 << 20

var (
	errBadRequest         = errors.New("malformed request body")
	errMissingCorrelation = fmt.Errorf("%w: correlation_id is required", core.ErrValidation)
)

// amountInput accepts an amount given either as a JSON number or string.
type amountInput string

func (a *amountInput) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*a = amountInput(str)
		return nil
	}
	*a = amountInput(s)
	return nil
}

type expenseRequest struct {
	Title    string      `json:"title"`
	Amount   amountInput `json:"amount"`
	Category string      `json:"category"`
	Note     string      `json:"note"`
	Date     string      `json:"date"`
}

type filterRequest struct {
	Preset   string `json:"preset"`
	From     string `json:"from"`
	To       string `json:"to"`
	Category string `json:"category"`
}

type currencyRequest struct {
	Currency string `json:"currency"`
}

// retryRequest names a partial currency switch. FailedIDs narrows the
// retry; empty retries every expense still pending from that switch.
type retryRequest struct {
	CorrelationID string  `json:"correlation_id"`
	FailedIDs     []int64 `json:"failed_ids"`
}

type darkModeRequest struct {
	Enabled *bool `json:"enabled"`
}

// decodeJSON reads a single JSON object, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("%w: trailing data", errBadRequest)
	}
	return nil
}

// params parses the amount and date; the remaining checks happen in the
// service.
func (req expenseRequest) params() (services.NewExpenseParams, error) {
	amount, err := core.ParseAmount(string(req.Amount))
	if err != nil {
		return services.NewExpenseParams{}, err
	}
	date, err := parseDate(req.Date, false)
	if err != nil {
		return services.NewExpenseParams{}, err
	}
	return services.NewExpenseParams{
		Title:    sanitizeInput(req.Title),
		Amount:   amount,
		Category: sanitizeInput(req.Category),
		Note:     sanitizeInput(req.Note),
		Date:     date,
	}, nil
}

func (req expenseRequest) expense(id int64) (core.Expense, error) {
	p, err := req.params()
	if err != nil {
		return core.Expense{}, err
	}
	return core.Expense{
		ID:       id,
		Title:    p.Title,
		Amount:   p.Amount,
		Category: p.Category,
		Note:     p.Note,
		Date:     p.Date,
	}, nil
}

// filter resolves a preset or an explicit range. Date-only bounds cover the
// whole day; a missing bound is open.
func (req filterRequest) filter(now time.Time) (core.Filter, error) {
	var f core.Filter
	switch strings.ToLower(strings.TrimSpace(req.Preset)) {
	case "current_month":
		f = core.CurrentMonth(now)
	case "all_time":
		f = core.AllTime()
	case "":
		f = core.AllTime()
		if strings.TrimSpace(req.From) != "" {
			from, err := parseDate(req.From, false)
			if err != nil {
				return core.Filter{}, err
			}
			f.From = from
		}
		if strings.TrimSpace(req.To) != "" {
			to, err := parseDate(req.To, true)
			if err != nil {
				return core.Filter{}, err
			}
			f.To = to
		}
	default:
		return core.Filter{}, fmt.Errorf("%w: unknown preset %q", core.ErrValidation, req.Preset)
	}
	return f.WithCategory(sanitizeInput(req.Category)), nil
}

// parseDate accepts YYYY-MM-DD (UTC) or RFC 3339. With endOfDay a date-only
// value resolves to the last millisecond of that day.
func parseDate(s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, core.ErrInvalidDate
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Millisecond)
		}
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, core.ErrInvalidDate
	}
	return core.NormalizeDate(t), nil
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid expense id", errBadRequest)
	}
	return id, nil
}

func (req retryRequest) report() (services.ConversionReport, error) {
	id := strings.TrimSpace(req.CorrelationID)
	if id == "" {
		return services.ConversionReport{}, errMissingCorrelation
	}
	report := services.ConversionReport{CorrelationID: id}
	for _, failed := range req.FailedIDs {
		report.Failures = append(report.Failures, services.ConversionFailure{ID: failed})
	}
	return report, nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
