package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"expenses/internal/core"
	"expenses/internal/pipeline"
	"expenses/internal/records"
	"expenses/internal/services"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

type expenseResponse struct {
	ID            int64           `json:"id"`
	Title         string          `json:"title"`
	Amount        decimal.Decimal `json:"amount"`
	AmountDisplay string          `json:"amount_display"`
	Category      string          `json:"category"`
	Note          string          `json:"note,omitempty"`
	Date          string          `json:"date"`
}

type categoryTotal struct {
	Name          string          `json:"name"`
	Amount        decimal.Decimal `json:"amount"`
	AmountDisplay string          `json:"amount_display"`
}

type filterResponse struct {
	From     string  `json:"from"`
	To       string  `json:"to"`
	Category *string `json:"category"`
}

type snapshotResponse struct {
	Generation   uint64            `json:"generation"`
	Filter       filterResponse    `json:"filter"`
	Currency     string            `json:"currency"`
	Symbol       string            `json:"symbol"`
	Expenses     []expenseResponse `json:"expenses"`
	Total        decimal.Decimal   `json:"total"`
	TotalDisplay string            `json:"total_display"`
	ByCategory   []categoryTotal   `json:"by_category"`
	ComputedAt   string            `json:"computed_at"`
}

type conversionResponse struct {
	Currency      string  `json:"currency"`
	From          string  `json:"from"`
	CorrelationID string  `json:"correlation_id,omitempty"`
	Converted     []int64 `json:"converted"`
	FailedIDs     []int64 `json:"failed_ids"`
}

type errorResponse struct {
	Error         string  `json:"error"`
	CorrelationID string  `json:"correlation_id,omitempty"`
	FailedIDs     []int64 `json:"failed_ids,omitempty"`
}

func newExpenseResponse(e core.Expense, c core.Currency) expenseResponse {
	return expenseResponse{
		ID:            e.ID,
		Title:         e.Title,
		Amount:        e.Amount,
		AmountDisplay: core.Format(e.Amount, c),
		Category:      e.Category,
		Note:          e.Note,
		Date:          formatTime(e.Date),
	}
}

func newFilterResponse(f core.Filter) filterResponse {
	return filterResponse{From: formatTime(f.From), To: formatTime(f.To), Category: f.Category}
}

func newSnapshotResponse(s pipeline.Snapshot) snapshotResponse {
	out := snapshotResponse{
		Generation:   s.Generation,
		Filter:       newFilterResponse(s.Filter),
		Currency:     s.Currency.String(),
		Symbol:       s.Currency.Symbol(),
		Expenses:     make([]expenseResponse, 0, len(s.Records)),
		Total:        s.Total,
		TotalDisplay: core.Format(s.Total, s.Currency),
		ByCategory:   make([]categoryTotal, 0, len(s.ByCategory)),
		ComputedAt:   formatTime(s.ComputedAt),
	}
	for _, e := range s.Records {
		out.Expenses = append(out.Expenses, newExpenseResponse(e, s.Currency))
	}
	for _, c := range s.Categories() {
		out.ByCategory = append(out.ByCategory, categoryTotal{
			Name:          c.Name,
			Amount:        c.Amount,
			AmountDisplay: core.Format(c.Amount, s.Currency),
		})
	}
	return out
}

func newConversionResponse(r services.ConversionReport) conversionResponse {
	converted := r.Converted
	if converted == nil {
		converted = []int64{}
	}
	return conversionResponse{
		Currency:      r.To.String(),
		From:          r.From.String(),
		CorrelationID: r.CorrelationID,
		Converted:     converted,
		FailedIDs:     r.FailedIDs(),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// writeJSON sends v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var partial *services.PartialConversionError
	switch {
	case errors.As(err, &partial):
		return http.StatusInternalServerError
	case errors.Is(err, services.ErrStaleConversion):
		return http.StatusConflict
	case errors.Is(err, core.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, records.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError reports err without leaking store internals.
func writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	var partial *services.PartialConversionError
	switch {
	case errors.As(err, &partial):
		writeJSON(w, status, errorResponse{
			Error:         "some expenses could not be converted",
			CorrelationID: partial.CorrelationID,
			FailedIDs:     failedIDs(partial),
		})
	case status == http.StatusConflict:
		writeError(w, status, services.ErrStaleConversion.Error())
	case status == http.StatusUnprocessableEntity:
		writeError(w, status, validationMessage(err))
	case status == http.StatusNotFound:
		writeError(w, status, "expense not found")
	default:
		writeError(w, status, "internal error")
	}
}

func failedIDs(e *services.PartialConversionError) []int64 {
	ids := make([]int64, 0, len(e.Failures))
	for _, f := range e.Failures {
		ids = append(ids, f.ID)
	}
	return ids
}

func validationMessage(err error) string {
	for _, known := range []error{
		core.ErrInvalidAmount,
		core.ErrEmptyTitle,
		core.ErrTitleTooLong,
		core.ErrEmptyCategory,
		core.ErrInvalidDate,
		core.ErrInvalidCurrency,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}
