package http

import (
	"errors"
	"net/http"

	"expenses/internal/core"
	applog "expenses/internal/log"
)

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	if snap.Generation == 0 {
		var err error
		snap, err = s.tracker.Sync(r.Context())
		if err != nil {
			s.logger.LogError(r.Context(), "Failed to compute snapshot", err, applog.ComponentPipeline, applog.OpList, nil)
			writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, newSnapshotResponse(snap))
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	params, err := req.params()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	id, err := s.tracker.AddExpense(r.Context(), params)
	if err != nil {
		s.logFailure(r, "Failed to add expense", err, applog.OpCreate)
		writeDomainError(w, err)
		return
	}
	s.logger.LogExpenseCreated(r.Context(), id, params.Amount.String(), params.Category, s.tracker.Currency().String())

	s.syncAfterWrite(r)
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	e, err := req.expense(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := s.tracker.UpdateExpense(r.Context(), e); err != nil {
		s.logFailure(r, "Failed to update expense", err, applog.OpUpdate)
		writeDomainError(w, err)
		return
	}

	s.syncAfterWrite(r)
	writeJSON(w, http.StatusOK, newExpenseResponse(e.Normalize(), s.tracker.Currency()))
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.tracker.DeleteExpense(r.Context(), core.Expense{ID: id}); err != nil {
		s.logFailure(r, "Failed to delete expense", err, applog.OpDelete)
		writeDomainError(w, err)
		return
	}

	s.syncAfterWrite(r)
	w.WriteHeader(http.StatusNoContent)
}

// syncAfterWrite waits for the snapshot to include the write so a client
// reading right after gets its own change back.
func (s *Server) syncAfterWrite(r *http.Request) {
	if _, err := s.tracker.Sync(r.Context()); err != nil {
		s.logger.LogError(r.Context(), "Snapshot refresh after write failed", err, applog.ComponentPipeline, applog.OpList, nil)
	}
}

// logFailure logs store failures; validation and not-found are client errors
// and only show up in the request log.
func (s *Server) logFailure(r *http.Request, msg string, err error, op string) {
	if statusFor(err) < http.StatusInternalServerError {
		return
	}
	errType := applog.ErrorTypeDatabase
	if errors.Is(err, core.ErrValidation) {
		errType = applog.ErrorTypeValidation
	}
	s.logger.LogError(r.Context(), msg, err, applog.ComponentExpense, op, applog.NewFields().WithErrorType(errType))
}
