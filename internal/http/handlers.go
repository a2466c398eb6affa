package http

import (
	"errors"
	"net/http"

	"expenses/internal/core"
	applog "expenses/internal/log"
	"expenses/internal/services"
)

func (s *Server) handleGetFilter(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newFilterResponse(s.tracker.Filter()))
}

func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := req.filter(s.now())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	snap, err := s.tracker.SetFilter(r.Context(), f)
	if err != nil {
		s.logger.LogError(r.Context(), "Failed to apply filter", err, applog.ComponentPipeline, applog.OpFilter, nil)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSnapshotResponse(snap))
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.tracker.Categories(r.Context())
	if err != nil {
		s.logger.LogError(r.Context(), "Failed to list categories", err, applog.ComponentStorage, applog.OpList, nil)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"categories": cats})
}

type settingsResponse struct {
	Currency   string   `json:"currency"`
	Symbol     string   `json:"symbol"`
	DarkMode   bool     `json:"dark_mode"`
	Currencies []string `json:"currencies"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	c := s.tracker.Currency()
	resp := settingsResponse{Currency: c.String(), Symbol: c.Symbol(), DarkMode: s.tracker.DarkMode()}
	for _, cur := range core.Currencies() {
		resp.Currencies = append(resp.Currencies, cur.String())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetCurrency(w http.ResponseWriter, r *http.Request) {
	var req currencyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := core.ParseCurrency(req.Currency)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	report, err := s.tracker.SetCurrency(r.Context(), c)
	s.writeConversion(w, r, report, err)
}

func (s *Server) handleRetryConversion(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := req.report()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	next, err := s.tracker.RetryConversion(r.Context(), report)
	s.writeConversion(w, r, next, err)
}

func (s *Server) writeConversion(w http.ResponseWriter, r *http.Request, report services.ConversionReport, err error) {
	if err != nil {
		if !errors.Is(err, core.ErrValidation) && !errors.Is(err, services.ErrStaleConversion) {
			s.logger.LogError(r.Context(), "Currency switch failed", err, applog.ComponentCurrency, applog.OpConvert,
				applog.NewFields().WithErrorType(applog.ErrorTypeConversion))
		}
		var partial *services.PartialConversionError
		if errors.As(err, &partial) {
			s.syncAfterWrite(r)
		}
		writeDomainError(w, err)
		return
	}
	s.syncAfterWrite(r)
	writeJSON(w, http.StatusOK, newConversionResponse(report))
}

func (s *Server) handleSetDarkMode(w http.ResponseWriter, r *http.Request) {
	var req darkModeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusUnprocessableEntity, "enabled is required")
		return
	}

	if err := s.tracker.SetDarkMode(r.Context(), *req.Enabled); err != nil {
		s.logger.LogError(r.Context(), "Failed to save dark mode", err, applog.ComponentStorage, applog.OpUpdate, nil)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"dark_mode": *req.Enabled})
}
