package http

import (
	"net/http"

	"ricorrenti/internal/core"
	"ricorrenti/internal/log"
)

// OccurrencesResponse is a projection over one window.
type OccurrencesResponse struct {
	Today       core.Date         `json:"today"`
	Until       core.Date         `json:"until"`
	Occurrences []core.Occurrence `json:"occurrences"`
}

func (s *Server) handlePaymentOccurrences(w http.ResponseWriter, r *http.Request) {
	window, err := ParseWindow(r.URL.Query(), s.today(), s.horizonDays)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	occs, err := s.controller.Projection(r.Context(), r.PathValue("id"), window)
	if err != nil {
		s.writeError(w, r, log.OpProject, err)
		return
	}
	JSON(http.StatusOK, OccurrencesResponse{Today: window.Today, Until: window.Until, Occurrences: nonNil(occs)}).Write(w)
}

func (s *Server) handleAllOccurrences(w http.ResponseWriter, r *http.Request) {
	window, err := ParseWindow(r.URL.Query(), s.today(), s.horizonDays)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	occs, err := s.controller.ProjectAll(r.Context(), window)
	if err != nil {
		s.writeError(w, r, log.OpProject, err)
		return
	}
	JSON(http.StatusOK, OccurrencesResponse{Today: window.Today, Until: window.Until, Occurrences: nonNil(occs)}).Write(w)
}

// handlePayEarly answers 201 with the transaction that realizes the
// occurrence, the same one on every repeat, or 204 for unknown payments.
func (s *Server) handlePayEarly(w http.ResponseWriter, r *http.Request) {
	var req DateRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if err := RequireDate(req.Date, "date"); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	tx, err := s.controller.PayEarly(r.Context(), r.PathValue("id"), req.Date)
	if err != nil {
		s.writeError(w, r, log.OpPayEarly, err)
		return
	}
	if tx == nil {
		NoContent().Write(w)
		return
	}
	JSON(http.StatusCreated, tx).Write(w)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	var req DateRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if err := RequireDate(req.Date, "date"); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	if err := s.controller.DeleteOccurrence(r.Context(), r.PathValue("id"), req.Date); err != nil {
		s.writeError(w, r, log.OpSkip, err)
		return
	}
	NoContent().Write(w)
}

func (s *Server) handleTruncate(w http.ResponseWriter, r *http.Request) {
	var req CutoffRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if err := RequireDate(req.Cutoff, "cutoff"); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	if err := s.controller.DeleteAllFuture(r.Context(), r.PathValue("id"), req.Cutoff); err != nil {
		s.writeError(w, r, log.OpTruncate, err)
		return
	}
	NoContent().Write(w)
}

func nonNil(occs []core.Occurrence) []core.Occurrence {
	if occs == nil {
		return []core.Occurrence{}
	}
	return occs
}
