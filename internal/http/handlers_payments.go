package http

import (
	"net/http"

	"ricorrenti/internal/core"
	"ricorrenti/internal/log"
)

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := s.controller.ListPayments(r.Context())
	if err != nil {
		s.writeError(w, r, "list", err)
		return
	}
	if payments == nil {
		payments = []core.PlannedPayment{}
	}
	JSON(http.StatusOK, payments).Write(w)
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	p := req.Payment()
	if err := p.Validate(); err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}

	created, err := s.controller.CreatePayment(r.Context(), p)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	JSON(http.StatusCreated, created).
		Header("Location", "/payments/"+created.ID).
		Write(w)
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := s.controller.GetPayment(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, "get", err)
		return
	}
	JSON(http.StatusOK, p).Write(w)
}

// handleReplacePayment swaps the facts and rule of a payment. Unknown ids
// are a silent no-op like every other mutation.
func (s *Server) handleReplacePayment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req PaymentRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if req.ID != "" && req.ID != id {
		BadRequestError("body id does not match path").Write(w)
		return
	}

	p := req.Payment()
	p.ID = id
	if err := p.Validate(); err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}

	if err := s.controller.ReplacePayment(r.Context(), p); err != nil {
		s.writeError(w, r, log.OpReplace, err)
		return
	}
	NoContent().Write(w)
}

func (s *Server) handleDeletePayment(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.DeletePayment(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	NoContent().Write(w)
}

func (s *Server) handleReplaceRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	rule := req.Rule()
	if err := rule.Validate(); err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}

	if err := s.controller.ReplaceRule(r.Context(), r.PathValue("id"), rule); err != nil {
		s.writeError(w, r, log.OpReplaceRule, err)
		return
	}
	NoContent().Write(w)
}
