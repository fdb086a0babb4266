package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"ricorrenti/internal/core"
	"ricorrenti/internal/ledger"
	"ricorrenti/internal/log"
	"ricorrenti/internal/middleware/ratelimit"
	"ricorrenti/internal/middleware/security"
	"ricorrenti/internal/middleware/trace"
	"ricorrenti/internal/services"
)

// Options tunes a Server. The zero value is usable.
type Options struct {
	// HorizonDays is the default distance of until from today.
	HorizonDays int
	// RateLimitPerMinute throttles mutating requests per client; 0 disables it.
	RateLimitPerMinute int
	// Ready backs /readyz; nil means always ready.
	Ready func(ctx context.Context) error
	// Now is the server clock used when a request has no today parameter.
	Now func() time.Time
	// Logger is the base request logger; nil uses slog's default.
	Logger *log.Logger
}

type Server struct {
	http.Server
	controller *services.MutationController

	horizonDays int
	ready       func(ctx context.Context) error
	now         func() time.Time

	tracer   *trace.Middleware
	detector *security.Detector
	limiter  *ratelimit.Limiter

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, controller *services.MutationController, opts Options) *Server {
	if opts.HorizonDays < 1 {
		opts.HorizonDays = services.DefaultHorizonDays
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		controller:  controller,
		horizonDays: opts.HorizonDays,
		ready:       opts.Ready,
		now:         opts.Now,
		detector:    security.NewDetector(),
	}
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP)
	if opts.RateLimitPerMinute > 0 {
		s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /payments", s.handleListPayments)
	mux.HandleFunc("POST /payments", s.handleCreatePayment)
	mux.HandleFunc("GET /payments/{id}", s.handleGetPayment)
	mux.HandleFunc("PUT /payments/{id}", s.handleReplacePayment)
	mux.HandleFunc("DELETE /payments/{id}", s.handleDeletePayment)
	mux.HandleFunc("PUT /payments/{id}/rule", s.handleReplaceRule)

	mux.HandleFunc("GET /occurrences", s.handleAllOccurrences)
	mux.HandleFunc("GET /payments/{id}/occurrences", s.handlePaymentOccurrences)
	mux.HandleFunc("POST /payments/{id}/pay-early", s.handlePayEarly)
	mux.HandleFunc("POST /payments/{id}/skip", s.handleSkip)
	mux.HandleFunc("POST /payments/{id}/truncate", s.handleTruncate)

	var handler http.Handler = mux
	if s.limiter != nil {
		handler = s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
			TooManyRequestsError().Write(w)
		})(handler)
	}
	handler = s.withDetection(handler)
	handler = s.tracer.Middleware(handler)
	if opts.Logger != nil {
		handler = log.Middleware(opts.Logger)(handler)
	}
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// withDetection logs probing requests. They are still served: the mux
// answers 404 for anything the API does not route.
func (s *Server) withDetection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.DetectSuspiciousRequest(r) {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Suspicious request",
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldClientIP, s.detector.ExtractClientIP(r))
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.limiter != nil {
			s.limiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// Metrics returns the request counters collected by the trace middleware.
func (s *Server) Metrics() trace.Metrics {
	return s.tracer.GetMetrics()
}

func (s *Server) today() core.Date {
	return core.DateOf(s.now())
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			slog.WarnContext(r.Context(), "Readiness check failed",
				log.FieldComponent, log.ComponentHTTP,
				log.FieldError, err)
			ServiceUnavailableError("not ready").Write(w)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// writeError maps engine errors onto status codes. Anything unexpected is
// logged and reported as 500 without leaking details.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		NotFoundError("payment not found").Write(w)
	case errors.Is(err, services.ErrPaymentExists):
		ConflictError(err.Error()).Write(w)
	case errors.Is(err, services.ErrNotRecurring):
		UnprocessableEntityError(err.Error()).Write(w)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		ServiceUnavailableError("request cancelled").Write(w)
	default:
		log.LogError(r.Context(), "Request failed", err, log.ComponentHTTP, operation,
			log.NewFields().WithPayment(r.PathValue("id"), ""))
		InternalServerError("internal error").Write(w)
	}
}
