package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kestrel/core/state"
	"kestrel/native/registry"
	"kestrel/native/sale"
	"kestrel/native/token"
	"kestrel/native/vesting"
	"kestrel/observability"
)

// Server exposes the read views, the transfer entry point and the owner-gated
// administrative surface over HTTP.
type Server struct {
	tokenEngine   *token.Engine
	vestingEngine *vesting.Engine
	saleEngine    *sale.Engine
	approvals     *registry.Registry
	manager       *state.Manager
	adminToken    string
	logger        *slog.Logger
	limiter       *RateLimiter
	metrics       *observability.LedgerMetrics
}

// Config wires the server's collaborators. SaleEngine may be nil when no
// sale is configured.
type Config struct {
	TokenEngine   *token.Engine
	VestingEngine *vesting.Engine
	SaleEngine    *sale.Engine
	Approvals     *registry.Registry
	Manager       *state.Manager
	AdminToken    string
	Logger        *slog.Logger
	RateLimits    map[string]RateLimit
}

// NewServer builds the HTTP server around the supplied engines.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limits := cfg.RateLimits
	if limits == nil {
		limits = map[string]RateLimit{
			"read":  {RequestsPerMinute: 600, Burst: 30},
			"tx":    {RequestsPerMinute: 120, Burst: 10},
			"admin": {RequestsPerMinute: 60, Burst: 5},
		}
	}
	return &Server{
		tokenEngine:   cfg.TokenEngine,
		vestingEngine: cfg.VestingEngine,
		saleEngine:    cfg.SaleEngine,
		approvals:     cfg.Approvals,
		manager:       cfg.Manager,
		adminToken:    strings.TrimSpace(cfg.AdminToken),
		logger:        logger,
		limiter:       NewRateLimiter(limits),
		metrics:       observability.Ledger(),
	}
}

// Router assembles the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware("read"))
			r.Get("/token/balance/{address}", s.instrument("balance", s.handleBalance))
			r.Get("/token/config", s.instrument("guard_config", s.handleGuardConfig))
			r.Get("/vesting/beneficiaries", s.instrument("beneficiaries", s.handleBeneficiaries))
			r.Get("/vesting/{address}", s.instrument("schedule", s.handleSchedule))
			r.Get("/registry/{address}", s.instrument("approval", s.handleApproval))
		})
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware("tx"))
			r.Post("/token/transfer", s.instrument("transfer", s.handleTransfer))
			r.Post("/vesting/{address}/release", s.instrument("release", s.handleRelease))
			r.Post("/sale/contribute", s.instrument("contribute", s.handleContribute))
			r.Post("/sale/claim", s.instrument("claim", s.handleClaim))
		})
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware("admin"))
			r.Use(s.requireAdmin)
			r.Post("/admin/guard/enable-trading", s.instrument("enable_trading", s.handleEnableTrading))
			r.Post("/admin/guard/fees", s.instrument("set_fees", s.handleSetFees))
			r.Post("/admin/guard/fee-sink", s.instrument("set_fee_sink", s.handleSetFeeSink))
			r.Post("/admin/guard/limits", s.instrument("set_limits", s.handleSetLimits))
			r.Post("/admin/guard/sunset", s.instrument("set_sunset", s.handleSetSunset))
			r.Post("/admin/guard/pause", s.instrument("set_pause", s.handleSetPause))
			r.Post("/admin/guard/kyc", s.instrument("set_kyc", s.handleSetKYC))
			r.Post("/admin/guard/membership", s.instrument("set_membership", s.handleSetMembership))
			r.Post("/admin/guard/lock", s.instrument("lock_category", s.handleLockCategory))
			r.Post("/admin/registry", s.instrument("set_approval", s.handleSetApproval))
			r.Post("/admin/vesting/create", s.instrument("vesting_create", s.handleCreateSchedule))
			r.Post("/admin/vesting/grant-stream", s.instrument("grant_stream", s.handleGrantStream))
			r.Post("/admin/vesting/grant-tranches", s.instrument("grant_tranches", s.handleGrantTranches))
			r.Post("/admin/vesting/{address}/increase", s.instrument("vesting_increase", s.handleIncreaseSchedule))
			r.Post("/admin/vesting/{address}/revoke", s.instrument("vesting_revoke", s.handleRevoke))
			r.Post("/admin/sale/finalize", s.instrument("sale_finalize", s.handleFinalizeSale))
		})
	})
	return r
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if s.adminToken == "" {
			http.Error(w, "admin surface disabled", http.StatusForbidden)
			return
		}
		header := strings.TrimSpace(req.Header.Get("Authorization"))
		if header != "Bearer "+s.adminToken {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (s *Server) instrument(route string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, req)
		outcome := "ok"
		if recorder.status >= 400 {
			outcome = "error"
		}
		s.metrics.RPC.WithLabelValues(route, outcome).Inc()
		s.metrics.Latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		s.logger.Info("rpc request",
			"route", route,
			"status", recorder.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the engines' stable failure reasons onto HTTP statuses.
// The reason string travels unchanged so callers can branch on it.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, token.ErrSystemPaused),
		errors.Is(err, token.ErrTradingNotOpen),
		errors.Is(err, token.ErrCooldownActive),
		errors.Is(err, sale.ErrSaleClosed),
		errors.Is(err, sale.ErrSaleNotFinalized):
		status = http.StatusConflict
	case errors.Is(err, token.ErrBlacklisted),
		errors.Is(err, token.ErrRecipientNotApproved),
		errors.Is(err, token.ErrSniperWindowEOAOnly),
		errors.Is(err, sale.ErrNotApproved):
		status = http.StatusForbidden
	case errors.Is(err, token.ErrCategoryLocked),
		errors.Is(err, token.ErrTradingAlreadyOpen),
		errors.Is(err, vesting.ErrScheduleExists),
		errors.Is(err, vesting.ErrScheduleRevoked),
		errors.Is(err, vesting.ErrNotRevocable),
		errors.Is(err, sale.ErrSaleFinalized):
		status = http.StatusConflict
	case errors.Is(err, vesting.ErrScheduleNotFound):
		status = http.StatusNotFound
	case errors.Is(err, token.ErrMaxTxExceeded),
		errors.Is(err, token.ErrMaxWalletExceeded),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, token.ErrFeeCapExceeded),
		errors.Is(err, token.ErrFractionOutOfRange),
		errors.Is(err, vesting.ErrInvalidAmount),
		errors.Is(err, vesting.ErrInvalidDuration),
		errors.Is(err, vesting.ErrInvalidRole),
		errors.Is(err, vesting.ErrNothingToRelease),
		errors.Is(err, sale.ErrInvalidAmount),
		errors.Is(err, sale.ErrBelowMinimum),
		errors.Is(err, sale.ErrAboveMaximum),
		errors.Is(err, sale.ErrNothingToClaim):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decodeBody(req *http.Request, out any) error {
	defer req.Body.Close()
	decoder := json.NewDecoder(req.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

// bumpOrdinal advances the host's block-ordering counter; every mutating
// operation observes a fresh ordinal.
func (s *Server) bumpOrdinal(w http.ResponseWriter) bool {
	if _, err := s.manager.BumpOrdinal(); err != nil {
		writeError(w, err)
		return false
	}
	return true
}
