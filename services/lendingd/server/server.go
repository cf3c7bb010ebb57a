package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"openlend/crypto"
	"openlend/gateway/middleware"
	"openlend/native/lending"
	"openlend/observability"
)

const requestBodyLimit = 1 << 20 // 1 MiB

// Server exposes the lending engine over HTTP. The engine is not safe for
// concurrent use, so every mutating and reading call is serialized behind the
// server mutex with the engine clock pinned to wall time first.
type Server struct {
	engine *lending.Engine
	pauses *PauseSwitch
	logger *slog.Logger
	mu     sync.Mutex
	now    func() time.Time
}

func New(engine *lending.Engine, pauses *PauseSwitch, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if pauses == nil {
		pauses = NewPauseSwitch()
	}
	return &Server{
		engine: engine,
		pauses: pauses,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the wall clock, used by tests to make accrual
// deterministic.
func (s *Server) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RouterConfig carries the middleware stack assembled by main.
type RouterConfig struct {
	Auth          *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
}

// Router builds the chi handler tree for the service.
func (s *Server) Router(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(s.requestID)
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	if cfg.Observability != nil {
		r.Handle("/metrics/http", cfg.Observability.MetricsHandler())
	}

	r.Route("/v1/lending", func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware("lending"))
		}

		sr.Get("/reserves", s.handleListReserves)
		sr.Get("/reserves/{asset}", s.handleGetReserve)
		sr.Get("/accounts/{address}", s.handleGetAccount)
		sr.Get("/positions/{address}/{asset}", s.handleGetPosition)

		sr.Group(func(wr chi.Router) {
			if cfg.Auth != nil {
				wr.Use(cfg.Auth.Middleware("lending.write"))
			}
			wr.Post("/deposit", s.handleDeposit)
			wr.Post("/withdraw", s.handleWithdraw)
			wr.Post("/borrow", s.handleBorrow)
			wr.Post("/repay", s.handleRepay)
			wr.Post("/collateral", s.handleSetCollateral)
			wr.Post("/liquidate", s.handleLiquidate)
		})
	})

	r.Route("/v1/admin", func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware("admin"))
		}
		if cfg.Auth != nil {
			sr.Use(cfg.Auth.Middleware("lending.admin"))
		}
		sr.Post("/reserves", s.handleAddReserve)
		sr.Put("/reserves/{asset}/config", s.handleSetReserveConfig)
		sr.Post("/reserves/{asset}/pause", s.handleSetReservePaused)
		sr.Post("/pause", s.handleSetModulePaused)
		sr.Post("/fees/withdraw", s.handleWithdrawFees)
	})

	return r
}

// requestID tags every request with a correlation id, echoed back to the
// client and attached to the request-scoped logger.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// run serializes an engine call, pins the engine clock and records the
// operation metric.
func (s *Server) run(op string, fn func() error) error {
	start := time.Now()
	s.mu.Lock()
	s.engine.SetTimestamp(uint64(s.now().Unix()))
	err := fn()
	s.mu.Unlock()
	observability.Lending().RecordOperation(op, err, time.Since(start))
	if err != nil {
		s.logger.Warn("engine operation failed", "op", op, "error", err)
	}
	return err
}

func decodeBody(r *http.Request, out interface{}) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, requestBodyLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func parseAddress(field, value string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

func parseOptionalAddress(field, value string, fallback crypto.Address) (crypto.Address, error) {
	if strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	return parseAddress(field, value)
}

// parseAmount decodes a positive decimal amount; "all" selects the
// full-balance sentinel when allowAll is set.
func parseAmount(value string, allowAll bool) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if allowAll && strings.EqualFold(trimmed, "all") {
		return lending.WithdrawAll, nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a base-10 integer", value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func parseRateMode(value string) (lending.RateMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "variable":
		return lending.RateModeVariable, nil
	case "stable":
		return lending.RateModeStable, nil
	default:
		return lending.RateModeNone, fmt.Errorf("rate mode %q must be variable or stable", value)
	}
}

type depositRequest struct {
	Supplier   string `json:"supplier"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	OnBehalfOf string `json:"onBehalfOf,omitempty"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	supplier, err := parseAddress("supplier", req.Supplier)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	onBehalfOf, err := parseOptionalAddress("onBehalfOf", req.OnBehalfOf, supplier)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.run("deposit", func() error {
		return s.engine.Deposit(supplier, req.Asset, amount, onBehalfOf)
	}); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type withdrawRequest struct {
	Supplier string `json:"supplier"`
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	To       string `json:"to,omitempty"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	supplier, err := parseAddress("supplier", req.Supplier)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseOptionalAddress("to", req.To, supplier)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.run("withdraw", func() error {
		return s.engine.Withdraw(supplier, req.Asset, amount, to)
	}); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type borrowRequest struct {
	Borrower   string `json:"borrower"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	RateMode   string `json:"rateMode"`
	OnBehalfOf string `json:"onBehalfOf,omitempty"`
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	borrower, err := parseAddress("borrower", req.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	onBehalfOf, err := parseOptionalAddress("onBehalfOf", req.OnBehalfOf, borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	mode, err := parseRateMode(req.RateMode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.run("borrow", func() error {
		return s.engine.Borrow(borrower, req.Asset, amount, mode, onBehalfOf)
	}); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type repayRequest struct {
	Payer      string `json:"payer"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	RateMode   string `json:"rateMode"`
	OnBehalfOf string `json:"onBehalfOf,omitempty"`
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payer, err := parseAddress("payer", req.Payer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	onBehalfOf, err := parseOptionalAddress("onBehalfOf", req.OnBehalfOf, payer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	mode, err := parseRateMode(req.RateMode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.run("repay", func() error {
		return s.engine.Repay(payer, req.Asset, amount, mode, onBehalfOf)
	}); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type collateralRequest struct {
	User    string `json:"user"`
	Asset   string `json:"asset"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleSetCollateral(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.run("set_collateral", func() error {
		return s.engine.SetUsingAsCollateral(user, req.Asset, req.Enabled)
	}); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type liquidateRequest struct {
	Liquidator      string `json:"liquidator"`
	CollateralAsset string `json:"collateralAsset"`
	DebtAsset       string `json:"debtAsset"`
	User            string `json:"user"`
	DebtToCover     string `json:"debtToCover"`
	ReceiveClaim    bool   `json:"receiveClaim"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	liquidator, err := parseAddress("liquidator", req.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	debtToCover, err := parseAmount(req.DebtToCover, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.run("liquidate", func() error {
		return s.engine.LiquidationCall(liquidator, req.CollateralAsset, req.DebtAsset, user, debtToCover, req.ReceiveClaim)
	}); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListReserves(w http.ResponseWriter, r *http.Request) {
	var reserves []*lending.ReserveData
	if err := s.run("list_reserves", func() error {
		var err error
		reserves, err = s.engine.ListReserveData()
		return err
	}); err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]*reservePayload, 0, len(reserves))
	for _, reserve := range reserves {
		out = append(out, reserveToPayload(reserve))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reserves": out})
}

func (s *Server) handleGetReserve(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	var reserve *lending.ReserveData
	if err := s.run("get_reserve", func() error {
		var err error
		reserve, err = s.engine.GetReserveData(asset)
		return err
	}); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reserveToPayload(reserve))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var data *lending.AccountData
	if err := s.run("get_account", func() error {
		var err error
		data, err = s.engine.GetUserAccountData(addr)
		return err
	}); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountToPayload(addr, data))
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset := chi.URLParam(r, "asset")
	var position *lending.UserPosition
	if err := s.run("get_position", func() error {
		var err error
		position, err = s.engine.GetPosition(asset, addr)
		return err
	}); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionToPayload(position))
}
