package server

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"openlend/native/lending"
)

// PauseSwitch is the in-memory pause authority wired into the engine. Admin
// calls flip it; guarded engine flows consult it.
type PauseSwitch struct {
	mu     sync.RWMutex
	paused map[string]bool
}

func NewPauseSwitch() *PauseSwitch {
	return &PauseSwitch{paused: make(map[string]bool)}
}

func (p *PauseSwitch) IsPaused(module string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[module]
}

func (p *PauseSwitch) SetPaused(module string, paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused[module] = paused
}

type addReserveRequest struct {
	Caller string                `json:"caller"`
	Asset  string                `json:"asset"`
	Config lending.ReserveConfig `json:"config"`
}

func (s *Server) handleAddReserve(w http.ResponseWriter, r *http.Request) {
	var req addReserveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var id uint32
	if err := s.run("add_reserve", func() error {
		var err error
		id, err = s.engine.AddReserve(caller, req.Asset, req.Config)
		return err
	}); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id})
}

type setReserveConfigRequest struct {
	Caller string                `json:"caller"`
	Config lending.ReserveConfig `json:"config"`
}

func (s *Server) handleSetReserveConfig(w http.ResponseWriter, r *http.Request) {
	var req setReserveConfigRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset := chi.URLParam(r, "asset")
	if err := s.run("set_reserve_config", func() error {
		return s.engine.SetReserveConfig(caller, asset, req.Config)
	}); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setPausedRequest struct {
	Caller string `json:"caller"`
	Paused bool   `json:"paused"`
}

func (s *Server) handleSetReservePaused(w http.ResponseWriter, r *http.Request) {
	var req setPausedRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset := chi.URLParam(r, "asset")
	if err := s.run("set_reserve_paused", func() error {
		return s.engine.SetReservePaused(caller, asset, req.Paused)
	}); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setModulePausedRequest struct {
	Paused bool `json:"paused"`
}

func (s *Server) handleSetModulePaused(w http.ResponseWriter, r *http.Request) {
	var req setModulePausedRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.pauses.SetPaused("lending", req.Paused)
	s.logger.Info("module pause toggled", "module", "lending", "paused", req.Paused)
	writeJSON(w, http.StatusOK, map[string]interface{}{"paused": req.Paused})
}

type withdrawFeesRequest struct {
	Caller    string `json:"caller"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

func (s *Server) handleWithdrawFees(w http.ResponseWriter, r *http.Request) {
	var req withdrawFeesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var withdrawn string
	if err := s.run("withdraw_fees", func() error {
		paid, err := s.engine.WithdrawProtocolFees(caller, req.Asset, amount, recipient)
		if err != nil {
			return err
		}
		withdrawn = bigString(paid)
		return nil
	}); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": withdrawn})
}
