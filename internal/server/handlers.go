package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"DebtAllocator/internal/allocator"
	"DebtAllocator/internal/fees"
	"DebtAllocator/internal/ledger"
	"DebtAllocator/internal/model"
	"DebtAllocator/internal/strategy"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type strategyView struct {
	ID          model.StrategyID `json:"id"`
	CurrentDebt decimal.Decimal  `json:"current_debt"`
	MaxDebt     decimal.Decimal  `json:"max_debt"`
	TotalAssets decimal.Decimal  `json:"total_assets"`
}

type registerRequest struct {
	ID string `json:"id"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type feeManagerRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"strategies": len(s.engine.Strategies()),
	})
}

func (s *Server) handleListStrategies(w http.ResponseWriter, _ *http.Request) {
	state := s.vault.Snapshot()
	ids := s.engine.Strategies()
	out := make([]strategyView, 0, len(ids))
	for _, id := range ids {
		v := strategyView{ID: id, CurrentDebt: decimal.Zero, MaxDebt: decimal.Zero, TotalAssets: decimal.Zero}
		if acc, ok := state.Strategies[id]; ok {
			v.CurrentDebt = acc.CurrentDebt
			v.MaxDebt = acc.MaxDebt
			v.TotalAssets = acc.TotalAssets
		}
		out = append(out, v)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"strategies": out})
}

func (s *Server) handleRegisterStrategy(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := model.ParseStrategyID(req.ID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := s.catalog.Get(id)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	if err := s.engine.Register(r.Context(), callerFrom(r.Context()), st); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id, "strategies": s.engine.Strategies()})
}

func (s *Server) handleRemoveStrategy(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseStrategyID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.Remove(r.Context(), callerFrom(r.Context()), id); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProposal(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Evaluate(r.Context())
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	res, err := s.engine.Execute(r.Context(), caller, model.TriggerAPI)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleVault(w http.ResponseWriter, _ *http.Request) {
	state := s.vault.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"idle_balance": state.IdleBalance,
		"minimum_idle": state.MinimumIdle,
		"total_debt":   state.TotalDebt(),
		"total_assets": state.TotalAssets(),
		"accrued_fees": state.AccruedFees,
		"strategies":   state.Strategies,
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.treasury.Deposit(r.Context(), callerFrom(r.Context()), req.Amount); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.handleVault(w, r)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.treasury.Withdraw(r.Context(), callerFrom(r.Context()), req.Amount); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.handleVault(w, r)
}

func (s *Server) handleRevokeStrategy(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseStrategyID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.treasury.RevokeStrategy(r.Context(), callerFrom(r.Context()), id); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFees(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"fee_manager":        s.fees.FeeManager(),
		"future_fee_manager": s.fees.FutureFeeManager(),
		"vault_accrued_fees": s.vault.Snapshot().AccruedFees,
		"accountant_accrued": s.fees.Accrued(),
	})
}

func (s *Server) handleDistributeFees(w http.ResponseWriter, r *http.Request) {
	paid, err := s.treasury.DistributeFees(r.Context(), callerFrom(r.Context()))
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"distributed": paid})
}

func (s *Server) handleProposeFeeManager(w http.ResponseWriter, r *http.Request) {
	var req feeManagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	next, err := model.ParseStrategyID(req.Address)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.fees.ProposeFeeManager(callerFrom(r.Context()), next); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"future_fee_manager": next})
}

func (s *Server) handleAcceptFeeManager(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	if err := s.fees.AcceptFeeManager(caller); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"fee_manager": caller})
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	rows, err := s.recorder.RecentExecutions(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"executions": rows})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, allocator.ErrUnauthorized),
		errors.Is(err, fees.ErrNotFeeManager),
		errors.Is(err, fees.ErrNotFutureFeeManager):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, strategy.ErrUnknownStrategy):
		return http.StatusNotFound
	case errors.Is(err, allocator.ErrAlreadyRegistered),
		errors.Is(err, allocator.ErrStrategyHasDebt),
		errors.Is(err, allocator.ErrStillRegistered),
		errors.Is(err, ledger.ErrStrategyHasDebt),
		errors.Is(err, ledger.ErrCapExceeded),
		errors.Is(err, ledger.ErrInsufficientLiquidity):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrUnknownStrategy):
		return http.StatusUnprocessableEntity
	case errors.Is(err, allocator.ErrNotRegistered):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrNoFeeCollector):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
