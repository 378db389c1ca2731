package rpc

import (
	"math/big"
	"net/http"

	"emberlend/native/vesting"
)

func encodeBreakdown(breakdown *vesting.BalanceBreakdown) balanceBreakdownResult {
	entries := make([]trancheResult, 0, len(breakdown.Entries))
	for _, entry := range breakdown.Entries {
		entries = append(entries, trancheResult{
			Amount:     entry.Amount.String(),
			UnlockTime: entry.UnlockTime,
		})
	}
	return balanceBreakdownResult{
		Total:      breakdown.Total.String(),
		Unlockable: breakdown.Unlockable.String(),
		Locked:     breakdown.Locked.String(),
		Entries:    entries,
	}
}

type vestingWithdrawParams struct {
	Account        string `json:"account"`
	Amount         string `json:"amount"`
	AllowEarlyExit bool   `json:"allowEarlyExit,omitempty"`
}

type vestingAccountParams struct {
	Account string `json:"account"`
}

type vestingGetRewardParams struct {
	Account string   `json:"account"`
	Tokens  []string `json:"tokens"`
}

type notifyRewardParams struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type vestingWithdrawResult struct {
	Payout  string `json:"payout"`
	Penalty string `json:"penalty"`
}

type withdrawableResult struct {
	Amount  string `json:"amount"`
	Penalty string `json:"penalty"`
}

type trancheResult struct {
	Amount     string `json:"amount"`
	UnlockTime uint64 `json:"unlockTime"`
}

type balanceBreakdownResult struct {
	Total      string          `json:"total"`
	Unlockable string          `json:"unlockable"`
	Locked     string          `json:"locked"`
	Entries    []trancheResult `json:"entries"`
}

type vestingBalancesResult struct {
	Total  string                 `json:"total"`
	Locked balanceBreakdownResult `json:"locked"`
	Earned balanceBreakdownResult `json:"earned"`
}

type claimableEntryResult struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

func (s *Server) handleVestingWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vestingWithdrawParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, err := parseAddress(params.Account, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stampClocks()
	var payout, penalty *big.Int
	err = s.transact(func() error {
		var opErr error
		payout, penalty, opErr = s.ledger.Withdraw(account, amount, params.AllowEarlyExit)
		return opErr
	})
	if err != nil {
		s.metrics.ObserveRPCRequest(req.Method, "error")
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	s.metrics.ObserveRPCRequest(req.Method, "ok")
	writeResult(w, req.ID, vestingWithdrawResult{Payout: payout.String(), Penalty: penalty.String()})
}

func (s *Server) handleVestingWithdrawable(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vestingAccountParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, err := parseAddress(params.Account, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stampClocks()
	breakdown, err := s.ledger.WithdrawableBalance(account)
	if err != nil {
		s.metrics.ObserveRPCRequest(req.Method, "error")
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	s.metrics.ObserveRPCRequest(req.Method, "ok")
	writeResult(w, req.ID, withdrawableResult{
		Amount:  breakdown.Amount.String(),
		Penalty: breakdown.PenaltyAmount.String(),
	})
}

func (s *Server) handleVestingBalances(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vestingAccountParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, err := parseAddress(params.Account, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stampClocks()
	locked, err := s.ledger.LockedBalances(account)
	if err != nil {
		s.metrics.ObserveRPCRequest(req.Method, "error")
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	earned, err := s.ledger.EarnedBalances(account)
	if err != nil {
		s.metrics.ObserveRPCRequest(req.Method, "error")
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	total, err := s.ledger.TotalBalance(account)
	if err != nil {
		s.metrics.ObserveRPCRequest(req.Method, "error")
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	s.metrics.ObserveRPCRequest(req.Method, "ok")
	writeResult(w, req.ID, vestingBalancesResult{
		Total:  total.String(),
		Locked: encodeBreakdown(locked),
		Earned: encodeBreakdown(earned),
	})
}

func (s *Server) handleVestingClaimable(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vestingAccountParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, err := parseAddress(params.Account, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stampClocks()
	claims, err := s.ledger.ClaimableRewards(account)
	if err != nil {
		s.metrics.ObserveRPCRequest(req.Method, "error")
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	out := make([]claimableEntryResult, 0, len(claims))
	for _, claim := range claims {
		out = append(out, claimableEntryResult{Token: claim.Token.String(), Amount: claim.Amount.String()})
	}
	s.metrics.ObserveRPCRequest(req.Method, "ok")
	writeResult(w, req.ID, map[string][]claimableEntryResult{"claimable": out})
}

func (s *Server) handleVestingGetReward(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vestingGetRewardParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, err := parseAddress(params.Account, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	tokens, err := parseAddressList(params.Tokens)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stampClocks()
	if err := s.transact(func() error {
		return s.ledger.GetReward(account, tokens)
	}); err != nil {
		s.metrics.ObserveRPCRequest(req.Method, "error")
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	s.metrics.ObserveRPCRequest(req.Method, "ok")
	writeResult(w, req.ID, map[string]bool{"claimed": true})
}

// handleNotifyReward ingests fee income: the amount is credited to the
// payout treasury and folded into the per-token fee-sharing accumulator in
// one transition.
func (s *Server) handleNotifyReward(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params notifyRewardParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	token, err := parseAddress(params.Token, "token")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if s.funder == nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, "treasury funder not configured", nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stampClocks()
	if err := s.transact(func() error {
		if err := s.funder.Fund(token, amount); err != nil {
			return err
		}
		return s.ledger.NotifyReward(token, amount)
	}); err != nil {
		s.metrics.ObserveRPCRequest(req.Method, "error")
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	s.metrics.ObserveRPCRequest(req.Method, "ok")
	writeResult(w, req.ID, map[string]bool{"notified": true})
}
