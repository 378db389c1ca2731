package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"emberlend/crypto"
)

func decodeSingleParam(req *RPCRequest, target interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected one parameter object")
	}
	return json.Unmarshal(req.Params[0], target)
}

func parseAddress(value, field string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid %s: %w", field, err)
	}
	return addr, nil
}

func parseAddressList(values []string) ([]crypto.Address, error) {
	out := make([]crypto.Address, 0, len(values))
	for _, encoded := range values {
		addr, err := parseAddress(encoded, "token")
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

type registerPoolParams struct {
	Distributor string `json:"distributor,omitempty"`
	Token       string `json:"token"`
	AllocPoints uint64 `json:"allocPoints"`
}

type stakeParams struct {
	Distributor string `json:"distributor,omitempty"`
	Account     string `json:"account"`
	Token       string `json:"token"`
	Amount      string `json:"amount"`
}

type claimParams struct {
	Distributor string   `json:"distributor,omitempty"`
	Account     string   `json:"account"`
	Tokens      []string `json:"tokens"`
}

type pendingRewardParams struct {
	Distributor string `json:"distributor,omitempty"`
	Account     string `json:"account"`
	Token       string `json:"token"`
}

type poolQueryParams struct {
	Distributor string `json:"distributor,omitempty"`
	Token       string `json:"token,omitempty"`
}

type poolSnapshotResult struct {
	Token             string `json:"token"`
	AllocPoints       uint64 `json:"allocPoints"`
	TotalStaked       string `json:"totalStaked"`
	LastAccrualTime   uint64 `json:"lastAccrualTime"`
	AccRewardPerShare string `json:"accRewardPerShare"`
}

type claimResult struct {
	Vested string `json:"vested"`
}

type amountResult struct {
	Amount string `json:"amount"`
}

func (s *Server) handleRegisterPool(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registerPoolParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	engine, err := s.engineFor(params.Distributor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	token, err := parseAddress(params.Token, "token")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stampClocks()
	if err := s.transact(func() error {
		return engine.RegisterPool(token, params.AllocPoints)
	}); err != nil {
		s.metrics.ObserveRPCRequest(req.Method, "error")
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	if pools, poolsErr := engine.Pools(); poolsErr == nil {
		s.metrics.SetActivePools(engine.DistributorID(), len(pools))
	}
	s.metrics.ObserveRPCRequest(req.Method, "ok")
	writeResult(w, req.ID, map[string]bool{"registered": true})
}

func (s *Server) handleSetAllocPoints(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registerPoolParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	engine, err := s.engineFor(params.Distributor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	token, err := parseAddress(params.Token, "token")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stampClocks()
	if err := s.transact(func() error {
		return engine.SetAllocPoints(token, params.AllocPoints)
	}); err != nil {
		s.metrics.ObserveRPCRequest(req.Method, "error")
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	s.metrics.ObserveRPCRequest(req.Method, "ok")
	writeResult(w, req.ID, map[string]bool{"updated": true})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleStakeChange(w, r, req, true)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleStakeChange(w, r, req, false)
}

func (s *Server) handleStakeChange(w http.ResponseWriter, _ *http.Request, req *RPCRequest, deposit bool) {
	var params stakeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	engine, err := s.engineFor(params.Distributor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := parseAddress(params.Account, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
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

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stampClocks()
	err = s.transact(func() error {
		if deposit {
			return engine.Deposit(account, token, amount)
		}
		return engine.Withdraw(account, token, amount)
	})
	if err != nil {
		s.metrics.ObserveRPCRequest(req.Method, "error")
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	if deposit {
		s.metrics.ObserveDeposit(engine.DistributorID())
	} else {
		s.metrics.ObserveWithdrawal(engine.DistributorID())
	}
	s.metrics.ObserveRPCRequest(req.Method, "ok")
	writeResult(w, req.ID, map[string]bool{"applied": true})
}

func (s *Server) handleClaim(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params claimParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	engine, err := s.engineFor(params.Distributor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
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
	var vested *big.Int
	err = s.transact(func() error {
		var claimErr error
		vested, claimErr = engine.Claim(account, tokens)
		return claimErr
	})
	if err != nil {
		s.metrics.ObserveRPCRequest(req.Method, "error")
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	s.metrics.ObserveRewardVested(engine.DistributorID())
	s.metrics.ObserveRPCRequest(req.Method, "ok")
	writeResult(w, req.ID, claimResult{Vested: vested.String()})
}

func (s *Server) handlePendingReward(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params pendingRewardParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	engine, err := s.engineFor(params.Distributor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := parseAddress(params.Account, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	token, err := parseAddress(params.Token, "token")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stampClocks()
	pending, err := engine.PendingReward(token, account)
	if err != nil {
		s.metrics.ObserveRPCRequest(req.Method, "error")
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	s.metrics.ObserveRPCRequest(req.Method, "ok")
	writeResult(w, req.ID, amountResult{Amount: pending.String()})
}

func (s *Server) handlePoolSnapshot(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params poolQueryParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	engine, err := s.engineFor(params.Distributor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	token, err := parseAddress(params.Token, "token")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stampClocks()
	snapshot, err := engine.PoolSnapshot(token)
	if err != nil {
		s.metrics.ObserveRPCRequest(req.Method, "error")
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	s.metrics.ObserveRPCRequest(req.Method, "ok")
	writeResult(w, req.ID, poolSnapshotResult{
		Token:             snapshot.Token.String(),
		AllocPoints:       snapshot.AllocPoints,
		TotalStaked:       snapshot.TotalStaked.String(),
		LastAccrualTime:   snapshot.LastAccrualTime,
		AccRewardPerShare: snapshot.AccRewardPerShare.String(),
	})
}

func (s *Server) handleListPools(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params poolQueryParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	engine, err := s.engineFor(params.Distributor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tokens, err := engine.Pools()
	if err != nil {
		s.metrics.ObserveRPCRequest(req.Method, "error")
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	encoded := make([]string, 0, len(tokens))
	for _, token := range tokens {
		encoded = append(encoded, token.String())
	}
	s.metrics.ObserveRPCRequest(req.Method, "ok")
	writeResult(w, req.ID, map[string][]string{"pools": encoded})
}
