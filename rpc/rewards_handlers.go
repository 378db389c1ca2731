package rpc

import (
	"net/http"
)

type userIncentiveParams struct {
	Account string `json:"account"`
}

type poolStandingResult struct {
	Token   string `json:"token"`
	Staked  string `json:"staked"`
	Pending string `json:"pending"`
}

type distributorStandingResult struct {
	ID    string               `json:"id"`
	Pools []poolStandingResult `json:"pools"`
}

type walletBalanceResult struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type userIncentiveResult struct {
	Account      string                      `json:"account"`
	Distributors []distributorStandingResult `json:"distributors"`
	TotalPending string                      `json:"totalPending"`
	TotalVesting string                      `json:"totalVesting"`
	Locked       balanceBreakdownResult      `json:"locked"`
	Earned       balanceBreakdownResult      `json:"earned"`
	Withdrawable withdrawableResult          `json:"withdrawable"`
	Claimable    []claimableEntryResult      `json:"claimable"`
	Wallet       []walletBalanceResult       `json:"wallet"`
}

func (s *Server) handleGetUserIncentive(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params userIncentiveParams
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
	snapshot, err := s.provider.UserIncentive(account)
	if err != nil {
		s.metrics.ObserveRPCRequest(req.Method, "error")
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}

	result := userIncentiveResult{
		Account:      snapshot.Account.String(),
		TotalPending: snapshot.TotalPending.String(),
		TotalVesting: snapshot.TotalVesting.String(),
		Locked:       encodeBreakdown(snapshot.Locked),
		Earned:       encodeBreakdown(snapshot.Earned),
		Withdrawable: withdrawableResult{
			Amount:  snapshot.Withdrawable.Amount.String(),
			Penalty: snapshot.Withdrawable.PenaltyAmount.String(),
		},
	}
	for _, standing := range snapshot.Distributors {
		encoded := distributorStandingResult{ID: standing.ID}
		for _, pool := range standing.Pools {
			encoded.Pools = append(encoded.Pools, poolStandingResult{
				Token:   pool.Token.String(),
				Staked:  pool.Staked.String(),
				Pending: pool.Pending.String(),
			})
		}
		result.Distributors = append(result.Distributors, encoded)
	}
	for _, claim := range snapshot.Claimable {
		result.Claimable = append(result.Claimable, claimableEntryResult{
			Token:  claim.Token.String(),
			Amount: claim.Amount.String(),
		})
	}
	for _, balance := range snapshot.Wallet {
		result.Wallet = append(result.Wallet, walletBalanceResult{
			Token:  balance.Token.String(),
			Amount: balance.Amount.String(),
		})
	}
	s.metrics.ObserveRPCRequest(req.Method, "ok")
	writeResult(w, req.ID, result)
}
