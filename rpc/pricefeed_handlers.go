package rpc

import (
	"math/big"
	"net/http"
	"strings"
)

type pricefeedParams struct {
	Asset string `json:"asset"`
}

type pricefeedResult struct {
	Asset  string `json:"asset"`
	Status string `json:"status"`
	Price  string `json:"price"`
}

func (s *Server) handlePricefeedUpdate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params pricefeedParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	feed, ok := s.feeds[strings.TrimSpace(params.Asset)]
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "unknown asset feed", params.Asset)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stampClocks()
	var price *big.Int
	err := s.transact(func() error {
		var opErr error
		price, opErr = feed.UpdatePrice()
		return opErr
	})
	if err != nil {
		s.metrics.ObserveRPCRequest(req.Method, "error")
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	status, err := feed.Status()
	if err != nil {
		s.metrics.ObserveRPCRequest(req.Method, "error")
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	s.metrics.SetOracleStatus(feed.AssetID(), uint8(status))
	s.metrics.ObserveRPCRequest(req.Method, "ok")
	writeResult(w, req.ID, pricefeedResult{
		Asset:  feed.AssetID(),
		Status: status.String(),
		Price:  price.String(),
	})
}

func (s *Server) handlePricefeedStatus(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params pricefeedParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	feed, ok := s.feeds[strings.TrimSpace(params.Asset)]
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "unknown asset feed", params.Asset)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stampClocks()
	status, err := feed.Status()
	if err != nil {
		s.metrics.ObserveRPCRequest(req.Method, "error")
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	price, err := feed.LastGoodPrice()
	if err != nil {
		s.metrics.ObserveRPCRequest(req.Method, "error")
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	s.metrics.ObserveRPCRequest(req.Method, "ok")
	writeResult(w, req.ID, pricefeedResult{
		Asset:  feed.AssetID(),
		Status: status.String(),
		Price:  price.String(),
	})
}
