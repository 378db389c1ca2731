package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"emberlend/crypto"
	"emberlend/native/incentives"
	"emberlend/native/pricefeed"
	"emberlend/native/rewards"
	"emberlend/native/vesting"
	"emberlend/observability/metrics"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

// StateTransitions scopes the writes of one mutating operation so a failed
// operation leaves no partial records behind.
type StateTransitions interface {
	Begin()
	Commit() error
	Discard()
}

// TreasuryFunder credits incoming fee income to the payout treasury.
type TreasuryFunder interface {
	Fund(token crypto.Address, amount *big.Int) error
}

// Server exposes the incentive ledgers over JSON-RPC. Mutating methods run
// under one lock so every transition observes the single-writer guarantee
// the ledgers assume, and inside one buffered state transition so a failed
// operation is discarded wholesale.
type Server struct {
	staking  *incentives.Engine
	lending  *incentives.Engine
	ledger   *vesting.Ledger
	feeds    map[string]*pricefeed.Feed
	provider *rewards.Provider
	state    StateTransitions
	funder   TreasuryFunder

	mu        sync.Mutex
	authToken string
	clock     func() time.Time
	metrics   *metrics.IncentiveMetrics
}

// NewServer wires the server to the composed ledgers. The RPC auth token is
// read from EMBERLEND_RPC_TOKEN; when empty, mutating methods are open.
func NewServer(staking, lending *incentives.Engine, ledger *vesting.Ledger, feeds map[string]*pricefeed.Feed, provider *rewards.Provider, state StateTransitions, funder TreasuryFunder) *Server {
	return &Server{
		staking:   staking,
		lending:   lending,
		ledger:    ledger,
		feeds:     feeds,
		provider:  provider,
		state:     state,
		funder:    funder,
		authToken: strings.TrimSpace(os.Getenv("EMBERLEND_RPC_TOKEN")),
		clock:     time.Now,
		metrics:   metrics.Incentives(),
	}
}

// transact runs a mutating ledger operation inside a buffered state
// transition, discarding every write the operation made when it fails.
func (s *Server) transact(op func() error) error {
	if s.state == nil {
		return op()
	}
	s.state.Begin()
	if err := op(); err != nil {
		s.state.Discard()
		return err
	}
	return s.state.Commit()
}

// SetClock overrides the time source for deterministic testing.
func (s *Server) SetClock(clock func() time.Time) {
	if s == nil || clock == nil {
		return
	}
	s.clock = clock
}

// Start serves JSON-RPC on addr until the listener fails.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return http.ListenAndServe(addr, mux)
}

// Handler returns the HTTP handler for embedding into an existing server.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// stampClocks pushes the current wall-clock second into every ledger before
// a transition or projection runs.
func (s *Server) stampClocks() {
	now := uint64(s.clock().Unix())
	s.staking.SetTimestamp(now)
	s.lending.SetTimestamp(now)
	s.ledger.SetTimestamp(now)
	for _, feed := range s.feeds {
		feed.SetTimestamp(now)
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token := strings.TrimPrefix(header, "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized"}
	}
	return nil
}

// engineFor maps the distributor parameter onto one of the two instances.
func (s *Server) engineFor(distributor string) (*incentives.Engine, error) {
	switch strings.ToLower(strings.TrimSpace(distributor)) {
	case "", "staking":
		return s.staking, nil
	case "lending":
		return s.lending, nil
	default:
		return nil, fmt.Errorf("unknown distributor %q", distributor)
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	switch req.Method {
	case "incentives_registerPool":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleRegisterPool(w, r, req)
	case "incentives_setAllocPoints":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleSetAllocPoints(w, r, req)
	case "incentives_deposit":
		s.handleDeposit(w, r, req)
	case "incentives_withdraw":
		s.handleWithdraw(w, r, req)
	case "incentives_claim":
		s.handleClaim(w, r, req)
	case "incentives_pendingReward":
		s.handlePendingReward(w, r, req)
	case "incentives_poolSnapshot":
		s.handlePoolSnapshot(w, r, req)
	case "incentives_listPools":
		s.handleListPools(w, r, req)
	case "vesting_withdraw":
		s.handleVestingWithdraw(w, r, req)
	case "vesting_withdrawable":
		s.handleVestingWithdrawable(w, r, req)
	case "vesting_balances":
		s.handleVestingBalances(w, r, req)
	case "vesting_claimable":
		s.handleVestingClaimable(w, r, req)
	case "vesting_getReward":
		s.handleVestingGetReward(w, r, req)
	case "vesting_notifyReward":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleNotifyReward(w, r, req)
	case "pricefeed_update":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handlePricefeedUpdate(w, r, req)
	case "pricefeed_status":
		s.handlePricefeedStatus(w, r, req)
	case "rewards_getUserIncentive":
		s.handleGetUserIncentive(w, r, req)
	default:
		s.metrics.ObserveRPCRequest(req.Method, "not_found")
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}
