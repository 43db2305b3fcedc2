package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"stakereg/native/registry"
	"stakereg/native/voting"
	"stakereg/observability/metrics"
	"stakereg/state"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	authTokenEnv    = "STAKEREG_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// Server exposes every engine operation over a single JSON-RPC 2.0 endpoint
// plus /healthz and prometheus /metrics.
type Server struct {
	staking *registry.Engine
	voting  *voting.Engine
	store   *state.Store
	logger  *slog.Logger
	stats   *metrics.StakeMetrics

	authToken string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer wires the engines and store behind the RPC surface. Mutating
// methods require the bearer token from STAKEREG_RPC_TOKEN when set.
func NewServer(staking *registry.Engine, votingEngine *voting.Engine, store *state.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		staking:   staking,
		voting:    votingEngine,
		store:     store,
		logger:    logger,
		stats:     metrics.Stake(),
		authToken: strings.TrimSpace(os.Getenv(authTokenEnv)),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Router assembles the HTTP handler tree.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start blocks serving the RPC endpoint on addr.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
	return http.ListenAndServe(addr, s.Router())
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

func (s *Server) limiter(remote string) *rate.Limiter {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(10), 20)
		s.limiters[host] = limiter
	}
	return limiter
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return &RPCError{Code: codeUnauthorized, Message: "bearer token required"}
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid token"}
	}
	return nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	if !s.limiter(r.RemoteAddr).Allow() {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "unable to read request body", nil)
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "request body too large", nil)
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON-RPC request", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported JSON-RPC version", nil)
		return
	}

	switch req.Method {
	case "registry_init":
		s.handleRegistryInit(w, r, &req)
	case "registry_createMember":
		s.handleCreateMember(w, r, &req)
	case "registry_registrar":
		s.handleRegistrarQuery(w, &req)
	case "registry_member":
		s.handleMemberQuery(w, &req)
	case "registry_balances":
		s.handleBalancesQuery(w, &req)
	case "stake_deposit":
		s.handleDeposit(w, r, &req)
	case "stake_stake":
		s.handleStake(w, r, &req)
	case "stake_unstake":
		s.handleUnstake(w, r, &req)
	case "stake_withdraw":
		s.handleWithdraw(w, r, &req)
	case "token_create":
		s.handleTokenCreate(w, r, &req)
	case "token_balance":
		s.handleTokenBalance(w, &req)
	case "gov_createGovernor":
		s.handleCreateGovernor(w, r, &req)
	case "gov_updateGovernor":
		s.handleUpdateGovernor(w, r, &req)
	case "gov_governor":
		s.handleGovernorQuery(w, &req)
	case "gov_createPoll":
		s.handleCreatePoll(w, r, &req)
	case "gov_votePoll":
		s.handleVotePoll(w, r, &req)
	case "gov_tally":
		s.handleTally(w, &req)
	case "gov_poll":
		s.handlePollQuery(w, &req)
	case "gov_createProposal":
		s.handleCreateProposal(w, r, &req)
	case "gov_voteProposal":
		s.handleVoteProposal(w, r, &req)
	case "gov_executeProposal":
		s.handleExecuteProposal(w, r, &req)
	case "gov_proposal":
		s.handleProposalQuery(w, &req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
}

func decodeParams(req *RPCRequest, out interface{}) *RPCError {
	if len(req.Params) != 1 {
		return &RPCError{Code: codeInvalidParams, Message: "exactly one parameter object expected"}
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: "invalid parameter object", Data: err.Error()}
	}
	return nil
}

func engineErrorCode(err error) int {
	switch {
	case errors.Is(err, registry.ErrUnauthorized), errors.Is(err, voting.ErrUnauthorized):
		return codeUnauthorized
	default:
		return codeServerError
	}
}

func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	status := http.StatusBadRequest
	code := engineErrorCode(err)
	if code == codeUnauthorized {
		status = http.StatusForbidden
	}
	writeError(w, status, id, code, err.Error(), nil)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	})
}
