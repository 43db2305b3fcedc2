package rpc

import (
	"errors"
	"math/big"
	"net/http"
	"strings"

	"stakereg/core/types"
	"stakereg/state"
)

func parseAmount(raw string) (*big.Int, *RPCError) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &RPCError{Code: codeInvalidParams, Message: "amount required"}
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, &RPCError{Code: codeInvalidParams, Message: "invalid amount"}
	}
	return amount, nil
}

type registryInitParams struct {
	Authority      string `json:"authority"`
	Mint           string `json:"mint"`
	StakeRate      uint64 `json:"stakeRate"`
	TimelockSecs   int64  `json:"timelockSeconds"`
	RewardQueueCap uint32 `json:"rewardQueueCapacity"`
}

func (s *Server) handleRegistryInit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params registryInitParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	registrar, err := s.staking.InitializeRegistrar(params.Authority, params.Mint, params.StakeRate, params.TimelockSecs, params.RewardQueueCap)
	s.stats.ObserveStakingOp("registry_init", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, registrar)
}

type createMemberParams struct {
	Registrar   string `json:"registrar"`
	Beneficiary string `json:"beneficiary"`
}

func (s *Server) handleCreateMember(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params createMemberParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	member, err := s.staking.CreateMember(params.Registrar, params.Beneficiary)
	s.stats.ObserveStakingOp("registry_createMember", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, member)
}

type registrarQueryParams struct {
	Registrar string `json:"registrar"`
}

func (s *Server) handleRegistrarQuery(w http.ResponseWriter, req *RPCRequest) {
	var params registrarQueryParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	registrar, err := s.staking.Registrar(params.Registrar)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, registrar)
}

type memberQueryParams struct {
	Member string `json:"member"`
}

func (s *Server) handleMemberQuery(w http.ResponseWriter, req *RPCRequest) {
	var params memberQueryParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	member, err := s.staking.Member(params.Member)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, member)
}

type balancesQueryParams struct {
	Member string `json:"member"`
	Locked bool   `json:"locked"`
}

func (s *Server) handleBalancesQuery(w http.ResponseWriter, req *RPCRequest) {
	var params balancesQueryParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	balances, err := s.staking.Balances(params.Member, params.Locked)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balances)
}

type transferParams struct {
	Caller    string `json:"caller"`
	Member    string `json:"member"`
	Depositor string `json:"depositor"`
	Amount    string `json:"amount"`
	Locked    bool   `json:"locked"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params transferParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	amount, rpcErr := parseAmount(params.Amount)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	err := s.staking.Deposit(params.Caller, params.Member, params.Depositor, amount, params.Locked)
	s.stats.ObserveStakingOp("stake_deposit", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params transferParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	amount, rpcErr := parseAmount(params.Amount)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	err := s.staking.Withdraw(params.Caller, params.Member, params.Depositor, amount, params.Locked)
	s.stats.ObserveStakingOp("stake_withdraw", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type stakeParams struct {
	Caller string `json:"caller"`
	Member string `json:"member"`
	Shares string `json:"shares"`
	Locked bool   `json:"locked"`
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params stakeParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	shares, rpcErr := parseAmount(params.Shares)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	err := s.staking.Stake(params.Caller, params.Member, shares, params.Locked)
	s.stats.ObserveStakingOp("stake_stake", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.publishPoolSupply(params.Member)
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params stakeParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	shares, rpcErr := parseAmount(params.Shares)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	err := s.staking.Unstake(params.Caller, params.Member, shares, params.Locked)
	s.stats.ObserveStakingOp("stake_unstake", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.publishPoolSupply(params.Member)
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

// publishPoolSupply refreshes the registrar supply gauge after a stake move.
// Gauge updates are best effort and never fail the RPC call.
func (s *Server) publishPoolSupply(memberAddr string) {
	member, err := s.staking.Member(memberAddr)
	if err != nil {
		return
	}
	registrar, err := s.staking.Registrar(member.Registrar)
	if err != nil {
		return
	}
	supply, _ := new(big.Float).SetInt(registrar.PoolSupply).Float64()
	s.stats.SetPoolSupply(registrar.Address, supply)
}

type tokenCreateParams struct {
	Address string `json:"address"`
	Mint    string `json:"mint"`
	Owner   string `json:"owner"`
	Amount  string `json:"amount"`
}

// handleTokenCreate provisions a funded token account. Operator tooling only;
// always token gated.
func (s *Server) handleTokenCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if s.authToken == "" {
		writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, "token_create requires STAKEREG_RPC_TOKEN to be configured", nil)
		return
	}
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params tokenCreateParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	amount, rpcErr := parseAmount(params.Amount)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if strings.TrimSpace(params.Address) == "" || strings.TrimSpace(params.Owner) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "address and owner required", nil)
		return
	}
	account := &types.TokenAccount{Address: params.Address, Mint: params.Mint, Owner: params.Owner, Amount: amount}
	if err := s.store.TokenCreate(account); err != nil {
		if errors.Is(err, state.ErrTokenExists) {
			writeError(w, http.StatusBadRequest, req.ID, codeServerError, err.Error(), nil)
			return
		}
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, account)
}

type tokenBalanceParams struct {
	Address string `json:"address"`
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, req *RPCRequest) {
	var params tokenBalanceParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	account, ok, err := s.store.TokenGet(params.Address)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeServerError, "token account not found", nil)
		return
	}
	writeResult(w, req.ID, account)
}
