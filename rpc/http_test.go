package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"stakereg/native/registry"
	"stakereg/native/voting"
	"stakereg/state"
	"stakereg/storage"
)

type testResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func newTestServer(t *testing.T, token string) (*Server, *state.Store) {
	t.Helper()
	t.Setenv(authTokenEnv, token)

	store := state.NewStore(storage.NewMemDB())
	staking := registry.NewEngine()
	staking.SetState(store)
	votingEngine := voting.NewEngine()
	votingEngine.SetState(store)

	return NewServer(staking, votingEngine, store, nil), store
}

func doRPC(t *testing.T, handler http.Handler, token, method string, params interface{}) (int, *testResponse) {
	t.Helper()
	rawParams, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	body, err := json.Marshal(RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  []json.RawMessage{rawParams},
		ID:      1,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.RemoteAddr = "10.0.0.1:50000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var resp testResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return rec.Code, &resp
}

func TestUnknownMethod(t *testing.T) {
	server, _ := newTestServer(t, "")
	status, resp := doRPC(t, server.Router(), "", "stake_fly", map[string]string{})
	if status != http.StatusNotFound {
		t.Fatalf("status: got %d", status)
	}
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestMutatingMethodsRequireToken(t *testing.T) {
	server, _ := newTestServer(t, "secret")
	handler := server.Router()

	params := registryInitParams{Authority: "authority", Mint: "mint", StakeRate: 2, RewardQueueCap: 4}
	status, resp := doRPC(t, handler, "", "registry_init", params)
	if status != http.StatusUnauthorized || resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("missing token accepted: status %d error %+v", status, resp.Error)
	}
	status, _ = doRPC(t, handler, "wrong", "registry_init", params)
	if status != http.StatusUnauthorized {
		t.Fatalf("wrong token accepted: status %d", status)
	}
	status, resp = doRPC(t, handler, "secret", "registry_init", params)
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("valid token rejected: status %d error %+v", status, resp.Error)
	}
}

func TestStakeFlowOverRPC(t *testing.T) {
	server, _ := newTestServer(t, "secret")
	handler := server.Router()

	status, resp := doRPC(t, handler, "secret", "registry_init", registryInitParams{
		Authority:      "authority",
		Mint:           "mint",
		StakeRate:      2,
		TimelockSecs:   0,
		RewardQueueCap: 8,
	})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("registry_init: status %d error %+v", status, resp.Error)
	}
	var registrar registry.Registrar
	if err := json.Unmarshal(resp.Result, &registrar); err != nil {
		t.Fatalf("decode registrar: %v", err)
	}

	status, resp = doRPC(t, handler, "secret", "registry_createMember", createMemberParams{
		Registrar:   registrar.Address,
		Beneficiary: "alice",
	})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("registry_createMember: status %d error %+v", status, resp.Error)
	}
	var member registry.Member
	if err := json.Unmarshal(resp.Result, &member); err != nil {
		t.Fatalf("decode member: %v", err)
	}

	status, resp = doRPC(t, handler, "secret", "token_create", tokenCreateParams{
		Address: "alice-wallet",
		Mint:    registrar.Mint,
		Owner:   "alice",
		Amount:  "120",
	})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("token_create: status %d error %+v", status, resp.Error)
	}

	status, resp = doRPC(t, handler, "secret", "stake_deposit", transferParams{
		Caller:    "alice",
		Member:    member.Address,
		Depositor: "alice-wallet",
		Amount:    "120",
	})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("stake_deposit: status %d error %+v", status, resp.Error)
	}

	status, resp = doRPC(t, handler, "secret", "stake_stake", stakeParams{
		Caller: "alice",
		Member: member.Address,
		Shares: "10",
	})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("stake_stake: status %d error %+v", status, resp.Error)
	}

	status, resp = doRPC(t, handler, "", "registry_balances", balancesQueryParams{Member: member.Address})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("registry_balances: status %d error %+v", status, resp.Error)
	}
	var balances registry.PairBalances
	if err := json.Unmarshal(resp.Result, &balances); err != nil {
		t.Fatalf("decode balances: %v", err)
	}
	if balances.Vault.Cmp(big.NewInt(100)) != 0 || balances.VaultStake.Cmp(big.NewInt(20)) != 0 || balances.SPT.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("unexpected balances after stake: %+v", balances)
	}

	// An overdraw surfaces as a JSON-RPC error and leaves the balances alone.
	status, resp = doRPC(t, handler, "secret", "stake_stake", stakeParams{
		Caller: "alice",
		Member: member.Address,
		Shares: "61",
	})
	if status == http.StatusOK || resp.Error == nil {
		t.Fatalf("overdraw accepted: status %d", status)
	}
}

func TestTokenCreateRejectsDuplicate(t *testing.T) {
	server, _ := newTestServer(t, "secret")
	handler := server.Router()

	params := tokenCreateParams{Address: "alice-wallet", Mint: "mint", Owner: "alice", Amount: "50"}
	status, resp := doRPC(t, handler, "secret", "token_create", params)
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("token_create: status %d error %+v", status, resp.Error)
	}
	status, resp = doRPC(t, handler, "secret", "token_create", params)
	if status == http.StatusOK || resp.Error == nil {
		t.Fatalf("duplicate token_create accepted: status %d", status)
	}

	// The first account survives the rejected overwrite attempt.
	status, resp = doRPC(t, handler, "", "token_balance", tokenBalanceParams{Address: "alice-wallet"})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("token_balance: status %d error %+v", status, resp.Error)
	}
}

func TestUpdateGovernorOverRPC(t *testing.T) {
	server, _ := newTestServer(t, "secret")
	handler := server.Router()

	status, resp := doRPC(t, handler, "secret", "registry_init", registryInitParams{
		Authority:      "authority",
		Mint:           "mint",
		StakeRate:      1,
		RewardQueueCap: 4,
	})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("registry_init: status %d error %+v", status, resp.Error)
	}
	var registrar registry.Registrar
	if err := json.Unmarshal(resp.Result, &registrar); err != nil {
		t.Fatalf("decode registrar: %v", err)
	}

	status, resp = doRPC(t, handler, "secret", "gov_createGovernor", createGovernorParams{
		Registrar:     registrar.Address,
		Mint:          registrar.Mint,
		PollPrice:     "5",
		ProposalPrice: "10",
		WindowSecs:    300,
		QueueCap:      4,
	})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("gov_createGovernor: status %d error %+v", status, resp.Error)
	}
	var governor voting.Governor
	if err := json.Unmarshal(resp.Result, &governor); err != nil {
		t.Fatalf("decode governor: %v", err)
	}

	status, resp = doRPC(t, handler, "secret", "gov_updateGovernor", updateGovernorParams{
		Caller:        "authority",
		Governor:      governor.Address,
		ProposalPrice: "25",
		WindowSecs:    600,
	})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("gov_updateGovernor: status %d error %+v", status, resp.Error)
	}
	var updated voting.Governor
	if err := json.Unmarshal(resp.Result, &updated); err != nil {
		t.Fatalf("decode updated governor: %v", err)
	}
	if updated.ProposalPrice.Cmp(big.NewInt(25)) != 0 || updated.WindowSecs != 600 {
		t.Fatalf("governor not updated: %+v", updated)
	}

	status, resp = doRPC(t, handler, "secret", "gov_updateGovernor", updateGovernorParams{
		Caller:   "mallory",
		Governor: governor.Address,
	})
	if status != http.StatusForbidden || resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("non-authority update accepted: status %d error %+v", status, resp.Error)
	}
}

func TestInvalidAmountRejected(t *testing.T) {
	server, _ := newTestServer(t, "")
	handler := server.Router()

	status, resp := doRPC(t, handler, "", "stake_deposit", transferParams{
		Caller:    "alice",
		Member:    "member",
		Depositor: "wallet",
		Amount:    "twelve",
	})
	if status != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid amount rejection: status %d error %+v", status, resp.Error)
	}
}

func TestRateLimiting(t *testing.T) {
	server, _ := newTestServer(t, "")
	handler := server.Router()

	var limited bool
	for i := 0; i < 30; i++ {
		status, resp := doRPC(t, handler, "", "registry_member", memberQueryParams{Member: "missing"})
		if status == http.StatusTooManyRequests {
			if resp.Error == nil || resp.Error.Code != codeRateLimited {
				t.Fatalf("rate limit response malformed: %+v", resp.Error)
			}
			limited = true
			break
		}
	}
	if !limited {
		t.Fatalf("burst of requests never hit the rate limit")
	}
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status: %d", rec.Code)
	}
}
