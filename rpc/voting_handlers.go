package rpc

import (
	"math/big"
	"net/http"
	"strings"

	"stakereg/native/voting"
)

type createGovernorParams struct {
	Registrar     string `json:"registrar"`
	Mint          string `json:"mint"`
	PollPrice     string `json:"pollPrice"`
	ProposalPrice string `json:"proposalPrice"`
	WindowSecs    int64  `json:"windowSeconds"`
	QueueCap      uint32 `json:"queueCapacity"`
}

func (s *Server) handleCreateGovernor(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params createGovernorParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	pollPrice, rpcErr := parseAmount(params.PollPrice)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	proposalPrice, rpcErr := parseAmount(params.ProposalPrice)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	governor, err := s.voting.CreateGovernor(params.Registrar, params.Mint, pollPrice, proposalPrice, params.WindowSecs, params.QueueCap)
	s.stats.ObserveVotingOp("gov_createGovernor", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, governor)
}

type updateGovernorParams struct {
	Caller        string `json:"caller"`
	Governor      string `json:"governor"`
	ProposalPrice string `json:"proposalPrice"`
	WindowSecs    int64  `json:"windowSeconds"`
}

func (s *Server) handleUpdateGovernor(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params updateGovernorParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	// An empty price leaves the current proposal price in place.
	var price *big.Int
	if strings.TrimSpace(params.ProposalPrice) != "" {
		parsed, rpcErr := parseAmount(params.ProposalPrice)
		if rpcErr != nil {
			writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
			return
		}
		price = parsed
	}
	governor, err := s.voting.UpdateGovernor(params.Caller, params.Governor, price, params.WindowSecs)
	s.stats.ObserveVotingOp("gov_updateGovernor", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, governor)
}

type governorQueryParams struct {
	Governor string `json:"governor"`
}

func (s *Server) handleGovernorQuery(w http.ResponseWriter, req *RPCRequest) {
	var params governorQueryParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	governor, err := s.voting.Governor(params.Governor)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, governor)
}

type createPollParams struct {
	Caller    string   `json:"caller"`
	Governor  string   `json:"governor"`
	Depositor string   `json:"depositor"`
	Message   string   `json:"message"`
	Options   []string `json:"options"`
	EndTs     int64    `json:"endTs"`
}

func (s *Server) handleCreatePoll(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params createPollParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	poll, err := s.voting.CreatePoll(params.Caller, params.Governor, params.Depositor, params.Message, params.Options, params.EndTs)
	s.stats.ObserveVotingOp("gov_createPoll", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poll)
}

type votePollParams struct {
	Caller   string `json:"caller"`
	Member   string `json:"member"`
	Poll     string `json:"poll"`
	Selector uint32 `json:"selector"`
}

func (s *Server) handleVotePoll(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params votePollParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	vote, err := s.voting.VotePoll(params.Caller, params.Member, params.Poll, params.Selector)
	s.stats.ObserveVotingOp("gov_votePoll", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.stats.VoteCast()
	writeResult(w, req.ID, vote)
}

type pollQueryParams struct {
	Poll string `json:"poll"`
}

func (s *Server) handleTally(w http.ResponseWriter, req *RPCRequest) {
	var params pollQueryParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	winner, err := s.voting.TallyResult(params.Poll)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]uint32{"winner": winner})
}

func (s *Server) handlePollQuery(w http.ResponseWriter, req *RPCRequest) {
	var params pollQueryParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	poll, err := s.voting.Poll(params.Poll)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poll)
}

type createProposalParams struct {
	Caller    string `json:"caller"`
	Governor  string `json:"governor"`
	Depositor string `json:"depositor"`
	Message   string `json:"message"`
	TxTarget  string `json:"txTarget"`
	TxData    []byte `json:"txData"`
}

func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params createProposalParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	payload := voting.TransactionPayload{Target: params.TxTarget, Data: params.TxData}
	proposal, err := s.voting.CreateProposal(params.Caller, params.Governor, params.Depositor, params.Message, payload)
	s.stats.ObserveVotingOp("gov_createProposal", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, proposal)
}

type voteProposalParams struct {
	Caller   string `json:"caller"`
	Member   string `json:"member"`
	Proposal string `json:"proposal"`
	Approve  bool   `json:"approve"`
}

func (s *Server) handleVoteProposal(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params voteProposalParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	vote, err := s.voting.VoteProposal(params.Caller, params.Member, params.Proposal, params.Approve)
	s.stats.ObserveVotingOp("gov_voteProposal", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.stats.VoteCast()
	writeResult(w, req.ID, vote)
}

type proposalQueryParams struct {
	Proposal string `json:"proposal"`
}

func (s *Server) handleExecuteProposal(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params proposalQueryParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	passed, err := s.voting.ExecuteProposal(params.Proposal)
	s.stats.ObserveVotingOp("gov_executeProposal", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"passed": passed})
}

func (s *Server) handleProposalQuery(w http.ResponseWriter, req *RPCRequest) {
	var params proposalQueryParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	proposal, err := s.voting.Proposal(params.Proposal)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, proposal)
}
