package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"stakereg/core/types"
	"stakereg/native/registry"
	"stakereg/native/voting"
	"stakereg/storage"
)

// ErrTokenExists rejects creation of a token account at an occupied address.
var ErrTokenExists = errors.New("state: token account already exists")

// Store persists every stakereg record as JSON under a stable key prefix in
// the underlying key-value database. The record mutex guards individual
// reads and writes; the operation mutex is handed to the engines so a whole
// read-modify-write transition holds exclusive ownership of the store.
type Store struct {
	opMu sync.Mutex
	mu   sync.RWMutex
	db   storage.Database
}

// NewStore wraps the supplied database.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// LockOperations acquires the operation mutex. Engines hold it for the full
// span of a mutating operation so concurrent transitions over the same
// records serialize instead of interleaving their reads and writes.
func (s *Store) LockOperations() { s.opMu.Lock() }

// UnlockOperations releases the operation mutex.
func (s *Store) UnlockOperations() { s.opMu.Unlock() }

func registrarKey(addr string) []byte   { return []byte(fmt.Sprintf("registry/registrar/%s", addr)) }
func memberKey(addr string) []byte      { return []byte(fmt.Sprintf("registry/member/%s", addr)) }
func rewardQueueKey(addr string) []byte { return []byte(fmt.Sprintf("registry/rewards/%s", addr)) }
func tokenKey(addr string) []byte       { return []byte(fmt.Sprintf("token/%s", addr)) }
func governorKey(addr string) []byte    { return []byte(fmt.Sprintf("gov/governor/%s", addr)) }
func queueKey(addr string) []byte       { return []byte(fmt.Sprintf("gov/queue/%s", addr)) }
func pollKey(addr string) []byte        { return []byte(fmt.Sprintf("gov/poll/%s", addr)) }
func proposalKey(addr string) []byte    { return []byte(fmt.Sprintf("gov/proposal/%s", addr)) }
func voteKey(addr string) []byte        { return []byte(fmt.Sprintf("gov/vote/%s", addr)) }

func (s *Store) kvGet(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) kvPut(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	return s.db.Put(key, raw)
}

// --- registry records ---

func (s *Store) RegistrarGet(addr string) (*registry.Registrar, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stored registry.Registrar
	ok, err := s.kvGet(registrarKey(addr), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &stored, true, nil
}

func (s *Store) RegistrarPut(r *registry.Registrar) error {
	if r == nil {
		return fmt.Errorf("state: registrar must not be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kvPut(registrarKey(r.Address), r)
}

func (s *Store) MemberGet(addr string) (*registry.Member, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stored registry.Member
	ok, err := s.kvGet(memberKey(addr), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &stored, true, nil
}

func (s *Store) MemberPut(m *registry.Member) error {
	if m == nil {
		return fmt.Errorf("state: member must not be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kvPut(memberKey(m.Address), m)
}

func (s *Store) RewardQueueGet(addr string) (*registry.RewardQueue, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stored registry.RewardQueue
	ok, err := s.kvGet(rewardQueueKey(addr), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &stored, true, nil
}

func (s *Store) RewardQueuePut(q *registry.RewardQueue) error {
	if q == nil {
		return fmt.Errorf("state: reward queue must not be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kvPut(rewardQueueKey(q.Address), q)
}

// --- token accounts ---

func (s *Store) TokenGet(addr string) (*types.TokenAccount, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stored types.TokenAccount
	ok, err := s.kvGet(tokenKey(addr), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &stored, true, nil
}

func (s *Store) TokenPut(acc *types.TokenAccount) error {
	if acc == nil {
		return fmt.Errorf("state: token account must not be nil")
	}
	if acc.Amount != nil && acc.Amount.Sign() < 0 {
		return fmt.Errorf("state: token balance must not be negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kvPut(tokenKey(acc.Address), acc)
}

// TokenCreate stores the account only if the address is unoccupied. The
// existence check and write happen under the record mutex, so concurrent
// creations at the same address admit exactly one.
func (s *Store) TokenCreate(acc *types.TokenAccount) error {
	if acc == nil {
		return fmt.Errorf("state: token account must not be nil")
	}
	if acc.Amount != nil && acc.Amount.Sign() < 0 {
		return fmt.Errorf("state: token balance must not be negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var existing types.TokenAccount
	ok, err := s.kvGet(tokenKey(acc.Address), &existing)
	if err != nil {
		return err
	}
	if ok {
		return ErrTokenExists
	}
	return s.kvPut(tokenKey(acc.Address), acc)
}

// --- voting records ---

func (s *Store) GovernorGet(addr string) (*voting.Governor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stored voting.Governor
	ok, err := s.kvGet(governorKey(addr), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &stored, true, nil
}

func (s *Store) GovernorPut(g *voting.Governor) error {
	if g == nil {
		return fmt.Errorf("state: governor must not be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kvPut(governorKey(g.Address), g)
}

func (s *Store) QueueGet(addr string) (*voting.GovQueue, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stored voting.GovQueue
	ok, err := s.kvGet(queueKey(addr), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &stored, true, nil
}

func (s *Store) QueuePut(q *voting.GovQueue) error {
	if q == nil {
		return fmt.Errorf("state: queue must not be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kvPut(queueKey(q.Address), q)
}

func (s *Store) PollGet(addr string) (*voting.Poll, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stored voting.Poll
	ok, err := s.kvGet(pollKey(addr), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &stored, true, nil
}

func (s *Store) PollPut(p *voting.Poll) error {
	if p == nil {
		return fmt.Errorf("state: poll must not be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kvPut(pollKey(p.Address), p)
}

func (s *Store) ProposalGet(addr string) (*voting.Proposal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stored voting.Proposal
	ok, err := s.kvGet(proposalKey(addr), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &stored, true, nil
}

func (s *Store) ProposalPut(p *voting.Proposal) error {
	if p == nil {
		return fmt.Errorf("state: proposal must not be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kvPut(proposalKey(p.Address), p)
}

func (s *Store) VoteGet(addr string) (*voting.Vote, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stored voting.Vote
	ok, err := s.kvGet(voteKey(addr), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &stored, true, nil
}

// VoteCreate stores the vote only if no vote exists at its address. The
// existence check and write happen under the store mutex, making the
// create-or-reject atomic with respect to concurrent casts.
func (s *Store) VoteCreate(v *voting.Vote) error {
	if v == nil {
		return fmt.Errorf("state: vote must not be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var existing voting.Vote
	ok, err := s.kvGet(voteKey(v.Address), &existing)
	if err != nil {
		return err
	}
	if ok {
		return voting.ErrVoteTwice
	}
	return s.kvPut(voteKey(v.Address), v)
}
