// Package state holds the coordinator's shared state: the frozen
// configuration (ro) and the mutable chain-head / queue / proof-slot
// record (rw) behind a single exclusive lock.
//
// The split mirrors node/sc.SubBridge in the teacher repository: a
// read-only ctx/config value freely shared by reference, plus a small
// mutable record guarded by one mutex. No step may hold the lock
// across network I/O or a sub-process spawn; callers must snapshot,
// release, do I/O, then re-acquire to commit.
package state

import (
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// MaxPendingProofsDefault is the canonical MAX_PENDING_PROOFS from the
// design: at most one prover job in flight globally.
const MaxPendingProofsDefault = 1

// ErrAlreadyInitialized is returned by Bootstrap when called more than
// once in the process lifetime. The original coordinator panics on a
// double init; Go callers get an error instead since this is a caller
// programming mistake, not an unrecoverable runtime fault.
var ErrAlreadyInitialized = errors.New("coordinator: state already bootstrapped")

var bootstrapped uint32

// L1MessageBeacon is a compact record of an L1->L2 message pending
// delivery to the leader node.
type L1MessageBeacon struct {
	From      common.Address
	To        common.Address
	Value     *big.Int
	Fee       *big.Int
	Calldata  []byte
	Timestamp uint64
}

// Proofs is the (evm_proof, state_proof) pair returned by the prover.
// Concatenation order is load-bearing: EvmProof||StateProof is the
// exact bytestring passed as finalizeBlock's proof argument.
type Proofs struct {
	EvmProof   []byte
	StateProof []byte
}

// Encode returns evm_proof || state_proof.
func (p Proofs) Encode() []byte {
	out := make([]byte, 0, len(p.EvmProof)+len(p.StateProof))
	out = append(out, p.EvmProof...)
	out = append(out, p.StateProof...)
	return out
}

// ProofStatus is the per-block prover slot state.
type ProofStatus int

const (
	// StatusPending means a prover job is running for this block.
	StatusPending ProofStatus = iota
	// StatusReady means the proof has been computed and is awaiting
	// submission via finalizeBlock.
	StatusReady
)

// ProverSlot is one entry of prover_requests.
type ProverSlot struct {
	Status ProofStatus
	Proof  Proofs
}

// Signer is a minimal chain-id-bound signer surface. No package in the
// coordinator uses it: finalize, mine and submit take *txmgr.Signer
// directly.
type Signer interface {
	ChainID() *big.Int
}

// Config is the frozen, read-only configuration shared by reference
// across every task. It is never mutated after Bootstrap/New returns.
type Config struct {
	LeaderNode    string
	L1Node        string
	L1BridgeAddr  common.Address
	MaxPending    int
	ControlPlane  int // reserved: control-plane timeout in milliseconds, kept for callers that want it from Config
}

// ChainState is an immutable snapshot of the three chain heads.
type ChainState struct {
	Head, Safe, Final common.Hash
}

// State is the coordinator's single mutable record. Every exported
// method is a short, lock-bounded operation; none perform I/O.
type State struct {
	Config *Config

	mu             sync.Mutex
	head           common.Hash
	safe           common.Hash
	final          common.Hash
	lastSyncBlock  uint64
	queue          []L1MessageBeacon
	proverRequests map[uint64]*ProverSlot
	pendingProofs  int
}

// New constructs a state initialized at the L2 genesis hash for all
// three heads, per spec: "At init, all three equal the L2 genesis
// hash." New may be called freely (e.g. from tests); only Bootstrap
// enforces the single-process-lifetime guard.
func New(cfg *Config, genesis common.Hash) *State {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = MaxPendingProofsDefault
	}
	return &State{
		Config:         cfg,
		head:           genesis,
		safe:           genesis,
		final:          genesis,
		proverRequests: make(map[uint64]*ProverSlot),
	}
}

// Bootstrap is the process-lifetime-guarded constructor the daemon's
// main() calls exactly once. A second call returns
// ErrAlreadyInitialized instead of panicking.
func Bootstrap(cfg *Config, genesis common.Hash) (*State, error) {
	if !atomic.CompareAndSwapUint32(&bootstrapped, 0, 1) {
		return nil, ErrAlreadyInitialized
	}
	return New(cfg, genesis), nil
}

// Head returns the current L2 head hash.
func (s *State) Head() common.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}

// Safe returns the current safe (submitted) hash.
func (s *State) Safe() common.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.safe
}

// Final returns the current finalized hash.
func (s *State) Final() common.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final
}

// Snapshot returns all three heads atomically, for callers (submit,
// finalize) that need a consistent view before releasing the lock to
// do I/O.
func (s *State) Snapshot() ChainState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ChainState{Head: s.head, Safe: s.safe, Final: s.final}
}

// SetHead commits a new head hash. It may equal the previous value;
// that is benign (mine step no-op).
func (s *State) SetHead(h common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = h
}

// SetSafe overwrites safe unconditionally, matching spec.md's
// undecided-monotonicity open question: callers do not check ancestry.
func (s *State) SetSafe(h common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.safe = h
}

// SetFinal overwrites final unconditionally, same caveat as SetSafe.
func (s *State) SetFinal(h common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.final = h
}

// LastSyncBlock returns the last L1 block number whose logs have been
// consumed.
func (s *State) LastSyncBlock() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSyncBlock
}

// SetLastSyncBlock commits the new sync cursor. A value not above the
// current cursor is ignored, so last_sync_block never decreases.
func (s *State) SetLastSyncBlock(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.lastSyncBlock {
		s.lastSyncBlock = n
	}
}

// EnqueueMessage appends a beacon to the FIFO L1 message queue.
func (s *State) EnqueueMessage(b L1MessageBeacon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, b)
}

// DequeueMessage pops and returns the first queued beacon, if any.
func (s *State) DequeueMessage() (L1MessageBeacon, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return L1MessageBeacon{}, false
	}
	b := s.queue[0]
	s.queue = s.queue[1:]
	return b, true
}

// QueueLen reports the number of beacons awaiting delivery.
func (s *State) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// ProverSlot returns a copy of the prover_requests entry for block k,
// if present.
func (s *State) ProverSlot(k uint64) (ProverSlot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.proverRequests[k]
	if !ok {
		return ProverSlot{}, false
	}
	return *slot, true
}

// BeginProof inserts a pending slot for block k and reserves one unit
// of prover back-pressure. It returns false (and mutates nothing) if
// the global MAX_PENDING_PROOFS budget is already exhausted, or if a
// slot already exists for k.
func (s *State) BeginProof(k uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.proverRequests[k]; exists {
		return false
	}
	if s.pendingProofs >= s.Config.MaxPending {
		return false
	}
	s.proverRequests[k] = &ProverSlot{Status: StatusPending}
	s.pendingProofs++
	return true
}

// CompleteProof transitions block k's slot to ready and decrements the
// in-flight counter.
func (s *State) CompleteProof(k uint64, proof Proofs) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot, ok := s.proverRequests[k]; ok {
		slot.Status = StatusReady
		slot.Proof = proof
	}
	s.pendingProofs--
}

// FailProof removes block k's slot entirely, permitting a future
// retry, and decrements the in-flight counter.
func (s *State) FailProof(k uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.proverRequests, k)
	s.pendingProofs--
}

// PendingProofs returns the current in-flight prover job count.
func (s *State) PendingProofs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingProofs
}

// ProverRequestCount returns the number of tracked prover_requests
// entries, exposed for the testable-properties invariant in spec.md
// §8 (prover_requests.size <= blocks-in-(final,safe] + constant).
func (s *State) ProverRequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.proverRequests)
}

// GCFinalized removes prover_requests entries whose block number is
// at or below the given finalized block number. Spec.md notes this is
// optional ("MAY GC"); finalize.Step calls it every tick with the L2
// block number that final resolves to, so the map does not grow
// without bound.
func (s *State) GCFinalized(finalizedNum uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.proverRequests {
		if k <= finalizedNum {
			delete(s.proverRequests, k)
		}
	}
}
