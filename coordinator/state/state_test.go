package state

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{MaxPending: 1}
}

func TestNewInitializesAllThreeHeadsToGenesis(t *testing.T) {
	genesis := common.HexToHash("0xabc")
	s := New(testConfig(), genesis)

	assert.Equal(t, genesis, s.Head())
	assert.Equal(t, genesis, s.Safe())
	assert.Equal(t, genesis, s.Final())
	assert.EqualValues(t, 0, s.LastSyncBlock())
}

func TestBootstrapGuardsDoubleInit(t *testing.T) {
	bootstrapped = 0 // isolate from other tests in this package
	genesis := common.HexToHash("0x1")

	_, err := Bootstrap(testConfig(), genesis)
	require.NoError(t, err)

	_, err = Bootstrap(testConfig(), genesis)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestLastSyncBlockIsNonDecreasing(t *testing.T) {
	s := New(testConfig(), common.Hash{})
	s.SetLastSyncBlock(10)
	s.SetLastSyncBlock(4) // stale, must not regress
	assert.EqualValues(t, 10, s.LastSyncBlock())
	s.SetLastSyncBlock(20)
	assert.EqualValues(t, 20, s.LastSyncBlock())
}

func TestMessageQueueIsFIFO(t *testing.T) {
	s := New(testConfig(), common.Hash{})
	a := L1MessageBeacon{To: common.HexToAddress("0xA"), Value: big.NewInt(1)}
	b := L1MessageBeacon{To: common.HexToAddress("0xB"), Value: big.NewInt(2)}
	s.EnqueueMessage(a)
	s.EnqueueMessage(b)

	got, ok := s.DequeueMessage()
	require.True(t, ok)
	assert.Equal(t, a, got)

	got, ok = s.DequeueMessage()
	require.True(t, ok)
	assert.Equal(t, b, got)

	_, ok = s.DequeueMessage()
	assert.False(t, ok)
}

func TestBeginProofRespectsBackpressure(t *testing.T) {
	cfg := &Config{MaxPending: 1}
	s := New(cfg, common.Hash{})

	assert.True(t, s.BeginProof(1))
	assert.False(t, s.BeginProof(2), "pending_proofs already at MAX_PENDING_PROOFS")
	assert.False(t, s.BeginProof(1), "slot already exists for block 1")
	assert.Equal(t, 1, s.PendingProofs())
}

func TestProofLifecycleFailureAllowsRetry(t *testing.T) {
	s := New(testConfig(), common.Hash{})
	require.True(t, s.BeginProof(5))

	slot, ok := s.ProverSlot(5)
	require.True(t, ok)
	assert.Equal(t, StatusPending, slot.Status)

	s.FailProof(5)
	_, ok = s.ProverSlot(5)
	assert.False(t, ok, "failed slot must be removed to permit retry")
	assert.Equal(t, 0, s.PendingProofs())

	require.True(t, s.BeginProof(5), "retry must be possible after failure")
}

func TestProofLifecycleSuccessTransitionsToReady(t *testing.T) {
	s := New(testConfig(), common.Hash{})
	require.True(t, s.BeginProof(7))

	proof := Proofs{EvmProof: []byte{1, 2}, StateProof: []byte{3, 4}}
	s.CompleteProof(7, proof)

	slot, ok := s.ProverSlot(7)
	require.True(t, ok)
	assert.Equal(t, StatusReady, slot.Status)
	assert.Equal(t, []byte{1, 2, 3, 4}, slot.Proof.Encode())
	assert.Equal(t, 0, s.PendingProofs())
}

func TestGCFinalizedPrunesOnlyAtOrBelowThreshold(t *testing.T) {
	s := New(testConfig(), common.Hash{})
	s.proverRequests[3] = &ProverSlot{Status: StatusReady}
	s.proverRequests[8] = &ProverSlot{Status: StatusReady}

	s.GCFinalized(5)

	_, ok := s.ProverSlot(3)
	assert.False(t, ok)
	_, ok = s.ProverSlot(8)
	assert.True(t, ok)
}

func TestProofsEncodeConcatenationOrder(t *testing.T) {
	p := Proofs{EvmProof: []byte("evm"), StateProof: []byte("state")}
	assert.Equal(t, []byte("evmstate"), p.Encode())
}
