package finalize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkrollup/coordinatord/coordinator/bridgeabi"
	"github.com/zkrollup/coordinatord/coordinator/metrics"
	"github.com/zkrollup/coordinatord/coordinator/prover"
	"github.com/zkrollup/coordinatord/coordinator/rpcclient"
	"github.com/zkrollup/coordinatord/coordinator/state"
	"github.com/zkrollup/coordinatord/coordinator/txmgr"
)

type call struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     json.RawMessage   `json:"id"`
}

// fakeProver always succeeds with a deterministic proof.
type fakeProver struct {
	calls int
}

func (f *fakeProver) Prove(ctx context.Context, blockNum uint64) (state.Proofs, error) {
	f.calls++
	return state.Proofs{EvmProof: []byte("evm"), StateProof: []byte("state")}, nil
}

// newTestFinalizer builds a Finalizer without a Signer, so that building
// it issues no RPC call; tests that submit finalizeBlock set f.Signer.
func newTestFinalizer(t *testing.T, srv *httptest.Server, p prover.Driver) *Finalizer {
	t.Helper()
	reg, err := bridgeabi.New()
	require.NoError(t, err)

	client, err := rpcclient.Dial(context.Background(), srv.URL, rpcclient.ControlPlaneTimeout)
	require.NoError(t, err)

	return New(client, client, nil, reg, common.HexToAddress("0xBEEF"), p, nil, nil, nil)
}

func TestStepNoOpWhenFinalEqualsSafe(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	f := newTestFinalizer(t, srv, &fakeProver{})
	st := state.New(&state.Config{MaxPending: 1}, common.HexToHash("0xG"))

	require.NoError(t, f.Step(context.Background(), st))
	assert.Equal(t, 0, calls)
}

// TestStepSpawnsProverThenSubmitsOnceReady exercises the full
// absent -> pending -> ready -> finalizeBlock lifecycle from spec.md
// §8 scenario 4, across two Step calls (the second observing the
// first's background proof already completed).
func TestStepSpawnsProverThenSubmitsOnceReady(t *testing.T) {
	genesis := common.HexToHash("0x0")
	blockHash := common.HexToHash("0x1")

	var submittedData [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c call
		require.NoError(t, json.NewDecoder(r.Body).Decode(&c))
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": c.ID}
		switch c.Method {
		case "eth_getBlockByHash":
			var h common.Hash
			require.NoError(t, json.Unmarshal(c.Params[0], &h))
			switch h {
			case blockHash:
				resp["result"] = map[string]interface{}{"number": "0x1", "hash": blockHash.Hex(), "parentHash": genesis.Hex()}
			case genesis:
				resp["result"] = map[string]interface{}{"number": "0x0", "hash": genesis.Hex(), "parentHash": genesis.Hex()}
			}
		case "eth_chainId":
			resp["result"] = "0x1"
		case "eth_getTransactionCount":
			resp["result"] = "0x0"
		case "eth_estimateGas":
			resp["result"] = "0x5208"
		case "eth_gasPrice":
			resp["result"] = "0x3b9aca00"
		case "eth_sendRawTransaction":
			var raw string
			require.NoError(t, json.Unmarshal(c.Params[0], &raw))
			submittedData = append(submittedData, []byte(raw))
			resp["result"] = "0x1111111111111111111111111111111111111111111111111111111111111111"
		case "eth_getTransactionReceipt":
			resp["result"] = map[string]interface{}{"status": "0x1", "blockNumber": "0x1"}
		default:
			t.Fatalf("unexpected method %s", c.Method)
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	p := &fakeProver{}
	f := newTestFinalizer(t, srv, p)
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	f.Signer, err = txmgr.NewSigner(context.Background(), f.L1, priv)
	require.NoError(t, err)
	f.Metrics = metrics.New()
	st := state.New(&state.Config{MaxPending: 1}, common.Hash{})
	st.SetSafe(blockHash)

	// First tick: spawns the prover in the background.
	require.NoError(t, f.Step(context.Background(), st))
	require.Eventually(t, func() bool {
		slot, ok := st.ProverSlot(1)
		return ok && (slot.Status == state.StatusReady || p.calls == 1)
	}, eventuallyTimeout, eventuallyTick)

	// Wait until the background goroutine has committed CompleteProof.
	require.Eventually(t, func() bool {
		slot, ok := st.ProverSlot(1)
		return ok && slot.Status == state.StatusReady
	}, eventuallyTimeout, eventuallyTick)
	assert.Equal(t, 1, testutil.CollectAndCount(f.Metrics.ProofDuration), "a completed prover run observes ProofDuration")

	// Second tick: proof is ready, finalizeBlock is submitted.
	require.NoError(t, f.Step(context.Background(), st))
	require.Len(t, submittedData, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.Metrics.TxSubmitted.WithLabelValues("l1", "finalize_block")))
}

func TestStepBackpressureStopsAtOneInFlight(t *testing.T) {
	genesis := common.HexToHash("0x0")
	h1 := common.HexToHash("0x1")
	h2 := common.HexToHash("0x2")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c call
		require.NoError(t, json.NewDecoder(r.Body).Decode(&c))
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": c.ID}
		switch c.Method {
		case "eth_getBlockByHash":
			var h common.Hash
			require.NoError(t, json.Unmarshal(c.Params[0], &h))
			switch h {
			case h2:
				resp["result"] = map[string]interface{}{"number": "0x2", "hash": h2.Hex(), "parentHash": h1.Hex()}
			case h1:
				resp["result"] = map[string]interface{}{"number": "0x1", "hash": h1.Hex(), "parentHash": genesis.Hex()}
			}
		default:
			t.Fatalf("unexpected method %s", c.Method)
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	p := &blockingProver{release: make(chan struct{})}
	f := newTestFinalizer(t, srv, p)
	st := state.New(&state.Config{MaxPending: 1}, common.Hash{})
	st.SetSafe(h2)

	require.NoError(t, f.Step(context.Background(), st))
	// block 1's proof is now in flight (blocked); block 2 must not spawn.
	_, existsBlock2 := st.ProverSlot(2)
	assert.False(t, existsBlock2, "back-pressure must prevent a second in-flight proof")

	close(p.release)
}

type blockingProver struct {
	release chan struct{}
}

func (b *blockingProver) Prove(ctx context.Context, blockNum uint64) (state.Proofs, error) {
	<-b.release
	return state.Proofs{}, nil
}

// ctxObservingProver reports whether the ctx it was invoked with was
// ever cancelled, blocking until either ctx.Done() fires or release is
// closed.
type ctxObservingProver struct {
	release  chan struct{}
	canceled chan bool
}

func (c *ctxObservingProver) Prove(ctx context.Context, blockNum uint64) (state.Proofs, error) {
	select {
	case <-ctx.Done():
		c.canceled <- true
		return state.Proofs{}, ctx.Err()
	case <-c.release:
		c.canceled <- false
		return state.Proofs{}, nil
	}
}

// TestStepPropagatesCallerContextIntoBackgroundProver asserts that the
// ctx handed to runProver (which Step spawns with its own ctx) reaches
// the prover call, so
// that cancelling the daemon's run context (on SIGINT/SIGTERM) kills an
// in-flight prover subprocess rather than orphaning it, matching
// spec.md §4.I's "killing on drop" requirement.
func TestStepPropagatesCallerContextIntoBackgroundProver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no RPC call expected in this test")
	}))
	defer srv.Close()

	p := &ctxObservingProver{release: make(chan struct{}), canceled: make(chan bool, 1)}
	f := newTestFinalizer(t, srv, p)
	st := state.New(&state.Config{MaxPending: 1}, common.Hash{})
	st.SetSafe(common.HexToHash("0x1"))

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, st.BeginProof(1))
	go f.runProver(ctx, 1, st)
	cancel()

	select {
	case wasCanceled := <-p.canceled:
		assert.True(t, wasCanceled, "background prover must observe the caller's context cancellation")
	case <-time.After(eventuallyTimeout):
		t.Fatal("prover never observed context cancellation")
	}
}

const (
	eventuallyTimeout = 2 * time.Second
	eventuallyTick    = 10 * time.Millisecond
)
