// Package finalize requests proofs for L2 blocks in (final, safe] and,
// once a proof is ready, submits finalizeBlock to L1. The background
// proof task is fire-and-forget, touching state.State only at its two
// terminal transitions (ready or failed), exactly as spec.md §9
// recommends ("arguably cleaner... removes the need for the task to
// touch the lock at all" — here it still touches the lock, but only
// for the two short commit calls, never across the prover call).
package finalize

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zkrollup/coordinatord/coordinator/auditlog"
	"github.com/zkrollup/coordinatord/coordinator/bridgeabi"
	"github.com/zkrollup/coordinatord/coordinator/eventbus"
	"github.com/zkrollup/coordinatord/coordinator/metrics"
	"github.com/zkrollup/coordinatord/coordinator/proofcache"
	"github.com/zkrollup/coordinatord/coordinator/prover"
	"github.com/zkrollup/coordinatord/coordinator/rpcclient"
	"github.com/zkrollup/coordinatord/coordinator/state"
	"github.com/zkrollup/coordinatord/coordinator/txmgr"
)

var logger = zap.L().Named("coordinator.finalize").Sugar()

// Finalizer drives the finalize step.
type Finalizer struct {
	Leader     *rpcclient.Client
	L1         *rpcclient.Client
	Signer     *txmgr.Signer
	Registry   *bridgeabi.Registry
	BridgeAddr common.Address
	Prover     prover.Driver

	// Cache and Audit are optional side channels; both may be nil.
	Cache *proofcache.Cache
	Audit *auditlog.Log
	// Events publishes EventProofReady once a prover job completes; may
	// be nil.
	Events *eventbus.Bus

	// Metrics is optional; when set, a finalizeBlock submission
	// increments TxSubmitted and a completed prover run observes
	// ProofDuration.
	Metrics *metrics.Metrics
}

// New constructs a Finalizer. cache, audit and events may be nil to
// disable the corresponding side channel.
func New(leader, l1 *rpcclient.Client, signer *txmgr.Signer, registry *bridgeabi.Registry, bridgeAddr common.Address, p prover.Driver, cache *proofcache.Cache, audit *auditlog.Log, events *eventbus.Bus) *Finalizer {
	return &Finalizer{Leader: leader, L1: l1, Signer: signer, Registry: registry, BridgeAddr: bridgeAddr, Prover: p, Cache: cache, Audit: audit, Events: events}
}

type blockRef struct {
	Number     hexutil.Uint64 `json:"number"`
	Hash       common.Hash    `json:"hash"`
	ParentHash common.Hash    `json:"parentHash"`
}

// Step enumerates (final, safe] in forward order. For each block it
// inspects prover_requests[k]:
//   - absent: request a proof, subject to MAX_PENDING_PROOFS back-pressure
//   - pending: log and stop this tick (a later tick observes readiness)
//   - ready: submit finalizeBlock
func (f *Finalizer) Step(ctx context.Context, st *state.State) error {
	snap := st.Snapshot()
	if snap.Final == snap.Safe {
		return nil
	}

	blocks, err := collectRange(ctx, f.Leader, snap.Safe, snap.Final)
	if err != nil {
		return errors.Wrap(err, "finalize: collect range")
	}

	// Best-effort GC: resolve final's own block number and prune
	// prover_requests entries at or below it. This uses the real L2
	// block number final resolves to (not an L1 log number, which lives
	// in a different counter space), so it can never prune a slot for a
	// block still awaiting finalization.
	var finalRef blockRef
	if err := f.Leader.Call(ctx, &finalRef, "eth_getBlockByHash", snap.Final, false); err == nil && finalRef.Hash != (common.Hash{}) {
		st.GCFinalized(uint64(finalRef.Number))
	}

	for _, b := range blocks {
		slot, exists := st.ProverSlot(uint64(b.Number))
		if !exists {
			if !st.BeginProof(uint64(b.Number)) {
				// Global back-pressure: at most one proof in flight.
				return nil
			}
			go f.runProver(ctx, uint64(b.Number), st)
			continue
		}

		switch slot.Status {
		case state.StatusPending:
			logger.Debugw("proof still pending; will recheck next tick", "block", uint64(b.Number))
			return nil
		case state.StatusReady:
			if err := f.submitFinalize(ctx, uint64(b.Number), b.Hash, slot.Proof); err != nil {
				logger.Errorw("finalizeBlock submission failed", "block", uint64(b.Number), "err", err)
			}
		}
	}
	return nil
}

// runProver invokes the prover driver for block k in the background
// and commits the terminal state transition. It never holds st's lock
// across the prover call. ctx is the daemon's long-lived run context
// (not a per-tick derivative), so cancelling it on shutdown (SIGINT,
// SIGTERM) kills an in-flight prover subprocess via
// prover.SubprocessDriver's exec.CommandContext rather than orphaning
// it.
func (f *Finalizer) runProver(ctx context.Context, k uint64, st *state.State) {
	start := time.Now()
	proof, err := f.Prover.Prove(ctx, k)
	if err != nil {
		logger.Errorw("prover failed; block will be retried next tick", "block", k, "err", err)
		st.FailProof(k)
		return
	}
	st.CompleteProof(k, proof)
	if f.Metrics != nil {
		f.Metrics.ProofDuration.Observe(time.Since(start).Seconds())
	}
	if err := f.Cache.MarkReady(k); err != nil {
		logger.Warnw("proofcache mark-ready failed", "block", k, "err", err)
	}
	if err := f.Events.Publish(eventbus.Event{Kind: eventbus.EventProofReady, BlockNum: k}); err != nil {
		logger.Warnw("eventbus publish failed", "block", k, "err", err)
	}
}

// submitFinalize builds witness = block_hash (the 32-byte value
// itself; the on-wire ABI encoding of a bytes32 argument is just its
// 32 bytes) and proof_data = evm_proof || state_proof, then submits
// finalizeBlock(block_hash, witness, proof_data).
func (f *Finalizer) submitFinalize(ctx context.Context, blockNum uint64, blockHash common.Hash, proof state.Proofs) error {
	witness := blockHash.Bytes()
	proofData := proof.Encode()

	data, err := f.Registry.EncodeCall(bridgeabi.FuncFinalizeBlock, blockHash, witness, proofData)
	if err != nil {
		return errors.Wrap(err, "finalize: encode finalizeBlock call")
	}

	txHash, err := f.Signer.Send(ctx, f.BridgeAddr, nil, data)
	if err != nil {
		return errors.Wrap(err, "finalize: send finalizeBlock tx")
	}
	if f.Metrics != nil {
		f.Metrics.TxSubmitted.WithLabelValues("l1", "finalize_block").Inc()
	}

	if err := f.Audit.Record(blockNum, blockHash.Hex(), txHash.Hex(), time.Now()); err != nil {
		logger.Warnw("audit log record failed", "block", blockNum, "err", err)
	}
	return nil
}

// collectRange walks backwards from head via eth_getBlockByHash until
// it reaches tail (exclusive), returning blocks oldest-first. It is
// structurally identical to submit's range walk (safe, head] vs
// (final, safe]), kept separate rather than shared to let each
// package evolve its own block reference shape independently.
func collectRange(ctx context.Context, client *rpcclient.Client, head, tail common.Hash) ([]blockRef, error) {
	var blocks []blockRef
	cursor := head
	for cursor != tail {
		var b blockRef
		if err := client.Call(ctx, &b, "eth_getBlockByHash", cursor, false); err != nil {
			return nil, errors.Wrapf(err, "eth_getBlockByHash(%s)", cursor.Hex())
		}
		if b.Hash == (common.Hash{}) {
			return nil, errors.Errorf("eth_getBlockByHash(%s): not found while walking to tail", cursor.Hex())
		}
		blocks = append(blocks, b)
		cursor = b.ParentHash
		if cursor == (common.Hash{}) {
			break
		}
	}

	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}
	return blocks, nil
}
