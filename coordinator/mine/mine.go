// Package mine implements the coordinator's mine step: deliver one
// pending L1->L2 message, then trigger the leader node to produce a
// block if it has pending transactions. Grounded on node/sc's
// genUnsignedServiceChainTx + chain-head bookkeeping pattern, adapted
// from "anchor a block's hash to the parent chain" to "drive the
// leader's miner and record its new head".
package mine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zkrollup/coordinatord/coordinator/metrics"
	"github.com/zkrollup/coordinatord/coordinator/rpcclient"
	"github.com/zkrollup/coordinatord/coordinator/state"
	"github.com/zkrollup/coordinatord/coordinator/txmgr"
)

var logger = zap.L().Named("coordinator.mine").Sugar()

// Miner drives the leader L2 node: it delivers queued L1 messages as
// L2 transactions and triggers block production.
type Miner struct {
	Leader *rpcclient.Client
	Signer *txmgr.Signer

	// Metrics is optional; when set, a delivered message increments
	// TxSubmitted.
	Metrics *metrics.Metrics
}

// New constructs a Miner.
func New(leader *rpcclient.Client, signer *txmgr.Signer) *Miner {
	return &Miner{Leader: leader, Signer: signer}
}

type txPoolStatus struct {
	Pending hexutil.Uint64 `json:"pending"`
	Queued  hexutil.Uint64 `json:"queued"`
}

type rpcBlock struct {
	Hash common.Hash `json:"hash"`
}

// Step runs phase (i) deliver-one-message and phase (ii)
// trigger-a-block, exactly once per tick, per spec.md §4.F.
func (m *Miner) Step(ctx context.Context, st *state.State) error {
	m.deliverOneMessage(ctx, st)
	return m.triggerBlock(ctx, st)
}

// deliverOneMessage drains at most one beacon from the FIFO queue and
// submits it as an L2 transaction signed by the L2 wallet acting as
// the bridge's L1->L2 inbox. A failure here does not re-enqueue the
// beacon: spec.md §9 flags this loss as an open, undecided question.
func (m *Miner) deliverOneMessage(ctx context.Context, st *state.State) {
	beacon, ok := st.DequeueMessage()
	if !ok {
		return
	}

	_, err := m.Signer.Send(ctx, beacon.To, beacon.Value, beacon.Calldata)
	if err != nil {
		logger.Errorw("failed to deliver L1 message to L2; beacon is dropped", "to", beacon.To.Hex(), "err", err)
		return
	}
	if m.Metrics != nil {
		m.Metrics.TxSubmitted.WithLabelValues("l2", "deliver_message").Inc()
	}
}

// triggerBlock polls txpool_status; if there is pending work it calls
// miner_start(1) then unconditionally miner_stop(), so the leader
// never remains in mining mode after the step even if miner_start
// failed. It then records the leader's latest block hash as head,
// which may be unchanged — that is benign.
func (m *Miner) triggerBlock(ctx context.Context, st *state.State) error {
	var status txPoolStatus
	if err := m.Leader.Call(ctx, &status, "txpool_status"); err != nil {
		return errors.Wrap(err, "mine: txpool_status")
	}

	if status.Pending > 0 {
		var startResult interface{}
		if err := m.Leader.Call(ctx, &startResult, "miner_start", 1); err != nil {
			logger.Errorw("miner_start failed", "err", err)
		}
	}

	// Stop again, unconditionally, regardless of pending count: the
	// leader must never be left in mining mode after this step.
	var stopResult interface{}
	if err := m.Leader.Call(ctx, &stopResult, "miner_stop"); err != nil {
		logger.Errorw("miner_stop failed", "err", err)
	}

	var block rpcBlock
	if err := m.Leader.Call(ctx, &block, "eth_getBlockByNumber", "latest", false); err != nil {
		logger.Errorw("failed to fetch leader head after mine step", "err", err)
		return nil
	}
	st.SetHead(block.Hash)
	return nil
}
