// Package submit ships every L2 block in (safe, head] to the L1
// bridge via submitBlock, in forward chain order. Grounded on node/sc's
// writeChildChainTxHashFromBlock walk-forward-by-number pattern
// (main_event_handler.go), adapted here to a walk-backward-by-hash
// range discovery since the coordinator only tracks head/safe hashes,
// not a contiguous local chain index.
package submit

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zkrollup/coordinatord/coordinator/bridgeabi"
	"github.com/zkrollup/coordinatord/coordinator/metrics"
	"github.com/zkrollup/coordinatord/coordinator/rpcclient"
	"github.com/zkrollup/coordinatord/coordinator/state"
	"github.com/zkrollup/coordinatord/coordinator/txmgr"
)

var logger = zap.L().Named("coordinator.submit").Sugar()

// Submitter ships blocks in (safe, head] to L1.
type Submitter struct {
	Leader     *rpcclient.Client
	L1         *rpcclient.Client
	Signer     *txmgr.Signer
	Registry   *bridgeabi.Registry
	BridgeAddr common.Address

	// Metrics is optional; when set, a successful submitBlock tx
	// increments TxSubmitted.
	Metrics *metrics.Metrics
}

// New constructs a Submitter.
func New(leader, l1 *rpcclient.Client, signer *txmgr.Signer, registry *bridgeabi.Registry, bridgeAddr common.Address) *Submitter {
	return &Submitter{Leader: leader, L1: l1, Signer: signer, Registry: registry, BridgeAddr: bridgeAddr}
}

// blockRef is the minimal (number, hash, parentHash) triple needed to
// walk the chain backwards from head to safe.
type blockRef struct {
	Number     hexutil.Uint64 `json:"number"`
	Hash       common.Hash    `json:"hash"`
	ParentHash common.Hash    `json:"parentHash"`
}

// Step enumerates (safe, head], oldest first, and for each block
// fetches its header RLP and submits it to the bridge contract.
// Failure of any one submission does not abort the loop; the next
// cycle re-derives the range from the post-sync safe.
func (s *Submitter) Step(ctx context.Context, st *state.State) error {
	snap := st.Snapshot()
	if snap.Safe == snap.Head {
		return nil
	}

	blocks, err := collectRange(ctx, s.Leader, snap.Head, snap.Safe)
	if err != nil {
		return errors.Wrap(err, "submit: collect range")
	}

	for _, b := range blocks {
		headerRlp, err := s.fetchHeaderRlp(ctx, b.Number)
		if err != nil {
			logger.Errorw("failed to fetch header rlp", "number", uint64(b.Number), "err", err)
			continue
		}

		data, err := s.Registry.EncodeCall(bridgeabi.FuncSubmitBlock, headerRlp)
		if err != nil {
			logger.Errorw("failed to encode submitBlock call", "number", uint64(b.Number), "err", err)
			continue
		}

		if _, err := s.Signer.Send(ctx, s.BridgeAddr, nil, data); err != nil {
			logger.Errorw("submitBlock transaction failed", "number", uint64(b.Number), "err", err)
			continue
		}
		if s.Metrics != nil {
			s.Metrics.TxSubmitted.WithLabelValues("l1", "submit_block").Inc()
		}
	}
	return nil
}

func (s *Submitter) fetchHeaderRlp(ctx context.Context, number hexutil.Uint64) (hexutil.Bytes, error) {
	var rlpBytes hexutil.Bytes
	if err := s.Leader.Call(ctx, &rlpBytes, "debug_getHeaderRlp", uint64(number)); err != nil {
		return nil, errors.Wrap(err, "submit: debug_getHeaderRlp")
	}
	return rlpBytes, nil
}

// collectRange walks backwards from head via eth_getBlockByHash until
// it reaches safe (exclusive), then returns the collected blocks in
// forward chain order (oldest first).
func collectRange(ctx context.Context, client *rpcclient.Client, head, safe common.Hash) ([]blockRef, error) {
	var blocks []blockRef
	cursor := head
	for cursor != safe {
		var b blockRef
		if err := client.Call(ctx, &b, "eth_getBlockByHash", cursor, false); err != nil {
			return nil, errors.Wrapf(err, "eth_getBlockByHash(%s)", cursor.Hex())
		}
		if b.Hash == (common.Hash{}) {
			return nil, errors.Errorf("eth_getBlockByHash(%s): not found while walking to safe", cursor.Hex())
		}
		blocks = append(blocks, b)
		cursor = b.ParentHash
		if cursor == (common.Hash{}) {
			break // reached genesis without finding safe; stop rather than loop forever
		}
	}

	// reverse into forward chain order
	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}
	return blocks, nil
}
