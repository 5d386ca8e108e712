// Package l1sync pulls bridge logs from L1 in ranges, classifies them
// by topic, and updates safe/final hashes and the L1 message queue.
// Grounded on node/sc's ChainEventHandler pair (main_event_handler.go,
// sub_event_handler.go) for the "classify event, mutate shared state"
// shape, generalized from a p2p event-loop subscription to a polling
// eth_getLogs range scan per spec.md §4.E.
package l1sync

import (
	"context"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zkrollup/coordinatord/coordinator/bridgeabi"
	"github.com/zkrollup/coordinatord/coordinator/journal"
	"github.com/zkrollup/coordinatord/coordinator/metrics"
	"github.com/zkrollup/coordinatord/coordinator/rpcclient"
	"github.com/zkrollup/coordinatord/coordinator/state"
)

var logger = zap.L().Named("coordinator.l1sync").Sugar()

const (
	// initialStep is the canonical STEP=1 from spec.md §4.E.
	initialStep = uint64(1)
	// maxStep bounds how aggressively the adaptive stepper grows the
	// scan window after a run of successful passes.
	maxStep = uint64(2048)
	// seenLogCacheSize bounds the dedup guard below; after a partial
	// failure, Step returns without committing last_sync_block, so the
	// next tick re-fetches logs already dispatched, and this is sized
	// well above what one eth_getLogs call at maxStep would return.
	seenLogCacheSize = 4096
)

// Syncer implements the L1 sync step. It holds an adaptive,
// task-local scan step; nothing it touches is shared with other
// tasks, so it needs no locking of its own (state.State provides
// that).
type Syncer struct {
	L1         *rpcclient.Client
	Leader     *rpcclient.Client // L2 leader node, used to verify BlockSubmitted payloads
	Registry   *bridgeabi.Registry
	BridgeAddr common.Address

	step uint64
	// seen guards against re-dispatching the same (txHash, logIndex)
	// log twice, e.g. if a retried range scan re-fetches a
	// sub-range it already processed. Grounded on the teacher's
	// pervasive use of hashicorp/golang-lru for bounded caches
	// throughout blockchain/.
	seen *lru.Cache

	// Journal optionally mirrors every observed L1MessageSent beacon to
	// disk for post-crash diagnostics; nil disables it. It is never
	// consulted to reconstruct state.State (spec.md §1 forbids
	// persisting chain state across restarts).
	Journal *journal.Journal

	// Metrics is optional; when set, Step reports sync lag to it.
	Metrics *metrics.Metrics
}

// New constructs a Syncer with the cold-start step of 1.
func New(l1, leader *rpcclient.Client, registry *bridgeabi.Registry, bridgeAddr common.Address) *Syncer {
	seen, err := lru.New(seenLogCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which never
		// happens with the constant above.
		panic(err)
	}
	return &Syncer{
		L1:         l1,
		Leader:     leader,
		Registry:   registry,
		BridgeAddr: bridgeAddr,
		step:       initialStep,
		seen:       seen,
	}
}

type rpcLog struct {
	Address     common.Address  `json:"address"`
	Topics      []common.Hash   `json:"topics"`
	Data        hexutil.Bytes   `json:"data"`
	BlockNumber hexutil.Uint64  `json:"blockNumber"`
	TxHash      common.Hash     `json:"transactionHash"`
	LogIndex    hexutil.Uint64  `json:"logIndex"`
}

type rpcTx struct {
	Input hexutil.Bytes `json:"input"`
}

// Step runs one L1 sync pass: from state.LastSyncBlock()+1 through L1's
// current eth_blockNumber, in Syncer.step-sized ranges, dispatching
// each log by topics[0] and committing last_sync_block at the end.
func (s *Syncer) Step(ctx context.Context, st *state.State) error {
	var latestHex hexutil.Uint64
	if err := s.L1.Call(ctx, &latestHex, "eth_blockNumber"); err != nil {
		return errors.Wrap(err, "l1sync: eth_blockNumber")
	}
	latest := uint64(latestHex)

	last := st.LastSyncBlock()
	if s.Metrics != nil {
		lag := uint64(0)
		if latest > last {
			lag = latest - last
		}
		s.Metrics.SyncLag.Set(float64(lag))
	}
	if last >= latest {
		return nil
	}

	from := last + 1
	for from <= latest {
		to := from + s.step - 1
		if to > latest {
			to = latest
		}

		logs, err := s.getLogs(ctx, from, to)
		if err != nil {
			s.shrinkStep()
			return errors.Wrapf(err, "l1sync: eth_getLogs [%d,%d]", from, to)
		}
		s.growStep()

		for _, lg := range logs {
			s.dispatch(ctx, st, lg)
		}

		from = to + 1
	}

	st.SetLastSyncBlock(latest)
	return nil
}

func (s *Syncer) growStep() {
	if s.step < maxStep {
		s.step *= 2
		if s.step > maxStep {
			s.step = maxStep
		}
	}
}

func (s *Syncer) shrinkStep() {
	if s.step > initialStep {
		s.step /= 2
		if s.step < initialStep {
			s.step = initialStep
		}
	}
}

func (s *Syncer) getLogs(ctx context.Context, from, to uint64) ([]rpcLog, error) {
	filter := map[string]interface{}{
		"address": s.BridgeAddr,
		"topics": [][]common.Hash{{
			s.Registry.BlockSubmittedTopic,
			s.Registry.BlockFinalizedTopic,
			s.Registry.L1MessageSentTopic,
		}},
		"fromBlock": hexutil.Uint64(from),
		"toBlock":   hexutil.Uint64(to),
	}
	var logs []rpcLog
	if err := s.L1.Call(ctx, &logs, "eth_getLogs", filter); err != nil {
		// Any eth_getLogs error (including a peer's result-size/log-count
		// limit error) triggers the adaptive shrink in Step, matching
		// the "MAY shrink STEP on RPC error/log-count limits" guidance
		// in spec.md §4.E step 3a.
		return nil, err
	}
	return logs, nil
}

func (s *Syncer) dispatch(ctx context.Context, st *state.State, lg rpcLog) {
	if len(lg.Topics) == 0 {
		return
	}

	key := logKey(lg)
	if _, ok := s.seen.Get(key); ok {
		logger.Debugw("skipping already-dispatched log", "tx", lg.TxHash.Hex(), "logIndex", uint64(lg.LogIndex))
		return
	}
	s.seen.Add(key, struct{}{})

	switch lg.Topics[0] {
	case s.Registry.BlockSubmittedTopic:
		s.handleBlockSubmitted(ctx, st, lg)
	case s.Registry.BlockFinalizedTopic:
		s.handleBlockFinalized(st, lg)
	case s.Registry.L1MessageSentTopic:
		s.handleL1MessageSent(st, lg)
	default:
		logger.Warnw("log with unknown topic in bridge filter result", "topic", lg.Topics[0].Hex())
	}
}

// handleBlockSubmitted recovers the submitted header payload from the
// emitting transaction's calldata, per spec.md §4.E: 4-byte selector,
// then ABI-encoded bytes (offset at [4:36], length at [36:68], payload
// from 68). It Keccak-256s the payload, checks the resulting hash
// exists on the leader, and only then advances safe.
func (s *Syncer) handleBlockSubmitted(ctx context.Context, st *state.State, lg rpcLog) {
	var tx rpcTx
	if err := s.L1.Call(ctx, &tx, "eth_getTransactionByHash", lg.TxHash); err != nil {
		logger.Errorw("failed to fetch BlockSubmitted tx", "tx", lg.TxHash.Hex(), "err", err)
		return
	}

	payload, err := decodeSubmitBlockPayload(tx.Input)
	if err != nil {
		logger.Errorw("failed to decode BlockSubmitted calldata", "tx", lg.TxHash.Hex(), "err", err)
		return
	}

	blockHash := crypto.Keccak256Hash(payload)

	var header interface{}
	if err := s.Leader.Call(ctx, &header, "eth_getHeaderByHash", blockHash); err != nil {
		logger.Errorw("eth_getHeaderByHash failed while verifying submitted block", "hash", blockHash.Hex(), "err", err)
		return
	}
	if header == nil {
		// Open question (spec.md §9): behavior under a mismatch/reorg
		// is undefined. We log and do not advance safe, matching
		// spec.md §4.E's explicit instruction.
		logger.Errorw("submitted block hash not found on leader; not advancing safe", "hash", blockHash.Hex())
		return
	}

	st.SetSafe(blockHash)
}

// decodeSubmitBlockPayload extracts the dynamic bytes argument of a
// submitBlock(bytes) call from raw transaction input.
//
// This reproduces spec.md §9's flagged bug verbatim: if the declared
// length exceeds what remains in the calldata, the slice is silently
// truncated (warn-and-proceed) rather than zero-padded or rejected.
// That is an open question in spec.md, not something this
// implementation is asked to fix.
func decodeSubmitBlockPayload(input []byte) ([]byte, error) {
	const selectorLen = 4
	const lengthFieldEnd = selectorLen + 64 // offset word (32) + length word (32)
	if len(input) < lengthFieldEnd {
		return nil, errors.New("calldata shorter than selector+offset+length")
	}

	lengthWord := input[selectorLen+32 : lengthFieldEnd]
	length := new(big.Int).SetBytes(lengthWord).Uint64()

	payloadStart := lengthFieldEnd
	payloadEnd := payloadStart + int(length)
	if payloadEnd > len(input) {
		// TODO: zeropad block data - spec.md flags this truncation as
		// an open question; reproduced faithfully rather than fixed.
		logger.Warnw("submitBlock payload length exceeds calldata; proceeding with truncated slice",
			"declared_length", length, "available", len(input)-payloadStart)
		payloadEnd = len(input)
	}
	if payloadStart > payloadEnd {
		return nil, errors.New("calldata payload offset beyond calldata length")
	}
	return input[payloadStart:payloadEnd], nil
}

func logKey(lg rpcLog) string {
	return lg.TxHash.Hex() + ":" + strconv.FormatUint(uint64(lg.LogIndex), 10)
}

func (s *Syncer) handleBlockFinalized(st *state.State, lg rpcLog) {
	h, err := s.Registry.DecodeBlockFinalized(lg.Data)
	if err != nil {
		logger.Errorw("failed to decode BlockFinalized log", "err", err)
		return
	}
	st.SetFinal(h)
}

func (s *Syncer) handleL1MessageSent(st *state.State, lg rpcLog) {
	msg, err := s.Registry.DecodeL1MessageSent(lg.Data)
	if err != nil {
		logger.Errorw("failed to decode L1MessageSent log", "err", err)
		return
	}
	beacon := state.L1MessageBeacon{
		From:      msg.From,
		To:        msg.To,
		Value:     msg.Value,
		Fee:       msg.Fee,
		Calldata:  msg.Calldata,
		Timestamp: 0,
	}
	st.EnqueueMessage(beacon)
	logger.Debugw("enqueued L1 message", "from", msg.From.Hex(), "to", msg.To.Hex(), "block", lg.BlockNumber)

	if s.Journal != nil {
		if err := s.Journal.Append(beacon); err != nil {
			logger.Warnw("journal append failed", "err", err)
		}
	}
}
