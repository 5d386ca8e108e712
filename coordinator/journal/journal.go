// Package journal mirrors recently-queued L1 message beacons to an
// append-only RLP file, grounded directly on node/sc's
// bridgeAddrJournal (bridge_manager.go: BridgeJournal's
// EncodeRLP/DecodeRLP plus an insert/load file walk). Unlike the
// teacher's journal, which is authoritative bridge-address state
// reloaded at startup, this journal is diagnostic only: spec.md §1's
// Non-goals forbid persisting chain state across restarts, so
// last_sync_block and the live queue are always rebuilt by replaying
// L1 events from block 0. The journal exists purely so an operator
// can inspect what the coordinator recently observed after a crash.
package journal

import (
	"io"
	"math/big"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/zkrollup/coordinatord/coordinator/state"
)

// entry is the RLP-encodable mirror of state.L1MessageBeacon. big.Int
// fields are carried as byte slices since rlp requires fixed-shape
// types for the encoder/decoder pair below (mirroring BridgeJournal's
// own encode/decode of a fixed field set).
type entry struct {
	From      common.Address
	To        common.Address
	Value     []byte
	Fee       []byte
	Calldata  []byte
	Timestamp uint64
}

// EncodeRLP implements rlp.Encoder, matching the
// BridgeJournal.EncodeRLP shape in the teacher.
func (e *entry) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, []interface{}{e.From, e.To, e.Value, e.Fee, e.Calldata, e.Timestamp})
}

// DecodeRLP implements rlp.Decoder, matching BridgeJournal.DecodeRLP.
func (e *entry) DecodeRLP(s *rlp.Stream) error {
	var elem struct {
		From      common.Address
		To        common.Address
		Value     []byte
		Fee       []byte
		Calldata  []byte
		Timestamp uint64
	}
	if err := s.Decode(&elem); err != nil {
		return err
	}
	e.From, e.To, e.Value, e.Fee, e.Calldata, e.Timestamp =
		elem.From, elem.To, elem.Value, elem.Fee, elem.Calldata, elem.Timestamp
	return nil
}

// Journal appends observed beacons to path. It is safe for concurrent
// use by multiple goroutines (the L1 sync step and any future reader).
type Journal struct {
	path string
	mu   sync.Mutex
}

// Open returns a Journal writing to path. The file is created on
// first Append if it does not exist.
func Open(path string) *Journal {
	return &Journal{path: path}
}

// Append mirrors a beacon to the journal file.
func (j *Journal) Append(b state.L1MessageBeacon) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "journal: open %s", j.path)
	}
	defer f.Close()

	e := &entry{
		From:      b.From,
		To:        b.To,
		Calldata:  b.Calldata,
		Timestamp: b.Timestamp,
	}
	if b.Value != nil {
		e.Value = b.Value.Bytes()
	}
	if b.Fee != nil {
		e.Fee = b.Fee.Bytes()
	}

	if err := rlp.Encode(f, e); err != nil {
		return errors.Wrap(err, "journal: encode entry")
	}
	return nil
}

// Load replays every entry in the journal file, invoking fn for each
// in append order. A missing file yields no entries and no error.
func (j *Journal) Load(fn func(state.L1MessageBeacon)) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "journal: open %s", j.path)
	}
	defer f.Close()

	stream := rlp.NewStream(f, 0)
	for {
		var e entry
		if err := stream.Decode(&e); err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "journal: decode entry")
		}
		fn(state.L1MessageBeacon{
			From:      e.From,
			To:        e.To,
			Value:     new(big.Int).SetBytes(e.Value),
			Fee:       new(big.Int).SetBytes(e.Fee),
			Calldata:  e.Calldata,
			Timestamp: e.Timestamp,
		})
	}
}
