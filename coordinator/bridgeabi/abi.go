// Package bridgeabi parses the L1 bridge contract's ABI once at
// startup and exposes precomputed event topic hashes plus typed
// encode/decode helpers, so the L1 sync hot path performs only 32-byte
// topic comparisons rather than re-hashing signatures per log.
package bridgeabi

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// bridgeABIJSON is the bit-exact ABI from spec.md §6: three events
// (BlockSubmitted, BlockFinalized, L1MessageSent) and two functions
// (submitBlock, finalizeBlock).
const bridgeABIJSON = `[
	{"type":"event","name":"BlockSubmitted","anonymous":false,"inputs":[]},
	{"type":"event","name":"BlockFinalized","anonymous":false,"inputs":[
		{"name":"blockHash","type":"bytes32","indexed":false}
	]},
	{"type":"event","name":"L1MessageSent","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":false},
		{"name":"to","type":"address","indexed":false},
		{"name":"value","type":"uint256","indexed":false},
		{"name":"fee","type":"uint256","indexed":false},
		{"name":"data","type":"bytes","indexed":false}
	]},
	{"type":"function","name":"submitBlock","stateMutability":"nonpayable","inputs":[
		{"name":"headerRlp","type":"bytes"}
	],"outputs":[]},
	{"type":"function","name":"finalizeBlock","stateMutability":"nonpayable","inputs":[
		{"name":"blockHash","type":"bytes32"},
		{"name":"witness","type":"bytes"},
		{"name":"proof","type":"bytes"}
	],"outputs":[]}
]`

const (
	// EventBlockSubmitted is the event name used to look up its topic.
	EventBlockSubmitted = "BlockSubmitted"
	// EventBlockFinalized is the event name used to look up its topic.
	EventBlockFinalized = "BlockFinalized"
	// EventL1MessageSent is the event name used to look up its topic.
	EventL1MessageSent = "L1MessageSent"

	// FuncSubmitBlock is the function name for submitBlock(bytes).
	FuncSubmitBlock = "submitBlock"
	// FuncFinalizeBlock is the function name for finalizeBlock(bytes32,bytes,bytes).
	FuncFinalizeBlock = "finalizeBlock"
)

// Registry is the parsed bridge ABI plus precomputed topic hashes.
type Registry struct {
	ABI abi.ABI

	BlockSubmittedTopic common.Hash
	BlockFinalizedTopic common.Hash
	L1MessageSentTopic  common.Hash
}

// New parses bridgeABIJSON once and precomputes the three event
// topics the sync loop dispatches on.
func New() (*Registry, error) {
	parsed, err := abi.JSON(strings.NewReader(bridgeABIJSON))
	if err != nil {
		return nil, errors.Wrap(err, "bridgeabi: parse ABI")
	}
	r := &Registry{ABI: parsed}
	for name, dst := range map[string]*common.Hash{
		EventBlockSubmitted: &r.BlockSubmittedTopic,
		EventBlockFinalized: &r.BlockFinalizedTopic,
		EventL1MessageSent:  &r.L1MessageSentTopic,
	} {
		t, err := r.Topic(name)
		if err != nil {
			return nil, err
		}
		*dst = t
	}
	return r, nil
}

// Topic returns the Keccak-256 event signature hash for the named
// event.
func (r *Registry) Topic(name string) (common.Hash, error) {
	ev, ok := r.ABI.Events[name]
	if !ok {
		return common.Hash{}, errors.Errorf("bridgeabi: unknown event %q", name)
	}
	return ev.ID, nil
}

// EncodeCall ABI-encodes a call to the named function, selector
// included, ready to use as a transaction's data field.
func (r *Registry) EncodeCall(name string, args ...interface{}) ([]byte, error) {
	data, err := r.ABI.Pack(name, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "bridgeabi: encode %s", name)
	}
	return data, nil
}

// DecodeBlockFinalized extracts the 32-byte blockHash from a
// BlockFinalized log's non-indexed data.
func (r *Registry) DecodeBlockFinalized(data []byte) (common.Hash, error) {
	vals, err := r.ABI.Events[EventBlockFinalized].Inputs.Unpack(data)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "bridgeabi: decode BlockFinalized")
	}
	if len(vals) != 1 {
		return common.Hash{}, errors.New("bridgeabi: decode BlockFinalized: unexpected field count")
	}
	h, ok := vals[0].([32]byte)
	if !ok {
		return common.Hash{}, errors.New("bridgeabi: decode BlockFinalized: unexpected field type")
	}
	return common.Hash(h), nil
}

// L1Message is the decoded form of an L1MessageSent log.
type L1Message struct {
	From     common.Address
	To       common.Address
	Value    *big.Int
	Fee      *big.Int
	Calldata []byte
}

// DecodeL1MessageSent decodes an L1MessageSent log's non-indexed data
// into its five fields.
func (r *Registry) DecodeL1MessageSent(data []byte) (L1Message, error) {
	vals, err := r.ABI.Events[EventL1MessageSent].Inputs.Unpack(data)
	if err != nil {
		return L1Message{}, errors.Wrap(err, "bridgeabi: decode L1MessageSent")
	}
	if len(vals) != 5 {
		return L1Message{}, errors.New("bridgeabi: decode L1MessageSent: unexpected field count")
	}
	msg := L1Message{
		From:     vals[0].(common.Address),
		To:       vals[1].(common.Address),
		Value:    vals[2].(*big.Int),
		Fee:      vals[3].(*big.Int),
		Calldata: vals[4].([]byte),
	}
	return msg, nil
}
