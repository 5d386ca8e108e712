// Package prover launches the external zero-knowledge prover and
// parses its proof output. It is explicitly a placeholder for a
// future RPC-based prover (spec.md §4.I); the only contract the rest
// of the coordinator depends on is the Driver interface's
// (blockNum) -> (Proofs, error) signature.
package prover

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zkrollup/coordinatord/coordinator/state"
)

var logger = zap.L().Named("coordinator.prover").Sugar()

// Driver computes a validity proof for an L2 block number. The
// subprocess implementation below is the canonical one today; a
// future gRPC/JSON-RPC prover need only implement this interface.
type Driver interface {
	Prove(ctx context.Context, blockNum uint64) (state.Proofs, error)
}

// SubprocessDriver launches Command with BLOCK_NUM=<k> in its
// environment for each proof request, inheriting stderr so prover
// logs reach the coordinator's own log stream, and killing the child
// if ctx is cancelled.
type SubprocessDriver struct {
	Command string
}

// NewSubprocessDriver constructs a driver that shells out to command
// (default "./prover_cmd" if empty).
func NewSubprocessDriver(command string) *SubprocessDriver {
	if command == "" {
		command = "./prover_cmd"
	}
	return &SubprocessDriver{Command: command}
}

type proofOutput struct {
	EvmProof   hexBytes `json:"evm_proof"`
	StateProof hexBytes `json:"state_proof"`
}

// hexBytes accepts either a raw JSON string (treated as already-decoded
// bytes) or a 0x-prefixed hex string, matching how provers in the wild
// emit proof bytes.
type hexBytes []byte

func (h *hexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if strings.HasPrefix(s, "0x") {
		b, err := hex.DecodeString(s[2:])
		if err != nil {
			return errors.Wrap(err, "prover: decode hex proof field")
		}
		*h = b
		return nil
	}
	*h = []byte(s)
	return nil
}

// Prove runs the prover binary for blockNum and parses its stdout as
// {evm_proof, state_proof}. Any non-zero exit status is a failure.
func (d *SubprocessDriver) Prove(ctx context.Context, blockNum uint64) (state.Proofs, error) {
	cmd := exec.CommandContext(ctx, d.Command)
	cmd.Env = append(os.Environ(), "BLOCK_NUM="+strconv.FormatUint(blockNum, 10))
	cmd.Stderr = os.Stderr

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	logger.Infow("launching prover", "block", blockNum, "command", d.Command)
	if err := cmd.Run(); err != nil {
		return state.Proofs{}, errors.Wrapf(err, "prover: block %d", blockNum)
	}

	var out proofOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return state.Proofs{}, errors.Wrapf(err, "prover: parse proof JSON for block %d", blockNum)
	}

	return state.Proofs{EvmProof: out.EvmProof, StateProof: out.StateProof}, nil
}
