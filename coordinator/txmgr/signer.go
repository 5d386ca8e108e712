// Package txmgr builds, signs, and submits transactions on a single
// chain from a local key, grounded on the teacher's genUnsignedServiceChainTx
// (node/sc/subbridge.go) and send/poll pattern implied by
// client/bridge_client.go's CallContext wrapping. One Signer instance
// is bound to one chain id at construction, matching spec.md §4.B.
package txmgr

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zkrollup/coordinatord/coordinator/rpcclient"
)

var logger = zap.L().Named("coordinator.txmgr").Sugar()

// DefaultGasLimit is the conservative fallback used when
// eth_estimateGas fails, per spec.md §4.B step 2.
const DefaultGasLimit = 3_000_000

// ReceiptPollInterval is how often Send polls for transaction
// inclusion while waiting.
const ReceiptPollInterval = 500 * time.Millisecond

// Signer builds, signs, and submits transactions against one chain
// using one local key. Construct one per chain (L1, L2); per spec.md
// §9 "Key reuse", both may currently wrap the same private key.
type Signer struct {
	client  *rpcclient.Client
	priv    *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
}

// NewSigner derives the signer's address from priv, fetches the
// chain's id via eth_chainId, and binds the two together. A mismatch
// between a caller-supplied expected chain id (if any) and the
// observed one is the caller's responsibility to check; NewSigner
// always binds to whatever eth_chainId reports.
func NewSigner(ctx context.Context, client *rpcclient.Client, priv *ecdsa.PrivateKey) (*Signer, error) {
	var chainIDHex hexutil.Big
	if err := client.Call(ctx, &chainIDHex, "eth_chainId"); err != nil {
		return nil, errors.Wrap(err, "txmgr: fetch chain id")
	}
	return &Signer{
		client:  client,
		priv:    priv,
		from:    crypto.PubkeyToAddress(priv.PublicKey),
		chainID: (*big.Int)(&chainIDHex),
	}, nil
}

// From returns the signer's address.
func (s *Signer) From() common.Address { return s.from }

// ChainID returns the chain id this signer is bound to.
func (s *Signer) ChainID() *big.Int { return s.chainID }

type rpcReceipt struct {
	Status            hexutil.Uint64  `json:"status"`
	BlockNumber       *hexutil.Big    `json:"blockNumber"`
	TransactionHash   common.Hash     `json:"transactionHash"`
	ContractAddress   *common.Address `json:"contractAddress"`
}

// Send builds, signs, and submits a transaction to=to, value=value,
// data=data, following spec.md §4.B's six-step pipeline, then polls
// for inclusion until receipt or ctx's deadline. A receipt with
// Status==0 (on-chain revert) is logged and reported but does not
// return an error: the step that called Send will simply retry next
// tick because state did not advance, exactly as spec.md §4.B
// specifies.
func (s *Signer) Send(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	if value == nil {
		value = big.NewInt(0)
	}

	var nonceHex hexutil.Uint64
	if err := s.client.Call(ctx, &nonceHex, "eth_getTransactionCount", s.from, "pending"); err != nil {
		return common.Hash{}, errors.Wrap(err, "txmgr: eth_getTransactionCount")
	}

	gasLimit := uint64(DefaultGasLimit)
	callMsg := map[string]interface{}{
		"from":  s.from,
		"to":    to,
		"value": (*hexutil.Big)(value),
		"data":  hexutil.Bytes(data),
	}
	var gasHex hexutil.Uint64
	if err := s.client.Call(ctx, &gasHex, "eth_estimateGas", callMsg); err != nil {
		logger.Warnw("eth_estimateGas failed, using conservative default", "err", err, "default", gasLimit)
	} else {
		gasLimit = uint64(gasHex)
	}

	var gasPriceHex hexutil.Big
	if err := s.client.Call(ctx, &gasPriceHex, "eth_gasPrice"); err != nil {
		return common.Hash{}, errors.Wrap(err, "txmgr: eth_gasPrice")
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    uint64(nonceHex),
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: (*big.Int)(&gasPriceHex),
		Data:     data,
	})

	signer := types.NewEIP155Signer(s.chainID)
	signedTx, err := types.SignTx(tx, signer, s.priv)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "txmgr: sign tx")
	}

	rawTx, err := signedTx.MarshalBinary()
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "txmgr: rlp-encode signed tx")
	}

	var txHash common.Hash
	if err := s.client.Call(ctx, &txHash, "eth_sendRawTransaction", hexutil.Encode(rawTx)); err != nil {
		return common.Hash{}, errors.Wrap(err, "txmgr: eth_sendRawTransaction")
	}

	receipt, err := s.waitForReceipt(ctx, txHash)
	if err != nil {
		return txHash, err
	}
	if receipt.Status == 0 {
		logger.Warnw("transaction included but reverted", "tx", txHash.Hex())
	}
	return txHash, nil
}

func (s *Signer) waitForReceipt(ctx context.Context, txHash common.Hash) (*rpcReceipt, error) {
	ticker := time.NewTicker(ReceiptPollInterval)
	defer ticker.Stop()

	for {
		var receipt *rpcReceipt
		if err := s.client.Call(ctx, &receipt, "eth_getTransactionReceipt", txHash); err != nil {
			return nil, errors.Wrap(err, "txmgr: eth_getTransactionReceipt")
		}
		if receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "txmgr: timed out waiting for inclusion")
		case <-ticker.C:
		}
	}
}
