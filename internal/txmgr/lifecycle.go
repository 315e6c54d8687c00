// Package txmgr submits signed transactions and tracks them to receipt.
// Submission and waiting are separate operations so callers can wrap each
// phase in its own retry policy: a stuck broadcast and a stuck confirmation
// need different remedies.
package txmgr

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/buldozerch/plume-runner/internal/chain"
	clierr "github.com/buldozerch/plume-runner/internal/errors"
	"github.com/buldozerch/plume-runner/internal/logx"
)

// Request carries the caller-supplied part of a transaction. Nonce, gas and
// fee fields are completed at submission time.
type Request struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Attempt is one broadcast transaction. It is a value object: cancel and
// speed-up build a new Attempt at the same nonce instead of mutating the
// original.
type Attempt struct {
	ChainID  *big.Int
	Nonce    uint64
	To       common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64
	TipCap   *big.Int
	FeeCap   *big.Int
	Hash     common.Hash
}

type Options struct {
	GasMultiplier float64
	PollInterval  time.Duration
}

type Lifecycle struct {
	client  chain.Client
	key     *ecdsa.PrivateKey
	address common.Address
	opts    Options
}

func New(client chain.Client, privateKeyHex string, opts Options) (*Lifecycle, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "parse private key", err)
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &Lifecycle{
		client:  client,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		opts:    opts,
	}, nil
}

func (l *Lifecycle) Address() common.Address { return l.address }

// Submit completes, signs and broadcasts a transaction, returning as soon
// as the node accepts it. A pre-broadcast rejection (failed gas estimate,
// i.e. a simulated revert) comes back as CodeRejected and is not retried
// here — the caller owns that decision.
func (l *Lifecycle) Submit(ctx context.Context, req Request) (Attempt, error) {
	chainID := big.NewInt(l.client.Network().ChainID)
	nonce, err := l.client.NonceAt(ctx, l.address)
	if err != nil {
		return Attempt{}, err
	}
	tipCap, feeCap, err := l.client.SuggestFees(ctx)
	if err != nil {
		return Attempt{}, err
	}
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	msg := ethereum.CallMsg{From: l.address, To: &req.To, Value: value, Data: req.Data}
	gasLimit, err := l.client.EstimateGas(ctx, msg)
	if err != nil {
		if clierr.CodeOf(err) == clierr.CodeNetwork {
			return Attempt{}, err
		}
		return Attempt{}, clierr.Wrap(clierr.CodeRejected, "transaction rejected before broadcast", err)
	}
	gasLimit = uint64(float64(gasLimit) * l.opts.GasMultiplier)

	attempt := Attempt{
		ChainID:  chainID,
		Nonce:    nonce,
		To:       req.To,
		Value:    value,
		Data:     req.Data,
		GasLimit: gasLimit,
		TipCap:   tipCap,
		FeeCap:   feeCap,
	}
	return l.broadcast(ctx, attempt)
}

func (l *Lifecycle) broadcast(ctx context.Context, attempt Attempt) (Attempt, error) {
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   attempt.ChainID,
		Nonce:     attempt.Nonce,
		GasTipCap: attempt.TipCap,
		GasFeeCap: attempt.FeeCap,
		Gas:       attempt.GasLimit,
		To:        &attempt.To,
		Value:     attempt.Value,
		Data:      attempt.Data,
	})
	signer := types.LatestSignerForChainID(attempt.ChainID)
	signed, err := types.SignTx(tx, signer, l.key)
	if err != nil {
		return Attempt{}, clierr.Wrap(clierr.CodeInternal, "sign transaction", err)
	}
	if err := l.client.SendTransaction(ctx, signed); err != nil {
		return Attempt{}, err
	}
	attempt.Hash = signed.Hash()
	logx.Info("transaction broadcast",
		"network", l.client.Network().Name, "from", l.address.Hex(),
		"nonce", attempt.Nonce, "hash", attempt.Hash.Hex())
	return attempt, nil
}

// AwaitReceipt polls until the attempt is mined or the timeout elapses. A
// reverted receipt surfaces as CodeRejected, distinct from CodeTimeout; a
// timeout never guesses success.
func (l *Lifecycle) AwaitReceipt(ctx context.Context, attempt Attempt, timeout time.Duration) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.client.TransactionReceipt(waitCtx, attempt.Hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, clierr.New(clierr.CodeRejected, "transaction reverted on-chain")
			}
			return receipt, nil
		}
		// Not-found and transient polling errors both mean "ask again".
		select {
		case <-waitCtx.Done():
			return nil, clierr.Wrap(clierr.CodeTimeout, "timed out waiting for receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// AwaitConfirmations waits until head - receipt.blockNumber + 1 reaches the
// requested count. "Not yet mined" lookups are ordinary poll misses.
func (l *Lifecycle) AwaitConfirmations(ctx context.Context, attempt Attempt, confirmations uint64, timeout time.Duration) (*types.Receipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.client.TransactionReceipt(waitCtx, attempt.Hash)
		if err == nil && receipt != nil && receipt.BlockNumber != nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, clierr.New(clierr.CodeRejected, "transaction reverted on-chain")
			}
			head, headErr := l.client.HeadNumber(waitCtx)
			if headErr == nil {
				have := head - receipt.BlockNumber.Uint64() + 1
				if head >= receipt.BlockNumber.Uint64() && have >= confirmations {
					return receipt, nil
				}
			}
		}
		select {
		case <-waitCtx.Done():
			return nil, clierr.Wrap(clierr.CodeTimeout, "timed out waiting for confirmations", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// Cancel replaces the attempt with a zero-value self-transfer at the same
// nonce and bumped fees. The original attempt is left untouched.
func (l *Lifecycle) Cancel(ctx context.Context, attempt Attempt, bumpFactor float64) (Attempt, error) {
	if bumpFactor <= 1 {
		bumpFactor = 1.1
	}
	replacement := Attempt{
		ChainID:  attempt.ChainID,
		Nonce:    attempt.Nonce,
		To:       l.address,
		Value:    new(big.Int),
		Data:     nil,
		GasLimit: 21_000,
		TipCap:   bumpFee(attempt.TipCap, bumpFactor),
		FeeCap:   bumpFee(attempt.FeeCap, bumpFactor),
	}
	return l.broadcast(ctx, replacement)
}

// SpeedUp re-broadcasts the attempt's call data at the same nonce with
// bumped fees, returning the new attempt.
func (l *Lifecycle) SpeedUp(ctx context.Context, attempt Attempt, bumpFactor float64) (Attempt, error) {
	if bumpFactor <= 1 {
		bumpFactor = 1.2
	}
	replacement := attempt
	replacement.Hash = common.Hash{}
	replacement.TipCap = bumpFee(attempt.TipCap, bumpFactor)
	replacement.FeeCap = bumpFee(attempt.FeeCap, bumpFactor)
	return l.broadcast(ctx, replacement)
}

func bumpFee(fee *big.Int, factor float64) *big.Int {
	if fee == nil {
		return nil
	}
	scaled := new(big.Float).Mul(new(big.Float).SetInt(fee), big.NewFloat(factor))
	out, _ := scaled.Int(nil)
	return out
}
