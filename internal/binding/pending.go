package binding

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ReceiptFetcher is the part of a backend WaitForReceipt polls.
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Confirmation is the finality marker of a mined transaction.
type Confirmation struct {
	TxHash      common.Hash
	BlockNumber *big.Int
	BlockHash   common.Hash
	GasUsed     uint64
	Status      uint64
}

// PendingTransaction is a submitted state-changing call that has not been
// confirmed yet. Nothing resubmits it. Tx is nil when the wait was resumed
// from a hash alone.
type PendingTransaction struct {
	Method string
	Tx     *types.Transaction

	hash     common.Hash
	receipts ReceiptFetcher
	interval time.Duration
}

func (p *PendingTransaction) Hash() common.Hash {
	return p.hash
}

// WaitError reports a broadcast transaction whose outcome is unknown because
// waiting stopped early. The transaction may still be mined.
type WaitError struct {
	Method string
	TxHash common.Hash
	Err    error
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("wait for %s %s: %v", e.Method, e.TxHash.Hex(), e.Err)
}

func (e *WaitError) Unwrap() error { return e.Err }

// TxHashOf returns the hash carried by a WaitError anywhere in err's chain.
func TxHashOf(err error) (common.Hash, bool) {
	var we *WaitError
	if errors.As(err, &we) {
		return we.TxHash, true
	}
	return common.Hash{}, false
}

// Wait blocks until the transaction is mined or ctx ends. A mined transaction
// with failed status returns its Confirmation together with
// ErrTransactionReverted.
func (p *PendingTransaction) Wait(ctx context.Context) (*Confirmation, error) {
	receipt, err := WaitForReceipt(ctx, p.receipts, p.hash, p.interval)
	if err != nil {
		return nil, &WaitError{Method: p.Method, TxHash: p.hash, Err: err}
	}
	conf := &Confirmation{
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber,
		BlockHash:   receipt.BlockHash,
		GasUsed:     receipt.GasUsed,
		Status:      receipt.Status,
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return conf, fmt.Errorf("%w: %s mined in block %s with failed status", ErrTransactionReverted, p.Method, receipt.BlockNumber)
	}
	return conf, nil
}

// WaitForReceipt polls until the transaction is mined or context cancelled.
func WaitForReceipt(ctx context.Context, client ReceiptFetcher, hash common.Hash, interval time.Duration) (*types.Receipt, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
