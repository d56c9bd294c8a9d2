// Package chaintest provides an in-memory chain backend that answers the
// escrow contract's calls, for tests that exercise real go-ethereum bindings
// without a node.
package chaintest

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// Call is one decoded contract invocation seen by the backend.
type Call struct {
	Method string
	Args   []any
	Value  *big.Int
	From   common.Address
}

// Backend implements bind.ContractBackend, bind.DeployBackend and ChainID.
// View results are configured per method with Respond; submitted
// transactions are mined immediately with ReceiptStatus unless receipts are
// held.
type Backend struct {
	mu sync.Mutex

	abi     abi.ABI
	chainID *big.Int
	code    []byte

	responses map[string][]any
	callErrs  map[string]error

	EstimateErr   error
	SendErr       error
	ReceiptStatus uint64

	views        []Call
	sent         []*types.Transaction
	receiptPolls int
	holdReceipts bool
}

func NewBackend(contractABI abi.ABI, chainID int64) *Backend {
	return &Backend{
		abi:           contractABI,
		chainID:       big.NewInt(chainID),
		code:          []byte{0x60, 0x80, 0x60, 0x40},
		responses:     make(map[string][]any),
		callErrs:      make(map[string]error),
		ReceiptStatus: types.ReceiptStatusSuccessful,
	}
}

// Respond sets the values a view method returns.
func (b *Backend) Respond(method string, values ...any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses[method] = values
}

// FailCall makes every call of method fail with err.
func (b *Backend) FailCall(method string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callErrs[method] = err
}

// RemoveCode makes the contract address look empty.
func (b *Backend) RemoveCode() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.code = nil
}

// ViewCalls returns the decoded eth_call invocations in order.
func (b *Backend) ViewCalls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.views...)
}

// Submitted returns the decoded transactions in submission order.
func (b *Backend) Submitted() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, 0, len(b.sent))
	signer := types.LatestSignerForChainID(b.chainID)
	for _, tx := range b.sent {
		c := b.decode(tx.Data())
		c.Value = tx.Value()
		c.From, _ = types.Sender(signer, tx)
		out = append(out, c)
	}
	return out
}

// HoldReceipts keeps every transaction unmined until ReleaseReceipts.
func (b *Backend) HoldReceipts() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holdReceipts = true
}

func (b *Backend) ReleaseReceipts() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holdReceipts = false
}

// ReceiptPolls counts TransactionReceipt requests.
func (b *Backend) ReceiptPolls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.receiptPolls
}

func (b *Backend) decode(data []byte) Call {
	if len(data) < 4 {
		return Call{Method: "receive"}
	}
	m, err := b.abi.MethodById(data[:4])
	if err != nil {
		return Call{Method: "0x" + hex.EncodeToString(data[:4])}
	}
	args, _ := m.Inputs.Unpack(data[4:])
	return Call{Method: m.Name, Args: args}
}

func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.chainID), nil
}

func (b *Backend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.code, nil
}

func (b *Backend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return b.CodeAt(ctx, account, nil)
}

func (b *Backend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.decode(call.Data)
	c.From = call.From
	c.Value = call.Value
	b.views = append(b.views, c)

	if err := b.callErrs[c.Method]; err != nil {
		return nil, err
	}
	m, ok := b.abi.Methods[c.Method]
	if !ok {
		return nil, fmt.Errorf("execution reverted")
	}
	values, ok := b.responses[c.Method]
	if !ok {
		return nil, fmt.Errorf("no response configured for %s", c.Method)
	}
	return m.Outputs.Pack(values...)
}

func (b *Backend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &types.Header{Number: big.NewInt(int64(len(b.sent)) + 1)}, nil
}

func (b *Backend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.sent)), nil
}

func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *Backend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *Backend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.EstimateErr != nil {
		return 0, b.EstimateErr
	}
	return 120_000, nil
}

func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SendErr != nil {
		return b.SendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *Backend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiptPolls++
	if b.holdReceipts {
		return nil, ethereum.NotFound
	}
	for i, tx := range b.sent {
		if tx.Hash() != hash {
			continue
		}
		block := big.NewInt(int64(i) + 1)
		return &types.Receipt{
			Status:      b.ReceiptStatus,
			TxHash:      hash,
			GasUsed:     21_000,
			BlockNumber: block,
			BlockHash:   common.BigToHash(block),
		}, nil
	}
	return nil, ethereum.NotFound
}

func (b *Backend) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (b *Backend) SubscribeFilterLogs(_ context.Context, _ ethereum.FilterQuery, _ chan<- types.Log) (ethereum.Subscription, error) {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		<-quit
		return nil
	}), nil
}
