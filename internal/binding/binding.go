// Package binding ties the escrow method table to an established wallet
// session. View methods become read-only calls from the session address;
// state-changing methods become transactions signed by the session signer.
package binding

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"escrowlink/internal/contracts"
	"escrowlink/internal/wallet"
)

// DefaultPollInterval is how often receipts are polled while waiting.
const DefaultPollInterval = 2 * time.Second

// BoundContract exposes the descriptor's methods routed through one session.
// It belongs to the caller that created it and holds no mutable state.
type BoundContract struct {
	session  *wallet.Session
	desc     contracts.Descriptor
	contract *bind.BoundContract
	interval time.Duration
}

type Option func(*BoundContract)

// WithPollInterval overrides DefaultPollInterval for confirmation waits.
func WithPollInterval(d time.Duration) Option {
	return func(c *BoundContract) {
		c.interval = d
	}
}

// Bind pairs session with desc. It performs no network activity.
func Bind(session *wallet.Session, desc contracts.Descriptor, opts ...Option) (*BoundContract, error) {
	if session == nil || session.Signer == nil || session.Provider == nil {
		return nil, ErrInvalidSession
	}
	if desc.Address == (common.Address{}) || len(desc.ABI.Methods) == 0 {
		return nil, fmt.Errorf("%w: empty descriptor", contracts.ErrInvalidAddress)
	}

	backend := session.Provider
	c := &BoundContract{
		session:  session,
		desc:     desc,
		contract: bind.NewBoundContract(desc.Address, desc.ABI, backend, backend, backend),
		interval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *BoundContract) Address() common.Address { return c.desc.Address }

func (c *BoundContract) Caller() common.Address { return c.session.Address }

func (c *BoundContract) Descriptor() contracts.Descriptor { return c.desc }

// Call invokes a view method. No transaction is created and nothing is signed.
func (c *BoundContract) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	if _, err := c.lookup(method, contracts.View, args); err != nil {
		return nil, err
	}

	var out []any
	opts := &bind.CallOpts{Context: ctx, From: c.session.Address}
	if err := c.contract.Call(opts, &out, method, args...); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}

// Transact signs and submits a state-changing method. The returned
// PendingTransaction must be waited on to learn the outcome.
func (c *BoundContract) Transact(ctx context.Context, method string, args ...any) (*PendingTransaction, error) {
	m, err := c.lookup(method, contracts.StateChanging, args)
	if err != nil {
		return nil, err
	}
	if method == contracts.MethodReceive || m.Payable {
		return nil, fmt.Errorf("%w: %s is payable, use Transfer", ErrWrongMutability, method)
	}

	tx, err := c.contract.Transact(c.session.TransactOpts(ctx), method, args...)
	if err != nil {
		return nil, classifySubmitError(method, err)
	}
	return c.pending(method, tx), nil
}

// Transfer sends value to the contract's receive function.
func (c *BoundContract) Transfer(ctx context.Context, value *big.Int) (*PendingTransaction, error) {
	if _, ok := c.desc.Method(contracts.MethodReceive); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, contracts.MethodReceive)
	}
	if value == nil || value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: transfer value must be positive", ErrInvalidArgument)
	}

	opts := c.session.TransactOpts(ctx)
	opts.Value = value
	tx, err := c.contract.Transfer(opts)
	if err != nil {
		return nil, classifySubmitError(contracts.MethodReceive, err)
	}
	return c.pending(contracts.MethodReceive, tx), nil
}

// Head returns the latest block number the backend knows about.
func (c *BoundContract) Head(ctx context.Context) (*big.Int, error) {
	head, err := c.session.Provider.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	return head.Number, nil
}

// Pending resumes waiting on a transaction broadcast earlier, for example by
// a request that gave up before it was mined. Nothing is resubmitted.
func (c *BoundContract) Pending(method string, hash common.Hash) *PendingTransaction {
	return &PendingTransaction{
		Method:   method,
		hash:     hash,
		receipts: c.session.Provider,
		interval: c.interval,
	}
}

func (c *BoundContract) pending(method string, tx *types.Transaction) *PendingTransaction {
	p := c.Pending(method, tx.Hash())
	p.Tx = tx
	return p
}

func (c *BoundContract) lookup(method string, want contracts.Mutability, args []any) (contracts.Method, error) {
	m, ok := c.desc.Method(method)
	if !ok {
		return contracts.Method{}, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	if m.Mutability != want {
		return contracts.Method{}, fmt.Errorf("%w: %s is %s", ErrWrongMutability, method, m.Mutability)
	}
	if method == contracts.MethodReceive {
		return m, nil
	}
	if _, err := c.desc.ABI.Pack(method, args...); err != nil {
		return contracts.Method{}, fmt.Errorf("%w: %s: %w", ErrInvalidArgument, method, err)
	}
	return m, nil
}
