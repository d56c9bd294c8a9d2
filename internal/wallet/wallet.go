// Package wallet establishes an authenticated session: a signer obtained from
// an injected wallet capability, bound to a chain backend, plus the address
// that signer acts for.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrProviderUnavailable means no wallet capability (or no chain access) is
	// present. Callers must not proceed without a session.
	ErrProviderUnavailable = errors.New("wallet provider unavailable")
	// ErrUserRejected means the user declined to unlock or approve.
	ErrUserRejected = errors.New("user rejected request")
)

// Backend is the chain access a session signs and submits through.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// Wallet is the injected signing capability. Transactor may block while the
// user approves the request (for example while a passphrase is entered).
type Wallet interface {
	Name() string
	Transactor(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error)
}

// Session is an established wallet connection. It is read-only once
// returned; re-establishing a session does not invalidate earlier ones.
type Session struct {
	Provider Backend
	Signer   *bind.TransactOpts
	Address  common.Address
	ChainID  *big.Int
	Wallet   string
}

// EstablishSession requests a signer from w for the chain served by backend.
// A missing wallet or backend fails immediately with ErrProviderUnavailable.
// Rejections are returned as-is; nothing is retried.
func EstablishSession(ctx context.Context, w Wallet, backend Backend) (*Session, error) {
	if w == nil {
		return nil, fmt.Errorf("%w: no wallet configured", ErrProviderUnavailable)
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: no chain backend", ErrProviderUnavailable)
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch chain id: %w", ErrProviderUnavailable, err)
	}

	opts, err := w.Transactor(ctx, chainID)
	if err != nil {
		return nil, fmt.Errorf("request signer from %s wallet: %w", w.Name(), err)
	}
	if opts == nil || opts.Signer == nil {
		return nil, fmt.Errorf("%w: %s wallet returned no signer", ErrProviderUnavailable, w.Name())
	}

	return &Session{
		Provider: backend,
		Signer:   opts,
		Address:  opts.From,
		ChainID:  chainID,
		Wallet:   w.Name(),
	}, nil
}

// TransactOpts returns a copy of the session signer bound to ctx, so
// concurrent operations never share mutable options.
func (s *Session) TransactOpts(ctx context.Context) *bind.TransactOpts {
	opts := *s.Signer
	opts.Context = ctx
	return &opts
}
