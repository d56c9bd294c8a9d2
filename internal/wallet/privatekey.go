package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
)

// PrivateKeyWallet signs with a raw secp256k1 key held in memory.
type PrivateKeyWallet struct {
	key *ecdsa.PrivateKey
}

func NewPrivateKeyWallet(hexKey string) (*PrivateKeyWallet, error) {
	key, err := parsePrivateKey(hexKey)
	if err != nil {
		return nil, err
	}
	return &PrivateKeyWallet{key: key}, nil
}

func (w *PrivateKeyWallet) Name() string { return "private-key" }

func (w *PrivateKeyWallet) Transactor(_ context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(w.key, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	opts.GasLimit = 0 // let node estimate
	return opts, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}
