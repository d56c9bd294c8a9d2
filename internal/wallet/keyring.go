package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/99designs/keyring"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyringService namespaces escrowlink secrets in the OS credential store.
const KeyringService = "escrowlink"

// KeySigner is the keyring item holding the hex-encoded signing key.
const KeySigner = "signer_private_key"

// KeyringWallet reads its signing key from the OS credential store. The
// store itself may prompt the user (macOS Keychain, Secret Service).
type KeyringWallet struct {
	ring keyring.Keyring
}

// OpenKeyring opens the platform credential store. An empty backends list lets
// the keyring library pick whatever is available.
func OpenKeyring(backends []keyring.BackendType) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:     KeyringService,
		AllowedBackends: backends,
		PassPrefix:      KeyringService,
		WinCredPrefix:   KeyringService,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open keyring: %w", ErrProviderUnavailable, err)
	}
	return ring, nil
}

func NewKeyringWallet(ring keyring.Keyring) *KeyringWallet {
	return &KeyringWallet{ring: ring}
}

func (w *KeyringWallet) Name() string { return "keyring" }

func (w *KeyringWallet) Transactor(_ context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	item, err := w.ring.Get(KeySigner)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: no signer key stored", ErrProviderUnavailable)
		}
		return nil, fmt.Errorf("%w: %w", ErrUserRejected, err)
	}
	key, err := parsePrivateKey(string(item.Data))
	if err != nil {
		return nil, err
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	return opts, nil
}

// StoreKey validates hexKey and saves it as the signer key. It returns the
// address the key controls.
func StoreKey(ring keyring.Keyring, hexKey string) (string, error) {
	key, err := parsePrivateKey(hexKey)
	if err != nil {
		return "", err
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	err = ring.Set(keyring.Item{
		Key:         KeySigner,
		Data:        []byte(hexKey),
		Label:       "escrowlink signer",
		Description: addr.Hex(),
	})
	if err != nil {
		return "", fmt.Errorf("store signer key: %w", err)
	}
	return addr.Hex(), nil
}
