package wallet

import (
	"context"
	"fmt"

	"github.com/99designs/keyring"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Options lists the wallet sources Detect may pick from.
type Options struct {
	PrivateKey      string
	KeystoreDir     string
	KeystoreAccount string
	UseKeyring      bool
	KeyringBackends []string
	Passphrase      PassphraseFunc
}

// Detect returns the first configured wallet, checking a raw private key, a
// keystore directory and the OS keyring in that order. With nothing
// configured it returns ErrProviderUnavailable.
func Detect(opts Options) (Wallet, error) {
	switch {
	case opts.PrivateKey != "":
		w, err := NewPrivateKeyWallet(opts.PrivateKey)
		if err != nil {
			return nil, err
		}
		return w, nil
	case opts.KeystoreDir != "":
		var account common.Address
		if opts.KeystoreAccount != "" {
			if !common.IsHexAddress(opts.KeystoreAccount) {
				return nil, fmt.Errorf("invalid keystore account %q", opts.KeystoreAccount)
			}
			account = common.HexToAddress(opts.KeystoreAccount)
		}
		return NewKeystoreWallet(opts.KeystoreDir, account, opts.Passphrase), nil
	case opts.UseKeyring:
		backends := make([]keyring.BackendType, 0, len(opts.KeyringBackends))
		for _, b := range opts.KeyringBackends {
			backends = append(backends, keyring.BackendType(b))
		}
		ring, err := OpenKeyring(backends)
		if err != nil {
			return nil, err
		}
		return NewKeyringWallet(ring), nil
	}
	return nil, fmt.Errorf("%w: set a private key, keystore directory or enable the keyring", ErrProviderUnavailable)
}

// Dial connects to a JSON-RPC endpoint. The returned client satisfies Backend.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("%w: rpc url is required", ErrProviderUnavailable)
	}
	cli, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial rpc: %w", ErrProviderUnavailable, err)
	}
	return cli, nil
}
