package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
)

// PassphraseFunc asks the user to unlock account. Returning an error means the
// user declined.
type PassphraseFunc func(ctx context.Context, account common.Address) (string, error)

// KeystoreWallet signs with an encrypted JSON key file from a go-ethereum
// keystore directory. Unlocking is the approval step.
type KeystoreWallet struct {
	ks         *keystore.KeyStore
	account    common.Address
	passphrase PassphraseFunc
}

// NewKeystoreWallet opens dir. If account is the zero address the first key
// in the directory is used.
func NewKeystoreWallet(dir string, account common.Address, passphrase PassphraseFunc) *KeystoreWallet {
	return &KeystoreWallet{
		ks:         keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP),
		account:    account,
		passphrase: passphrase,
	}
}

func newKeystoreWallet(ks *keystore.KeyStore, account common.Address, passphrase PassphraseFunc) *KeystoreWallet {
	return &KeystoreWallet{ks: ks, account: account, passphrase: passphrase}
}

func (w *KeystoreWallet) Name() string { return "keystore" }

func (w *KeystoreWallet) Transactor(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	acct, err := w.resolve()
	if err != nil {
		return nil, err
	}
	if w.passphrase == nil {
		return nil, fmt.Errorf("%w: no passphrase prompt for %s", ErrUserRejected, acct.Address.Hex())
	}

	pass, err := w.passphrase(ctx, acct.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUserRejected, err)
	}
	if err := w.ks.Unlock(acct, pass); err != nil {
		if errors.Is(err, keystore.ErrDecrypt) {
			return nil, fmt.Errorf("%w: %w", ErrUserRejected, err)
		}
		return nil, fmt.Errorf("unlock %s: %w", acct.Address.Hex(), err)
	}

	opts, err := bind.NewKeyStoreTransactorWithChainID(w.ks, acct, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	return opts, nil
}

func (w *KeystoreWallet) resolve() (accounts.Account, error) {
	if w.account == (common.Address{}) {
		all := w.ks.Accounts()
		if len(all) == 0 {
			return accounts.Account{}, fmt.Errorf("%w: keystore has no accounts", ErrProviderUnavailable)
		}
		return all[0], nil
	}
	acct, err := w.ks.Find(accounts.Account{Address: w.account})
	if err != nil {
		return accounts.Account{}, fmt.Errorf("%w: %s not in keystore", ErrProviderUnavailable, w.account.Hex())
	}
	return acct, nil
}
