package chaintest

import (
	"context"

	"escrowlink/internal/wallet"
)

// TestKey is a throwaway secp256k1 key used to sign against Backend.
const TestKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

// Session establishes a private-key session against b.
func Session(ctx context.Context, b *Backend) (*wallet.Session, error) {
	w, err := wallet.NewPrivateKeyWallet(TestKey)
	if err != nil {
		return nil, err
	}
	return wallet.EstablishSession(ctx, w, b)
}
