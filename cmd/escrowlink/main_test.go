package main

import (
	"bytes"
	"context"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escrowlink/internal/chaintest"
	"escrowlink/internal/contracts"
	"escrowlink/internal/escrow"
	"escrowlink/internal/idempotency"
	"escrowlink/internal/wallet"
)

const vendorHex = "0x1111111111111111111111111111111111111111"

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	os.Exit(m.Run())
}

func newBackend(t *testing.T) *chaintest.Backend {
	t.Helper()
	desc, err := contracts.NewDescriptor(contracts.DefaultAddress)
	require.NoError(t, err)
	return chaintest.NewBackend(desc.ABI, 1337)
}

func run(t *testing.T, backend *chaintest.Backend, args ...string) (string, error) {
	t.Helper()
	a := newApp()
	a.dial = func(context.Context, string) (wallet.Backend, error) {
		return backend, nil
	}

	cmd := newRootCmd(a)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.json")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func withTestWallet(t *testing.T) {
	t.Helper()
	t.Setenv("ESCROW_PRIVATE_KEY", chaintest.TestKey)
	t.Setenv("ESCROW_POLL_INTERVAL_MS", "1")
}

func TestMilestoneCreate(t *testing.T) {
	withTestWallet(t)
	backend := newBackend(t)

	out, err := run(t, backend, "milestone", "create", "--description", "Build shed", "--amount", "1.5", "--vendor", vendorHex)
	require.NoError(t, err)
	assert.Contains(t, out, "tx 0x")

	sent := backend.Submitted()
	require.Len(t, sent, 1)
	assert.Equal(t, contracts.MethodAddMilestone, sent[0].Method)
	assert.Equal(t, "1500000000000000000", sent[0].Args[1].(*big.Int).String())
}

func TestMilestoneShow(t *testing.T) {
	withTestWallet(t)
	backend := newBackend(t)
	backend.Respond(contracts.MethodMilestones, "Roof", big.NewInt(2000000000000000000), common.HexToAddress(vendorHex), "QmProof", true, false, true)

	out, err := run(t, backend, "milestone", "show", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Roof")
	assert.Contains(t, out, "2 ETH")
	assert.Contains(t, out, "QmProof")
	assert.Empty(t, backend.Submitted())
}

func TestReleaseRevertIsReported(t *testing.T) {
	withTestWallet(t)
	backend := newBackend(t)
	backend.EstimateErr = chaintest.RevertError{Reason: "Initial already paid"}

	_, err := run(t, backend, "milestone", "release-initial", "3")
	assert.ErrorIs(t, err, escrow.ErrTransactionReverted)
	assert.Contains(t, err.Error(), "Initial already paid")
	assert.Empty(t, backend.Submitted())
}

func TestReleaseFinalAndProof(t *testing.T) {
	withTestWallet(t)
	backend := newBackend(t)

	_, err := run(t, backend, "milestone", "release-final", "3")
	require.NoError(t, err)
	_, err = run(t, backend, "milestone", "proof", "3", "QmProof")
	require.NoError(t, err)

	sent := backend.Submitted()
	require.Len(t, sent, 2)
	assert.Equal(t, contracts.MethodReleaseFinal, sent[0].Method)
	assert.Equal(t, contracts.MethodSubmitProof, sent[1].Method)
	assert.Equal(t, "QmProof", sent[1].Args[1])
}

func TestBalance(t *testing.T) {
	withTestWallet(t)
	backend := newBackend(t)
	backend.Respond(contracts.MethodGetBalance, big.NewInt(1500000000000000000))

	out, err := run(t, backend, "balance")
	require.NoError(t, err)
	assert.Equal(t, "1.5 ETH\n", out)

	out, err = run(t, backend, "balance", "--raw")
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000\n", out)
	assert.Len(t, backend.ViewCalls(), 2)
}

func TestFund(t *testing.T) {
	withTestWallet(t)
	backend := newBackend(t)

	_, err := run(t, backend, "fund", "0.25")
	require.NoError(t, err)

	sent := backend.Submitted()
	require.Len(t, sent, 1)
	assert.Equal(t, "250000000000000000", sent[0].Value.String())

	_, err = run(t, backend, "fund", "1e18")
	assert.ErrorIs(t, err, escrow.ErrAmountFormat)
	assert.Len(t, backend.Submitted(), 1)
}

func TestVendorOwnerNextID(t *testing.T) {
	withTestWallet(t)
	backend := newBackend(t)
	owner := common.HexToAddress("0x2222222222222222222222222222222222222222")
	backend.Respond(contracts.MethodVendorRegistry, "Acme Timber", "materials", true)
	backend.Respond(contracts.MethodOwner, owner)
	backend.Respond(contracts.MethodNextMilestoneID, big.NewInt(4))

	out, err := run(t, backend, "vendor", "show", vendorHex)
	require.NoError(t, err)
	assert.Contains(t, out, "Acme Timber")

	out, err = run(t, backend, "owner")
	require.NoError(t, err)
	assert.Equal(t, owner.Hex()+"\n", out)

	out, err = run(t, backend, "milestone", "next-id")
	require.NoError(t, err)
	assert.Equal(t, "4\n", out)

	_, err = run(t, backend, "vendor", "register", "--address", vendorHex, "--name", "Acme", "--category", "materials")
	require.NoError(t, err)
	require.Len(t, backend.Submitted(), 1)
	assert.Equal(t, contracts.MethodRegisterVendor, backend.Submitted()[0].Method)
}

func TestWalletAddress(t *testing.T) {
	withTestWallet(t)
	key, err := crypto.HexToECDSA(chaintest.TestKey)
	require.NoError(t, err)

	out, err := run(t, newBackend(t), "wallet", "address")
	require.NoError(t, err)
	assert.Contains(t, out, crypto.PubkeyToAddress(key.PublicKey).Hex())
	assert.Contains(t, out, "chain 1337")
}

func TestMissingWalletFailsFast(t *testing.T) {
	t.Setenv("ESCROW_PRIVATE_KEY", "")
	t.Setenv("ESCROW_KEYSTORE_DIR", "")
	t.Setenv("ESCROW_KEYRING", "")
	backend := newBackend(t)

	_, err := run(t, backend, "balance")
	assert.ErrorIs(t, err, wallet.ErrProviderUnavailable)
	assert.Empty(t, backend.ViewCalls())
}

func TestOpenStoreUsesFileWithoutDSN(t *testing.T) {
	t.Setenv("IDEMPOTENCY_POSTGRES_DSN", "")
	t.Setenv("IDEMPOTENCY_STORE_PATH", filepath.Join(t.TempDir(), "idem.json"))

	a := newApp()
	require.NoError(t, a.load(&bytes.Buffer{}))

	store, closeStore, err := a.openStore(context.Background())
	require.NoError(t, err)
	defer closeStore()
	assert.IsType(t, &idempotency.FileStore{}, store)
}

func TestServiceHandlerFormat(t *testing.T) {
	assert.IsType(t, &slog.JSONHandler{}, serviceHandler("json", "debug"))
	assert.IsType(t, &slog.TextHandler{}, serviceHandler("text", "bogus"))
}
