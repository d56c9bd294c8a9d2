package binding

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escrowlink/internal/chaintest"
	"escrowlink/internal/contracts"
	"escrowlink/internal/wallet"
)

var vendor = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func newBound(t *testing.T) (*BoundContract, *chaintest.Backend) {
	t.Helper()
	desc, err := contracts.NewDescriptor(contracts.DefaultAddress)
	require.NoError(t, err)

	backend := chaintest.NewBackend(desc.ABI, 1337)
	sess, err := chaintest.Session(context.Background(), backend)
	require.NoError(t, err)

	bc, err := Bind(sess, desc, WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	return bc, backend
}

func TestBindRejectsMissingSession(t *testing.T) {
	desc, err := contracts.NewDescriptor(contracts.DefaultAddress)
	require.NoError(t, err)

	_, err = Bind(nil, desc)
	assert.ErrorIs(t, err, ErrInvalidSession)

	_, err = Bind(&wallet.Session{}, desc)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestBindPerformsNoNetworkActivity(t *testing.T) {
	_, backend := newBound(t)
	assert.Empty(t, backend.ViewCalls())
	assert.Empty(t, backend.Submitted())
	assert.Zero(t, backend.ReceiptPolls())
}

func TestCallViewMethod(t *testing.T) {
	bc, backend := newBound(t)
	backend.Respond(contracts.MethodGetBalance, big.NewInt(42))

	out, err := bc.Call(context.Background(), contracts.MethodGetBalance)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, big.NewInt(42), out[0])

	calls := backend.ViewCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, bc.Caller(), calls[0].From)
	assert.Empty(t, backend.Submitted())
}

func TestCallRejectsStateMethod(t *testing.T) {
	bc, backend := newBound(t)

	_, err := bc.Call(context.Background(), contracts.MethodReleaseInitial, big.NewInt(1))
	assert.ErrorIs(t, err, ErrWrongMutability)

	_, err = bc.Call(context.Background(), "selfDestruct")
	assert.ErrorIs(t, err, ErrUnknownMethod)
	assert.Empty(t, backend.ViewCalls())
}

func TestCallRejectsMalformedArguments(t *testing.T) {
	bc, backend := newBound(t)

	_, err := bc.Call(context.Background(), contracts.MethodMilestones, "three")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, backend.ViewCalls())
}

func TestTransactSignsWithSession(t *testing.T) {
	bc, backend := newBound(t)

	pending, err := bc.Transact(context.Background(), contracts.MethodReleaseInitial, big.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, contracts.MethodReleaseInitial, pending.Method)

	conf, err := pending.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pending.Hash(), conf.TxHash)
	assert.Equal(t, types.ReceiptStatusSuccessful, conf.Status)

	sent := backend.Submitted()
	require.Len(t, sent, 1)
	assert.Equal(t, contracts.MethodReleaseInitial, sent[0].Method)
	assert.Equal(t, bc.Caller(), sent[0].From)
	assert.Equal(t, []any{big.NewInt(3)}, sent[0].Args)
}

func TestTransactRejectsViewMethod(t *testing.T) {
	bc, backend := newBound(t)

	_, err := bc.Transact(context.Background(), contracts.MethodOwner)
	assert.ErrorIs(t, err, ErrWrongMutability)

	_, err = bc.Transact(context.Background(), contracts.MethodReceive)
	assert.ErrorIs(t, err, ErrWrongMutability)
	assert.Empty(t, backend.Submitted())
}

func TestTransactRevertDuringEstimation(t *testing.T) {
	bc, backend := newBound(t)
	backend.EstimateErr = chaintest.RevertError{Reason: "Already paid"}

	_, err := bc.Transact(context.Background(), contracts.MethodReleaseInitial, big.NewInt(3))
	require.ErrorIs(t, err, ErrTransactionReverted)
	assert.Contains(t, err.Error(), "Already paid")
	assert.Empty(t, backend.Submitted())
}

func TestTransactRejectedBySubmission(t *testing.T) {
	bc, backend := newBound(t)
	backend.SendErr = errors.New("insufficient funds for gas * price + value")

	_, err := bc.Transact(context.Background(), contracts.MethodAddMilestone, "Build shed", big.NewInt(1), vendor)
	assert.ErrorIs(t, err, ErrTransactionRejected)
	assert.NotErrorIs(t, err, ErrTransactionReverted)
}

func TestWaitReportsMinedRevert(t *testing.T) {
	bc, backend := newBound(t)
	backend.ReceiptStatus = types.ReceiptStatusFailed

	pending, err := bc.Transact(context.Background(), contracts.MethodReleaseFinal, big.NewInt(0))
	require.NoError(t, err)

	conf, err := pending.Wait(context.Background())
	assert.ErrorIs(t, err, ErrTransactionReverted)
	require.NotNil(t, conf)
	assert.Equal(t, types.ReceiptStatusFailed, conf.Status)
	assert.Equal(t, 1, backend.ReceiptPolls())
}

func TestTransferFundsReceive(t *testing.T) {
	bc, backend := newBound(t)

	pending, err := bc.Transfer(context.Background(), big.NewInt(5000))
	require.NoError(t, err)
	_, err = pending.Wait(context.Background())
	require.NoError(t, err)

	sent := backend.Submitted()
	require.Len(t, sent, 1)
	assert.Equal(t, contracts.MethodReceive, sent[0].Method)
	assert.Equal(t, big.NewInt(5000), sent[0].Value)

	_, err = bc.Transfer(context.Background(), big.NewInt(0))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestHead(t *testing.T) {
	bc, _ := newBound(t)
	n, err := bc.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n.Int64())
}

func TestPendingResumesByHash(t *testing.T) {
	bc, backend := newBound(t)

	first, err := bc.Transact(context.Background(), contracts.MethodReleaseInitial, big.NewInt(3))
	require.NoError(t, err)

	resumed := bc.Pending(contracts.MethodReleaseInitial, first.Hash())
	assert.Nil(t, resumed.Tx)
	conf, err := resumed.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Hash(), conf.TxHash)
	assert.Len(t, backend.Submitted(), 1)
}

func TestWaitErrorCarriesHash(t *testing.T) {
	bc, backend := newBound(t)
	backend.HoldReceipts()

	pending, err := bc.Transact(context.Background(), contracts.MethodReleaseFinal, big.NewInt(1))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	conf, err := pending.Wait(ctx)
	assert.Nil(t, conf)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	hash, ok := TxHashOf(err)
	require.True(t, ok)
	assert.Equal(t, pending.Hash(), hash)
}
