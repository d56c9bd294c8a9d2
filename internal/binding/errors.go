package binding

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"escrowlink/internal/wallet"
)

var (
	ErrInvalidSession  = errors.New("invalid session")
	ErrUnknownMethod   = errors.New("method not in contract interface")
	ErrWrongMutability = errors.New("method mutability mismatch")
	ErrInvalidArgument = errors.New("invalid call arguments")

	// ErrTransactionRejected means the transaction never made it on chain
	// (insufficient funds, nonce or gas problems, node refusal).
	ErrTransactionRejected = errors.New("transaction rejected")
	// ErrTransactionReverted means contract execution failed, either while
	// the node simulated the call or after the transaction was mined.
	ErrTransactionReverted = errors.New("transaction reverted")
)

// classifySubmitError maps an error from bind.BoundContract.Transact onto the
// escrow error taxonomy. The original error stays in the chain.
func classifySubmitError(method string, err error) error {
	if errors.Is(err, wallet.ErrUserRejected) || errors.Is(err, keystore.ErrLocked) {
		return fmt.Errorf("%w: sign %s: %w", wallet.ErrUserRejected, method, err)
	}
	if reason, ok := revertReason(err); ok {
		if reason == "" {
			return fmt.Errorf("%w: %s: %w", ErrTransactionReverted, method, err)
		}
		return fmt.Errorf("%w: %s: %s: %w", ErrTransactionReverted, method, reason, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrTransactionRejected, method, err)
}

// revertReason reports whether err is an execution revert and, when the node
// attached revert data, the decoded Error(string) reason.
func revertReason(err error) (string, bool) {
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if data, derr := hexutil.Decode(s); derr == nil {
				if reason, uerr := abi.UnpackRevert(data); uerr == nil {
					return reason, true
				}
			}
		}
	}
	if strings.Contains(err.Error(), "execution reverted") {
		return "", true
	}
	return "", false
}
