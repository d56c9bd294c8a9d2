package escrow

import (
	"escrowlink/internal/binding"
	"escrowlink/internal/units"
	"escrowlink/internal/wallet"
)

// Error taxonomy surfaced by Client. None of these is retried locally.
var (
	ErrProviderUnavailable = wallet.ErrProviderUnavailable
	ErrUserRejected        = wallet.ErrUserRejected
	ErrAmountFormat        = units.ErrAmountFormat
	ErrTransactionReverted = binding.ErrTransactionReverted
	ErrTransactionRejected = binding.ErrTransactionRejected
	ErrInvalidArgument     = binding.ErrInvalidArgument
)
