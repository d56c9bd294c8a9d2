package escrow

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"escrowlink/internal/binding"
)

// Client abstracts the on-chain milestone escrow interaction. Every method is
// one remote round trip; state-changing methods also wait for one
// confirmation. Nothing is cached between calls.
type Client interface {
	CreateMilestone(ctx context.Context, req CreateMilestoneRequest) (*Confirmation, error)
	ReleaseInitial(ctx context.Context, id *big.Int) (*Confirmation, error)
	ReleaseFinal(ctx context.Context, id *big.Int) (*Confirmation, error)
	SubmitProof(ctx context.Context, id *big.Int, ipfsHash string) (*Confirmation, error)
	RegisterVendor(ctx context.Context, req RegisterVendorRequest) (*Confirmation, error)
	Fund(ctx context.Context, amount string) (*Confirmation, error)
	// Await resumes waiting on a transaction broadcast by an earlier call
	// without submitting anything.
	Await(ctx context.Context, method string, hash common.Hash) (*Confirmation, error)

	Milestone(ctx context.Context, id *big.Int) (Milestone, error)
	Vendor(ctx context.Context, address string) (Vendor, error)
	Balance(ctx context.Context) (*big.Int, error)
	Owner(ctx context.Context) (common.Address, error)
	NextMilestoneID(ctx context.Context) (*big.Int, error)
}

// HealthChecker is implemented by clients that can check their RPC backend.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Contract is the bound escrow contract the client drives.
// *binding.BoundContract implements it.
type Contract interface {
	Call(ctx context.Context, method string, args ...any) ([]any, error)
	Transact(ctx context.Context, method string, args ...any) (*binding.PendingTransaction, error)
	Transfer(ctx context.Context, value *big.Int) (*binding.PendingTransaction, error)
	Head(ctx context.Context) (*big.Int, error)
	Pending(method string, hash common.Hash) *binding.PendingTransaction
}

// Confirmation is the finality marker returned by state-changing calls.
type Confirmation = binding.Confirmation

// WaitError is returned when a transaction was broadcast but waiting for its
// receipt stopped early.
type WaitError = binding.WaitError

// TxHashOf extracts the broadcast hash from a WaitError in err's chain.
func TxHashOf(err error) (common.Hash, bool) { return binding.TxHashOf(err) }

// SubmittedFunc observes a transaction as soon as it has been broadcast and
// before its confirmation is awaited.
type SubmittedFunc func(method string, hash common.Hash)

type submittedKey struct{}

// WithSubmitted returns a context whose state-changing calls report each
// broadcast hash to fn.
func WithSubmitted(ctx context.Context, fn SubmittedFunc) context.Context {
	return context.WithValue(ctx, submittedKey{}, fn)
}

func notifySubmitted(ctx context.Context, method string, hash common.Hash) {
	if fn, ok := ctx.Value(submittedKey{}).(SubmittedFunc); ok && fn != nil {
		fn(method, hash)
	}
}

type CreateMilestoneRequest struct {
	Description string
	Amount      string // decimal string in human units, e.g. "1.5"
	Vendor      string
}

type RegisterVendorRequest struct {
	Address  string
	Name     string
	Category string
}

// Milestone mirrors the contract's milestones(uint256) tuple verbatim.
type Milestone struct {
	ID             *big.Int
	Description    string
	TotalAmount    *big.Int
	Vendor         common.Address
	ImageProofHash string
	IsInitialPaid  bool
	IsFinalPaid    bool
	ProofSubmitted bool
}

// Vendor mirrors the contract's vendorRegistry(address) tuple.
type Vendor struct {
	Address    common.Address
	Name       string
	Category   string
	IsVerified bool
}
