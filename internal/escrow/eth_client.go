package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"escrowlink/internal/binding"
	"escrowlink/internal/contracts"
	"escrowlink/internal/units"
	"escrowlink/internal/wallet"
)

// EthClient drives the milestone escrow contract through a bound session.
type EthClient struct {
	contract Contract
	decimals int
	logger   *slog.Logger
}

type EthClientConfig struct {
	ContractAddress string
	Decimals        int
	PollInterval    time.Duration
	Logger          *slog.Logger
}

// NewEthClient binds the escrow descriptor at cfg.ContractAddress to session.
func NewEthClient(session *wallet.Session, cfg EthClientConfig) (*EthClient, error) {
	if cfg.ContractAddress == "" {
		return nil, fmt.Errorf("escrow contract address is required")
	}
	desc, err := contracts.NewDescriptor(cfg.ContractAddress)
	if err != nil {
		return nil, err
	}

	var opts []binding.Option
	if cfg.PollInterval > 0 {
		opts = append(opts, binding.WithPollInterval(cfg.PollInterval))
	}
	bound, err := binding.Bind(session, desc, opts...)
	if err != nil {
		return nil, fmt.Errorf("bind escrow contract: %w", err)
	}
	return NewEthClientWithContract(bound, cfg.Decimals, cfg.Logger), nil
}

// NewEthClientWithContract wraps an already bound contract. A zero decimals
// value selects the native currency precision.
func NewEthClientWithContract(contract Contract, decimals int, logger *slog.Logger) *EthClient {
	if decimals <= 0 {
		decimals = units.EtherDecimals
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EthClient{
		contract: contract,
		decimals: decimals,
		logger:   logger.With("component", "escrow"),
	}
}

func (c *EthClient) Decimals() int { return c.decimals }

// CreateMilestone converts req.Amount to smallest units and submits
// addMilestone, then waits for its confirmation.
func (c *EthClient) CreateMilestone(ctx context.Context, req CreateMilestoneRequest) (*Confirmation, error) {
	amount, err := units.ParseUnits(req.Amount, c.decimals)
	if err != nil {
		return nil, err
	}
	vendor, err := parseAddress("vendor", req.Vendor)
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, contracts.MethodAddMilestone, req.Description, amount, vendor)
}

// ReleaseInitial releases the first half of milestone id. An invalid or
// already paid id surfaces as ErrTransactionReverted.
func (c *EthClient) ReleaseInitial(ctx context.Context, id *big.Int) (*Confirmation, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	return c.submit(ctx, contracts.MethodReleaseInitial, id)
}

func (c *EthClient) ReleaseFinal(ctx context.Context, id *big.Int) (*Confirmation, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	return c.submit(ctx, contracts.MethodReleaseFinal, id)
}

func (c *EthClient) SubmitProof(ctx context.Context, id *big.Int, ipfsHash string) (*Confirmation, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ipfsHash) == "" {
		return nil, fmt.Errorf("%w: proof hash required", ErrInvalidArgument)
	}
	return c.submit(ctx, contracts.MethodSubmitProof, id, ipfsHash)
}

func (c *EthClient) RegisterVendor(ctx context.Context, req RegisterVendorRequest) (*Confirmation, error) {
	addr, err := parseAddress("vendor", req.Address)
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, contracts.MethodRegisterVendor, addr, req.Name, req.Category)
}

// Fund sends amount (human units) to the contract's receive function.
func (c *EthClient) Fund(ctx context.Context, amount string) (*Confirmation, error) {
	value, err := units.ParseUnits(amount, c.decimals)
	if err != nil {
		return nil, err
	}
	pending, err := c.contract.Transfer(ctx, value)
	if err != nil {
		return nil, err
	}
	return c.await(ctx, pending)
}

// Milestone reads milestones(id) and returns the tuple as-is.
func (c *EthClient) Milestone(ctx context.Context, id *big.Int) (Milestone, error) {
	if err := validateID(id); err != nil {
		return Milestone{}, err
	}
	out, err := c.contract.Call(ctx, contracts.MethodMilestones, id)
	if err != nil {
		return Milestone{}, err
	}
	if len(out) != 7 {
		return Milestone{}, fmt.Errorf("milestones: expected 7 values, got %d", len(out))
	}

	m := Milestone{ID: new(big.Int).Set(id)}
	var ok [7]bool
	m.Description, ok[0] = out[0].(string)
	m.TotalAmount, ok[1] = out[1].(*big.Int)
	m.Vendor, ok[2] = out[2].(common.Address)
	m.ImageProofHash, ok[3] = out[3].(string)
	m.IsInitialPaid, ok[4] = out[4].(bool)
	m.IsFinalPaid, ok[5] = out[5].(bool)
	m.ProofSubmitted, ok[6] = out[6].(bool)
	for i, good := range ok {
		if !good {
			return Milestone{}, fmt.Errorf("milestones: unexpected type %T at position %d", out[i], i)
		}
	}
	return m, nil
}

func (c *EthClient) Vendor(ctx context.Context, address string) (Vendor, error) {
	addr, err := parseAddress("vendor", address)
	if err != nil {
		return Vendor{}, err
	}
	out, err := c.contract.Call(ctx, contracts.MethodVendorRegistry, addr)
	if err != nil {
		return Vendor{}, err
	}
	if len(out) != 3 {
		return Vendor{}, fmt.Errorf("vendorRegistry: expected 3 values, got %d", len(out))
	}

	v := Vendor{Address: addr}
	var ok [3]bool
	v.Name, ok[0] = out[0].(string)
	v.Category, ok[1] = out[1].(string)
	v.IsVerified, ok[2] = out[2].(bool)
	for i, good := range ok {
		if !good {
			return Vendor{}, fmt.Errorf("vendorRegistry: unexpected type %T at position %d", out[i], i)
		}
	}
	return v, nil
}

// Balance returns getBalance() in smallest units.
func (c *EthClient) Balance(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, contracts.MethodGetBalance)
}

func (c *EthClient) NextMilestoneID(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, contracts.MethodNextMilestoneID)
}

func (c *EthClient) Owner(ctx context.Context) (common.Address, error) {
	out, err := c.contract.Call(ctx, contracts.MethodOwner)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("owner: expected 1 value, got %d", len(out))
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("owner: unexpected type %T", out[0])
	}
	return addr, nil
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.contract == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.contract.Head(ctx)
	return err
}

func (c *EthClient) callUint(ctx context.Context, method string) (*big.Int, error) {
	out, err := c.contract.Call(ctx, method)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s: expected 1 value, got %d", method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected type %T", method, out[0])
	}
	return v, nil
}

func (c *EthClient) submit(ctx context.Context, method string, args ...any) (*Confirmation, error) {
	pending, err := c.contract.Transact(ctx, method, args...)
	if err != nil {
		c.logger.Warn("submission failed", "method", method, "error", err)
		return nil, err
	}
	return c.await(ctx, pending)
}

// Await waits for a transaction broadcast earlier, identified by hash.
func (c *EthClient) Await(ctx context.Context, method string, hash common.Hash) (*Confirmation, error) {
	if hash == (common.Hash{}) {
		return nil, fmt.Errorf("%w: empty transaction hash", ErrInvalidArgument)
	}
	c.logger.Info("resuming confirmation wait", "method", method, "tx", hash.Hex())
	return c.wait(ctx, c.contract.Pending(method, hash))
}

func (c *EthClient) await(ctx context.Context, pending *binding.PendingTransaction) (*Confirmation, error) {
	c.logger.Info("transaction submitted", "method", pending.Method, "tx", pending.Hash().Hex())
	notifySubmitted(ctx, pending.Method, pending.Hash())
	return c.wait(ctx, pending)
}

func (c *EthClient) wait(ctx context.Context, pending *binding.PendingTransaction) (*Confirmation, error) {
	conf, err := pending.Wait(ctx)
	if err != nil {
		c.logger.Warn("transaction failed", "method", pending.Method, "tx", pending.Hash().Hex(), "error", err)
		return conf, err
	}
	c.logger.Info("transaction confirmed",
		"method", pending.Method,
		"tx", conf.TxHash.Hex(),
		"block", conf.BlockNumber,
		"gas_used", conf.GasUsed,
	)
	return conf, nil
}

func parseAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%w: invalid %s address %q", ErrInvalidArgument, field, value)
	}
	return common.HexToAddress(value), nil
}

func validateID(id *big.Int) error {
	if id == nil || id.Sign() < 0 {
		return fmt.Errorf("%w: milestone id must be a non-negative integer", ErrInvalidArgument)
	}
	return nil
}

// ParseID parses a decimal milestone id.
func ParseID(s string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid milestone id %q", ErrInvalidArgument, s)
	}
	return id, nil
}
