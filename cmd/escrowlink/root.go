package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"escrowlink/internal/config"
	"escrowlink/internal/escrow"
	"escrowlink/internal/wallet"
)

// app carries what every subcommand needs once flags and config are
// resolved. dial is swapped out in tests.
type app struct {
	cfg    *config.AppConfig
	logger *slog.Logger
	dial   func(ctx context.Context, rpcURL string) (wallet.Backend, error)

	configPath string
	rpcURL     string
	contract   string
	verbose    bool
}

func newApp() *app {
	return &app{
		dial: func(ctx context.Context, rpcURL string) (wallet.Backend, error) {
			return wallet.Dial(ctx, rpcURL)
		},
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "escrowlink",
		Short:         "Milestone escrow client",
		Long:          `escrowlink creates milestones, releases 50% payments, records proofs and reads escrow state from a deployed MilestoneEscrow contract.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "deployment file (json or yaml); defaults to $DEPLOYMENTS_PATH or deployments.json")
	root.PersistentFlags().StringVar(&a.rpcURL, "rpc", "", "JSON-RPC endpoint, overrides the deployment file")
	root.PersistentFlags().StringVar(&a.contract, "contract", "", "escrow contract address, overrides the deployment file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log submissions and confirmations")

	root.AddCommand(
		newServeCmd(a),
		newWalletCmd(a),
		newMilestoneCmd(a),
		newVendorCmd(a),
		newBalanceCmd(a),
		newOwnerCmd(a),
		newFundCmd(a),
	)
	return root
}

func (a *app) load(stderr io.Writer) error {
	var (
		cfg *config.AppConfig
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFrom(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if a.rpcURL != "" {
		cfg.Chain.RPCURL = a.rpcURL
	}
	if a.contract != "" {
		cfg.Chain.ContractAddress = a.contract
	}
	a.cfg = cfg

	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	return nil
}

func (a *app) walletOptions() wallet.Options {
	w := a.cfg.Wallet
	return wallet.Options{
		PrivateKey:      w.PrivateKey,
		KeystoreDir:     w.KeystoreDir,
		KeystoreAccount: w.KeystoreAccount,
		UseKeyring:      w.UseKeyring,
		KeyringBackends: w.KeyringBackends,
		Passphrase:      a.passphrase,
	}
}

// passphrase is the keystore approval step: the configured passphrase if
// one is set, otherwise a masked interactive prompt.
func (a *app) passphrase(_ context.Context, account common.Address) (string, error) {
	if a.cfg.Wallet.KeystorePassphrase != "" {
		return a.cfg.Wallet.KeystorePassphrase, nil
	}
	pass, err := pterm.DefaultInteractiveTextInput.
		WithMask("*").
		Show("Passphrase for " + account.Hex())
	if err != nil {
		return "", fmt.Errorf("passphrase prompt: %w", err)
	}
	if pass == "" {
		return "", errors.New("passphrase prompt declined")
	}
	return pass, nil
}

// session detects the wallet and binds it to the configured RPC endpoint.
// A missing wallet is reported to the user before the error is returned.
func (a *app) session(ctx context.Context) (*wallet.Session, error) {
	w, err := wallet.Detect(a.walletOptions())
	if err != nil {
		if errors.Is(err, wallet.ErrProviderUnavailable) {
			pterm.Warning.Println("No wallet available. Set ESCROW_PRIVATE_KEY, ESCROW_KEYSTORE_DIR or run `escrowlink wallet import` and set ESCROW_KEYRING=true.")
		}
		return nil, err
	}
	backend, err := a.dial(ctx, a.cfg.Chain.RPCURL)
	if err != nil {
		pterm.Warning.Printfln("Cannot reach the chain at %q.", a.cfg.Chain.RPCURL)
		return nil, err
	}
	sess, err := wallet.EstablishSession(ctx, w, backend)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("session established", "wallet", sess.Wallet, "address", sess.Address.Hex(), "chain_id", sess.ChainID)
	return sess, nil
}

func (a *app) client(ctx context.Context) (*escrow.EthClient, error) {
	sess, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	return escrow.NewEthClient(sess, escrow.EthClientConfig{
		ContractAddress: a.cfg.Chain.ContractAddress,
		Decimals:        a.cfg.Chain.Decimals,
		PollInterval:    a.cfg.Chain.PollInterval,
		Logger:          a.logger,
	})
}

// confirm runs one state-changing call behind a spinner and prints the
// resulting transaction.
func (a *app) confirm(cmd *cobra.Command, label string, run func(ctx context.Context, c *escrow.EthClient) (*escrow.Confirmation, error)) error {
	ctx := cmd.Context()
	c, err := a.client(ctx)
	if err != nil {
		return err
	}

	spinner, _ := pterm.DefaultSpinner.WithWriter(cmd.ErrOrStderr()).Start(label + ": waiting for confirmation")
	conf, err := run(ctx, c)
	if err != nil {
		if spinner != nil {
			spinner.Fail(label + " failed")
		}
		if conf != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "tx %s\n", conf.TxHash.Hex())
		}
		return err
	}
	if spinner != nil {
		spinner.Success(label + " confirmed")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "tx %s\nblock %s\ngas used %d\n", conf.TxHash.Hex(), conf.BlockNumber, conf.GasUsed)
	return nil
}
