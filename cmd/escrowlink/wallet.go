package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"escrowlink/internal/wallet"
)

func newWalletCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Inspect or import the signing wallet",
	}
	cmd.AddCommand(newWalletAddressCmd(a), newWalletImportCmd(a))
	return cmd
}

func newWalletAddressCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the address and chain of the active wallet session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nwallet %s\nchain %s\n", sess.Address.Hex(), sess.Wallet, sess.ChainID)
			return nil
		},
	}
}

func newWalletImportCmd(a *app) *cobra.Command {
	var fromStdin bool
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Store a hex private key in the OS keyring",
		Long: `import saves the signing key in the platform credential store under the
"escrowlink" service. Enable it afterwards with ESCROW_KEYRING=true.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := readKey(cmd, fromStdin)
			if err != nil {
				return err
			}

			backends := make([]keyring.BackendType, 0, len(a.cfg.Wallet.KeyringBackends))
			for _, b := range a.cfg.Wallet.KeyringBackends {
				backends = append(backends, keyring.BackendType(b))
			}
			ring, err := wallet.OpenKeyring(backends)
			if err != nil {
				return err
			}
			addr, err := wallet.StoreKey(ring, key)
			if err != nil {
				return err
			}
			pterm.Success.Printfln("Stored signing key for %s", addr)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read the key from standard input instead of prompting")
	return cmd
}

func readKey(cmd *cobra.Command, fromStdin bool) (string, error) {
	if fromStdin {
		var key string
		if _, err := fmt.Fscanln(cmd.InOrStdin(), &key); err != nil {
			return "", fmt.Errorf("read key: %w", err)
		}
		return strings.TrimSpace(key), nil
	}
	key, err := pterm.DefaultInteractiveTextInput.WithMask("*").Show("Private key (hex)")
	if err != nil {
		return "", err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("no key entered")
	}
	return key, nil
}
