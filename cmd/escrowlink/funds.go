package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"escrowlink/internal/escrow"
	"escrowlink/internal/units"
)

func newBalanceCmd(a *app) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Print the contract's balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			bal, err := c.Balance(cmd.Context())
			if err != nil {
				return err
			}
			if raw {
				fmt.Fprintln(cmd.OutOrStdout(), bal)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", units.FormatUnits(bal, c.Decimals()), a.cfg.Chain.CurrencySymbol)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the balance in smallest units")
	return cmd
}

func newOwnerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "owner",
		Short: "Print the contract owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			owner, err := c.Owner(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), owner.Hex())
			return nil
		},
	}
}

func newFundCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fund <amount>",
		Short: "Send funds to the escrow contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.confirm(cmd, "fund", func(ctx context.Context, c *escrow.EthClient) (*escrow.Confirmation, error) {
				return c.Fund(ctx, args[0])
			})
		},
	}
}
