package main

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"escrowlink/internal/escrow"
)

func newVendorCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vendor",
		Short: "Register and look up vendors",
	}
	cmd.AddCommand(newVendorRegisterCmd(a), newVendorShowCmd(a))
	return cmd
}

func newVendorRegisterCmd(a *app) *cobra.Command {
	var req escrow.RegisterVendorRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a vendor in the contract's registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.confirm(cmd, "registerVendor", func(ctx context.Context, c *escrow.EthClient) (*escrow.Confirmation, error) {
				return c.RegisterVendor(ctx, req)
			})
		},
	}
	cmd.Flags().StringVar(&req.Address, "address", "", "vendor address")
	cmd.Flags().StringVar(&req.Name, "name", "", "vendor name")
	cmd.Flags().StringVar(&req.Category, "category", "", "vendor category")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newVendorShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <address>",
		Short: "Read a vendor registry entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			v, err := c.Vendor(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			table, err := pterm.DefaultTable.WithData(pterm.TableData{
				{"address", v.Address.Hex()},
				{"name", v.Name},
				{"category", v.Category},
				{"verified", fmt.Sprint(v.IsVerified)},
			}).Srender()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}
