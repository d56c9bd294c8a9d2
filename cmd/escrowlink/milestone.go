package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"escrowlink/internal/escrow"
	"escrowlink/internal/units"
)

func newMilestoneCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "milestone",
		Aliases: []string{"ms"},
		Short:   "Create, inspect and pay out milestones",
	}
	cmd.AddCommand(
		newMilestoneCreateCmd(a),
		newMilestoneShowCmd(a),
		newMilestoneNextIDCmd(a),
		newReleaseCmd(a, "release-initial", "Release the first 50% of a milestone", (*escrow.EthClient).ReleaseInitial),
		newReleaseCmd(a, "release-final", "Release the final 50% of a milestone", (*escrow.EthClient).ReleaseFinal),
		newMilestoneProofCmd(a),
	)
	return cmd
}

func newMilestoneCreateCmd(a *app) *cobra.Command {
	var req escrow.CreateMilestoneRequest
	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Create a milestone payable to a vendor",
		Example: `  escrowlink milestone create --description "Build shed" --amount 1.5 --vendor 0x1111111111111111111111111111111111111111`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.confirm(cmd, "addMilestone", func(ctx context.Context, c *escrow.EthClient) (*escrow.Confirmation, error) {
				return c.CreateMilestone(ctx, req)
			})
		},
	}
	cmd.Flags().StringVar(&req.Description, "description", "", "milestone description")
	cmd.Flags().StringVar(&req.Amount, "amount", "", "total amount in whole currency units, e.g. 1.5")
	cmd.Flags().StringVar(&req.Vendor, "vendor", "", "vendor address")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("vendor")
	return cmd
}

func newMilestoneShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Read a milestone as stored by the contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := escrow.ParseID(args[0])
			if err != nil {
				return err
			}
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			m, err := c.Milestone(cmd.Context(), id)
			if err != nil {
				return err
			}

			table, err := pterm.DefaultTable.WithData(pterm.TableData{
				{"id", m.ID.String()},
				{"description", m.Description},
				{"amount", units.FormatUnits(m.TotalAmount, c.Decimals()) + " " + a.cfg.Chain.CurrencySymbol},
				{"vendor", m.Vendor.Hex()},
				{"proof", m.ImageProofHash},
				{"initial paid", fmt.Sprint(m.IsInitialPaid)},
				{"final paid", fmt.Sprint(m.IsFinalPaid)},
				{"proof submitted", fmt.Sprint(m.ProofSubmitted)},
			}).Srender()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

func newMilestoneNextIDCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "next-id",
		Short: "Print the id the next created milestone will get",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			next, err := c.NextMilestoneID(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), next)
			return nil
		},
	}
}

type releaseFunc func(c *escrow.EthClient, ctx context.Context, id *big.Int) (*escrow.Confirmation, error)

func newReleaseCmd(a *app, use, short string, release releaseFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := escrow.ParseID(args[0])
			if err != nil {
				return err
			}
			return a.confirm(cmd, use, func(ctx context.Context, c *escrow.EthClient) (*escrow.Confirmation, error) {
				return release(c, ctx, id)
			})
		},
	}
}

func newMilestoneProofCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "proof <id> <ipfs-hash>",
		Short: "Record the proof hash for a milestone",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := escrow.ParseID(args[0])
			if err != nil {
				return err
			}
			return a.confirm(cmd, "submitProof", func(ctx context.Context, c *escrow.EthClient) (*escrow.Confirmation, error) {
				return c.SubmitProof(ctx, id, args[1])
			})
		},
	}
}
