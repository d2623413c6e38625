// Package earncmder provides the earn command crediting attention to an
// entity through a running attend serve.
package earncmder

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/attend/api"
	"github.com/papercomputeco/attend/api/client"
	"github.com/papercomputeco/attend/pkg/cliui"
	"github.com/papercomputeco/attend/pkg/config"
	"github.com/papercomputeco/attend/pkg/entity"
)

type EarnCommander struct {
	apiTarget string
	kind      string
	reason    string
	token     string
}

const earnLongDesc string = `Credit attention to an entity.

Sends the earn to a running attend serve, which applies the category cap
and propagates a share of the credit to related entities. Keys use the
form scope:category:id; pairs join two people with '+'.

Either give a raw amount, or --kind to earn the configured weight of an
activity kind (multiplied by the focus of the entity's container).

A --token makes the earn idempotent: a second earn with the same token is
ignored.

Examples:
  attend earn self:person:alice 5
  attend earn self:person:alice --kind message
  attend earn team:space:general 2 --reason "standup" --token standup-2026-10-19`

const earnShortDesc string = "Credit attention to an entity"

func NewEarnCmd() *cobra.Command {
	cmder := &EarnCommander{}

	cmd := &cobra.Command{
		Use:   "earn <key> [amount]",
		Short: earnShortDesc,
		Long:  earnLongDesc,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := config.ForCommand(cmd, []string{config.FlagAPITarget}); err != nil {
				return err
			}
			return cmder.run(cmd, args)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagAPITarget, &cmder.apiTarget)
	cmd.Flags().StringVarP(&cmder.kind, "kind", "k", "", "Activity kind to earn the configured weight of")
	cmd.Flags().StringVarP(&cmder.reason, "reason", "r", "", "Provenance recorded on the ledger entry")
	cmd.Flags().StringVar(&cmder.token, "token", "", "Idempotency token")

	return cmd
}

func (c *EarnCommander) run(cmd *cobra.Command, args []string) error {
	key, err := entity.Parse(args[0])
	if err != nil {
		return err
	}

	switch {
	case c.kind == "" && len(args) != 2:
		return errors.New("an amount or --kind is required")
	case c.kind != "" && len(args) == 2:
		return errors.New("give either an amount or --kind, not both")
	}

	cl, err := client.New(c.apiTarget, nil)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var resp *api.BalanceResponse
	if c.kind != "" {
		resp, err = cl.Record(ctx, api.ActivityRequest{
			Key:    key.String(),
			Kind:   c.kind,
			Reason: c.reason,
			Token:  c.token,
		})
	} else {
		amount, perr := strconv.ParseFloat(args[1], 64)
		if perr != nil {
			return fmt.Errorf("invalid amount %q: %w", args[1], perr)
		}
		resp, err = cl.Earn(ctx, api.EarnRequest{
			Key:    key.String(),
			Amount: amount,
			Reason: c.reason,
			Token:  c.token,
		})
	}
	if err != nil {
		return fmt.Errorf("earning against %s: %w", c.apiTarget, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "  %s %s  %s\n",
		cliui.SuccessMark,
		cliui.KeyStyle.Render(resp.Key.String()),
		cliui.ValueStyle.Render(cliui.FormatAmount(resp.Balance)),
	)
	return nil
}
