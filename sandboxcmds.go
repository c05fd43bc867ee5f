package main

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/TxnLab/stakepool/internal/lib/api"
	"github.com/TxnLab/stakepool/internal/lib/misc"
	"github.com/TxnLab/stakepool/internal/lib/token"
)

func GetSandboxCmdOpts() *cli.Command {
	return &cli.Command{
		Name:  "sandbox",
		Usage: "Manage accounts of the in-process token ledger of a sandbox daemon",
		Before: func(ctx context.Context, command *cli.Command) error {
			if !App.netCfg.IsLocal() {
				return errNotSandbox
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "register",
				Usage: "Register an account with the token",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "account",
						Required: true,
					},
				},
				Action: SandboxRegister,
			},
			{
				Name:  "mint",
				Usage: "Mint tokens to a registered account",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "account",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "amount",
						Usage:    "The amount of whole tokens (decimals allowed)",
						Required: true,
					},
				},
				Action: SandboxMint,
			},
			{
				Name:   "balances",
				Usage:  "List token balances",
				Action: SandboxBalances,
			},
		},
	}
}

func SandboxRegister(ctx context.Context, command *cli.Command) error {
	account := command.String("account")
	if err := App.client.SandboxRegister(ctx, account); err != nil {
		return err
	}
	misc.Infof(App.logger, "registered %s", account)
	return nil
}

func SandboxMint(ctx context.Context, command *cli.Command) error {
	amount, err := token.ParseFormattedAmount(command.String("amount"), int(App.decimals))
	if err != nil {
		return err
	}
	account := command.String("account")
	if err := App.client.SandboxMint(ctx, api.MintRequest{AccountID: account, Amount: amount.Dec()}); err != nil {
		return err
	}
	misc.Infof(App.logger, "minted %s tokens to %s", command.String("amount"), account)
	return nil
}

func SandboxBalances(ctx context.Context, command *cli.Command) error {
	balances, err := App.client.SandboxBalances(ctx)
	if err != nil {
		return err
	}
	out := new(strings.Builder)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Account\tBalance\t")
	for _, account := range slices.Sorted(maps.Keys(balances)) {
		fmt.Fprintf(tw, "%s\t%s\t\n", account, fmtAmount(balances[account]))
	}
	tw.Flush()
	fmt.Print(out.String())
	return nil
}
