package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/TxnLab/stakepool/internal/lib/api"
	"github.com/TxnLab/stakepool/internal/lib/misc"
	"github.com/TxnLab/stakepool/internal/lib/pool"
	"github.com/TxnLab/stakepool/internal/lib/token"
)

var errNotSandbox = errors.New("deposits go through the token service, this command only works against a sandbox daemon")

func depositFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "from",
			Usage:    "The account sending the tokens",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "amount",
			Usage:    "The amount of whole tokens (decimals allowed)",
			Required: true,
		},
	}
}

func GetStakeCmdOpts() *cli.Command {
	return &cli.Command{
		Name:   "stake",
		Usage:  "Stake tokens into the pool from a sandbox account",
		Flags:  depositFlags(),
		Action: StakeAdd,
	}
}

func GetRewardsCmdOpts() *cli.Command {
	return &cli.Command{
		Name:   "rewards",
		Usage:  "Add tokens to be distributed as reward from a sandbox account",
		Flags:  depositFlags(),
		Action: RewardsAdd,
	}
}

func GetUnstakeCmdOpts() *cli.Command {
	return &cli.Command{
		Name:  "unstake",
		Usage: "Burn shares and withdraw the tokens they claim",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "account",
				Usage:    "The account unstaking",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "shares",
				Usage: "Amount of shares in whole units, all of them when not set",
			},
		},
		Action: Unstake,
	}
}

func GetUnregisterCmdOpts() *cli.Command {
	return &cli.Command{
		Name:  "unregister",
		Usage: "Remove an account holding no shares from the pool",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "account",
				Usage:    "The account to remove",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "caller",
				Usage: "The account making the request, defaults to --account",
			},
		},
		Action: Unregister,
	}
}

func StakeAdd(ctx context.Context, command *cli.Command) error {
	return deposit(ctx, command, pool.IntentStake)
}

func RewardsAdd(ctx context.Context, command *cli.Command) error {
	return deposit(ctx, command, pool.IntentAddRewards)
}

func deposit(ctx context.Context, command *cli.Command, intent pool.Intent) error {
	if !App.netCfg.IsLocal() {
		return errNotSandbox
	}
	amount, err := token.ParseFormattedAmount(command.String("amount"), int(App.decimals))
	if err != nil {
		return err
	}
	from := command.String("from")
	res, err := App.client.SandboxTransferCall(ctx, api.TransferCallRequest{
		SenderID: from,
		Amount:   amount.Dec(),
		Msg:      fmt.Sprintf("%q", intent),
	})
	if err != nil {
		return err
	}
	misc.Infof(App.logger, "%s deposited %s tokens (%s)", from, fmtAmount(res.Used), intent)
	return nil
}

func Unstake(ctx context.Context, command *cli.Command) error {
	req := api.UnstakeRequest{
		AccountID:       command.String("account"),
		AttachedDeposit: "1",
	}
	if shares := command.String("shares"); shares != "" {
		amount, err := token.ParseFormattedAmount(shares, int(App.decimals))
		if err != nil {
			return err
		}
		req.Amount = amount.Dec()
	}
	w, err := App.client.Unstake(ctx, req)
	if err != nil {
		return err
	}
	misc.Infof(App.logger, "unstaked %s shares of %s for %s tokens, withdrawal:%s", fmtAmount(w.Shares), w.AccountID, fmtAmount(w.Amount), w.ID)
	return nil
}

func Unregister(ctx context.Context, command *cli.Command) error {
	account := command.String("account")
	caller := command.String("caller")
	if caller == "" {
		caller = account
	}
	if err := App.client.Unregister(ctx, caller, account); err != nil {
		return err
	}
	misc.Infof(App.logger, "account %s unregistered", account)
	return nil
}
