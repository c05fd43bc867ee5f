package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/urfave/cli/v3"

	"github.com/TxnLab/stakepool/internal/lib/api"
	"github.com/TxnLab/stakepool/internal/lib/misc"
	"github.com/TxnLab/stakepool/internal/lib/token"
)

func GetAdminCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "admin",
		Aliases: []string{"a"},
		Usage:   "Owner only pool configuration",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "caller",
				Usage:    "The account making the change, must be the pool owner",
				Sources:  cli.EnvVars("STAKEPOOL_OWNER"),
				Required: true,
			},
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Don't ask for confirmation",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "owner",
				Usage: "Transfer pool ownership",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "new",
						Usage:    "The new owner account",
						Required: true,
					},
				},
				Action: AdminSetOwner,
			},
			{
				Name:  "rate",
				Usage: "Set the reward distributed per second",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "rate",
						Usage:    "Reward per second in whole tokens (decimals allowed)",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "distribute",
						Usage: "Distribute the reward accrued at the old rate before changing it",
						Value: true,
					},
				},
				Action: AdminSetRewardRate,
			},
			{
				Name:  "genesis",
				Usage: "Move the reward genesis time, only possible before it has passed",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "time",
						Usage:    "New reward genesis time (RFC3339 or unix seconds)",
						Required: true,
					},
				},
				Action: AdminResetRewardGenesis,
			},
		},
	}
}

func confirm(command *cli.Command, prompt string) bool {
	if command.Bool("yes") {
		return true
	}
	result, _ := yesNo(prompt)
	return result == "y"
}

func AdminSetOwner(ctx context.Context, command *cli.Command) error {
	newOwner := command.String("new")
	if !confirm(command, fmt.Sprintf("Transfer pool ownership to %s", newOwner)) {
		return nil
	}
	info, err := App.client.SetOwner(ctx, api.SetOwnerRequest{Caller: command.String("caller"), Owner: newOwner})
	if err != nil {
		return err
	}
	misc.Infof(App.logger, "pool owner is now %s", info.Owner)
	return nil
}

func AdminSetRewardRate(ctx context.Context, command *cli.Command) error {
	rate, err := token.ParseFormattedAmount(command.String("rate"), int(App.decimals))
	if err != nil {
		return err
	}
	if !confirm(command, fmt.Sprintf("Set reward rate to %s tokens per second", command.String("rate"))) {
		return nil
	}
	info, err := App.client.SetRewardRate(ctx, api.SetRewardRateRequest{
		Caller:                 command.String("caller"),
		RewardPerSec:           rate.Dec(),
		DistributeBeforeChange: command.Bool("distribute"),
	})
	if err != nil {
		return err
	}
	misc.Infof(App.logger, "reward rate is now %s per second", fmtAmount(info.RewardPerSec))
	return nil
}

func AdminResetRewardGenesis(ctx context.Context, command *cli.Command) error {
	genesis, err := parseTime(command.String("time"))
	if err != nil {
		return err
	}
	if !confirm(command, fmt.Sprintf("Move reward genesis to %s", genesis.UTC().Format(time.RFC3339))) {
		return nil
	}
	info, err := App.client.ResetRewardGenesis(ctx, api.ResetRewardGenesisRequest{
		Caller:            command.String("caller"),
		RewardGenesisTime: uint32(genesis.Unix()),
	})
	if err != nil {
		return err
	}
	misc.Infof(App.logger, "reward genesis is now %s", fmtTime(info.RewardGenesisTime))
	return nil
}

// parseTime accepts RFC3339 or unix seconds.
func parseTime(s string) (time.Time, error) {
	if secs, err := strconv.ParseUint(s, 10, 32); err == nil {
		return time.Unix(int64(secs), 0), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, use RFC3339 or unix seconds", s)
	}
	return t, nil
}

func yesNo(prompt string) (string, error) {
	return (&promptui.Prompt{
		Label:     prompt,
		IsConfirm: true,
	}).Run()
}
