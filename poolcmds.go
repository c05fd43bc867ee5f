package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/holiman/uint256"
	"github.com/urfave/cli/v3"

	"github.com/TxnLab/stakepool/internal/lib/api"
	"github.com/TxnLab/stakepool/internal/lib/pool"
	"github.com/TxnLab/stakepool/internal/lib/token"
)

func GetPoolCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "pool",
		Aliases: []string{"p"},
		Usage:   "Inspect the staking pool",
		Commands: []*cli.Command{
			{
				Name:    "info",
				Aliases: []string{"i"},
				Usage:   "Show pool state and the current share price",
				Action:  PoolInfo,
			},
			{
				Name:    "ledger",
				Aliases: []string{"l"},
				Usage:   "List share balances of every registered account",
				Action:  PoolLedger,
			},
			{
				Name:  "pending",
				Usage: "List withdrawals waiting for their transfer to settle",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Include settled withdrawals still kept in history",
						Value: false,
					},
				},
				Action: PoolPending,
			},
			{
				Name:   "account",
				Usage:  "Show the shares of one account",
				Action: PoolAccount,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "account",
						Usage:    "The account to show",
						Required: true,
					},
				},
			},
		},
	}
}

// fmtAmount renders a base unit decimal string in whole tokens.
func fmtAmount(amount string) string {
	v, err := uint256.FromDecimal(amount)
	if err != nil {
		return amount
	}
	return token.FormattedAmount(v, int(App.decimals))
}

func fmtTime(unixSecs uint32) string {
	if unixSecs == 0 {
		return "-"
	}
	return time.Unix(int64(unixSecs), 0).UTC().Format(time.RFC3339)
}

func PoolInfo(ctx context.Context, command *cli.Command) error {
	info, err := App.client.Pool(ctx)
	if err != nil {
		return err
	}
	price, err := App.client.Price(ctx)
	if err != nil {
		return err
	}

	out := new(strings.Builder)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Version:\t%s\n", info.Version)
	fmt.Fprintf(tw, "Owner:\t%s\n", info.Owner)
	fmt.Fprintf(tw, "Token:\t%s\n", info.TokenID)
	fmt.Fprintf(tw, "Accounts:\t%d\n", info.AccountCount)
	fmt.Fprintf(tw, "Total Shares:\t%s\n", fmtAmount(info.TotalShares))
	fmt.Fprintf(tw, "Locked:\t%s (now %s)\n", fmtAmount(info.LockedAmount), fmtAmount(info.CurLockedAmount))
	fmt.Fprintf(tw, "Undistributed Reward:\t%s (now %s)\n", fmtAmount(info.UndistributedReward), fmtAmount(info.CurUndistributedReward))
	fmt.Fprintf(tw, "Reward Per Sec:\t%s\n", fmtAmount(info.RewardPerSec))
	fmt.Fprintf(tw, "Reward Genesis:\t%s\n", fmtTime(info.RewardGenesisTime))
	fmt.Fprintf(tw, "Last Distribution:\t%s\n", fmtTime(info.PrevDistributionTime))
	fmt.Fprintf(tw, "Surplus:\t%s\n", fmtAmount(info.Surplus))
	fmt.Fprintf(tw, "Pending Withdrawals:\t%d\n", info.PendingWithdrawals)
	if vp, err := uint256.FromDecimal(price.VirtualPrice); err == nil {
		fmt.Fprintf(tw, "Share Price:\t%s\n", token.FormattedAmount(vp, len(price.Scale)-1))
	}
	tw.Flush()
	fmt.Print(out.String())
	return nil
}

func PoolLedger(ctx context.Context, command *cli.Command) error {
	info, err := App.client.Pool(ctx)
	if err != nil {
		return err
	}
	accounts, err := App.client.Accounts(ctx)
	if err != nil {
		return err
	}
	total, _ := uint256.FromDecimal(info.TotalShares)
	locked, _ := uint256.FromDecimal(info.CurLockedAmount)

	out := new(strings.Builder)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Account\tShares\tToken Value\t")
	for _, acct := range accounts {
		value := "-"
		if shares, err := uint256.FromDecimal(acct.Shares); err == nil && total != nil && locked != nil {
			if redeem, err := pool.RedeemAmount(total, locked, shares); err == nil {
				value = token.FormattedAmount(redeem, int(App.decimals))
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t\n", acct.AccountID, fmtAmount(acct.Shares), value)
	}
	fmt.Fprintf(tw, "TOTAL\t%s\t%s\t\n", fmtAmount(info.TotalShares), fmtAmount(info.CurLockedAmount))
	tw.Flush()
	fmt.Print(out.String())
	return nil
}

func PoolPending(ctx context.Context, command *cli.Command) error {
	withdrawals, err := App.client.Withdrawals(ctx, command.Bool("all"))
	if err != nil {
		return err
	}
	printWithdrawals(withdrawals)
	return nil
}

func printWithdrawals(withdrawals []api.Withdrawal) {
	out := new(strings.Builder)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAccount\tAmount\tShares\tStatus\tRequested\tSettled\t")
	for _, w := range withdrawals {
		status := w.Status
		if w.Reverted {
			status += " (reverted)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n", w.ID, w.AccountID, fmtAmount(w.Amount), fmtAmount(w.Shares),
			status, fmtTime(w.RequestedAt), fmtTime(w.SettledAt))
	}
	tw.Flush()
	fmt.Print(out.String())
}

func PoolAccount(ctx context.Context, command *cli.Command) error {
	acct, err := App.client.Account(ctx, command.String("account"))
	if err != nil {
		return err
	}
	if !acct.Registered {
		fmt.Printf("%s is not registered\n", acct.AccountID)
		return nil
	}
	fmt.Printf("%s holds %s shares\n", acct.AccountID, fmtAmount(acct.Shares))
	return nil
}
