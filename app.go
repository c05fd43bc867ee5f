package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/TxnLab/stakepool/internal/lib/api"
	"github.com/TxnLab/stakepool/internal/lib/misc"
	"github.com/TxnLab/stakepool/internal/lib/token"
)

var logLevel = new(slog.LevelVar) // Info by default

func initApp() *StakepoolApp {
	log.SetFlags(0)
	var logger *slog.Logger
	if term.IsTerminal(int(os.Stdout.Fd())) {
		// Are we running on something where output is a tty - so we're being run as CLI vs as a daemon
		logger = slog.New(misc.NewMinimalHandler(os.Stdout,
			misc.MinimalHandlerOptions{SlogOpts: slog.HandlerOptions{Level: logLevel, AddSource: true}}))
	} else {
		// not on console - output as json, but change json key names to be more compatible w/ what google logging
		// expects
		opts := &slog.HandlerOptions{
			AddSource: true,
			Level:     logLevel,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.MessageKey {
					a.Key = "message"
				} else if a.Key == slog.LevelKey && len(groups) == 0 {
					a.Key = "severity"
				}
				return a
			},
		}
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	slog.SetDefault(logger)
	if os.Getenv("DEBUG") == "1" {
		logLevel.Set(slog.LevelDebug)
	}

	misc.LoadEnvSettings(logger)

	// We initialize our wrapper instance first, so we can call its methods in the 'Before' lambda func
	// in initialization of cli App instance.
	appConfig := &StakepoolApp{logger: logger}

	appConfig.cliCmd = &cli.Command{
		Name:    "stakepool",
		Usage:   "Daemon and client for a single-sided token staking pool",
		Version: misc.GetVersionInfo(),
		Before: func(ctx context.Context, cmd *cli.Command) error {
			// flags (network to use for eg) are already set here
			return appConfig.initClients(ctx, cmd)
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "envfile",
				Usage:   "env file to load",
				Sources: cli.EnvVars("STAKEPOOL_ENVFILE"),
				Aliases: []string{"e"},
			},
			&cli.StringFlag{
				Name:    "network",
				Usage:   "Token network to use (sandbox runs an in-process token ledger)",
				Value:   "sandbox",
				Aliases: []string{"n"},
				Sources: cli.EnvVars("STAKEPOOL_NETWORK"),
			},
			&cli.StringFlag{
				Name:    "secrets",
				Usage:   "Directory of secret files (one secret per file, named after the secret)",
				Sources: cli.EnvVars("STAKEPOOL_SECRETS"),
			},
			&cli.StringFlag{
				Name:        "api",
				Usage:       "Address of the stakepool daemon API, used by the client commands",
				Value:       defaultListenAddr,
				Sources:     cli.EnvVars("STAKEPOOL_API"),
				Destination: &appConfig.apiAddr,
			},
			&cli.IntFlag{
				Name:        "decimals",
				Usage:       "Decimals of the staked token, for entering and displaying amounts",
				Value:       18,
				Sources:     cli.EnvVars("STAKEPOOL_DECIMALS"),
				Destination: &appConfig.decimals,
			},
		},
		Commands: []*cli.Command{
			GetDaemonCmdOpts(),
			GetPoolCmdOpts(),
			GetStakeCmdOpts(),
			GetRewardsCmdOpts(),
			GetUnstakeCmdOpts(),
			GetUnregisterCmdOpts(),
			GetAdminCmdOpts(),
			GetSandboxCmdOpts(),
			GetKeyCmdOpts(),
		},
	}
	return appConfig
}

type StakepoolApp struct {
	cliCmd  *cli.Command
	logger  *slog.Logger
	network string
	netCfg  token.NetworkConfig
	client  *api.Client

	// flag destinations
	apiAddr  string
	decimals int64
}

// initClients validates the network, loads its env overrides and secrets, and sets
// up the API client used by the client commands.
func (ac *StakepoolApp) initClients(ctx context.Context, cmd *cli.Command) error {
	network := cmd.String("network")

	if envfile := cmd.String("envfile"); envfile != "" {
		err := loadNamedEnvFile(ctx, envfile)
		if err != nil {
			return err
		}
	}
	// quick validity check on possible network names...
	switch network {
	case "sandbox", "localnet", "testnet", "mainnet":
	default:
		return fmt.Errorf("unknown network:%s", network)
	}

	// Now load .env.{network} overrides -ie: .env.testnet containing the token service location
	misc.LoadEnvForNetwork(ac.logger, network)

	if dir := cmd.String("secrets"); dir != "" {
		if err := misc.LoadSecretsDir(dir); err != nil {
			return fmt.Errorf("loading secrets from %s: %w", dir, err)
		}
	}

	ac.network = network
	ac.netCfg = token.GetNetworkConfig(network)
	misc.Debugf(ac.logger, "network:%s, config:%s", network, ac.netCfg)
	ac.client = api.NewClient(ac.apiAddr)
	return nil
}

func loadNamedEnvFile(ctx context.Context, envFile string) error {
	misc.Infof(App.logger, "loading env file:%s", envFile)
	return godotenv.Load(envFile)
}
