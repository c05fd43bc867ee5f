package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/TxnLab/stakepool/internal/lib/misc"
)

func GetDaemonCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "daemon",
		Aliases: []string{"d"},
		Usage:   "Run the staking pool daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Usage:   "Address the API listens on",
				Value:   defaultListenAddr,
				Sources: cli.EnvVars("STAKEPOOL_LISTEN"),
			},
			&cli.StringFlag{
				Name:    "owner",
				Usage:   "Owner account of a newly created pool",
				Sources: cli.EnvVars("STAKEPOOL_OWNER"),
			},
			&cli.StringFlag{
				Name:  "genesis",
				Usage: "Reward genesis time of a newly created pool (RFC3339 or unix seconds), defaults to 30 days from creation",
			},
			&cli.DurationFlag{
				Name:    "checkpoint",
				Usage:   "Interval of reward checkpoints, 0 to only checkpoint on pool activity",
				Value:   time.Minute,
				Sources: cli.EnvVars("STAKEPOOL_CHECKPOINT"),
			},
			&cli.DurationFlag{
				Name:    "retention",
				Usage:   "How long settled withdrawals are kept, 0 keeps them forever",
				Value:   30 * 24 * time.Hour,
				Sources: cli.EnvVars("STAKEPOOL_RETENTION"),
			},
		},
		Action: runAsDaemon,
	}
}

func runAsDaemon(ctx context.Context, cmd *cli.Command) error {
	var wg sync.WaitGroup

	dataPath, err := DataFilename(App.network)
	if err != nil {
		return err
	}
	cfg := daemonConfig{
		network:            App.network,
		netCfg:             App.netCfg,
		dataPath:           dataPath,
		listenAddr:         cmd.String("listen"),
		owner:              cmd.String("owner"),
		checkpointInterval: cmd.Duration("checkpoint"),
		retention:          cmd.Duration("retention"),
	}
	if genesis := cmd.String("genesis"); genesis != "" {
		if cfg.rewardGenesis, err = parseTime(genesis); err != nil {
			return err
		}
	}
	misc.Infof(App.logger, "pool database:%s", dataPath)

	d, err := newDaemon(App.logger, cfg)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer d.close()

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error, 1)

	// Setup interrupt handler. This optional step configures the process so
	// that SIGINT and SIGTERM signals cause the services to stop gracefully.
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	ctx, cancel := context.WithCancel(context.Background())

	if err := d.start(ctx, &wg, errc); err != nil {
		cancel()
		return cli.Exit(err, 1)
	}

	misc.Infof(App.logger, "exiting (%v)", <-errc) // wait for termination signal

	// Send cancellation signal to the goroutines.
	cancel()
	misc.Infof(App.logger, "waiting on background tasks..")
	wg.Wait()

	misc.Infof(App.logger, "exited")
	return nil
}
