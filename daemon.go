package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/TxnLab/stakepool/internal/lib/api"
	"github.com/TxnLab/stakepool/internal/lib/misc"
	"github.com/TxnLab/stakepool/internal/lib/pool"
	"github.com/TxnLab/stakepool/internal/lib/staking"
	"github.com/TxnLab/stakepool/internal/lib/store"
	"github.com/TxnLab/stakepool/internal/lib/token"
)

const (
	defaultListenAddr = "localhost:8585"
	shutdownTimeout   = 10 * time.Second
	pruneInterval     = time.Hour
)

type daemonConfig struct {
	network    string
	netCfg     token.NetworkConfig
	dataPath   string
	listenAddr string
	// owner and rewardGenesis only apply when the pool is created
	owner         string
	rewardGenesis time.Time

	checkpointInterval time.Duration
	// retention of settled withdrawals, zero keeps them forever
	retention time.Duration
}

// Daemon owns the pool database, the token service connection, the staking service
// and the API serving it.
type Daemon struct {
	logger *slog.Logger
	cfg    daemonConfig

	store    *store.Store
	local    *token.Local
	staking  *staking.Staking
	server   *http.Server
	listener net.Listener
}

func newDaemon(logger *slog.Logger, cfg daemonConfig) (*Daemon, error) {
	st, err := store.Open(cfg.dataPath, logger)
	if err != nil {
		return nil, err
	}
	d := &Daemon{logger: logger, cfg: cfg, store: st}
	if err := d.init(); err != nil {
		d.close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) init() error {
	if _, err := d.store.Load(); errors.Is(err, store.ErrNoState) && d.cfg.owner == "" {
		return errors.New("no pool exists yet, its owner must be set (--owner or STAKEPOOL_OWNER)")
	}

	var (
		tokens   token.Service
		verifier *token.Verifier
	)
	if d.cfg.netCfg.IsLocal() {
		d.local = token.NewLocal(d.logger, d.cfg.netCfg.TokenID, d.cfg.netCfg.PoolAccount)
		tokens = d.local
	} else {
		tokens = token.NewHTTPService(d.logger, d.cfg.netCfg)
	}
	if d.cfg.netCfg.TokenServiceKey != "" {
		var err error
		if verifier, err = token.NewVerifier(d.cfg.netCfg.TokenServiceKey); err != nil {
			return err
		}
	} else if !d.cfg.netCfg.IsLocal() {
		return fmt.Errorf("TOKEN_SERVICE_PUBKEY must be set for network %s", d.cfg.network)
	}

	var genesis uint32
	if !d.cfg.rewardGenesis.IsZero() {
		genesis = uint32(d.cfg.rewardGenesis.Unix())
	}
	stk, err := staking.New(staking.Config{
		Logger: d.logger,
		Pool: pool.Config{
			Owner:             d.cfg.owner,
			TokenID:           d.cfg.netCfg.TokenID,
			RewardGenesisTime: genesis,
			Logger:            d.logger,
		},
		Store:              d.store,
		Tokens:             tokens,
		CheckpointInterval: d.cfg.checkpointInterval,
	})
	if err != nil {
		return err
	}
	if tokenID := stk.Metadata().TokenID; tokenID != d.cfg.netCfg.TokenID {
		return fmt.Errorf("pool in %s stakes %s, not the configured token %s", d.cfg.dataPath, tokenID, d.cfg.netCfg.TokenID)
	}
	d.staking = stk
	if d.local != nil {
		d.local.Bind(stk, stk)
	}

	srv := api.NewServer(d.logger, stk, api.Options{Verifier: verifier, Sandbox: d.local})
	d.server = &http.Server{
		Addr:              d.cfg.listenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// start listens right away so the bound address is known once it returns, then
// serves and runs the background tasks until ctx is done. Serve failures are sent on errc.
func (d *Daemon) start(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) error {
	d.logger.Info("Starting stakepool daemon")

	ln, err := net.Listen("tcp", d.cfg.listenAddr)
	if err != nil {
		return err
	}
	d.listener = ln
	misc.Infof(d.logger, "API listening on %s, network:%s", ln.Addr(), d.cfg.network)

	d.staking.Start(ctx, wg)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errc <- fmt.Errorf("api server: %w", err):
			default:
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer d.logger.Info("exiting api server")
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			misc.Warnf(d.logger, "api server shutdown: %v", err)
		}
	}()

	if d.cfg.retention > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.HistoryPruner(ctx)
		}()
	}
	return nil
}

// Addr is the address the API is bound to, once started.
func (d *Daemon) Addr() string {
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// HistoryPruner drops settled withdrawals and deposit receipts older than the
// retention period.
func (d *Daemon) HistoryPruner(ctx context.Context) {
	defer d.logger.Info("Exiting HistoryPruner")

	d.pruneHistory(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-time.After(pruneInterval):
			d.pruneHistory(now)
		}
	}
}

func (d *Daemon) pruneHistory(now time.Time) {
	cutoff := now.Add(-d.cfg.retention)
	if _, err := d.store.PruneWithdrawals(uint32(cutoff.Unix())); err != nil {
		misc.Errorf(d.logger, "pruning withdrawal history failed: %v", err)
	}
	if _, err := d.store.PruneTransfers(uint32(cutoff.Unix())); err != nil {
		misc.Errorf(d.logger, "pruning transfer receipts failed: %v", err)
	}
}

// close releases what the daemon holds. Background tasks must have exited.
func (d *Daemon) close() {
	if d.local != nil {
		d.local.Close()
	}
	if err := d.store.Close(); err != nil {
		misc.Warnf(d.logger, "closing pool database: %v", err)
	}
}
