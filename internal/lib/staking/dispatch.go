package staking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mailgun/holster/v4/syncutil"
	"github.com/ssgreg/repeat"

	"github.com/TxnLab/stakepool/internal/lib/misc"
	"github.com/TxnLab/stakepool/internal/lib/pool"
	"github.com/TxnLab/stakepool/internal/lib/token"
)

const (
	defaultWorkers            = 4
	defaultMaxTries           = 5
	defaultRetryDelay         = time.Second
	defaultRedispatchInterval = time.Minute
	queueSize                 = 256
)

type sendState uint8

const (
	sending sendState = iota + 1
	// accepted by the token service, waiting for its settlement
	accepted
)

// dispatcher sends the transfers of pending withdrawals. A permanent rejection is
// settled right away as a failed transfer, temporary errors leave the withdrawal
// pending for the next redispatch.
type dispatcher struct {
	log     *slog.Logger
	staking *Staking
	tokens  token.Service

	workers            int
	maxTries           int
	retryDelay         time.Duration
	redispatchInterval time.Duration

	queue chan pool.Withdrawal

	mu    sync.Mutex
	state map[string]sendState
}

func newDispatcher(s *Staking, cfg Config) *dispatcher {
	d := &dispatcher{
		log:                cfg.Logger,
		staking:            s,
		tokens:             cfg.Tokens,
		workers:            cfg.Workers,
		maxTries:           cfg.MaxTries,
		retryDelay:         cfg.RetryDelay,
		redispatchInterval: cfg.RedispatchInterval,
		queue:              make(chan pool.Withdrawal, queueSize),
		state:              map[string]sendState{},
	}
	if d.workers <= 0 {
		d.workers = defaultWorkers
	}
	if d.maxTries <= 0 {
		d.maxTries = defaultMaxTries
	}
	if d.retryDelay <= 0 {
		d.retryDelay = defaultRetryDelay
	}
	if d.redispatchInterval <= 0 {
		d.redispatchInterval = defaultRedispatchInterval
	}
	return d
}

func (d *dispatcher) start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer d.log.Info("exiting transfer dispatcher")
		d.run(ctx)
	}()
}

// enqueue queues withdrawals not already in flight. A full queue leaves the rest
// for the next redispatch.
func (d *dispatcher) enqueue(withdrawals ...pool.Withdrawal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range withdrawals {
		if _, found := d.state[w.ID]; found {
			continue
		}
		select {
		case d.queue <- w:
			d.state[w.ID] = sending
		default:
			misc.Warnf(d.log, "transfer queue full, withdrawal %s waits for redispatch", w.ID)
			return
		}
	}
}

func (d *dispatcher) done(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.state, id)
}

func (d *dispatcher) setState(id string, st sendState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, found := d.state[id]; found {
		d.state[id] = st
	}
}

func (d *dispatcher) run(ctx context.Context) {
	fanOut := syncutil.NewFanOut(d.workers)
	defer fanOut.Wait()
	ticker := time.NewTicker(d.redispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.enqueue(d.staking.PendingWithdrawals()...)
		case w := <-d.queue:
			fanOut.Run(func(val any) error {
				d.send(ctx, val.(pool.Withdrawal))
				return nil
			}, w)
		}
	}
}

func (d *dispatcher) send(ctx context.Context, w pool.Withdrawal) {
	req := token.TransferRequest{
		ID:       w.ID,
		TokenID:  d.staking.Metadata().TokenID,
		Receiver: w.Account,
		Amount:   &w.Amount,
		Memo:     "unstake",
	}
	var lastErr error
	err := repeat.Repeat(
		repeat.Fn(func() error {
			lastErr = d.tokens.Transfer(ctx, req)
			if err := lastErr; err != nil {
				if token.IsTemporary(err) {
					return repeat.HintTemporary(err)
				}
				return err
			}
			return nil
		}),
		repeat.StopOnSuccess(),
		repeat.LimitMaxTries(d.maxTries),
		repeat.FnOnError(func(err error) error {
			promDispatchErrors.Inc()
			misc.Warnf(d.log, "transfer for withdrawal %s failed, error:%v", w.ID, err)
			return err
		}),
		repeat.WithDelay(repeat.ExponentialBackoff(d.retryDelay).Set(), repeat.SetContext(ctx)),
	)
	switch {
	case err == nil:
		misc.Infof(d.log, "transfer of %s to %s submitted, withdrawal:%s", w.Amount.Dec(), w.Account, w.ID)
		d.setState(w.ID, accepted)
	case errors.Is(lastErr, token.ErrRejected):
		// the transfer can never happen, compensate now
		if serr := d.staking.Settle(ctx, token.Settlement{ID: w.ID, Success: false, Reason: lastErr.Error()}); serr != nil {
			misc.Errorf(d.log, "compensation of rejected withdrawal %s failed, error:%v", w.ID, serr)
		}
		d.done(w.ID)
	default:
		misc.Warnf(d.log, "giving up on withdrawal %s for now, error:%v", w.ID, err)
		d.done(w.ID)
	}
}
