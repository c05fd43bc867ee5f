package staking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/antihax/optional"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/TxnLab/stakepool/internal/lib/pool"
	"github.com/TxnLab/stakepool/internal/lib/store"
	"github.com/TxnLab/stakepool/internal/lib/token"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	owner   = "owner.near"
	tokenID = "token.near"
	poolAcc = "pool.near"
)

var (
	oneDeposit = uint256.NewInt(1)
	start      = time.Unix(1_700_000_000, 0)
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type fakeTokens struct {
	mu   sync.Mutex
	err  error
	reqs []token.TransferRequest
}

func (f *fakeTokens) Transfer(_ context.Context, req token.TransferRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.err
}

func (f *fakeTokens) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type flakyStore struct {
	*store.Store
	mu   sync.Mutex
	fail bool
}

func (f *flakyStore) Save(ch pool.Changes) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.Store.Save(ch)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T, path string) *store.Store {
	t.Helper()
	st, err := store.Open(path, discard())
	require.NoError(t, err)
	return st
}

type harness struct {
	staking *Staking
	local   *token.Local
	store   *flakyStore
	clock   *testClock
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func (h *harness) stop() {
	h.cancel()
	h.wg.Wait()
	if h.local != nil {
		h.local.Close()
	}
	_ = h.store.Close()
}

func newHarness(t *testing.T, path string, tokens token.Service, local *token.Local) *harness {
	t.Helper()
	clock := &testClock{now: start}
	h := &harness{local: local, store: &flakyStore{Store: openStore(t, path)}, clock: clock}
	s, err := New(Config{
		Logger: discard(),
		Pool: pool.Config{
			Owner:             owner,
			TokenID:           tokenID,
			RewardGenesisTime: uint32(start.Add(time.Hour).Unix()),
			Clock:             clock.Now,
			Events:            &pool.EventRecorder{},
		},
		Store:              h.store,
		Tokens:             tokens,
		MaxTries:           2,
		RetryDelay:         time.Millisecond,
		RedispatchInterval: time.Hour,
	})
	require.NoError(t, err)
	h.staking = s
	if local != nil {
		local.Bind(s, s)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	s.Start(ctx, &h.wg)
	return h
}

func newLocalToken(t *testing.T) *token.Local {
	t.Helper()
	local := token.NewLocal(discard(), tokenID, poolAcc)
	local.Register("alice.near")
	require.NoError(t, local.Mint("alice.near", pool.MustParseAmount("5000000000000000000000")))
	return local
}

func TestStakeAndUnstakeThroughLocalToken(t *testing.T) {
	local := newLocalToken(t)
	h := newHarness(t, filepath.Join(t.TempDir(), "pool.db"), local, local)
	defer h.stop()
	ctx := context.Background()

	used, err := local.TransferCall(ctx, "alice.near", pool.MustParseAmount("2000000000000000000000"), `"Stake"`)
	require.NoError(t, err)
	assert.Equal(t, pool.MustParseAmount("2000000000000000000000"), used)
	shares, registered := h.staking.Shares("alice.near")
	assert.True(t, registered)
	assert.Equal(t, pool.MustParseAmount("2000000000000000000000"), shares)

	// refunded deposit
	_, err = local.TransferCall(ctx, "alice.near", uint256.NewInt(10), `"Unknown"`)
	assert.ErrorIs(t, err, pool.ErrIllegalMsg)
	assert.Equal(t, pool.MustParseAmount("3000000000000000000000"), local.BalanceOf("alice.near"))

	w, err := h.staking.Unstake(ctx, "alice.near", optional.EmptyString(), oneDeposit)
	require.NoError(t, err)
	assert.Equal(t, *pool.MustParseAmount("2000000000000000000000"), w.Amount)

	assert.Eventually(t, func() bool {
		return len(h.staking.PendingWithdrawals()) == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, pool.MustParseAmount("5000000000000000000000"), local.BalanceOf("alice.near"))
	assert.True(t, local.BalanceOf(poolAcc).IsZero())

	history, err := h.staking.WithdrawalHistory()
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, pool.StatusCompleted, history[0].Status)
}

func TestFailedTransferIsCompensated(t *testing.T) {
	local := newLocalToken(t)
	h := newHarness(t, filepath.Join(t.TempDir(), "pool.db"), local, local)
	defer h.stop()
	ctx := context.Background()

	_, err := local.TransferCall(ctx, "alice.near", pool.MustParseAmount("5000000000000000000000"), `"Stake"`)
	require.NoError(t, err)
	// alice leaves the token, the transfer back can't land
	require.NoError(t, local.Unregister("alice.near"))

	_, err = h.staking.Unstake(ctx, "alice.near", optional.NewString("1000000000000000000000"), oneDeposit)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(h.staking.PendingWithdrawals()) == 0
	}, 5*time.Second, 10*time.Millisecond)
	shares, _ := h.staking.Shares("alice.near")
	assert.Equal(t, pool.MustParseAmount("5000000000000000000000"), shares)
	md := h.staking.Metadata()
	assert.Equal(t, *pool.MustParseAmount("5000000000000000000000"), md.LockedAmount)
}

func TestRejectedTransferIsCompensated(t *testing.T) {
	local := newLocalToken(t)
	fake := &fakeTokens{err: token.ErrRejected}
	h := newHarness(t, filepath.Join(t.TempDir(), "pool.db"), fake, local)
	defer h.stop()
	ctx := context.Background()

	_, err := local.TransferCall(ctx, "alice.near", pool.MustParseAmount("3000000000000000000000"), `"Stake"`)
	require.NoError(t, err)
	_, err = h.staking.Unstake(ctx, "alice.near", optional.EmptyString(), oneDeposit)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(h.staking.PendingWithdrawals()) == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, fake.calls())
	shares, _ := h.staking.Shares("alice.near")
	assert.Equal(t, pool.MustParseAmount("3000000000000000000000"), shares)
}

func TestUnavailableTokenServiceLeavesPending(t *testing.T) {
	local := newLocalToken(t)
	fake := &fakeTokens{err: token.ErrUnavailable}
	path := filepath.Join(t.TempDir(), "pool.db")
	h := newHarness(t, path, fake, local)
	ctx := context.Background()

	_, err := local.TransferCall(ctx, "alice.near", pool.MustParseAmount("3000000000000000000000"), `"Stake"`)
	require.NoError(t, err)
	w, err := h.staking.Unstake(ctx, "alice.near", optional.EmptyString(), oneDeposit)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return fake.calls() == 2
	}, 5*time.Second, 10*time.Millisecond)
	pending := h.staking.PendingWithdrawals()
	require.Len(t, pending, 1)
	assert.Equal(t, w.ID, pending[0].ID)
	h.stop()

	// a restart sends it again, with the same id
	fake.err = nil
	h = newHarness(t, path, fake, nil)
	defer h.stop()
	assert.Eventually(t, func() bool {
		return fake.calls() == 3
	}, 5*time.Second, 10*time.Millisecond)
	fake.mu.Lock()
	assert.Equal(t, w.ID, fake.reqs[2].ID)
	assert.Equal(t, tokenID, fake.reqs[2].TokenID)
	fake.mu.Unlock()

	require.NoError(t, h.staking.Settle(ctx, token.Settlement{ID: w.ID, Success: true}))
	assert.Empty(t, h.staking.PendingWithdrawals())
	assert.ErrorIs(t, h.staking.Settle(ctx, token.Settlement{ID: w.ID, Success: true}), pool.ErrUnknownWithdrawal)
}

func TestPersistFailureRollsBack(t *testing.T) {
	local := newLocalToken(t)
	h := newHarness(t, filepath.Join(t.TempDir(), "pool.db"), local, local)
	defer h.stop()
	ctx := context.Background()

	h.store.mu.Lock()
	h.store.fail = true
	h.store.mu.Unlock()

	_, err := local.TransferCall(ctx, "alice.near", pool.MustParseAmount("1000000000000000000000"), `"Stake"`)
	assert.ErrorIs(t, err, ErrPersist)
	_, registered := h.staking.Shares("alice.near")
	assert.False(t, registered)
	assert.Equal(t, pool.MustParseAmount("5000000000000000000000"), local.BalanceOf("alice.near"))

	h.store.mu.Lock()
	h.store.fail = false
	h.store.mu.Unlock()
	_, err = local.TransferCall(ctx, "alice.near", pool.MustParseAmount("1000000000000000000000"), `"Stake"`)
	assert.NoError(t, err)
}

func TestAdminThroughService(t *testing.T) {
	local := newLocalToken(t)
	h := newHarness(t, filepath.Join(t.TempDir(), "pool.db"), local, local)
	defer h.stop()
	ctx := context.Background()

	assert.ErrorIs(t, h.staking.SetRewardRate(ctx, "alice.near", uint256.NewInt(5), true), pool.ErrNotOwner)
	require.NoError(t, h.staking.SetRewardRate(ctx, owner, uint256.NewInt(5), true))
	require.NoError(t, h.staking.ResetRewardGenesis(ctx, owner, start.Add(2*time.Hour)))
	assert.ErrorIs(t, h.staking.ResetRewardGenesis(ctx, owner, start.Add(-time.Hour)), pool.ErrResetTimeInPast)
	require.NoError(t, h.staking.SetOwner(ctx, owner, "alice.near"))

	md := h.staking.Metadata()
	assert.Equal(t, "alice.near", md.Owner)
	assert.Equal(t, *uint256.NewInt(5), md.RewardPerSec)
	assert.Equal(t, uint32(start.Add(2*time.Hour).Unix()), md.RewardGenesisTime)
	assert.Equal(t, pool.PriceScale, h.staking.VirtualPrice())

	_, err := h.staking.Unstake(ctx, "alice.near", optional.NewString("-1"), oneDeposit)
	assert.ErrorIs(t, err, pool.ErrInvalidAmount)
	assert.ErrorIs(t, h.staking.Unregister(ctx, "alice.near", "alice.near"), pool.ErrNotRegistered)
}

func TestCheckpointPersistsDistribution(t *testing.T) {
	local := newLocalToken(t)
	path := filepath.Join(t.TempDir(), "pool.db")
	h := newHarness(t, path, local, local)
	ctx := context.Background()

	require.NoError(t, h.staking.SetRewardRate(ctx, owner, uint256.NewInt(10), false))
	_, err := local.TransferCall(ctx, "alice.near", pool.MustParseAmount("1000000000000000000000"), `"Stake"`)
	require.NoError(t, err)
	_, err = local.TransferCall(ctx, "alice.near", uint256.NewInt(1000), `"AddRewards"`)
	require.NoError(t, err)

	// 30 seconds past genesis
	h.clock.mu.Lock()
	h.clock.now = start.Add(time.Hour + 30*time.Second)
	h.clock.mu.Unlock()

	distributed, err := h.staking.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(300), distributed)
	h.stop()

	st := openStore(t, path)
	defer st.Close()
	snap, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, *uint256.NewInt(700), snap.State.UndistributedReward)
	assert.Equal(t, *pool.MustParseAmount("1000000000000000000300"), snap.State.LockedAmount)
}

func TestRedeliveredTransferAcceptedOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.db")
	h := newHarness(t, path, &fakeTokens{}, nil)
	ctx := context.Background()
	amount := pool.MustParseAmount("2000000000000000000000")
	n := token.Notification{ID: "transfer-1", TokenID: tokenID, Sender: "alice.near", Amount: amount, Msg: `"Stake"`}

	refund, err := h.staking.OnTransfer(ctx, n)
	require.NoError(t, err)
	assert.True(t, refund.IsZero())
	refund, err = h.staking.OnTransfer(ctx, n)
	require.NoError(t, err)
	assert.True(t, refund.IsZero())

	shares, _ := h.staking.Shares("alice.near")
	assert.Equal(t, amount, shares)
	h.stop()

	// the receipt outlives a restart
	h = newHarness(t, path, &fakeTokens{}, nil)
	defer h.stop()
	_, err = h.staking.OnTransfer(ctx, n)
	require.NoError(t, err)
	md := h.staking.Metadata()
	assert.Equal(t, *amount, md.TotalStaked)
	assert.Equal(t, *amount, md.LockedAmount)

	// a rejected deposit leaves no receipt
	bad := token.Notification{ID: "transfer-2", TokenID: "other.near", Sender: "alice.near", Amount: amount, Msg: `"Stake"`}
	_, err = h.staking.OnTransfer(ctx, bad)
	assert.ErrorIs(t, err, pool.ErrIllegalToken)
	_, seen, err := h.store.Transfer("transfer-2")
	require.NoError(t, err)
	assert.False(t, seen)
}
