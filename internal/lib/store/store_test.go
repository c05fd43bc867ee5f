package store

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TxnLab/stakepool/internal/lib/pool"
)

func tempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "pool.db")
	s, err := Open(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func testPool(now time.Time) *pool.Pool {
	return pool.New(pool.Config{
		Owner:             "owner.near",
		TokenID:           "token.near",
		RewardGenesisTime: uint32(now.Unix()),
		Clock:             func() time.Time { return now },
		Events:            &pool.EventRecorder{},
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestLoadEmpty(t *testing.T) {
	s, _ := tempStore(t)
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNoState)
	assert.NoError(t, s.Save(pool.Changes{}))
}

func TestSaveAndLoad(t *testing.T) {
	s, path := tempStore(t)
	now := time.Unix(1_700_000_000, 0)
	p := testPool(now)

	_, err := p.Stake("alice.near", pool.MustParseAmount("5000000000000000000000000"))
	require.NoError(t, err)
	_, err = p.Stake("bob.near", pool.MustParseAmount("3000000000000000000000000"))
	require.NoError(t, err)
	require.NoError(t, p.AddRewards("owner.near", uint256.NewInt(777)))
	require.NoError(t, s.Save(p.TakeChanges()))

	done, err := p.Unstake("bob.near", nil, uint256.NewInt(1))
	require.NoError(t, err)
	_, err = p.Settle(done.ID, pool.OutcomeSuccess)
	require.NoError(t, err)
	open, err := p.Unstake("alice.near", pool.MustParseAmount("1000000000000000000000000"), uint256.NewInt(1))
	require.NoError(t, err)
	require.NoError(t, p.Unregister("bob.near", "bob.near"))
	require.NoError(t, s.Save(p.TakeChanges()))

	snap, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, p.State(), snap.State)
	assert.Len(t, snap.Shares, 1)
	assert.Equal(t, pool.MustParseAmount("4000000000000000000000000"), snap.Shares["alice.near"])
	require.Len(t, snap.Withdrawals, 1)
	assert.Equal(t, open, snap.Withdrawals[0])

	all, err := s.Withdrawals()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// reopen and restore
	require.NoError(t, s.Close())
	s2, err := Open(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer s2.Close()
	snap, err = s2.Load()
	require.NoError(t, err)
	restored, err := pool.Restore(pool.Config{Clock: func() time.Time { return now }, Events: &pool.EventRecorder{}}, snap)
	require.NoError(t, err)
	assert.Equal(t, p.TotalStaked(), restored.TotalStaked())
	assert.Equal(t, p.PendingWithdrawals(), restored.PendingWithdrawals())
}

func TestPruneWithdrawals(t *testing.T) {
	s, _ := tempStore(t)
	now := time.Unix(1_700_000_000, 0)
	p := testPool(now)
	_, err := p.Stake("alice.near", pool.MustParseAmount("5000000000000000000000000"))
	require.NoError(t, err)
	w, err := p.Unstake("alice.near", pool.MustParseAmount("1000000000000000000000000"), uint256.NewInt(1))
	require.NoError(t, err)
	_, err = p.Settle(w.ID, pool.OutcomeFailure)
	require.NoError(t, err)
	_, err = p.Unstake("alice.near", pool.MustParseAmount("1000000000000000000000000"), uint256.NewInt(1))
	require.NoError(t, err)
	require.NoError(t, s.Save(p.TakeChanges()))

	pruned, err := s.PruneWithdrawals(uint32(now.Unix()) + 1)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
	all, err := s.Withdrawals()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, pool.StatusTransferPending, all[0].Status)
}

func TestCorruptAmount(t *testing.T) {
	_, err := stateRecord{LockedAmount: "-5"}.toState()
	assert.ErrorIs(t, err, pool.ErrCorruptState)

	st, err := stateRecord{Owner: "o"}.toState()
	require.NoError(t, err)
	assert.True(t, st.LockedAmount.IsZero())
}

func TestTransferReceipts(t *testing.T) {
	s, _ := tempStore(t)
	now := time.Unix(1_700_000_000, 0)
	p := testPool(now)

	_, err := p.OnTransfer(pool.TransferNotification{ID: "t1", TokenID: "token.near", SenderID: "alice.near", Amount: uint256.NewInt(500), Msg: `"Stake"`})
	require.NoError(t, err)
	require.NoError(t, s.Save(p.TakeChanges()))

	r, ok, err := s.Transfer("t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice.near", r.Sender)
	assert.Equal(t, *uint256.NewInt(500), r.Amount)
	assert.True(t, r.Refund.IsZero())
	assert.Equal(t, uint32(now.Unix()), r.ReceivedAt)

	_, ok, err = s.Transfer("t2")
	require.NoError(t, err)
	assert.False(t, ok)

	pruned, err := s.PruneTransfers(uint32(now.Unix()))
	require.NoError(t, err)
	assert.Zero(t, pruned)
	pruned, err = s.PruneTransfers(uint32(now.Unix()) + 1)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
	_, ok, err = s.Transfer("t1")
	require.NoError(t, err)
	assert.False(t, ok)
}
