package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TxnLab/stakepool/internal/lib/pool"
	"github.com/TxnLab/stakepool/internal/lib/staking"
	"github.com/TxnLab/stakepool/internal/lib/store"
	"github.com/TxnLab/stakepool/internal/lib/token"
)

const (
	owner   = "owner.near"
	tokenID = "token.near"
	poolAcc = "pool.near"
	alice   = "alice.near"
)

// 1000 tokens with 18 decimals
const thousand = "1000000000000000000000"

type testEnv struct {
	srv    *httptest.Server
	client *Client
	signer *token.Signer
	local  *token.Local
	svc    *staking.Staking
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "pool.db"), discard())
	require.NoError(t, err)

	local := token.NewLocal(discard(), tokenID, poolAcc)
	svc, err := staking.New(staking.Config{
		Logger: discard(),
		Pool: pool.Config{
			Owner:   owner,
			TokenID: tokenID,
			Events:  &pool.EventRecorder{},
		},
		Store:      st,
		Tokens:     local,
		RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)
	local.Bind(svc, svc)

	signer := token.GenerateSigner()
	verifier, err := token.NewVerifier(signer.Address())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	svc.Start(ctx, &wg)

	srv := httptest.NewServer(NewServer(discard(), svc, Options{Verifier: verifier, Sandbox: local}).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		wg.Wait()
		local.Close()
		_ = st.Close()
	})
	return &testEnv{srv: srv, client: NewClient(srv.URL), signer: signer, local: local, svc: svc}
}

func (e *testEnv) fund(t *testing.T, account, amount string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.client.SandboxRegister(ctx, account))
	require.NoError(t, e.client.SandboxMint(ctx, MintRequest{AccountID: account, Amount: amount}))
}

func (e *testEnv) postSigned(t *testing.T, path string, v any, signer *token.Signer) *http.Response {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	signer.SignRequest(req, body)
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func requireAPIError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, status, apiErr.Status)
	assert.Equal(t, code, apiErr.Code)
}

func TestSandboxStakeAndUnstake(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, alice, thousand)

	res, err := env.client.SandboxTransferCall(ctx, TransferCallRequest{SenderID: alice, Amount: thousand, Msg: `"Stake"`})
	require.NoError(t, err)
	assert.Equal(t, thousand, res.Used)

	acct, err := env.client.Account(ctx, alice)
	require.NoError(t, err)
	assert.True(t, acct.Registered)
	assert.Equal(t, thousand, acct.Shares)

	info, err := env.client.Pool(ctx)
	require.NoError(t, err)
	assert.Equal(t, owner, info.Owner)
	assert.Equal(t, tokenID, info.TokenID)
	assert.Equal(t, thousand, info.LockedAmount)
	assert.Equal(t, thousand, info.TotalShares)
	assert.EqualValues(t, 1, info.AccountCount)

	price, err := env.client.Price(ctx)
	require.NoError(t, err)
	assert.Equal(t, price.Scale, price.VirtualPrice)

	wd, err := env.client.Unstake(ctx, UnstakeRequest{AccountID: alice, AttachedDeposit: "1"})
	require.NoError(t, err)
	assert.Equal(t, thousand, wd.Amount)
	assert.NotEmpty(t, wd.ID)

	require.Eventually(t, func() bool {
		pending, err := env.client.Withdrawals(ctx, false)
		return err == nil && len(pending) == 0
	}, 5*time.Second, 10*time.Millisecond)

	history, err := env.client.Withdrawals(ctx, true)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, pool.StatusCompleted.String(), history[0].Status)

	balances, err := env.client.SandboxBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, thousand, balances[alice])
	assert.Equal(t, "0", balances[poolAcc])

	err = env.client.Unregister(ctx, "mallory.near", alice)
	requireAPIError(t, err, http.StatusForbidden, "ERR_NOT_ACCOUNT_HOLDER")
	require.NoError(t, env.client.Unregister(ctx, alice, alice))
	acct, err = env.client.Account(ctx, alice)
	require.NoError(t, err)
	assert.False(t, acct.Registered)
}

func TestSandboxRefundsBadMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, alice, thousand)

	_, err := env.client.SandboxTransferCall(ctx, TransferCallRequest{SenderID: alice, Amount: thousand, Msg: "stake please"})
	requireAPIError(t, err, http.StatusBadRequest, "ERR_ILLEGAL_MSG")

	balances, err := env.client.SandboxBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, thousand, balances[alice])
}

func TestSignedTransferCallback(t *testing.T) {
	env := newTestEnv(t)

	note := TransferNotification{ID: "tx-1", TokenID: tokenID, SenderID: alice, Amount: thousand, Msg: `"AddRewards"`}
	resp := env.postSigned(t, "/v1/token/transfer", note, env.signer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res TransferResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "0", res.Refund)

	info, err := env.client.Pool(context.Background())
	require.NoError(t, err)
	assert.Equal(t, thousand, info.UndistributedReward)

	// signed by someone else
	resp = env.postSigned(t, "/v1/token/transfer", note, token.GenerateSigner())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	note.ID = "tx-2"
	note.TokenID = "other.near"
	resp = env.postSigned(t, "/v1/token/transfer", note, env.signer)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var apiErr Error
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiErr))
	assert.Equal(t, "ERR_ILLEGAL_TOKEN", apiErr.Code)
}

func TestRedeliveredTransferCountsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	note := TransferNotification{ID: "tx-7", TokenID: tokenID, SenderID: alice, Amount: thousand, Msg: `"Stake"`}
	for range 2 {
		resp := env.postSigned(t, "/v1/token/transfer", note, env.signer)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var res TransferResult
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
		assert.Equal(t, "0", res.Refund)
	}

	info, err := env.client.Pool(ctx)
	require.NoError(t, err)
	assert.Equal(t, thousand, info.TotalShares)
	assert.Equal(t, thousand, info.LockedAmount)

	note.ID = "tx-8"
	resp := env.postSigned(t, "/v1/token/transfer", note, env.signer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info, err = env.client.Pool(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2000000000000000000000", info.TotalShares)

	note.ID = ""
	resp = env.postSigned(t, "/v1/token/transfer", note, env.signer)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSettlementForUnknownWithdrawal(t *testing.T) {
	env := newTestEnv(t)
	resp := env.postSigned(t, "/v1/token/settlement", Settlement{ID: "nope", Success: true}, env.signer)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.client.SetOwner(ctx, SetOwnerRequest{Caller: alice, Owner: alice})
	requireAPIError(t, err, http.StatusForbidden, "ERR_NOT_AN_OWNER")

	info, err := env.client.SetRewardRate(ctx, SetRewardRateRequest{Caller: owner, RewardPerSec: "100"})
	require.NoError(t, err)
	assert.Equal(t, "100", info.RewardPerSec)

	_, err = env.client.SetRewardRate(ctx, SetRewardRateRequest{Caller: owner, RewardPerSec: "-1"})
	requireAPIError(t, err, http.StatusBadRequest, "ERR_INVALID_AMOUNT")

	genesis := uint32(time.Now().Add(2 * time.Hour).Unix())
	info, err = env.client.ResetRewardGenesis(ctx, ResetRewardGenesisRequest{Caller: owner, RewardGenesisTime: genesis})
	require.NoError(t, err)
	assert.Equal(t, genesis, info.RewardGenesisTime)

	_, err = env.client.ResetRewardGenesis(ctx, ResetRewardGenesisRequest{Caller: owner, RewardGenesisTime: 1})
	requireAPIError(t, err, http.StatusBadRequest, "ERR_RESET_TIME_IS_PAST_TIME")

	info, err = env.client.SetOwner(ctx, SetOwnerRequest{Caller: owner, Owner: alice})
	require.NoError(t, err)
	assert.Equal(t, alice, info.Owner)
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.srv.Client().Post(env.srv.URL+"/v1/unstake", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err = env.client.Unstake(context.Background(), UnstakeRequest{AccountID: alice, AttachedDeposit: "2"})
	requireAPIError(t, err, http.StatusBadRequest, "ERR_ATTACHED_DEPOSIT")

	_, err = env.client.Unstake(context.Background(), UnstakeRequest{AccountID: alice, Amount: "0", AttachedDeposit: "1"})
	requireAPIError(t, err, http.StatusBadRequest, "ERR_ZERO_AMOUNT")

	err = env.client.Unregister(context.Background(), alice, alice)
	requireAPIError(t, err, http.StatusBadRequest, "ERR_NOT_REGISTERED")

	notFound, err := env.srv.Client().Get(env.srv.URL + "/v2/pool")
	require.NoError(t, err)
	defer notFound.Body.Close()
	assert.Equal(t, http.StatusNotFound, notFound.StatusCode)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: eof", errBadRequest), http.StatusBadRequest, "ERR_BAD_REQUEST"},
		{token.ErrBadSignature, http.StatusUnauthorized, "ERR_BAD_SIGNATURE"},
		{fmt.Errorf("%w: disk", staking.ErrPersist), http.StatusServiceUnavailable, "ERR_UNAVAILABLE"},
		{pool.ErrNotOwner, http.StatusForbidden, "ERR_NOT_AN_OWNER"},
		{pool.ErrNotAccountHolder, http.StatusForbidden, "ERR_NOT_ACCOUNT_HOLDER"},
		{pool.ErrUnknownWithdrawal, http.StatusNotFound, "ERR_UNKNOWN_WITHDRAWAL"},
		{pool.ErrOverflow, http.StatusInternalServerError, "ERR_OVERFLOW"},
		{pool.ErrDustResidual, http.StatusBadRequest, "ERR_KEEP_AT_LEAST_ONE_STAKED_TOKEN"},
		{token.ErrInsufficientFunds, http.StatusBadRequest, "ERR_INSUFFICIENT_FUNDS"},
		{errors.New("boom"), http.StatusInternalServerError, "ERR_UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := errorStatus(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}
