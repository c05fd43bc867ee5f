// Package api exposes a staking service over HTTP.
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
	"time"

	"github.com/antihax/optional"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TxnLab/stakepool/internal/lib/misc"
	"github.com/TxnLab/stakepool/internal/lib/pool"
	"github.com/TxnLab/stakepool/internal/lib/staking"
	"github.com/TxnLab/stakepool/internal/lib/token"
)

const maxBodySize = 1 << 20

var errBadRequest = errors.New("bad request")

// Service is what the API serves, implemented by staking.Staking.
type Service interface {
	OnTransfer(ctx context.Context, n token.Notification) (*uint256.Int, error)
	Settle(ctx context.Context, s token.Settlement) error
	Unstake(ctx context.Context, account string, amount optional.String, attached *uint256.Int) (pool.Withdrawal, error)
	Unregister(ctx context.Context, caller, account string) error
	SetOwner(ctx context.Context, caller, owner string) error
	SetRewardRate(ctx context.Context, caller string, rate *uint256.Int, distributeBeforeChange bool) error
	ResetRewardGenesis(ctx context.Context, caller string, genesis time.Time) error

	Metadata() pool.Metadata
	VirtualPrice() *uint256.Int
	Shares(account string) (*uint256.Int, bool)
	Accounts() []pool.AccountShares
	PendingWithdrawals() []pool.Withdrawal
	WithdrawalHistory() ([]pool.Withdrawal, error)
}

type Options struct {
	// Verifier authenticates token service callbacks. Without it the callback routes aren't served.
	Verifier *token.Verifier
	// Sandbox exposes an in-process token ledger for local testing.
	Sandbox *token.Local
}

type Server struct {
	log      *slog.Logger
	svc      Service
	verifier *token.Verifier
	sandbox  *token.Local
	router   *mux.Router
}

func NewServer(log *slog.Logger, svc Service, opts Options) *Server {
	s := &Server{
		log:      log,
		svc:      svc,
		verifier: opts.Verifier,
		sandbox:  opts.Sandbox,
		router:   mux.NewRouter(),
	}
	r := s.router
	r.Use(s.logRequests)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/pool", s.getPool).Methods(http.MethodGet)
	v1.HandleFunc("/pool/price", s.getPrice).Methods(http.MethodGet)
	v1.HandleFunc("/accounts", s.getAccounts).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{account}", s.getAccount).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{account}/unregister", s.postUnregister).Methods(http.MethodPost)
	v1.HandleFunc("/withdrawals", s.getWithdrawals).Methods(http.MethodGet)
	v1.HandleFunc("/unstake", s.postUnstake).Methods(http.MethodPost)

	admin := v1.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/owner", s.postOwner).Methods(http.MethodPost)
	admin.HandleFunc("/reward-rate", s.postRewardRate).Methods(http.MethodPost)
	admin.HandleFunc("/reward-genesis", s.postRewardGenesis).Methods(http.MethodPost)

	if s.verifier != nil {
		tok := v1.PathPrefix("/token").Subrouter()
		tok.Use(s.verifySignature)
		tok.HandleFunc("/transfer", s.postTransfer).Methods(http.MethodPost)
		tok.HandleFunc("/settlement", s.postSettlement).Methods(http.MethodPost)
		misc.Infof(log, "accepting token service callbacks signed by %s", s.verifier.Address())
	}
	if s.sandbox != nil {
		sb := v1.PathPrefix("/sandbox").Subrouter()
		sb.HandleFunc("/accounts/{account}", s.postSandboxRegister).Methods(http.MethodPost)
		sb.HandleFunc("/mint", s.postSandboxMint).Methods(http.MethodPost)
		sb.HandleFunc("/transfer-call", s.postSandboxTransferCall).Methods(http.MethodPost)
		sb.HandleFunc("/balances", s.getSandboxBalances).Methods(http.MethodGet)
	}

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, Error{Code: "ERR_NOT_FOUND", Message: "no such route"})
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		misc.Debugf(s.log, "%s %s -> %d (%v)", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

// verifySignature checks the token service signature over the raw body and puts the
// body back for the handler.
func (s *Server) verifySignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: %w", errBadRequest, err))
			return
		}
		if err := s.verifier.Verify(body, r.Header.Get(token.SignatureHeader)); err != nil {
			s.writeError(w, err)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "ERR_BAD_REQUEST"
	case errors.Is(err, token.ErrBadSignature):
		return http.StatusUnauthorized, "ERR_BAD_SIGNATURE"
	case errors.Is(err, staking.ErrPersist):
		return http.StatusServiceUnavailable, "ERR_UNAVAILABLE"
	case errors.Is(err, token.ErrUnknownAccount):
		return http.StatusBadRequest, "ERR_UNKNOWN_ACCOUNT"
	case errors.Is(err, token.ErrInsufficientFunds):
		return http.StatusBadRequest, "ERR_INSUFFICIENT_FUNDS"
	case errors.Is(err, pool.ErrNotOwner), errors.Is(err, pool.ErrNotAccountHolder):
		return http.StatusForbidden, pool.Code(err)
	case errors.Is(err, pool.ErrUnknownWithdrawal):
		return http.StatusNotFound, pool.Code(err)
	case pool.IsInternal(err):
		return http.StatusInternalServerError, pool.Code(err)
	}
	if code := pool.Code(err); code != "ERR_UNKNOWN" {
		return http.StatusBadRequest, code
	}
	return http.StatusInternalServerError, "ERR_UNKNOWN"
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		misc.Errorf(s.log, "request failed, code:%s, error:%v", code, err)
	}
	writeJSON(w, status, Error{Code: code, Message: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

func parseAmount(field, value string) (*uint256.Int, error) {
	v, err := pool.ParseAmount(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

func (s *Server) getPool(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, poolInfo(s.svc.Metadata()))
}

func (s *Server) getPrice(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Price{VirtualPrice: s.svc.VirtualPrice().Dec(), Scale: pool.PriceScale.Dec()})
}

func (s *Server) getAccounts(w http.ResponseWriter, _ *http.Request) {
	accounts := s.svc.Accounts()
	ret := make([]Account, 0, len(accounts))
	for _, a := range accounts {
		ret = append(ret, Account{AccountID: a.Account, Shares: a.Shares.Dec(), Registered: true})
	}
	writeJSON(w, http.StatusOK, ret)
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	shares, registered := s.svc.Shares(account)
	writeJSON(w, http.StatusOK, Account{AccountID: account, Shares: shares.Dec(), Registered: registered})
}

// getWithdrawals returns pending withdrawals, or the full history with ?all=true.
func (s *Server) getWithdrawals(w http.ResponseWriter, r *http.Request) {
	var (
		list []pool.Withdrawal
		err  error
	)
	if r.URL.Query().Get("all") == "true" {
		list, err = s.svc.WithdrawalHistory()
	} else {
		list = s.svc.PendingWithdrawals()
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	ret := make([]Withdrawal, 0, len(list))
	for _, wd := range list {
		ret = append(ret, withdrawal(wd))
	}
	writeJSON(w, http.StatusOK, ret)
}

func (s *Server) postUnstake(w http.ResponseWriter, r *http.Request) {
	var req UnstakeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	attached := new(uint256.Int)
	if req.AttachedDeposit != "" {
		var err error
		if attached, err = parseAmount("attached_deposit", req.AttachedDeposit); err != nil {
			s.writeError(w, err)
			return
		}
	}
	amount := optional.EmptyString()
	if req.Amount != "" {
		amount = optional.NewString(req.Amount)
	}
	wd, err := s.svc.Unstake(r.Context(), req.AccountID, amount, attached)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, withdrawal(wd))
}

func (s *Server) postUnregister(w http.ResponseWriter, r *http.Request) {
	var req UnregisterRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.Unregister(r.Context(), req.Caller, mux.Vars(r)["account"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postOwner(w http.ResponseWriter, r *http.Request) {
	var req SetOwnerRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Owner == "" {
		s.writeError(w, fmt.Errorf("%w: owner_id is required", errBadRequest))
		return
	}
	if err := s.svc.SetOwner(r.Context(), req.Caller, req.Owner); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poolInfo(s.svc.Metadata()))
}

func (s *Server) postRewardRate(w http.ResponseWriter, r *http.Request) {
	var req SetRewardRateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	rate, err := parseAmount("reward_per_sec", req.RewardPerSec)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.SetRewardRate(r.Context(), req.Caller, rate, req.DistributeBeforeChange); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poolInfo(s.svc.Metadata()))
}

func (s *Server) postRewardGenesis(w http.ResponseWriter, r *http.Request) {
	var req ResetRewardGenesisRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.ResetRewardGenesis(r.Context(), req.Caller, time.Unix(int64(req.RewardGenesisTime), 0)); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poolInfo(s.svc.Metadata()))
}

// postTransfer handles a deposit. A failed deposit answers with the error, the token
// service then refunds the whole amount.
func (s *Server) postTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferNotification
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.ID == "" {
		s.writeError(w, fmt.Errorf("%w: id is required", errBadRequest))
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	refund, err := s.svc.OnTransfer(r.Context(), token.Notification{ID: req.ID, TokenID: req.TokenID, Sender: req.SenderID, Amount: amount, Msg: req.Msg})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransferResult{Refund: refund.Dec()})
}

func (s *Server) postSettlement(w http.ResponseWriter, r *http.Request) {
	var req Settlement
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.Settle(r.Context(), token.Settlement{ID: req.ID, Success: req.Success, Reason: req.Reason}); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postSandboxRegister(w http.ResponseWriter, r *http.Request) {
	s.sandbox.Register(mux.Vars(r)["account"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postSandboxMint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.sandbox.Mint(req.AccountID, amount); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postSandboxTransferCall(w http.ResponseWriter, r *http.Request) {
	var req TransferCallRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	used, err := s.sandbox.TransferCall(r.Context(), req.SenderID, amount, req.Msg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransferCallResult{Used: used.Dec()})
}

func (s *Server) getSandboxBalances(w http.ResponseWriter, _ *http.Request) {
	balances := s.sandbox.Balances()
	ret := make(map[string]string, len(balances))
	for account, balance := range balances {
		ret[account] = balance.Dec()
	}
	writeJSON(w, http.StatusOK, ret)
}
