package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is a failed request as reported by the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Client talks to a running stakepool daemon.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var body Error
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			body = Error{Code: "ERR_UNKNOWN", Message: resp.Status}
		}
		return &APIError{Status: resp.StatusCode, Code: body.Code, Message: body.Message}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Pool(ctx context.Context) (PoolInfo, error) {
	var info PoolInfo
	err := c.do(ctx, http.MethodGet, "/v1/pool", nil, &info)
	return info, err
}

func (c *Client) Price(ctx context.Context) (Price, error) {
	var price Price
	err := c.do(ctx, http.MethodGet, "/v1/pool/price", nil, &price)
	return price, err
}

func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	err := c.do(ctx, http.MethodGet, "/v1/accounts", nil, &accounts)
	return accounts, err
}

func (c *Client) Account(ctx context.Context, account string) (Account, error) {
	var ret Account
	err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(account), nil, &ret)
	return ret, err
}

// Withdrawals lists pending withdrawals, or all persisted ones when all is set.
func (c *Client) Withdrawals(ctx context.Context, all bool) ([]Withdrawal, error) {
	path := "/v1/withdrawals"
	if all {
		path += "?all=true"
	}
	var ret []Withdrawal
	err := c.do(ctx, http.MethodGet, path, nil, &ret)
	return ret, err
}

func (c *Client) Unstake(ctx context.Context, req UnstakeRequest) (Withdrawal, error) {
	var ret Withdrawal
	err := c.do(ctx, http.MethodPost, "/v1/unstake", req, &ret)
	return ret, err
}

func (c *Client) Unregister(ctx context.Context, caller, account string) error {
	return c.do(ctx, http.MethodPost, "/v1/accounts/"+url.PathEscape(account)+"/unregister", UnregisterRequest{Caller: caller}, nil)
}

func (c *Client) SetOwner(ctx context.Context, req SetOwnerRequest) (PoolInfo, error) {
	var info PoolInfo
	err := c.do(ctx, http.MethodPost, "/v1/admin/owner", req, &info)
	return info, err
}

func (c *Client) SetRewardRate(ctx context.Context, req SetRewardRateRequest) (PoolInfo, error) {
	var info PoolInfo
	err := c.do(ctx, http.MethodPost, "/v1/admin/reward-rate", req, &info)
	return info, err
}

func (c *Client) ResetRewardGenesis(ctx context.Context, req ResetRewardGenesisRequest) (PoolInfo, error) {
	var info PoolInfo
	err := c.do(ctx, http.MethodPost, "/v1/admin/reward-genesis", req, &info)
	return info, err
}

func (c *Client) SandboxRegister(ctx context.Context, account string) error {
	return c.do(ctx, http.MethodPost, "/v1/sandbox/accounts/"+url.PathEscape(account), nil, nil)
}

func (c *Client) SandboxMint(ctx context.Context, req MintRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/sandbox/mint", req, nil)
}

func (c *Client) SandboxTransferCall(ctx context.Context, req TransferCallRequest) (TransferCallResult, error) {
	var ret TransferCallResult
	err := c.do(ctx, http.MethodPost, "/v1/sandbox/transfer-call", req, &ret)
	return ret, err
}

func (c *Client) SandboxBalances(ctx context.Context) (map[string]string, error) {
	var ret map[string]string
	err := c.do(ctx, http.MethodGet, "/v1/sandbox/balances", nil, &ret)
	return ret, err
}
