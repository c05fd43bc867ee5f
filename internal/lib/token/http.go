package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/TxnLab/stakepool/internal/lib/misc"
)

const requestTimeout = 30 * time.Second

// HTTPService submits transfers to a remote token service. Settlements are delivered
// back to the pool's API as signed callbacks.
type HTTPService struct {
	log     *slog.Logger
	baseURL string
	client  *http.Client
}

type transferBody struct {
	ID         string `json:"id"`
	TokenID    string `json:"token_id"`
	ReceiverID string `json:"receiver_id"`
	Amount     string `json:"amount"`
	Memo       string `json:"memo,omitempty"`
}

func NewHTTPService(log *slog.Logger, cfg NetworkConfig) *HTTPService {
	// Override the default transport so parallel dispatches can share connections to the same host
	customTransport := http.DefaultTransport.(*http.Transport).Clone()
	customTransport.MaxIdleConns = 100
	customTransport.MaxConnsPerHost = 100
	customTransport.MaxIdleConnsPerHost = 100
	client := &http.Client{Transport: customTransport, Timeout: requestTimeout}
	if cfg.TokenServiceToken != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.TokenServiceToken}))
		client.Timeout = requestTimeout
	}
	baseURL := strings.TrimRight(cfg.TokenServiceURL, "/")
	misc.Infof(log, "Using token service at:%s", baseURL)
	return &HTTPService{log: log, baseURL: baseURL, client: client}
}

// Transfer posts the request. Resubmitting an id the service already has is a success.
func (h *HTTPService) Transfer(ctx context.Context, req TransferRequest) error {
	body, err := json.Marshal(transferBody{
		ID:         req.ID,
		TokenID:    req.TokenID,
		ReceiverID: req.Receiver,
		Amount:     req.Amount.Dec(),
		Memo:       req.Memo,
	})
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode < 300, resp.StatusCode == http.StatusConflict:
		misc.Debugf(h.log, "transfer %s accepted, status:%d", req.ID, resp.StatusCode)
		return nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	default:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}
