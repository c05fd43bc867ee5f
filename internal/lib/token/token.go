// Package token talks to the fungible token service holding the pool's tokens.
// Deposits arrive as transfer notifications, withdrawals leave as transfers whose
// outcome is reported back later as a settlement.
package token

import (
	"context"
	"errors"

	"github.com/holiman/uint256"
)

var (
	// ErrUnavailable is a temporary failure, the transfer may be retried with the same id.
	ErrUnavailable = errors.New("token service unavailable")
	// ErrRejected is a permanent refusal, the transfer will never happen.
	ErrRejected = errors.New("transfer rejected by token service")
	// ErrBadSignature is returned for callbacks not signed by the token service key.
	ErrBadSignature = errors.New("invalid token service signature")
)

func IsTemporary(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// TransferRequest asks the token service to move Amount from the pool to Receiver.
// ID is unique per withdrawal and lets the service drop duplicate submissions.
type TransferRequest struct {
	ID       string
	TokenID  string
	Receiver string
	Amount   *uint256.Int
	Memo     string
}

// Settlement is the final outcome of a transfer.
type Settlement struct {
	ID      string
	Success bool
	Reason  string
}

// Notification is a deposit into the pool account, carrying the sender's message.
type Notification struct {
	// ID is unique per transfer, a redelivered notification keeps it
	ID      string
	TokenID string
	Sender  string
	Amount  *uint256.Int
	Msg     string
}

// Service issues outbound transfers. A nil error only means the transfer was accepted,
// its outcome arrives through a SettlementHandler.
type Service interface {
	Transfer(ctx context.Context, req TransferRequest) error
}

// Receiver accepts deposits. The returned refund is sent back to the sender, an error refunds everything.
type Receiver interface {
	OnTransfer(ctx context.Context, n Notification) (*uint256.Int, error)
}

type SettlementHandler interface {
	Settle(ctx context.Context, s Settlement) error
}
