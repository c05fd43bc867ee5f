package pool

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/holiman/uint256"
)

const (
	EventStandard = "single-sided-staking"
	EventVersion  = "1.0.0"

	EventAddStake          = "add_stake"
	EventAddRewards        = "add_rewards"
	EventWithdrawSucceeded = "withdraw_succeeded"
	EventWithdrawFailed    = "withdraw_failed"
)

// Event is a notification emitted by the pool. Nothing in the pool consumes them.
type Event struct {
	Name    string
	Account string
	Amount  uint256.Int
	TokenID string
}

type eventData struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
	TokenID   string `json:"token_id"`
}

type eventEnvelope struct {
	Standard string      `json:"standard"`
	Version  string      `json:"version"`
	Event    string      `json:"event"`
	Data     []eventData `json:"data"`
}

// MarshalJSON renders the event in its standard envelope, amounts as decimal strings.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventEnvelope{
		Standard: EventStandard,
		Version:  EventVersion,
		Event:    e.Name,
		Data: []eventData{{
			AccountID: e.Account,
			Amount:    e.Amount.Dec(),
			TokenID:   e.TokenID,
		}},
	})
}

type EventSink interface {
	Emit(Event)
}

// LogSink writes events as EVENT_JSON log lines.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		s.Logger.Error("event encode failed", "event", e.Name, "error", err)
		return
	}
	s.Logger.LogAttrs(context.Background(), slog.LevelInfo, "EVENT_JSON:"+string(data))
}

// EventRecorder keeps emitted events in memory.
type EventRecorder struct {
	Events []Event
}

func (r *EventRecorder) Emit(e Event) {
	r.Events = append(r.Events, e)
}

// MultiSink fans an event out to several sinks.
type MultiSink []EventSink

func (m MultiSink) Emit(e Event) {
	for _, sink := range m {
		sink.Emit(e)
	}
}
