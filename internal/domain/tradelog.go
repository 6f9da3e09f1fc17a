package domain

import (
	"context"
	"time"
)

// TradeAction identifies the lifecycle event a ledger entry records.
type TradeAction string

const (
	ActionOrderPlaced    TradeAction = "ORDER_PLACED"
	ActionOrderFilled    TradeAction = "ORDER_FILLED"
	ActionOrderRejected  TradeAction = "ORDER_REJECTED"
	ActionOrderModified  TradeAction = "ORDER_MODIFIED"
	ActionOrderCancelled TradeAction = "ORDER_CANCELLED"
	ActionTargetHit      TradeAction = "TARGET_HIT"
	ActionStopLossHit    TradeAction = "STOP_LOSS_HIT"
	ActionTrailingUpdate TradeAction = "TRAILING_UPDATE"
	ActionReEntryAdded   TradeAction = "RE_ENTRY_ADDED"
	ActionPositionClosed TradeAction = "POSITION_CLOSED"
)

func (a TradeAction) Valid() bool {
	switch a {
	case ActionOrderPlaced, ActionOrderFilled, ActionOrderRejected, ActionOrderModified,
		ActionOrderCancelled, ActionTargetHit, ActionStopLossHit, ActionTrailingUpdate,
		ActionReEntryAdded, ActionPositionClosed:
		return true
	}
	return false
}

// EventSource tags where a ledger event originated. BROKER is authoritative;
// APP is the local engine's optimistic echo of an intended action.
type EventSource string

const (
	SourceApp    EventSource = "APP"
	SourceBroker EventSource = "BROKER"
)

func (s EventSource) Valid() bool {
	return s == SourceApp || s == SourceBroker
}

// Well-known keys in a TradeLogEntry details bag.
const (
	DetailSource        = "source"
	DetailSideRecovered = "sideRecovered" // "default" when side defaulted to BUY because no PLACED row was found
	DetailManualExit    = "manualExit"
)

// TradeLogEntry is one reconciled lifecycle event. At most one canonical
// entry exists per (userID, orderID, action).
type TradeLogEntry struct {
	ID          string            `json:"id"`
	UserID      string            `json:"userId"`
	Action      TradeAction       `json:"action"`
	Symbol      string            `json:"symbol"`
	Side        string            `json:"side"` // BUY / SELL
	Quantity    float64           `json:"quantity"`
	Price       float64           `json:"price"`
	OrderType   string            `json:"orderType,omitempty"`
	ProductType string            `json:"productType,omitempty"`
	OrderID     string            `json:"orderId"`
	Status      string            `json:"status,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	PnL         float64           `json:"pnl"`
	PnLPercent  float64           `json:"pnlPercent"`
	Source      EventSource       `json:"source"`
	Details     map[string]string `json:"details,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// UpsertOutcome reports how the storage layer resolved a record-or-merge.
type UpsertOutcome int

const (
	// UpsertDiscarded: an entry already existed and the incoming event lost
	// the priority rule (APP over BROKER, or same-source duplicate).
	UpsertDiscarded UpsertOutcome = iota
	// UpsertCreated: no entry existed for the key; the incoming one is canonical.
	UpsertCreated
	// UpsertUpgraded: a BROKER event merged over an existing APP entry in place.
	UpsertUpgraded
)

// TradeLogRepository is the ledger's storage. Upsert must be atomic per
// (userID, orderID, action): two concurrent writers racing on the same key
// resolve to exactly one create, with the loser observing the existing row.
type TradeLogRepository interface {
	Upsert(ctx context.Context, entry *TradeLogEntry) (UpsertOutcome, *TradeLogEntry, error)
	FindByOrderAction(ctx context.Context, userID, orderID string, action TradeAction) (*TradeLogEntry, error)
	ListRange(ctx context.Context, userID string, from, to time.Time) ([]*TradeLogEntry, error)
	ListAll(ctx context.Context, userID string) ([]*TradeLogEntry, error)
	Delete(ctx context.Context, userID string, ids []string) (int, error)
}
