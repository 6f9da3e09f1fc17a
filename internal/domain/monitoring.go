package domain

import (
	"context"
	"time"
)

// Direction is the side of a monitored setup or position.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// PendingSignal is the transient state carried while a candidate signal is
// being confirmed. Present only while the symbol sits in an
// awaiting-confirmation phase.
type PendingSignal struct {
	Direction          Direction  `json:"direction"`
	TriggeredAt        time.Time  `json:"triggeredAt"`
	HMAAtTrigger       float64    `json:"hmaAtTrigger"`
	PriceAtTrigger     float64    `json:"priceAtTrigger"`
	ReversalDetected   bool       `json:"reversalDetected"`
	ConfirmWindowStart *time.Time `json:"confirmWindowStart,omitempty"`
	ConfirmWindowEnd   *time.Time `json:"confirmWindowEnd,omitempty"`
	ReversalConfirmed  bool       `json:"reversalConfirmed"`
	EntryReadyAt       *time.Time `json:"entryReadyAt,omitempty"`
	CrossoverDetected  bool       `json:"crossoverDetected"`
	CrossoverAt        *time.Time `json:"crossoverAt,omitempty"`
}

// OrderModification records one broker-side order revision.
type OrderModification struct {
	At            time.Time `json:"at"`
	OldOrderID    string    `json:"oldOrderId"`
	NewOrderID    string    `json:"newOrderId"`
	OldHMAValue   float64   `json:"oldHmaValue"`
	NewHMAValue   float64   `json:"newHmaValue"`
	OldLimitPrice float64   `json:"oldLimitPrice"`
	NewLimitPrice float64   `json:"newLimitPrice"`
	Reason        string    `json:"reason"`
}

// StopLossModification records one change to a position's protective stop.
type StopLossModification struct {
	At          time.Time `json:"at"`
	OldStopLoss float64   `json:"oldStopLoss"`
	NewStopLoss float64   `json:"newStopLoss"`
	Reason      string    `json:"reason"`
	OrderID     string    `json:"orderId,omitempty"`
}

// MonitoredSymbol is one instrument a user is watching, together with its
// signal lifecycle state and order tracking.
type MonitoredSymbol struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`

	// Configuration
	Lots                int     `json:"lots"`
	TargetPoints        float64 `json:"targetPoints"`
	StopLossPoints      float64 `json:"stopLossPoints"`
	EntryMethod         string  `json:"entryMethod"`
	UseTrailingStoploss bool    `json:"useTrailingStoploss"`
	TrailingX           float64 `json:"trailingX"` // stop offset from price
	TrailingY           float64 `json:"trailingY"` // advance required per ratchet
	MaxHoldSeconds      int     `json:"maxHoldSeconds"` // time-based exit, 0 = disabled
	MaxReEntries        int     `json:"maxReEntries"`
	ProductType         string  `json:"productType"`
	OrderType           string  `json:"orderType"`

	// Live telemetry
	CurrentLTP  float64   `json:"currentLtp"`
	HMAValue    float64   `json:"hmaValue"`
	LastUpdated time.Time `json:"lastUpdated"`

	TriggerStatus TriggerStatus  `json:"triggerStatus"`
	Pending       *PendingSignal `json:"pendingSignal,omitempty"`

	// Order tracking
	OrderPlaced            bool                `json:"orderPlaced"`
	EntryOrderID           string              `json:"entryOrderId,omitempty"`
	ExitOrderID            string              `json:"exitOrderId,omitempty"`
	OrderStatus            string              `json:"orderStatus,omitempty"`
	OrderModifiedAt        *time.Time          `json:"orderModifiedAt,omitempty"`
	OrderModificationCount int                 `json:"orderModificationCount"`
	OrderModifications     []OrderModification `json:"orderModifications,omitempty"`

	// Stop-loss tracking for the protective leg
	StopLossPrice        float64 `json:"stopLossPrice"`
	StopLossTriggerPrice float64 `json:"stopLossTriggerPrice"`

	ReEntryCount int `json:"reEntryCount"`
}

// ActivePosition is one filled entry being managed until exit.
type ActivePosition struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`

	Lots        int     `json:"lots"`
	Quantity    float64 `json:"quantity"`
	BoughtPrice float64 `json:"boughtPrice"`

	CurrentPrice    float64 `json:"currentPrice"`
	Target          float64 `json:"target"`
	InitialStopLoss float64 `json:"initialStopLoss"`
	StopLoss        float64 `json:"stopLoss"` // possibly trailed; 0 = not yet set

	UseTrailingStoploss bool    `json:"useTrailingStoploss"`
	TrailingX           float64 `json:"trailingX"`
	TrailingY           float64 `json:"trailingY"`
	TrailingActivated   bool    `json:"trailingActivated"`
	LastRatchetPrice    float64 `json:"lastRatchetPrice"`

	Status PositionStatus `json:"status"`

	EntryOrderID string `json:"entryOrderId,omitempty"`
	ExitOrderID  string `json:"exitOrderId,omitempty"`

	RealizedPnL   float64 `json:"realizedPnl"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
	PnLPercent    float64 `json:"pnlPercent"`
	Invested      float64 `json:"invested"` // quantity * boughtPrice

	EntryTime time.Time  `json:"entryTime"`
	ExitPrice *float64   `json:"exitPrice,omitempty"`
	ExitTime  *time.Time `json:"exitTime,omitempty"`

	SLModifications []StopLossModification `json:"slModifications,omitempty"`
}

// RecomputeInvested must be called whenever quantity or bought price changes.
func (p *ActivePosition) RecomputeInvested() {
	p.Invested = p.Quantity * p.BoughtPrice
}

// FavorableMove returns how far price has moved in the position's favor.
// Negative values mean the position is under water.
func (p *ActivePosition) FavorableMove(price float64) float64 {
	if p.Direction == DirectionSell {
		return p.BoughtPrice - price
	}
	return price - p.BoughtPrice
}

// UserMonitoringState owns everything the engine tracks for one user.
type UserMonitoringState struct {
	UserID           string     `json:"userId"`
	IsMonitoring     bool       `json:"isMonitoring"`
	MonitoringSince  *time.Time `json:"monitoringSince,omitempty"`
	LastMarketUpdate time.Time  `json:"lastMarketUpdate"`
	LastHMAUpdate    time.Time  `json:"lastHmaUpdate"`
	TradesExecuted   int        `json:"tradesExecuted"`
	TotalPnL         float64    `json:"totalPnl"`

	Symbols   []*MonitoredSymbol `json:"symbols"`
	Positions []*ActivePosition  `json:"positions"`
}

// MonitoringRepository persists per-user monitoring state. Symbol and
// position rows are addressable individually so per-symbol updates do not
// rewrite the whole user document.
type MonitoringRepository interface {
	GetState(ctx context.Context, userID string) (*UserMonitoringState, error)
	SaveState(ctx context.Context, state *UserMonitoringState) error

	GetSymbol(ctx context.Context, userID, symbolID string) (*MonitoredSymbol, error)
	SaveSymbol(ctx context.Context, userID string, sym *MonitoredSymbol) error
	RemoveSymbol(ctx context.Context, userID, symbolID string) error

	GetPosition(ctx context.Context, userID, positionID string) (*ActivePosition, error)
	SavePosition(ctx context.Context, userID string, pos *ActivePosition) error
}
