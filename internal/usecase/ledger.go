package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"monitor-backend/internal/domain"

	"github.com/google/uuid"
)

var (
	ErrMissingUserID  = errors.New("userId is required")
	ErrMissingOrderID = errors.New("orderId is required")
	ErrInvalidAction  = errors.New("unknown trade action")
	ErrInvalidSource  = errors.New("unknown event source")
)

// ReconcilePolicy selects how APP-sourced events are treated.
type ReconcilePolicy int

const (
	// ReconcilePolicyDualSource reconciles APP and BROKER records of the same
	// logical event into one canonical entry (BROKER wins on conflict).
	ReconcilePolicyDualSource ReconcilePolicy = iota
	// ReconcilePolicyBrokerOnly drops every APP-sourced create except manual
	// exits, making the ledger broker-fed. Kept for parity with deployments
	// that never trusted the local echo.
	ReconcilePolicyBrokerOnly
)

// Notifier receives a fire-and-forget side effect for every canonical
// ledger write. Failures must be swallowed by the implementation or the
// ledger; they never roll back a write.
type Notifier interface {
	NotifyTradeEvent(userID string, entry *domain.TradeLogEntry)
}

// RecordEventInput is one incoming lifecycle event from either source.
type RecordEventInput struct {
	UserID      string             `json:"userId"`
	Action      domain.TradeAction `json:"action"`
	OrderID     string             `json:"orderId"`
	Source      domain.EventSource `json:"source"`
	Symbol      string             `json:"symbol"`
	Side        string             `json:"side"`
	Quantity    float64            `json:"quantity"`
	Price       float64            `json:"price"`
	OrderType   string             `json:"orderType"`
	ProductType string             `json:"productType"`
	Status      string             `json:"status"`
	Reason      string             `json:"reason"`
	PnL         float64            `json:"pnl"`
	PnLPercent  float64            `json:"pnlPercent"`
	Details     map[string]string  `json:"details"`
}

// CleanupResult reports a duplicate-cleanup pass.
type CleanupResult struct {
	GroupsProcessed int `json:"groupsProcessed"`
	RowsDeleted     int `json:"rowsDeleted"`
}

// TradeLedgerService reconciles APP- and BROKER-originated trade lifecycle
// events into a single deduplicated ledger and emits notifications for
// canonical writes.
type TradeLedgerService struct {
	repo     domain.TradeLogRepository
	notifier Notifier
	policy   ReconcilePolicy
}

func NewTradeLedgerService(repo domain.TradeLogRepository, notifier Notifier, policy ReconcilePolicy) *TradeLedgerService {
	return &TradeLedgerService{
		repo:     repo,
		notifier: notifier,
		policy:   policy,
	}
}

// RecordEvent applies the record-or-merge rules and returns the canonical
// entry for the event's key. A dropped event returns (nil, nil).
func (s *TradeLedgerService) RecordEvent(ctx context.Context, in RecordEventInput) (*domain.TradeLogEntry, error) {
	if in.UserID == "" {
		return nil, ErrMissingUserID
	}
	if !in.Action.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, in.Action)
	}
	if !in.Source.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSource, in.Source)
	}

	manualExit := in.Source == domain.SourceApp && in.Action == domain.ActionPositionClosed
	if in.OrderID == "" {
		if !manualExit {
			return nil, ErrMissingOrderID
		}
		// Manual exits have no broker echo to reconcile against; give them
		// their own key so they are always recorded.
		in.OrderID = "manual-" + uuid.NewString()
	}

	if s.policy == ReconcilePolicyBrokerOnly && in.Source == domain.SourceApp && !manualExit {
		return nil, nil
	}

	entry := s.buildEntry(in)
	if manualExit {
		entry.Details[domain.DetailManualExit] = "true"
	}

	if (in.Action == domain.ActionOrderFilled || in.Action == domain.ActionOrderRejected) && entry.Side == "" {
		s.recoverSide(ctx, entry)
	}

	outcome, canonical, err := s.repo.Upsert(ctx, entry)
	if err != nil {
		return nil, err
	}

	if outcome == domain.UpsertCreated || outcome == domain.UpsertUpgraded {
		if s.notifier != nil {
			s.notifier.NotifyTradeEvent(canonical.UserID, canonical)
		}
	}

	return canonical, nil
}

func (s *TradeLedgerService) buildEntry(in RecordEventInput) *domain.TradeLogEntry {
	details := make(map[string]string, len(in.Details)+1)
	for k, v := range in.Details {
		details[k] = v
	}
	details[domain.DetailSource] = string(in.Source)

	return &domain.TradeLogEntry{
		ID:          uuid.NewString(),
		UserID:      in.UserID,
		Action:      in.Action,
		Symbol:      in.Symbol,
		Side:        in.Side,
		Quantity:    in.Quantity,
		Price:       in.Price,
		OrderType:   in.OrderType,
		ProductType: in.ProductType,
		OrderID:     in.OrderID,
		Status:      in.Status,
		Reason:      in.Reason,
		PnL:         in.PnL,
		PnLPercent:  in.PnLPercent,
		Source:      in.Source,
		Details:     details,
		Timestamp:   time.Now(),
	}
}

// recoverSide looks up the original ORDER_PLACED entry for the same order to
// recover the side of a fill/rejection. A missing PLACED row defaults to BUY
// and flags the gap; it never fails the write.
func (s *TradeLedgerService) recoverSide(ctx context.Context, entry *domain.TradeLogEntry) {
	placed, err := s.repo.FindByOrderAction(ctx, entry.UserID, entry.OrderID, domain.ActionOrderPlaced)
	if err != nil {
		log.Printf("side lookup failed for order %s: %v", entry.OrderID, err)
	}
	if placed != nil && placed.Side != "" {
		entry.Side = placed.Side
		if entry.Symbol == "" {
			entry.Symbol = placed.Symbol
		}
		return
	}

	entry.Side = string(domain.DirectionBuy)
	entry.Details[domain.DetailSideRecovered] = "default"
	log.Printf("no ORDER_PLACED entry for order %s, defaulting side to BUY", entry.OrderID)
}

// ListForDay returns the user's entries for the calendar day containing t,
// after the prioritization pass.
func (s *TradeLedgerService) ListForDay(ctx context.Context, userID string, t time.Time) ([]*domain.TradeLogEntry, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	from := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	rows, err := s.repo.ListRange(ctx, userID, from, from.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	return prioritize(rows), nil
}

// ListRecent returns the user's entries within the trailing window, after
// the prioritization pass.
func (s *TradeLedgerService) ListRecent(ctx context.Context, userID string, window time.Duration) ([]*domain.TradeLogEntry, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	now := time.Now()
	rows, err := s.repo.ListRange(ctx, userID, now.Add(-window), now.Add(time.Minute))
	if err != nil {
		return nil, err
	}
	return prioritize(rows), nil
}

// prioritize collapses legacy duplicates per (orderId, action): the
// BROKER-sourced row wins when both exist. Read-side only; storage is
// never mutated.
func prioritize(rows []*domain.TradeLogEntry) []*domain.TradeLogEntry {
	best := make(map[string]*domain.TradeLogEntry, len(rows))
	order := make([]string, 0, len(rows))

	for _, row := range rows {
		key := row.OrderID + "|" + string(row.Action)
		existing, ok := best[key]
		if !ok {
			best[key] = row
			order = append(order, key)
			continue
		}
		if existing.Source != domain.SourceBroker && row.Source == domain.SourceBroker {
			best[key] = row
		}
	}

	out := make([]*domain.TradeLogEntry, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// CleanupDuplicateLogs deletes superseded duplicate rows per (orderId,
// action), keeping the BROKER-sourced row or the first seen when none is.
// Re-running converges: the second pass reports zero deletions.
func (s *TradeLedgerService) CleanupDuplicateLogs(ctx context.Context, userID string) (CleanupResult, error) {
	var res CleanupResult
	if userID == "" {
		return res, ErrMissingUserID
	}

	rows, err := s.repo.ListAll(ctx, userID)
	if err != nil {
		return res, err
	}

	groups := make(map[string][]*domain.TradeLogEntry)
	for _, row := range rows {
		key := row.OrderID + "|" + string(row.Action)
		groups[key] = append(groups[key], row)
	}

	var doomed []string
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		res.GroupsProcessed++

		keep := group[0]
		for _, row := range group {
			if row.Source == domain.SourceBroker {
				keep = row
				break
			}
		}
		for _, row := range group {
			if row.ID != keep.ID {
				doomed = append(doomed, row.ID)
			}
		}
	}

	if len(doomed) > 0 {
		deleted, err := s.repo.Delete(ctx, userID, doomed)
		if err != nil {
			return res, err
		}
		res.RowsDeleted = deleted
	}

	if res.RowsDeleted > 0 {
		log.Printf("cleanup for user %s: %d duplicate groups, %d rows deleted", userID, res.GroupsProcessed, res.RowsDeleted)
	}
	return res, nil
}
