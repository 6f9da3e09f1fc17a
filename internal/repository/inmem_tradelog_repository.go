package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"monitor-backend/internal/domain"
)

// InMemoryTradeLogRepository keeps the ledger in memory. The record-or-merge
// decision runs under one mutex so two writers racing on the same key see
// exactly one create, matching the Postgres upsert semantics. Rows are
// stored by id with a canonical-key index so legacy duplicates (imported via
// InsertRaw) can coexist until a cleanup pass removes them.
type InMemoryTradeLogRepository struct {
	mu    sync.Mutex
	rows  map[string]map[string]*domain.TradeLogEntry // userID -> entryID -> entry
	index map[string]map[string]string                // userID -> orderID|action -> canonical entryID
}

func NewInMemoryTradeLogRepository() *InMemoryTradeLogRepository {
	return &InMemoryTradeLogRepository{
		rows:  make(map[string]map[string]*domain.TradeLogEntry),
		index: make(map[string]map[string]string),
	}
}

func entryKey(orderID string, action domain.TradeAction) string {
	return orderID + "|" + string(action)
}

func (r *InMemoryTradeLogRepository) userMaps(userID string) (map[string]*domain.TradeLogEntry, map[string]string) {
	if _, ok := r.rows[userID]; !ok {
		r.rows[userID] = make(map[string]*domain.TradeLogEntry)
		r.index[userID] = make(map[string]string)
	}
	return r.rows[userID], r.index[userID]
}

func (r *InMemoryTradeLogRepository) Upsert(_ context.Context, entry *domain.TradeLogEntry) (domain.UpsertOutcome, *domain.TradeLogEntry, error) {
	if entry == nil {
		return domain.UpsertDiscarded, nil, errors.New("nil entry")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rows, index := r.userMaps(entry.UserID)
	key := entryKey(entry.OrderID, entry.Action)

	canonicalID, ok := index[key]
	if !ok {
		stored := copyEntry(entry)
		rows[stored.ID] = stored
		index[key] = stored.ID
		return domain.UpsertCreated, copyEntry(stored), nil
	}

	existing := rows[canonicalID]

	// BROKER over APP upgrades in place; everything else is discarded.
	if existing.Source == domain.SourceApp && entry.Source == domain.SourceBroker {
		mergeEntry(existing, entry)
		return domain.UpsertUpgraded, copyEntry(existing), nil
	}
	return domain.UpsertDiscarded, copyEntry(existing), nil
}

// InsertRaw stores a row without consulting the canonical-key index. It
// exists for imports of historical rows that may predate the dedup rules.
func (r *InMemoryTradeLogRepository) InsertRaw(entry *domain.TradeLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, index := r.userMaps(entry.UserID)
	stored := copyEntry(entry)
	rows[stored.ID] = stored

	key := entryKey(entry.OrderID, entry.Action)
	if _, ok := index[key]; !ok {
		index[key] = stored.ID
	}
}

// mergeEntry overlays the incoming event's fields onto the canonical entry,
// keeping the original identity and creation timestamp.
func mergeEntry(dst, src *domain.TradeLogEntry) {
	dst.Source = domain.SourceBroker
	if src.Symbol != "" {
		dst.Symbol = src.Symbol
	}
	if src.Side != "" {
		dst.Side = src.Side
	}
	if src.Quantity != 0 {
		dst.Quantity = src.Quantity
	}
	if src.Price != 0 {
		dst.Price = src.Price
	}
	if src.OrderType != "" {
		dst.OrderType = src.OrderType
	}
	if src.ProductType != "" {
		dst.ProductType = src.ProductType
	}
	if src.Status != "" {
		dst.Status = src.Status
	}
	if src.Reason != "" {
		dst.Reason = src.Reason
	}
	if src.PnL != 0 {
		dst.PnL = src.PnL
	}
	if src.PnLPercent != 0 {
		dst.PnLPercent = src.PnLPercent
	}
	if dst.Details == nil {
		dst.Details = make(map[string]string)
	}
	for k, v := range src.Details {
		dst.Details[k] = v
	}
	dst.Details[domain.DetailSource] = string(domain.SourceBroker)
}

func (r *InMemoryTradeLogRepository) FindByOrderAction(_ context.Context, userID, orderID string, action domain.TradeAction) (*domain.TradeLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.index[userID][entryKey(orderID, action)]; ok {
		if entry, ok := r.rows[userID][id]; ok {
			return copyEntry(entry), nil
		}
	}
	return nil, nil
}

func (r *InMemoryTradeLogRepository) ListRange(_ context.Context, userID string, from, to time.Time) ([]*domain.TradeLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.TradeLogEntry, 0)
	for _, entry := range r.rows[userID] {
		if entry.Timestamp.Before(from) || !entry.Timestamp.Before(to) {
			continue
		}
		out = append(out, copyEntry(entry))
	}
	return out, nil
}

func (r *InMemoryTradeLogRepository) ListAll(_ context.Context, userID string) ([]*domain.TradeLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.TradeLogEntry, 0, len(r.rows[userID]))
	for _, entry := range r.rows[userID] {
		out = append(out, copyEntry(entry))
	}
	return out, nil
}

func (r *InMemoryTradeLogRepository) Delete(_ context.Context, userID string, ids []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doomed := make(map[string]bool, len(ids))
	for _, id := range ids {
		doomed[id] = true
	}

	deleted := 0
	for id, entry := range r.rows[userID] {
		if !doomed[id] {
			continue
		}
		delete(r.rows[userID], id)
		deleted++

		// Re-point the canonical index at a survivor if one exists.
		key := entryKey(entry.OrderID, entry.Action)
		if r.index[userID][key] == id {
			delete(r.index[userID], key)
			for survivorID, survivor := range r.rows[userID] {
				if entryKey(survivor.OrderID, survivor.Action) == key {
					r.index[userID][key] = survivorID
					break
				}
			}
		}
	}
	return deleted, nil
}

func copyEntry(e *domain.TradeLogEntry) *domain.TradeLogEntry {
	out := *e
	if e.Details != nil {
		out.Details = make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			out.Details[k] = v
		}
	}
	return &out
}

// compile-time check
var _ domain.TradeLogRepository = (*InMemoryTradeLogRepository)(nil)
