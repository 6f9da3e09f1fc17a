package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"monitor-backend/internal/domain"
)

var (
	ErrSymbolNotFound         = errors.New("monitored symbol not found")
	ErrPositionNotFound       = errors.New("active position not found")
	ErrOrderIDRequired        = errors.New("order id required when marking order placed")
	ErrPositionNotOpen        = errors.New("position is not open")
	ErrReEntryLimit           = errors.New("re-entry limit reached")
	ErrIncompleteModification = errors.New("order modification requires old and new order ids")
)

const (
	reasonTrailingUpdate = "trailing stop loss update"
	reasonManualUpdate   = "manual modification"
)

// MonitoringService owns per-user signal/position state and exposes atomic
// read-modify-write operations so a price tick and an order confirmation
// racing on the same symbol can never interleave into an inconsistent
// combination of trigger status and pending signal.
type MonitoringService struct {
	repo domain.MonitoringRepository

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMonitoringService(repo domain.MonitoringRepository) *MonitoringService {
	return &MonitoringService{
		repo:  repo,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockFor serializes operations per (userID, id). Different keys proceed in
// parallel.
func (s *MonitoringService) lockFor(userID, id string) *sync.Mutex {
	key := userID + "/" + id
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// UpdateSymbol applies fn to the symbol under its per-symbol lock and
// persists the result. If fn returns an error nothing is persisted.
func (s *MonitoringService) UpdateSymbol(ctx context.Context, userID, symbolID string, fn func(*domain.MonitoredSymbol) error) (*domain.MonitoredSymbol, error) {
	l := s.lockFor(userID, symbolID)
	l.Lock()
	defer l.Unlock()

	sym, err := s.repo.GetSymbol(ctx, userID, symbolID)
	if err != nil {
		return nil, err
	}
	if sym == nil {
		return nil, ErrSymbolNotFound
	}
	if err := fn(sym); err != nil {
		return nil, err
	}
	if err := s.repo.SaveSymbol(ctx, userID, sym); err != nil {
		return nil, err
	}
	return sym, nil
}

// UpdatePosition applies fn to the position under its per-position lock and
// persists the result. If fn returns an error nothing is persisted.
func (s *MonitoringService) UpdatePosition(ctx context.Context, userID, positionID string, fn func(*domain.ActivePosition) error) (*domain.ActivePosition, error) {
	l := s.lockFor(userID, positionID)
	l.Lock()
	defer l.Unlock()

	pos, err := s.repo.GetPosition(ctx, userID, positionID)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, ErrPositionNotFound
	}
	if err := fn(pos); err != nil {
		return nil, err
	}
	if err := s.repo.SavePosition(ctx, userID, pos); err != nil {
		return nil, err
	}
	return pos, nil
}

// Transition moves the symbol to the requested trigger status, rejecting
// edges the transition table forbids. Leaving an awaiting-confirmation phase
// drops the pending-signal sub-document.
func (s *MonitoringService) Transition(ctx context.Context, userID, symbolID string, to domain.TriggerStatus) (*domain.MonitoredSymbol, error) {
	return s.UpdateSymbol(ctx, userID, symbolID, func(sym *domain.MonitoredSymbol) error {
		if !sym.TriggerStatus.CanTransition(to) {
			return &domain.ErrIllegalTransition{From: sym.TriggerStatus, To: to}
		}
		sym.TriggerStatus = to
		if !to.AwaitingConfirmation() {
			sym.Pending = nil
		}
		sym.LastUpdated = time.Now()
		return nil
	})
}

// SetPendingSignal installs or replaces the transient confirmation state.
// Only legal while the symbol is in an awaiting-confirmation phase.
func (s *MonitoringService) SetPendingSignal(ctx context.Context, userID, symbolID string, pending *domain.PendingSignal) (*domain.MonitoredSymbol, error) {
	return s.UpdateSymbol(ctx, userID, symbolID, func(sym *domain.MonitoredSymbol) error {
		if pending != nil && !sym.TriggerStatus.AwaitingConfirmation() {
			return fmt.Errorf("pending signal not allowed in %s", sym.TriggerStatus)
		}
		sym.Pending = pending
		sym.LastUpdated = time.Now()
		return nil
	})
}

// UpdateTelemetry records the latest observed price and indicator value.
func (s *MonitoringService) UpdateTelemetry(ctx context.Context, userID, symbolID string, ltp, hma float64) (*domain.MonitoredSymbol, error) {
	return s.UpdateSymbol(ctx, userID, symbolID, func(sym *domain.MonitoredSymbol) error {
		sym.CurrentLTP = ltp
		sym.HMAValue = hma
		sym.LastUpdated = time.Now()
		return nil
	})
}

// MarkOrderPlaced transitions into ORDER_PLACED in one atomic step: order id
// set, orderPlaced flag raised, transient confirmation state cleared.
func (s *MonitoringService) MarkOrderPlaced(ctx context.Context, userID, symbolID, orderID string) (*domain.MonitoredSymbol, error) {
	if orderID == "" {
		return nil, ErrOrderIDRequired
	}
	return s.UpdateSymbol(ctx, userID, symbolID, func(sym *domain.MonitoredSymbol) error {
		if !sym.TriggerStatus.CanTransition(domain.StatusOrderPlaced) {
			return &domain.ErrIllegalTransition{From: sym.TriggerStatus, To: domain.StatusOrderPlaced}
		}
		sym.TriggerStatus = domain.StatusOrderPlaced
		sym.OrderPlaced = true
		sym.EntryOrderID = orderID
		sym.OrderStatus = "PENDING"
		sym.Pending = nil
		sym.LastUpdated = time.Now()
		return nil
	})
}

// RecordOrderModification appends one modification-history entry and moves
// the symbol to ORDER_MODIFIED. The history append and the status change are
// a single atomic unit; a failed append applies nothing.
func (s *MonitoringService) RecordOrderModification(ctx context.Context, userID, symbolID string, mod domain.OrderModification) (*domain.MonitoredSymbol, error) {
	if mod.OldOrderID == "" || mod.NewOrderID == "" {
		return nil, ErrIncompleteModification
	}
	return s.UpdateSymbol(ctx, userID, symbolID, func(sym *domain.MonitoredSymbol) error {
		if !sym.TriggerStatus.CanTransition(domain.StatusOrderModified) {
			return &domain.ErrIllegalTransition{From: sym.TriggerStatus, To: domain.StatusOrderModified}
		}
		if mod.At.IsZero() {
			mod.At = time.Now()
		}
		sym.TriggerStatus = domain.StatusOrderModified
		sym.OrderModifications = append(sym.OrderModifications, mod)
		sym.OrderModificationCount++
		at := mod.At
		sym.OrderModifiedAt = &at
		sym.EntryOrderID = mod.NewOrderID
		sym.LastUpdated = at
		return nil
	})
}

// ApplyTrailingStop recomputes the trailing stop for a position at the given
// price. The stop only ever advances in the position's favor: it activates
// once price has moved strictly more than trailingX beyond entry, then
// re-ratchets on every advance of at least trailingY past the last ratchet
// point, moving the stop to price-trailingX (long) or price+trailingX
// (short). Each move appends one slModifications entry in the same atomic
// update. Returns the position and whether the stop moved.
func (s *MonitoringService) ApplyTrailingStop(ctx context.Context, userID, positionID string, price float64) (*domain.ActivePosition, bool, error) {
	moved := false
	pos, err := s.UpdatePosition(ctx, userID, positionID, func(pos *domain.ActivePosition) error {
		pos.CurrentPrice = price
		pos.UnrealizedPnL = pos.FavorableMove(price) * pos.Quantity
		if pos.Invested > 0 {
			pos.PnLPercent = pos.UnrealizedPnL / pos.Invested * 100
		}

		if !pos.UseTrailingStoploss || !pos.Status.Open() {
			return nil
		}

		var candidate float64
		if pos.Direction == domain.DirectionSell {
			candidate = price + pos.TrailingX
		} else {
			candidate = price - pos.TrailingX
		}

		if !pos.TrailingActivated {
			if pos.FavorableMove(price) <= pos.TrailingX {
				return nil
			}
		} else {
			advance := pos.LastRatchetPrice - price
			if pos.Direction == domain.DirectionBuy {
				advance = price - pos.LastRatchetPrice
			}
			if advance < pos.TrailingY {
				return nil
			}
		}

		// Never loosen.
		if pos.StopLoss != 0 {
			if pos.Direction == domain.DirectionBuy && candidate <= pos.StopLoss {
				return nil
			}
			if pos.Direction == domain.DirectionSell && candidate >= pos.StopLoss {
				return nil
			}
		}

		pos.SLModifications = append(pos.SLModifications, domain.StopLossModification{
			At:          time.Now(),
			OldStopLoss: pos.StopLoss,
			NewStopLoss: candidate,
			Reason:      reasonTrailingUpdate,
			OrderID:     pos.ExitOrderID,
		})
		pos.StopLoss = candidate
		pos.TrailingActivated = true
		pos.LastRatchetPrice = price
		moved = true
		return nil
	})
	return pos, moved, err
}

// SetStopLoss applies an explicit stop-loss change. This is the only path
// allowed to loosen a stop, and it always records the manual reason.
func (s *MonitoringService) SetStopLoss(ctx context.Context, userID, positionID string, newStop float64, orderID string) (*domain.ActivePosition, error) {
	return s.UpdatePosition(ctx, userID, positionID, func(pos *domain.ActivePosition) error {
		if !pos.Status.Open() {
			return ErrPositionNotOpen
		}
		pos.SLModifications = append(pos.SLModifications, domain.StopLossModification{
			At:          time.Now(),
			OldStopLoss: pos.StopLoss,
			NewStopLoss: newStop,
			Reason:      reasonManualUpdate,
			OrderID:     orderID,
		})
		pos.StopLoss = newStop
		return nil
	})
}

// ClosePosition finalizes a position: exit fields, realized PnL, Closed
// status, and the user's cumulative counters, all persisted together.
func (s *MonitoringService) ClosePosition(ctx context.Context, userID, positionID string, exitPrice float64, exitOrderID string) (*domain.ActivePosition, error) {
	pos, err := s.UpdatePosition(ctx, userID, positionID, func(pos *domain.ActivePosition) error {
		if !pos.Status.Open() && pos.Status != domain.PositionTargetHit && pos.Status != domain.PositionStopLossHit {
			return ErrPositionNotOpen
		}
		now := time.Now()
		pos.Status = domain.PositionClosed
		pos.ExitPrice = &exitPrice
		pos.ExitTime = &now
		pos.ExitOrderID = exitOrderID
		pos.CurrentPrice = exitPrice
		pos.RealizedPnL = pos.FavorableMove(exitPrice) * pos.Quantity
		pos.UnrealizedPnL = 0
		if pos.Invested > 0 {
			pos.PnLPercent = pos.RealizedPnL / pos.Invested * 100
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.bumpUserCounters(ctx, userID, pos.RealizedPnL); err != nil {
		log.Printf("failed to update counters for user %s: %v", userID, err)
	}
	return pos, nil
}

func (s *MonitoringService) bumpUserCounters(ctx context.Context, userID string, pnl float64) error {
	l := s.lockFor(userID, "_state")
	l.Lock()
	defer l.Unlock()

	state, err := s.repo.GetState(ctx, userID)
	if err != nil {
		return err
	}
	state.TradesExecuted++
	state.TotalPnL += pnl
	return s.repo.SaveState(ctx, state)
}

// RearmForReentry re-arms a symbol after its position closed. The counter
// increments exactly once per re-arm and never exceeds the configured
// maximum; at the limit the symbol is left untouched and ErrReEntryLimit is
// returned.
func (s *MonitoringService) RearmForReentry(ctx context.Context, userID, symbolID string) (*domain.MonitoredSymbol, error) {
	return s.UpdateSymbol(ctx, userID, symbolID, func(sym *domain.MonitoredSymbol) error {
		if sym.ReEntryCount >= sym.MaxReEntries {
			return ErrReEntryLimit
		}
		if !sym.TriggerStatus.CanTransition(domain.StatusWaitingReentry) {
			return &domain.ErrIllegalTransition{From: sym.TriggerStatus, To: domain.StatusWaitingReentry}
		}
		sym.TriggerStatus = domain.StatusWaitingReentry
		sym.ReEntryCount++
		sym.OrderPlaced = false
		sym.EntryOrderID = ""
		sym.ExitOrderID = ""
		sym.OrderStatus = ""
		sym.Pending = nil
		sym.LastUpdated = time.Now()
		return nil
	})
}

// AddSymbol registers a new monitored symbol for the user, starting in
// WAITING_FOR_REVERSAL.
func (s *MonitoringService) AddSymbol(ctx context.Context, userID string, sym *domain.MonitoredSymbol) error {
	if sym.TriggerStatus == "" {
		sym.TriggerStatus = domain.StatusWaitingForReversal
	}
	if !sym.TriggerStatus.Valid() {
		return fmt.Errorf("invalid trigger status %q", sym.TriggerStatus)
	}
	sym.LastUpdated = time.Now()
	return s.repo.SaveSymbol(ctx, userID, sym)
}

// RemoveSymbol drops a symbol from the monitored set (terminal exit).
func (s *MonitoringService) RemoveSymbol(ctx context.Context, userID, symbolID string) error {
	l := s.lockFor(userID, symbolID)
	l.Lock()
	defer l.Unlock()
	return s.repo.RemoveSymbol(ctx, userID, symbolID)
}

// OpenPosition records a freshly filled entry.
func (s *MonitoringService) OpenPosition(ctx context.Context, userID string, pos *domain.ActivePosition) error {
	if pos.Status == "" {
		pos.Status = domain.PositionActive
	}
	if !pos.Status.Valid() {
		return fmt.Errorf("invalid position status %q", pos.Status)
	}
	pos.RecomputeInvested()
	pos.InitialStopLoss = pos.StopLoss
	if pos.EntryTime.IsZero() {
		pos.EntryTime = time.Now()
	}
	if pos.LastRatchetPrice == 0 {
		pos.LastRatchetPrice = pos.BoughtPrice
	}
	return s.repo.SavePosition(ctx, userID, pos)
}

// GetState returns the user's full monitoring state.
func (s *MonitoringService) GetState(ctx context.Context, userID string) (*domain.UserMonitoringState, error) {
	return s.repo.GetState(ctx, userID)
}

// StartMonitoring flips the user's monitoring flag on. Explicit operator
// action, never inferred.
func (s *MonitoringService) StartMonitoring(ctx context.Context, userID string) error {
	l := s.lockFor(userID, "_state")
	l.Lock()
	defer l.Unlock()

	state, err := s.repo.GetState(ctx, userID)
	if err != nil {
		return err
	}
	if state.IsMonitoring {
		return nil
	}
	now := time.Now()
	state.IsMonitoring = true
	state.MonitoringSince = &now
	return s.repo.SaveState(ctx, state)
}

// StopMonitoring flips the user's monitoring flag off.
func (s *MonitoringService) StopMonitoring(ctx context.Context, userID string) error {
	l := s.lockFor(userID, "_state")
	l.Lock()
	defer l.Unlock()

	state, err := s.repo.GetState(ctx, userID)
	if err != nil {
		return err
	}
	state.IsMonitoring = false
	return s.repo.SaveState(ctx, state)
}
