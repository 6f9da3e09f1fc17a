package repository

import (
	"context"
	"errors"
	"sync"

	"monitor-backend/internal/domain"
)

// InMemoryMonitoringRepository stores per-user monitoring state in memory.
// All accessors hand out deep copies so callers can only mutate state
// through an explicit save.
type InMemoryMonitoringRepository struct {
	mu     sync.RWMutex
	states map[string]*domain.UserMonitoringState
}

func NewInMemoryMonitoringRepository() *InMemoryMonitoringRepository {
	return &InMemoryMonitoringRepository{
		states: make(map[string]*domain.UserMonitoringState),
	}
}

func (r *InMemoryMonitoringRepository) state(userID string) *domain.UserMonitoringState {
	st, ok := r.states[userID]
	if !ok {
		st = &domain.UserMonitoringState{
			UserID:    userID,
			Symbols:   []*domain.MonitoredSymbol{},
			Positions: []*domain.ActivePosition{},
		}
		r.states[userID] = st
	}
	return st
}

func (r *InMemoryMonitoringRepository) GetState(_ context.Context, userID string) (*domain.UserMonitoringState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.states[userID]
	if !ok {
		return &domain.UserMonitoringState{
			UserID:    userID,
			Symbols:   []*domain.MonitoredSymbol{},
			Positions: []*domain.ActivePosition{},
		}, nil
	}
	return copyState(st), nil
}

func (r *InMemoryMonitoringRepository) SaveState(_ context.Context, state *domain.UserMonitoringState) error {
	if state == nil || state.UserID == "" {
		return errors.New("state requires a user id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.state(state.UserID)
	saved := copyState(state)
	// Symbol and position rows are owned by their own save paths; SaveState
	// only rewrites the user-level fields.
	saved.Symbols = existing.Symbols
	saved.Positions = existing.Positions
	r.states[state.UserID] = saved
	return nil
}

func (r *InMemoryMonitoringRepository) GetSymbol(_ context.Context, userID, symbolID string) (*domain.MonitoredSymbol, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.states[userID]
	if !ok {
		return nil, nil
	}
	for _, sym := range st.Symbols {
		if sym.ID == symbolID {
			return copySymbol(sym), nil
		}
	}
	return nil, nil
}

func (r *InMemoryMonitoringRepository) SaveSymbol(_ context.Context, userID string, sym *domain.MonitoredSymbol) error {
	if sym == nil || sym.ID == "" {
		return errors.New("symbol requires an id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(userID)
	saved := copySymbol(sym)
	for i, existing := range st.Symbols {
		if existing.ID == sym.ID {
			st.Symbols[i] = saved
			return nil
		}
	}
	st.Symbols = append(st.Symbols, saved)
	return nil
}

func (r *InMemoryMonitoringRepository) RemoveSymbol(_ context.Context, userID, symbolID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[userID]
	if !ok {
		return nil
	}
	for i, sym := range st.Symbols {
		if sym.ID == symbolID {
			st.Symbols = append(st.Symbols[:i], st.Symbols[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *InMemoryMonitoringRepository) GetPosition(_ context.Context, userID, positionID string) (*domain.ActivePosition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.states[userID]
	if !ok {
		return nil, nil
	}
	for _, pos := range st.Positions {
		if pos.ID == positionID {
			return copyPosition(pos), nil
		}
	}
	return nil, nil
}

func (r *InMemoryMonitoringRepository) SavePosition(_ context.Context, userID string, pos *domain.ActivePosition) error {
	if pos == nil || pos.ID == "" {
		return errors.New("position requires an id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(userID)
	saved := copyPosition(pos)
	for i, existing := range st.Positions {
		if existing.ID == pos.ID {
			st.Positions[i] = saved
			return nil
		}
	}
	st.Positions = append(st.Positions, saved)
	return nil
}

func copyState(st *domain.UserMonitoringState) *domain.UserMonitoringState {
	out := *st
	if st.MonitoringSince != nil {
		t := *st.MonitoringSince
		out.MonitoringSince = &t
	}
	out.Symbols = make([]*domain.MonitoredSymbol, len(st.Symbols))
	for i, sym := range st.Symbols {
		out.Symbols[i] = copySymbol(sym)
	}
	out.Positions = make([]*domain.ActivePosition, len(st.Positions))
	for i, pos := range st.Positions {
		out.Positions[i] = copyPosition(pos)
	}
	return &out
}

func copySymbol(sym *domain.MonitoredSymbol) *domain.MonitoredSymbol {
	out := *sym
	if sym.Pending != nil {
		p := *sym.Pending
		out.Pending = &p
	}
	if sym.OrderModifiedAt != nil {
		t := *sym.OrderModifiedAt
		out.OrderModifiedAt = &t
	}
	out.OrderModifications = append([]domain.OrderModification(nil), sym.OrderModifications...)
	return &out
}

func copyPosition(pos *domain.ActivePosition) *domain.ActivePosition {
	out := *pos
	if pos.ExitPrice != nil {
		v := *pos.ExitPrice
		out.ExitPrice = &v
	}
	if pos.ExitTime != nil {
		t := *pos.ExitTime
		out.ExitTime = &t
	}
	out.SLModifications = append([]domain.StopLossModification(nil), pos.SLModifications...)
	return &out
}

// compile-time check
var _ domain.MonitoringRepository = (*InMemoryMonitoringRepository)(nil)
