package usecase

import (
	"context"
	"testing"
	"time"

	"monitor-backend/internal/domain"
	"monitor-backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMonitoring() (*MonitoringService, *repository.InMemoryMonitoringRepository) {
	repo := repository.NewInMemoryMonitoringRepository()
	return NewMonitoringService(repo), repo
}

func trailingPosition() *domain.ActivePosition {
	return &domain.ActivePosition{
		ID:                  "pos-1",
		Symbol:              "NIFTY",
		Direction:           domain.DirectionBuy,
		Quantity:            50,
		BoughtPrice:         100,
		UseTrailingStoploss: true,
		TrailingX:           20,
		TrailingY:           15,
		Status:              domain.PositionActive,
	}
}

func TestApplyTrailingStop_LongRatchet(t *testing.T) {
	svc, _ := newMonitoring()
	ctx := context.Background()
	require.NoError(t, svc.OpenPosition(ctx, "u1", trailingPosition()))

	t.Run("no activation at exactly trailingX", func(t *testing.T) {
		pos, moved, err := svc.ApplyTrailingStop(ctx, "u1", "pos-1", 120)
		require.NoError(t, err)
		assert.False(t, moved)
		assert.False(t, pos.TrailingActivated)
		assert.Equal(t, 0.0, pos.StopLoss)
	})

	t.Run("activates beyond trailingX", func(t *testing.T) {
		pos, moved, err := svc.ApplyTrailingStop(ctx, "u1", "pos-1", 121)
		require.NoError(t, err)
		assert.True(t, moved)
		assert.True(t, pos.TrailingActivated)
		assert.Equal(t, 101.0, pos.StopLoss)
		assert.Equal(t, 121.0, pos.LastRatchetPrice)
		require.Len(t, pos.SLModifications, 1)
		assert.Equal(t, "trailing stop loss update", pos.SLModifications[0].Reason)
	})

	t.Run("retreat never loosens", func(t *testing.T) {
		pos, moved, err := svc.ApplyTrailingStop(ctx, "u1", "pos-1", 105)
		require.NoError(t, err)
		assert.False(t, moved)
		assert.Equal(t, 101.0, pos.StopLoss)
		assert.Equal(t, 121.0, pos.LastRatchetPrice)
		// Telemetry still updates on a no-move tick.
		assert.Equal(t, 105.0, pos.CurrentPrice)
	})

	t.Run("re-ratchets after trailingY advance", func(t *testing.T) {
		pos, moved, err := svc.ApplyTrailingStop(ctx, "u1", "pos-1", 140)
		require.NoError(t, err)
		assert.True(t, moved)
		assert.Equal(t, 120.0, pos.StopLoss)
		assert.Equal(t, 140.0, pos.LastRatchetPrice)
		assert.Len(t, pos.SLModifications, 2)
	})

	t.Run("small advance below trailingY does nothing", func(t *testing.T) {
		pos, moved, err := svc.ApplyTrailingStop(ctx, "u1", "pos-1", 150)
		require.NoError(t, err)
		assert.False(t, moved)
		assert.Equal(t, 120.0, pos.StopLoss)
	})
}

func TestApplyTrailingStop_Short(t *testing.T) {
	svc, _ := newMonitoring()
	ctx := context.Background()

	pos := trailingPosition()
	pos.ID = "pos-short"
	pos.Direction = domain.DirectionSell
	require.NoError(t, svc.OpenPosition(ctx, "u1", pos))

	got, moved, err := svc.ApplyTrailingStop(ctx, "u1", "pos-short", 79)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, 99.0, got.StopLoss)

	// A bounce upward must not loosen the stop.
	got, moved, err = svc.ApplyTrailingStop(ctx, "u1", "pos-short", 95)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, 99.0, got.StopLoss)
}

func TestApplyTrailingStop_DisabledOrClosed(t *testing.T) {
	svc, _ := newMonitoring()
	ctx := context.Background()

	pos := trailingPosition()
	pos.ID = "pos-off"
	pos.UseTrailingStoploss = false
	require.NoError(t, svc.OpenPosition(ctx, "u1", pos))

	got, moved, err := svc.ApplyTrailingStop(ctx, "u1", "pos-off", 200)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, 0.0, got.StopLoss)
	// PnL telemetry still flows.
	assert.Equal(t, 100.0*50, got.UnrealizedPnL)
}

func TestSetStopLoss_ManualMayLoosen(t *testing.T) {
	svc, _ := newMonitoring()
	ctx := context.Background()

	pos := trailingPosition()
	pos.StopLoss = 110
	require.NoError(t, svc.OpenPosition(ctx, "u1", pos))

	got, err := svc.SetStopLoss(ctx, "u1", "pos-1", 95, "sl-ord-9")
	require.NoError(t, err)
	assert.Equal(t, 95.0, got.StopLoss)
	require.Len(t, got.SLModifications, 1)
	assert.Equal(t, "manual modification", got.SLModifications[0].Reason)
	assert.Equal(t, 110.0, got.SLModifications[0].OldStopLoss)
}

func TestClosePosition(t *testing.T) {
	svc, _ := newMonitoring()
	ctx := context.Background()
	require.NoError(t, svc.OpenPosition(ctx, "u1", trailingPosition()))

	pos, err := svc.ClosePosition(ctx, "u1", "pos-1", 110, "exit-ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionClosed, pos.Status)
	assert.Equal(t, 10.0*50, pos.RealizedPnL)
	assert.Equal(t, 0.0, pos.UnrealizedPnL)
	require.NotNil(t, pos.ExitPrice)
	assert.Equal(t, 110.0, *pos.ExitPrice)
	assert.NotNil(t, pos.ExitTime)

	// Counters are bumped once per close.
	state, err := svc.GetState(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.TradesExecuted)
	assert.Equal(t, 500.0, state.TotalPnL)

	// Closing again fails and leaves the counters alone.
	_, err = svc.ClosePosition(ctx, "u1", "pos-1", 120, "exit-ord-2")
	assert.ErrorIs(t, err, ErrPositionNotOpen)

	state, err = svc.GetState(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.TradesExecuted)
}

func newSymbol(status domain.TriggerStatus) *domain.MonitoredSymbol {
	return &domain.MonitoredSymbol{
		ID:            "sym-1",
		Symbol:        "NIFTY",
		Direction:     domain.DirectionBuy,
		TriggerStatus: status,
		MaxReEntries:  2,
	}
}

func TestTransition(t *testing.T) {
	svc, _ := newMonitoring()
	ctx := context.Background()

	t.Run("legal edge", func(t *testing.T) {
		require.NoError(t, svc.AddSymbol(ctx, "u1", newSymbol(domain.StatusWaitingForReversal)))
		sym, err := svc.Transition(ctx, "u1", "sym-1", domain.StatusConfirmingReversal)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusConfirmingReversal, sym.TriggerStatus)
	})

	t.Run("illegal edge rejected and nothing persisted", func(t *testing.T) {
		_, err := svc.Transition(ctx, "u1", "sym-1", domain.StatusExecuted)
		var illegal *domain.ErrIllegalTransition
		require.ErrorAs(t, err, &illegal)
		assert.Equal(t, domain.StatusConfirmingReversal, illegal.From)

		sym, err := svc.Transition(ctx, "u1", "sym-1", domain.StatusWaitingForEntry)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusWaitingForEntry, sym.TriggerStatus)
	})

	t.Run("unknown symbol", func(t *testing.T) {
		_, err := svc.Transition(ctx, "u1", "nope", domain.StatusCancelled)
		assert.ErrorIs(t, err, ErrSymbolNotFound)
	})
}

func TestPendingSignalLifecycle(t *testing.T) {
	svc, _ := newMonitoring()
	ctx := context.Background()
	require.NoError(t, svc.AddSymbol(ctx, "u1", newSymbol(domain.StatusConfirmingReversal)))

	pending := &domain.PendingSignal{
		Direction:      domain.DirectionBuy,
		TriggeredAt:    time.Now(),
		PriceAtTrigger: 101.5,
	}
	sym, err := svc.SetPendingSignal(ctx, "u1", "sym-1", pending)
	require.NoError(t, err)
	require.NotNil(t, sym.Pending)

	// Falling back to the waiting phase drops the pending sub-document.
	sym, err = svc.Transition(ctx, "u1", "sym-1", domain.StatusWaitingForReversal)
	require.NoError(t, err)
	assert.Nil(t, sym.Pending)

	// A pending signal is rejected outside awaiting-confirmation phases.
	_, err = svc.SetPendingSignal(ctx, "u1", "sym-1", pending)
	assert.Error(t, err)
}

func TestMarkOrderPlaced(t *testing.T) {
	svc, _ := newMonitoring()
	ctx := context.Background()

	sym := newSymbol(domain.StatusTriggered)
	sym.Pending = &domain.PendingSignal{Direction: domain.DirectionBuy}
	require.NoError(t, svc.AddSymbol(ctx, "u1", sym))

	t.Run("requires an order id", func(t *testing.T) {
		_, err := svc.MarkOrderPlaced(ctx, "u1", "sym-1", "")
		assert.ErrorIs(t, err, ErrOrderIDRequired)
	})

	t.Run("one atomic step", func(t *testing.T) {
		got, err := svc.MarkOrderPlaced(ctx, "u1", "sym-1", "ord-7")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusOrderPlaced, got.TriggerStatus)
		assert.True(t, got.OrderPlaced)
		assert.Equal(t, "ord-7", got.EntryOrderID)
		assert.Equal(t, "PENDING", got.OrderStatus)
		assert.Nil(t, got.Pending)
	})
}

func TestRecordOrderModification(t *testing.T) {
	svc, _ := newMonitoring()
	ctx := context.Background()
	require.NoError(t, svc.AddSymbol(ctx, "u1", newSymbol(domain.StatusOrderPlaced)))

	t.Run("requires both order ids", func(t *testing.T) {
		_, err := svc.RecordOrderModification(ctx, "u1", "sym-1", domain.OrderModification{OldOrderID: "ord-1"})
		assert.ErrorIs(t, err, ErrIncompleteModification)
	})

	t.Run("history and status change together", func(t *testing.T) {
		mod := domain.OrderModification{
			OldOrderID:    "ord-1",
			NewOrderID:    "ord-2",
			OldLimitPrice: 101,
			NewLimitPrice: 102,
			Reason:        "hma shifted",
		}
		sym, err := svc.RecordOrderModification(ctx, "u1", "sym-1", mod)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusOrderModified, sym.TriggerStatus)
		assert.Equal(t, 1, sym.OrderModificationCount)
		require.Len(t, sym.OrderModifications, 1)
		assert.Equal(t, "ord-2", sym.EntryOrderID)
		assert.NotNil(t, sym.OrderModifiedAt)

		// Repeated modifications keep appending.
		mod.OldOrderID, mod.NewOrderID = "ord-2", "ord-3"
		sym, err = svc.RecordOrderModification(ctx, "u1", "sym-1", mod)
		require.NoError(t, err)
		assert.Equal(t, 2, sym.OrderModificationCount)
		assert.Len(t, sym.OrderModifications, 2)
	})
}

func TestRearmForReentry(t *testing.T) {
	svc, _ := newMonitoring()
	ctx := context.Background()

	sym := newSymbol(domain.StatusActivePosition)
	sym.MaxReEntries = 1
	sym.OrderPlaced = true
	sym.EntryOrderID = "ord-1"
	require.NoError(t, svc.AddSymbol(ctx, "u1", sym))

	got, err := svc.RearmForReentry(ctx, "u1", "sym-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaitingReentry, got.TriggerStatus)
	assert.Equal(t, 1, got.ReEntryCount)
	assert.False(t, got.OrderPlaced)
	assert.Empty(t, got.EntryOrderID)

	// Walk the symbol back around to another closed position.
	_, err = svc.Transition(ctx, "u1", "sym-1", domain.StatusWaitingForReversal)
	require.NoError(t, err)
	_, err = svc.UpdateSymbol(ctx, "u1", "sym-1", func(s *domain.MonitoredSymbol) error {
		s.TriggerStatus = domain.StatusActivePosition
		return nil
	})
	require.NoError(t, err)

	// At the cap the symbol is left untouched.
	_, err = svc.RearmForReentry(ctx, "u1", "sym-1")
	assert.ErrorIs(t, err, ErrReEntryLimit)

	state, err := svc.GetState(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, state.Symbols, 1)
	assert.Equal(t, 1, state.Symbols[0].ReEntryCount)
	assert.Equal(t, domain.StatusActivePosition, state.Symbols[0].TriggerStatus)
}

func TestStartStopMonitoring(t *testing.T) {
	svc, _ := newMonitoring()
	ctx := context.Background()

	require.NoError(t, svc.StartMonitoring(ctx, "u1"))
	state, err := svc.GetState(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, state.IsMonitoring)
	require.NotNil(t, state.MonitoringSince)
	since := *state.MonitoringSince

	// Starting again keeps the original start time.
	require.NoError(t, svc.StartMonitoring(ctx, "u1"))
	state, err = svc.GetState(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, since, *state.MonitoringSince)

	require.NoError(t, svc.StopMonitoring(ctx, "u1"))
	state, err = svc.GetState(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, state.IsMonitoring)
}

func TestOpenPosition_Defaults(t *testing.T) {
	svc, _ := newMonitoring()
	ctx := context.Background()

	pos := &domain.ActivePosition{
		ID:          "pos-d",
		Symbol:      "NIFTY",
		Direction:   domain.DirectionBuy,
		Quantity:    50,
		BoughtPrice: 100,
		StopLoss:    92,
	}
	require.NoError(t, svc.OpenPosition(ctx, "u1", pos))

	assert.Equal(t, domain.PositionActive, pos.Status)
	assert.Equal(t, 5000.0, pos.Invested)
	assert.Equal(t, 92.0, pos.InitialStopLoss)
	assert.Equal(t, 100.0, pos.LastRatchetPrice)
	assert.False(t, pos.EntryTime.IsZero())
}
