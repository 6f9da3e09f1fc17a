package usecase

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"monitor-backend/internal/domain"
	"monitor-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureNotifier struct {
	mu      sync.Mutex
	entries []*domain.TradeLogEntry
}

func (n *captureNotifier) NotifyTradeEvent(_ string, entry *domain.TradeLogEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = append(n.entries, entry)
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.entries)
}

func newLedger(policy ReconcilePolicy) (*TradeLedgerService, *repository.InMemoryTradeLogRepository, *captureNotifier) {
	repo := repository.NewInMemoryTradeLogRepository()
	notifier := &captureNotifier{}
	return NewTradeLedgerService(repo, notifier, policy), repo, notifier
}

func placedEvent(source domain.EventSource) RecordEventInput {
	return RecordEventInput{
		UserID:   "u1",
		Action:   domain.ActionOrderPlaced,
		OrderID:  "ord-1",
		Source:   source,
		Symbol:   "NIFTY",
		Side:     "SELL",
		Quantity: 50,
		Price:    101.5,
	}
}

func TestRecordEvent_AppThenBroker(t *testing.T) {
	ledger, repo, notifier := newLedger(ReconcilePolicyDualSource)
	ctx := context.Background()

	first, err := ledger.RecordEvent(ctx, placedEvent(domain.SourceApp))
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, domain.SourceApp, first.Source)

	brokerEvent := placedEvent(domain.SourceBroker)
	brokerEvent.Status = "PENDING"
	second, err := ledger.RecordEvent(ctx, brokerEvent)
	require.NoError(t, err)
	require.NotNil(t, second)

	// Upgraded in place: same identity, BROKER source, broker fields merged.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, domain.SourceBroker, second.Source)
	assert.Equal(t, "PENDING", second.Status)
	assert.Equal(t, "SELL", second.Side)
	assert.Equal(t, string(domain.SourceBroker), second.Details[domain.DetailSource])

	all, err := repo.ListAll(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// Create and upgrade each notify once.
	assert.Equal(t, 2, notifier.count())
}

func TestRecordEvent_BrokerThenApp(t *testing.T) {
	ledger, repo, notifier := newLedger(ReconcilePolicyDualSource)
	ctx := context.Background()

	brokerEvent := placedEvent(domain.SourceBroker)
	brokerEvent.Price = 102.0
	first, err := ledger.RecordEvent(ctx, brokerEvent)
	require.NoError(t, err)

	appEvent := placedEvent(domain.SourceApp)
	appEvent.Price = 999.0
	second, err := ledger.RecordEvent(ctx, appEvent)
	require.NoError(t, err)
	require.NotNil(t, second)

	// The APP echo is discarded; the broker row survives untouched.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, domain.SourceBroker, second.Source)
	assert.Equal(t, 102.0, second.Price)

	all, err := repo.ListAll(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// Discard must not notify.
	assert.Equal(t, 1, notifier.count())
}

func TestRecordEvent_OrderIsCommutative(t *testing.T) {
	ctx := context.Background()

	appEvent := placedEvent(domain.SourceApp)
	brokerEvent := placedEvent(domain.SourceBroker)
	brokerEvent.Status = "PENDING"

	ledgerA, _, _ := newLedger(ReconcilePolicyDualSource)
	_, err := ledgerA.RecordEvent(ctx, appEvent)
	require.NoError(t, err)
	fromAppFirst, err := ledgerA.RecordEvent(ctx, brokerEvent)
	require.NoError(t, err)

	ledgerB, _, _ := newLedger(ReconcilePolicyDualSource)
	_, err = ledgerB.RecordEvent(ctx, brokerEvent)
	require.NoError(t, err)
	fromBrokerFirst, err := ledgerB.RecordEvent(ctx, appEvent)
	require.NoError(t, err)

	// Either arrival order converges on a BROKER-sourced canonical entry
	// with the same business fields.
	assert.Equal(t, domain.SourceBroker, fromAppFirst.Source)
	assert.Equal(t, domain.SourceBroker, fromBrokerFirst.Source)
	assert.Equal(t, fromAppFirst.Symbol, fromBrokerFirst.Symbol)
	assert.Equal(t, fromAppFirst.Side, fromBrokerFirst.Side)
	assert.Equal(t, fromAppFirst.Status, fromBrokerFirst.Status)
}

func TestRecordEvent_IdempotentSameSource(t *testing.T) {
	ledger, repo, notifier := newLedger(ReconcilePolicyDualSource)
	ctx := context.Background()

	_, err := ledger.RecordEvent(ctx, placedEvent(domain.SourceBroker))
	require.NoError(t, err)
	_, err = ledger.RecordEvent(ctx, placedEvent(domain.SourceBroker))
	require.NoError(t, err)

	all, err := repo.ListAll(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, 1, notifier.count())
}

func TestRecordEvent_DistinctActionsDistinctEntries(t *testing.T) {
	ledger, repo, _ := newLedger(ReconcilePolicyDualSource)
	ctx := context.Background()

	_, err := ledger.RecordEvent(ctx, placedEvent(domain.SourceBroker))
	require.NoError(t, err)

	rejected := placedEvent(domain.SourceBroker)
	rejected.Action = domain.ActionOrderRejected
	rejected.Reason = "insufficient margin"
	_, err = ledger.RecordEvent(ctx, rejected)
	require.NoError(t, err)

	all, err := repo.ListAll(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRecordEvent_SideRecovery(t *testing.T) {
	ctx := context.Background()

	t.Run("inherits side from placed entry", func(t *testing.T) {
		ledger, _, _ := newLedger(ReconcilePolicyDualSource)

		_, err := ledger.RecordEvent(ctx, placedEvent(domain.SourceBroker))
		require.NoError(t, err)

		filled := RecordEventInput{
			UserID:  "u1",
			Action:  domain.ActionOrderFilled,
			OrderID: "ord-1",
			Source:  domain.SourceBroker,
		}
		entry, err := ledger.RecordEvent(ctx, filled)
		require.NoError(t, err)
		assert.Equal(t, "SELL", entry.Side)
		assert.Equal(t, "NIFTY", entry.Symbol)
		assert.NotContains(t, entry.Details, domain.DetailSideRecovered)
	})

	t.Run("defaults to BUY when no placed entry exists", func(t *testing.T) {
		ledger, _, _ := newLedger(ReconcilePolicyDualSource)

		filled := RecordEventInput{
			UserID:  "u1",
			Action:  domain.ActionOrderFilled,
			OrderID: "orphan",
			Source:  domain.SourceBroker,
		}
		entry, err := ledger.RecordEvent(ctx, filled)
		require.NoError(t, err)
		assert.Equal(t, "BUY", entry.Side)
		assert.Equal(t, "default", entry.Details[domain.DetailSideRecovered])
	})

	t.Run("explicit side is never overwritten", func(t *testing.T) {
		ledger, _, _ := newLedger(ReconcilePolicyDualSource)

		filled := RecordEventInput{
			UserID:  "u1",
			Action:  domain.ActionOrderFilled,
			OrderID: "orphan",
			Source:  domain.SourceBroker,
			Side:    "SELL",
		}
		entry, err := ledger.RecordEvent(ctx, filled)
		require.NoError(t, err)
		assert.Equal(t, "SELL", entry.Side)
	})
}

func TestRecordEvent_ManualExit(t *testing.T) {
	ledger, _, _ := newLedger(ReconcilePolicyDualSource)
	ctx := context.Background()

	manual := RecordEventInput{
		UserID: "u1",
		Action: domain.ActionPositionClosed,
		Source: domain.SourceApp,
		Symbol: "NIFTY",
		PnL:    -42.5,
	}
	entry, err := ledger.RecordEvent(ctx, manual)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, strings.HasPrefix(entry.OrderID, "manual-"))
	assert.Equal(t, "true", entry.Details[domain.DetailManualExit])
}

func TestRecordEvent_Validation(t *testing.T) {
	ledger, _, _ := newLedger(ReconcilePolicyDualSource)
	ctx := context.Background()

	t.Run("missing user", func(t *testing.T) {
		in := placedEvent(domain.SourceApp)
		in.UserID = ""
		_, err := ledger.RecordEvent(ctx, in)
		assert.ErrorIs(t, err, ErrMissingUserID)
	})

	t.Run("missing order id", func(t *testing.T) {
		in := placedEvent(domain.SourceApp)
		in.OrderID = ""
		_, err := ledger.RecordEvent(ctx, in)
		assert.ErrorIs(t, err, ErrMissingOrderID)
	})

	t.Run("unknown action", func(t *testing.T) {
		in := placedEvent(domain.SourceApp)
		in.Action = "EXPLODED"
		_, err := ledger.RecordEvent(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidAction)
	})

	t.Run("unknown source", func(t *testing.T) {
		in := placedEvent(domain.SourceApp)
		in.Source = "CARRIER_PIGEON"
		_, err := ledger.RecordEvent(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidSource)
	})
}

func TestRecordEvent_BrokerOnlyPolicy(t *testing.T) {
	ledger, repo, notifier := newLedger(ReconcilePolicyBrokerOnly)
	ctx := context.Background()

	t.Run("app events are dropped", func(t *testing.T) {
		entry, err := ledger.RecordEvent(ctx, placedEvent(domain.SourceApp))
		require.NoError(t, err)
		assert.Nil(t, entry)
		assert.Equal(t, 0, notifier.count())
	})

	t.Run("broker events are recorded", func(t *testing.T) {
		entry, err := ledger.RecordEvent(ctx, placedEvent(domain.SourceBroker))
		require.NoError(t, err)
		require.NotNil(t, entry)
	})

	t.Run("manual exits bypass the policy", func(t *testing.T) {
		manual := RecordEventInput{
			UserID: "u1",
			Action: domain.ActionPositionClosed,
			Source: domain.SourceApp,
		}
		entry, err := ledger.RecordEvent(ctx, manual)
		require.NoError(t, err)
		require.NotNil(t, entry)

		all, err := repo.ListAll(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func rawEntry(orderID string, action domain.TradeAction, source domain.EventSource, ts time.Time) *domain.TradeLogEntry {
	return &domain.TradeLogEntry{
		ID:        uuid.NewString(),
		UserID:    "u1",
		Action:    action,
		OrderID:   orderID,
		Source:    source,
		Symbol:    "NIFTY",
		Timestamp: ts,
	}
}

func TestListRecent_PrioritizesBrokerRows(t *testing.T) {
	ledger, repo, _ := newLedger(ReconcilePolicyDualSource)
	ctx := context.Background()
	now := time.Now()

	// Legacy duplicates that predate the dedup rules.
	repo.InsertRaw(rawEntry("ord-1", domain.ActionOrderPlaced, domain.SourceApp, now.Add(-2*time.Minute)))
	repo.InsertRaw(rawEntry("ord-1", domain.ActionOrderPlaced, domain.SourceBroker, now.Add(-1*time.Minute)))
	repo.InsertRaw(rawEntry("ord-2", domain.ActionOrderFilled, domain.SourceApp, now.Add(-30*time.Second)))

	entries, err := ledger.ListRecent(ctx, "u1", time.Hour)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first, and the duplicate group resolved to the BROKER row.
	assert.Equal(t, "ord-2", entries[0].OrderID)
	assert.Equal(t, "ord-1", entries[1].OrderID)
	assert.Equal(t, domain.SourceBroker, entries[1].Source)
}

func TestListForDay_BoundsToCalendarDay(t *testing.T) {
	ledger, repo, _ := newLedger(ReconcilePolicyDualSource)
	ctx := context.Background()

	day := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	repo.InsertRaw(rawEntry("in-day", domain.ActionOrderPlaced, domain.SourceBroker, day))
	repo.InsertRaw(rawEntry("day-before", domain.ActionOrderPlaced, domain.SourceBroker, day.Add(-24*time.Hour)))
	repo.InsertRaw(rawEntry("day-after", domain.ActionOrderPlaced, domain.SourceBroker, day.Add(24*time.Hour)))

	entries, err := ledger.ListForDay(ctx, "u1", day)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "in-day", entries[0].OrderID)
}

func TestCleanupDuplicateLogs(t *testing.T) {
	ledger, repo, _ := newLedger(ReconcilePolicyDualSource)
	ctx := context.Background()
	now := time.Now()

	broker := rawEntry("ord-1", domain.ActionOrderPlaced, domain.SourceBroker, now)
	repo.InsertRaw(rawEntry("ord-1", domain.ActionOrderPlaced, domain.SourceApp, now.Add(-time.Minute)))
	repo.InsertRaw(broker)
	repo.InsertRaw(rawEntry("ord-1", domain.ActionOrderPlaced, domain.SourceApp, now.Add(-2*time.Minute)))
	repo.InsertRaw(rawEntry("ord-2", domain.ActionOrderFilled, domain.SourceApp, now))

	res, err := ledger.CleanupDuplicateLogs(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.GroupsProcessed)
	assert.Equal(t, 2, res.RowsDeleted)

	all, err := repo.ListAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, entry := range all {
		if entry.OrderID == "ord-1" {
			assert.Equal(t, broker.ID, entry.ID, "the BROKER row must survive")
		}
	}

	// Re-running converges: nothing left to delete.
	again, err := ledger.CleanupDuplicateLogs(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.RowsDeleted)
}

func TestUpsert_ConcurrentWritersOneCreate(t *testing.T) {
	repo := repository.NewInMemoryTradeLogRepository()
	ctx := context.Background()

	const writers = 16
	outcomes := make(chan domain.UpsertOutcome, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry := rawEntry("ord-race", domain.ActionOrderPlaced, domain.SourceApp, time.Now())
			outcome, _, err := repo.Upsert(ctx, entry)
			require.NoError(t, err)
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	created := 0
	for outcome := range outcomes {
		if outcome == domain.UpsertCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)

	all, err := repo.ListAll(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
