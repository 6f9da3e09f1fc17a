package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTriggerStatusTransitions(t *testing.T) {
	t.Run("happy path to execution", func(t *testing.T) {
		path := []TriggerStatus{
			StatusWaitingForReversal,
			StatusConfirmingReversal,
			StatusWaitingForEntry,
			StatusConfirmingEntry,
			StatusTriggered,
			StatusOrderPlaced,
			StatusExecuted,
			StatusActivePosition,
		}
		for i := 0; i < len(path)-1; i++ {
			assert.True(t, path[i].CanTransition(path[i+1]),
				"%s -> %s should be allowed", path[i], path[i+1])
		}
	})

	t.Run("confirmation fallback", func(t *testing.T) {
		assert.True(t, StatusConfirmingReversal.CanTransition(StatusWaitingForReversal))
		assert.True(t, StatusConfirmingEntry.CanTransition(StatusWaitingForEntry))
	})

	t.Run("forbidden edges", func(t *testing.T) {
		assert.False(t, StatusWaitingForReversal.CanTransition(StatusOrderPlaced))
		assert.False(t, StatusExecuted.CanTransition(StatusWaitingForReversal))
		assert.False(t, StatusOrderRejected.CanTransition(StatusExecuted))
	})

	t.Run("cancelled is terminal", func(t *testing.T) {
		for status := range triggerTransitions {
			assert.False(t, StatusCancelled.CanTransition(status),
				"CANCELLED must not transition to %s", status)
		}
	})

	t.Run("order modified may repeat", func(t *testing.T) {
		assert.True(t, StatusOrderModified.CanTransition(StatusOrderModified))
	})

	t.Run("rejection recovers to waiting for entry", func(t *testing.T) {
		assert.True(t, StatusOrderRejected.CanTransition(StatusWaitingForEntry))
	})
}

func TestTriggerStatusValid(t *testing.T) {
	assert.True(t, StatusTriggered.Valid())
	assert.False(t, TriggerStatus("BOGUS").Valid())
	assert.False(t, TriggerStatus("").Valid())
}

func TestAwaitingConfirmation(t *testing.T) {
	awaiting := []TriggerStatus{
		StatusConfirmingReversal, StatusWaitingForEntry, StatusConfirmingEntry,
		StatusTriggered, StatusConfirmed,
	}
	for _, s := range awaiting {
		assert.True(t, s.AwaitingConfirmation(), "%s should carry pending state", s)
	}

	notAwaiting := []TriggerStatus{
		StatusWaitingForReversal, StatusOrderPlaced, StatusExecuted,
		StatusActivePosition, StatusCancelled,
	}
	for _, s := range notAwaiting {
		assert.False(t, s.AwaitingConfirmation(), "%s should not carry pending state", s)
	}
}

func TestPositionStatusOpen(t *testing.T) {
	assert.True(t, PositionActive.Open())
	assert.True(t, PositionPending.Open())
	assert.False(t, PositionClosed.Open())
	assert.False(t, PositionTargetHit.Open())
	assert.False(t, PositionStopLossHit.Open())
}

func TestFavorableMove(t *testing.T) {
	long := &ActivePosition{Direction: DirectionBuy, BoughtPrice: 100}
	assert.Equal(t, 5.0, long.FavorableMove(105))
	assert.Equal(t, -3.0, long.FavorableMove(97))

	short := &ActivePosition{Direction: DirectionSell, BoughtPrice: 100}
	assert.Equal(t, 5.0, short.FavorableMove(95))
	assert.Equal(t, -3.0, short.FavorableMove(103))
}
