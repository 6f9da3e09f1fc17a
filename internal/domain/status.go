package domain

import "fmt"

// TriggerStatus is the lifecycle phase of a monitored symbol. Transitions
// are restricted to the table below; anything else is rejected at the API
// boundary instead of silently accepting an arbitrary string.
type TriggerStatus string

const (
	StatusWaitingForReversal TriggerStatus = "WAITING_FOR_REVERSAL"
	StatusConfirmingReversal TriggerStatus = "CONFIRMING_REVERSAL"
	StatusWaitingForEntry    TriggerStatus = "WAITING_FOR_ENTRY"
	StatusConfirmingEntry    TriggerStatus = "CONFIRMING_ENTRY"
	StatusTriggered          TriggerStatus = "TRIGGERED"
	StatusConfirmed          TriggerStatus = "CONFIRMED"
	StatusOrderPlaced        TriggerStatus = "ORDER_PLACED"
	StatusOrderModified      TriggerStatus = "ORDER_MODIFIED"
	StatusOrderRejected      TriggerStatus = "ORDER_REJECTED"
	StatusExecuted           TriggerStatus = "EXECUTED"
	StatusActivePosition     TriggerStatus = "ACTIVE_POSITION"
	StatusWaitingReentry     TriggerStatus = "WAITING_REENTRY"
	StatusCancelled          TriggerStatus = "CANCELLED"
)

// triggerTransitions lists the allowed successor states per state.
// CANCELLED is terminal. Confirmation phases may fall back to their
// waiting phase when the window expires without confirmation.
var triggerTransitions = map[TriggerStatus][]TriggerStatus{
	StatusWaitingForReversal: {StatusConfirmingReversal, StatusCancelled},
	StatusConfirmingReversal: {StatusWaitingForEntry, StatusWaitingForReversal, StatusCancelled},
	StatusWaitingForEntry:    {StatusConfirmingEntry, StatusWaitingForReversal, StatusCancelled},
	StatusConfirmingEntry:    {StatusTriggered, StatusWaitingForEntry, StatusCancelled},
	StatusTriggered:          {StatusConfirmed, StatusOrderPlaced, StatusCancelled},
	StatusConfirmed:          {StatusOrderPlaced, StatusCancelled},
	StatusOrderPlaced:        {StatusOrderModified, StatusExecuted, StatusOrderRejected, StatusCancelled},
	StatusOrderModified:      {StatusOrderModified, StatusExecuted, StatusOrderRejected, StatusCancelled},
	StatusOrderRejected:      {StatusWaitingForEntry, StatusCancelled},
	StatusExecuted:           {StatusActivePosition},
	StatusActivePosition:     {StatusWaitingReentry, StatusCancelled},
	StatusWaitingReentry:     {StatusWaitingForReversal, StatusCancelled},
	StatusCancelled:          {},
}

// Valid reports whether s is a known trigger status.
func (s TriggerStatus) Valid() bool {
	_, ok := triggerTransitions[s]
	return ok
}

// CanTransition reports whether moving from s to next is an allowed edge.
func (s TriggerStatus) CanTransition(next TriggerStatus) bool {
	for _, allowed := range triggerTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AwaitingConfirmation reports whether the symbol may carry a pending
// signal sub-document in this phase.
func (s TriggerStatus) AwaitingConfirmation() bool {
	switch s {
	case StatusConfirmingReversal, StatusWaitingForEntry, StatusConfirmingEntry, StatusTriggered, StatusConfirmed:
		return true
	}
	return false
}

// ErrIllegalTransition wraps an attempted transition that the table forbids.
type ErrIllegalTransition struct {
	From TriggerStatus
	To   TriggerStatus
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal trigger transition %s -> %s", e.From, e.To)
}

// PositionStatus is the lifecycle state of an active position.
type PositionStatus string

const (
	PositionActive      PositionStatus = "Active"
	PositionPending     PositionStatus = "Pending"
	PositionTargetHit   PositionStatus = "Target Hit"
	PositionStopLossHit PositionStatus = "Stop Loss Hit"
	PositionClosed      PositionStatus = "Closed"
)

func (s PositionStatus) Valid() bool {
	switch s {
	case PositionActive, PositionPending, PositionTargetHit, PositionStopLossHit, PositionClosed:
		return true
	}
	return false
}

// Open reports whether the position still needs price monitoring.
func (s PositionStatus) Open() bool {
	return s == PositionActive || s == PositionPending
}
