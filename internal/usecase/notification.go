package usecase

import (
	"fmt"
	"log"

	"monitor-backend/internal/domain"
	"monitor-backend/internal/infrastructure/fcm"
	"monitor-backend/internal/repository"
)

// Pusher delivers a payload to a user's realtime channel, best-effort.
type Pusher interface {
	Push(userID string, payload any) error
}

// TradeNotifier fans each canonical ledger write out to the user's push
// devices and websocket connections. Both legs are fire-and-forget; a
// failure is logged and never surfaced to the ledger write path.
type TradeNotifier struct {
	fcmClient *fcm.Client
	tokenRepo *repository.TokenRepository
	pusher    Pusher
}

func NewTradeNotifier(fcmClient *fcm.Client, tokenRepo *repository.TokenRepository, pusher Pusher) *TradeNotifier {
	return &TradeNotifier{
		fcmClient: fcmClient,
		tokenRepo: tokenRepo,
		pusher:    pusher,
	}
}

func (n *TradeNotifier) NotifyTradeEvent(userID string, entry *domain.TradeLogEntry) {
	title, body := formatTradeMessage(entry)

	if n.fcmClient != nil && n.fcmClient.IsEnabled() && n.tokenRepo != nil {
		tokens := n.tokenRepo.TokensForUser(userID)
		if len(tokens) > 0 {
			data := map[string]string{
				"action":  string(entry.Action),
				"symbol":  entry.Symbol,
				"orderId": entry.OrderID,
				"source":  string(entry.Source),
			}
			if err := n.fcmClient.SendMulticast(tokens, title, body, data); err != nil {
				log.Printf("notification send failed for user %s: %v", userID, err)
			}
		}
	}

	if n.pusher != nil {
		if err := n.pusher.Push(userID, entry); err != nil {
			log.Printf("realtime push failed for user %s: %v", userID, err)
		}
	}
}

func formatTradeMessage(entry *domain.TradeLogEntry) (string, string) {
	var title string
	switch entry.Action {
	case domain.ActionOrderPlaced:
		title = fmt.Sprintf("📋 Order Placed: %s", entry.Symbol)
	case domain.ActionOrderFilled:
		title = fmt.Sprintf("✅ Order Filled: %s", entry.Symbol)
	case domain.ActionOrderRejected:
		title = fmt.Sprintf("❌ Order Rejected: %s", entry.Symbol)
	case domain.ActionOrderModified:
		title = fmt.Sprintf("✏️ Order Modified: %s", entry.Symbol)
	case domain.ActionOrderCancelled:
		title = fmt.Sprintf("🚫 Order Cancelled: %s", entry.Symbol)
	case domain.ActionTargetHit:
		title = fmt.Sprintf("🎯 Target Hit: %s", entry.Symbol)
	case domain.ActionStopLossHit:
		title = fmt.Sprintf("🛑 Stop Loss Hit: %s", entry.Symbol)
	case domain.ActionTrailingUpdate:
		title = fmt.Sprintf("📈 Trailing Stop Updated: %s", entry.Symbol)
	case domain.ActionReEntryAdded:
		title = fmt.Sprintf("🔄 Re-entry Armed: %s", entry.Symbol)
	case domain.ActionPositionClosed:
		title = fmt.Sprintf("🏁 Position Closed: %s", entry.Symbol)
	default:
		title = fmt.Sprintf("%s: %s", entry.Action, entry.Symbol)
	}

	body := fmt.Sprintf("%s %s x%.0f @ %.2f", entry.Side, entry.Symbol, entry.Quantity, entry.Price)
	if entry.Action == domain.ActionPositionClosed || entry.Action == domain.ActionTargetHit || entry.Action == domain.ActionStopLossHit {
		body = fmt.Sprintf("%s | P/L: %.2f (%.2f%%)", body, entry.PnL, entry.PnLPercent)
	}
	return title, body
}

// compile-time check
var _ Notifier = (*TradeNotifier)(nil)
