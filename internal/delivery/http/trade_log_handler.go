package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"monitor-backend/internal/usecase"
)

type TradeLogHandler struct {
	ledger *usecase.TradeLedgerService
}

func NewTradeLogHandler(ledger *usecase.TradeLedgerService) *TradeLogHandler {
	return &TradeLogHandler{
		ledger: ledger,
	}
}

// HandleRecordEvent ingests one lifecycle event from either the app or the
// broker webhook.
func (h *TradeLogHandler) HandleRecordEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var in usecase.RecordEventInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := h.ledger.RecordEvent(r.Context(), in)
	if err != nil {
		if errors.Is(err, usecase.ErrMissingUserID) ||
			errors.Is(err, usecase.ErrMissingOrderID) ||
			errors.Is(err, usecase.ErrInvalidAction) ||
			errors.Is(err, usecase.ErrInvalidSource) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if entry == nil {
		// Dropped by policy; acknowledge without a canonical entry.
		json.NewEncoder(w).Encode(map[string]any{"recorded": false})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"recorded": true, "entry": entry})
}

// HandleListLogs returns the user's ledger entries. With ?date=2026-08-30 it
// returns that calendar day, otherwise the trailing window (?hours=24).
func (h *TradeLogHandler) HandleListLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	var entries any
	var err error
	if date := r.URL.Query().Get("date"); date != "" {
		day, perr := time.ParseInLocation("2006-01-02", date, time.Local)
		if perr != nil {
			http.Error(w, "Invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		entries, err = h.ledger.ListForDay(r.Context(), userID, day)
	} else {
		window := 24 * time.Hour
		if hours := r.URL.Query().Get("hours"); hours != "" {
			if d, perr := time.ParseDuration(hours + "h"); perr == nil && d > 0 {
				window = d
			}
		}
		entries, err = h.ledger.ListRecent(r.Context(), userID, window)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// HandleCleanup removes superseded duplicate rows for the user. Safe to
// re-run; the second pass deletes nothing.
func (h *TradeLogHandler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	result, err := h.ledger.CleanupDuplicateLogs(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
