package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"monitor-backend/internal/domain"
	"monitor-backend/internal/usecase"
)

type MonitoringHandler struct {
	monitoring *usecase.MonitoringService
}

func NewMonitoringHandler(monitoring *usecase.MonitoringService) *MonitoringHandler {
	return &MonitoringHandler{
		monitoring: monitoring,
	}
}

func writeMonitoringError(w http.ResponseWriter, err error) {
	var illegal *domain.ErrIllegalTransition
	switch {
	case errors.As(err, &illegal), errors.Is(err, usecase.ErrReEntryLimit):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, usecase.ErrSymbolNotFound), errors.Is(err, usecase.ErrPositionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, usecase.ErrOrderIDRequired), errors.Is(err, usecase.ErrIncompleteModification),
		errors.Is(err, usecase.ErrPositionNotOpen):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return "", false
	}
	return userID, true
}

// HandleGetState returns the user's full monitoring state.
func (h *MonitoringHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	state, err := h.monitoring.GetState(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, state)
}

// HandleStartMonitoring flips the user's monitoring flag on.
func (h *MonitoringHandler) HandleStartMonitoring(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.monitoring.StartMonitoring(r.Context(), userID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]bool{"monitoring": true})
}

// HandleStopMonitoring flips the user's monitoring flag off.
func (h *MonitoringHandler) HandleStopMonitoring(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.monitoring.StopMonitoring(r.Context(), userID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]bool{"monitoring": false})
}

// HandleAddSymbol registers a new symbol for monitoring.
func (h *MonitoringHandler) HandleAddSymbol(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var sym domain.MonitoredSymbol
	if err := json.NewDecoder(r.Body).Decode(&sym); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if sym.ID == "" || sym.Symbol == "" {
		http.Error(w, "id and symbol are required", http.StatusBadRequest)
		return
	}

	if err := h.monitoring.AddSymbol(r.Context(), userID, &sym); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, &sym)
}

// HandleRemoveSymbol drops a symbol from the monitored set.
func (h *MonitoringHandler) HandleRemoveSymbol(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	symbolID := r.URL.Query().Get("symbolId")
	if symbolID == "" {
		http.Error(w, "symbolId is required", http.StatusBadRequest)
		return
	}

	if err := h.monitoring.RemoveSymbol(r.Context(), userID, symbolID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]bool{"removed": true})
}

type transitionRequest struct {
	SymbolID string               `json:"symbolId"`
	Status   domain.TriggerStatus `json:"status"`
}

// HandleTransition moves a symbol along the trigger state machine.
func (h *MonitoringHandler) HandleTransition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SymbolID == "" || !req.Status.Valid() {
		http.Error(w, "symbolId and a valid status are required", http.StatusBadRequest)
		return
	}

	sym, err := h.monitoring.Transition(r.Context(), userID, req.SymbolID, req.Status)
	if err != nil {
		writeMonitoringError(w, err)
		return
	}
	writeJSON(w, sym)
}

type pendingSignalRequest struct {
	SymbolID string                `json:"symbolId"`
	Pending  *domain.PendingSignal `json:"pending"`
}

// HandleSetPendingSignal installs or clears the transient confirmation state.
func (h *MonitoringHandler) HandleSetPendingSignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req pendingSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SymbolID == "" {
		http.Error(w, "symbolId is required", http.StatusBadRequest)
		return
	}

	sym, err := h.monitoring.SetPendingSignal(r.Context(), userID, req.SymbolID, req.Pending)
	if err != nil {
		writeMonitoringError(w, err)
		return
	}
	writeJSON(w, sym)
}

type orderPlacedRequest struct {
	SymbolID string `json:"symbolId"`
	OrderID  string `json:"orderId"`
}

// HandleMarkOrderPlaced records that the entry order went out.
func (h *MonitoringHandler) HandleMarkOrderPlaced(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req orderPlacedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SymbolID == "" {
		http.Error(w, "symbolId is required", http.StatusBadRequest)
		return
	}

	sym, err := h.monitoring.MarkOrderPlaced(r.Context(), userID, req.SymbolID, req.OrderID)
	if err != nil {
		writeMonitoringError(w, err)
		return
	}
	writeJSON(w, sym)
}

type orderModificationRequest struct {
	SymbolID     string                   `json:"symbolId"`
	Modification domain.OrderModification `json:"modification"`
}

// HandleRecordOrderModification appends one order modification atomically
// with the status change.
func (h *MonitoringHandler) HandleRecordOrderModification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req orderModificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SymbolID == "" {
		http.Error(w, "symbolId is required", http.StatusBadRequest)
		return
	}

	sym, err := h.monitoring.RecordOrderModification(r.Context(), userID, req.SymbolID, req.Modification)
	if err != nil {
		writeMonitoringError(w, err)
		return
	}
	writeJSON(w, sym)
}

// HandleOpenPosition records a freshly filled entry as an active position.
func (h *MonitoringHandler) HandleOpenPosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var pos domain.ActivePosition
	if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if pos.ID == "" || pos.Symbol == "" {
		http.Error(w, "id and symbol are required", http.StatusBadRequest)
		return
	}

	if err := h.monitoring.OpenPosition(r.Context(), userID, &pos); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, &pos)
}

type priceTickRequest struct {
	PositionID string  `json:"positionId"`
	Price      float64 `json:"price"`
}

// HandlePriceTick feeds one price observation through the trailing stop.
func (h *MonitoringHandler) HandlePriceTick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req priceTickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PositionID == "" || req.Price <= 0 {
		http.Error(w, "positionId and a positive price are required", http.StatusBadRequest)
		return
	}

	pos, moved, err := h.monitoring.ApplyTrailingStop(r.Context(), userID, req.PositionID, req.Price)
	if err != nil {
		writeMonitoringError(w, err)
		return
	}
	writeJSON(w, map[string]any{"position": pos, "stopMoved": moved})
}

type stopLossRequest struct {
	PositionID string  `json:"positionId"`
	StopLoss   float64 `json:"stopLoss"`
	OrderID    string  `json:"orderId"`
}

// HandleSetStopLoss applies an explicit stop-loss change.
func (h *MonitoringHandler) HandleSetStopLoss(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req stopLossRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PositionID == "" {
		http.Error(w, "positionId is required", http.StatusBadRequest)
		return
	}

	pos, err := h.monitoring.SetStopLoss(r.Context(), userID, req.PositionID, req.StopLoss, req.OrderID)
	if err != nil {
		writeMonitoringError(w, err)
		return
	}
	writeJSON(w, pos)
}

type closePositionRequest struct {
	PositionID  string  `json:"positionId"`
	ExitPrice   float64 `json:"exitPrice"`
	ExitOrderID string  `json:"exitOrderId"`
}

// HandleClosePosition finalizes a position.
func (h *MonitoringHandler) HandleClosePosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req closePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PositionID == "" {
		http.Error(w, "positionId is required", http.StatusBadRequest)
		return
	}

	pos, err := h.monitoring.ClosePosition(r.Context(), userID, req.PositionID, req.ExitPrice, req.ExitOrderID)
	if err != nil {
		writeMonitoringError(w, err)
		return
	}
	writeJSON(w, pos)
}

type rearmRequest struct {
	SymbolID string `json:"symbolId"`
}

// HandleRearm re-arms a symbol for re-entry after its position closed.
func (h *MonitoringHandler) HandleRearm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req rearmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SymbolID == "" {
		http.Error(w, "symbolId is required", http.StatusBadRequest)
		return
	}

	sym, err := h.monitoring.RearmForReentry(r.Context(), userID, req.SymbolID)
	if err != nil {
		writeMonitoringError(w, err)
		return
	}
	writeJSON(w, sym)
}
