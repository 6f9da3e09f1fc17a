package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"monitor-backend/internal/domain"
	"monitor-backend/internal/repository"
	"monitor-backend/internal/usecase"
)

type CredentialHandler struct {
	store   domain.CredentialStore
	monitor *usecase.CredentialMonitor
}

func NewCredentialHandler(store domain.CredentialStore, monitor *usecase.CredentialMonitor) *CredentialHandler {
	return &CredentialHandler{
		store:   store,
		monitor: monitor,
	}
}

type saveCredentialsRequest struct {
	UserID    string `json:"userId"`
	APIKey    string `json:"apiKey"`
	SecretKey string `json:"secretKey"`
}

type credentialStatusResponse struct {
	UserID         string     `json:"userId"`
	Connected      bool       `json:"connected"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
	LastValidated  time.Time  `json:"lastValidated"`
}

// HandleSaveCredentials stores a new or rotated credential. A saved
// credential starts connected and any cached verdicts for the user are
// dropped.
func (h *CredentialHandler) HandleSaveCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req saveCredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.APIKey == "" || req.SecretKey == "" {
		http.Error(w, "userId, apiKey and secretKey are required", http.StatusBadRequest)
		return
	}

	cred := &domain.BrokerCredentials{
		UserID:    req.UserID,
		APIKey:    req.APIKey,
		SecretKey: req.SecretKey,
		Connected: true,
	}
	if err := h.store.Save(r.Context(), cred); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.monitor.InvalidateUser(req.UserID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"saved": true})
}

// HandleGetStatus reports the credential's connection state. The key material
// is never returned.
func (h *CredentialHandler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	cred, err := h.store.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialsNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(credentialStatusResponse{
		UserID:         cred.UserID,
		Connected:      cred.Connected,
		DisconnectedAt: cred.DisconnectedAt,
		LastValidated:  cred.LastValidated,
	})
}

// HandleValidate checks whether the user's broker session is currently
// usable. Served from the validation cache when fresh.
func (h *CredentialHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	valid, err := h.monitor.IsValid(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialsNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		// Transient probe failure: the verdict is unknown, not invalid.
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"valid": valid})
}

// HandleValidateAll runs a batch validation over every connected user.
func (h *CredentialHandler) HandleValidateAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	summary, err := h.monitor.ValidateAllConnected(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// HandleReconnect flips a disconnected credential back to connected after the
// user re-authenticated with the broker.
func (h *CredentialHandler) HandleReconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	if err := h.store.MarkConnected(r.Context(), userID); err != nil {
		if errors.Is(err, repository.ErrCredentialsNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.monitor.InvalidateUser(userID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"connected": true})
}
