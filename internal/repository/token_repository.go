package repository

import (
	"sync"
)

// DeviceToken is one registered push target.
type DeviceToken struct {
	Token     string
	Platform  string // "android" or "ios"
	CreatedAt int64
}

// TokenRepository manages per-user device tokens for push notifications.
type TokenRepository struct {
	tokens map[string]map[string]*DeviceToken // userID -> token -> DeviceToken
	mu     sync.RWMutex
}

func NewTokenRepository() *TokenRepository {
	return &TokenRepository{
		tokens: make(map[string]map[string]*DeviceToken),
	}
}

// RegisterToken adds or updates a device token for the user.
func (r *TokenRepository) RegisterToken(userID, token, platform string, timestamp int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byToken, ok := r.tokens[userID]
	if !ok {
		byToken = make(map[string]*DeviceToken)
		r.tokens[userID] = byToken
	}
	byToken[token] = &DeviceToken{
		Token:     token,
		Platform:  platform,
		CreatedAt: timestamp,
	}
}

// UnregisterToken removes a device token.
func (r *TokenRepository) UnregisterToken(userID, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if byToken, ok := r.tokens[userID]; ok {
		delete(byToken, token)
		if len(byToken) == 0 {
			delete(r.tokens, userID)
		}
	}
}

// TokensForUser returns the user's registered tokens.
func (r *TokenRepository) TokensForUser(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byToken := r.tokens[userID]
	tokens := make([]string, 0, len(byToken))
	for token := range byToken {
		tokens = append(tokens, token)
	}
	return tokens
}

// CountForUser returns the number of tokens registered for the user.
func (r *TokenRepository) CountForUser(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tokens[userID])
}
