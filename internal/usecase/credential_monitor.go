package usecase

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"monitor-backend/internal/domain"

	"github.com/jpillora/backoff"
)

// SessionProber performs one lightweight round-trip against the broker to
// confirm a credential is still accepted.
type SessionProber interface {
	CheckSession(ctx context.Context, cred *domain.BrokerCredentials) error
}

// AuthErrorClassifier lets the prober mark errors as definite auth failures
// (e.g. from a structured broker error code) without string matching.
type AuthErrorClassifier interface {
	IsAuthError() bool
}

// authErrorSignatures is the fixed set of broker error fragments treated as
// session expiry. Only these (or a structured auth error) trigger the
// disconnect side effect; transient failures never lock a user out.
var authErrorSignatures = []string{
	"invalid token",
	"token expired",
	"token is expired",
	"session expired",
	"invalid api key",
	"invalid credentials",
	"authentication failed",
	"not authorized",
	"unauthorized",
	"login required",
}

// IsAuthFailure classifies an error against the known expiry signatures.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	var classified AuthErrorClassifier
	if errors.As(err, &classified) {
		return classified.IsAuthError()
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range authErrorSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

type cacheEntry struct {
	valid     bool
	checkedAt time.Time
}

// CredentialMonitor validates broker sessions with a TTL cache and flips the
// credential store to disconnected on classified auth failures. One instance
// per process; the periodic driver is owned by Start/Stop.
type CredentialMonitor struct {
	store        domain.CredentialStore
	prober       SessionProber
	ttl          time.Duration
	probeTimeout time.Duration

	cacheMu sync.RWMutex
	cache   map[string]cacheEntry

	runMu  sync.Mutex
	cancel context.CancelFunc
}

const (
	DefaultValidationTTL      = 5 * time.Minute
	DefaultProbeTimeout       = 10 * time.Second
	DefaultValidationInterval = 30 * time.Minute
)

func NewCredentialMonitor(store domain.CredentialStore, prober SessionProber, ttl, probeTimeout time.Duration) *CredentialMonitor {
	if ttl <= 0 {
		ttl = DefaultValidationTTL
	}
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	return &CredentialMonitor{
		store:        store,
		prober:       prober,
		ttl:          ttl,
		probeTimeout: probeTimeout,
		cache:        make(map[string]cacheEntry),
	}
}

// IsValid reports whether the user's broker session is usable. A verdict is
// reused within the TTL window for the same credential fingerprint; on
// expiry one probe is performed. Transient probe failures return an error so
// the caller can decide to retry; only classified auth failures mark the
// credential disconnected.
func (m *CredentialMonitor) IsValid(ctx context.Context, userID string) (bool, error) {
	cred, err := m.store.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if !cred.Connected {
		return false, nil
	}
	return m.validate(ctx, cred)
}

func (m *CredentialMonitor) validate(ctx context.Context, cred *domain.BrokerCredentials) (bool, error) {
	key := cred.UserID + "|" + cred.Fingerprint()

	m.cacheMu.RLock()
	entry, ok := m.cache[key]
	m.cacheMu.RUnlock()
	if ok && time.Since(entry.checkedAt) < m.ttl {
		return entry.valid, nil
	}

	err := m.probe(ctx, cred)
	if err == nil {
		m.setCache(key, true)
		if uerr := m.store.UpdateLastValidated(ctx, cred.UserID, time.Now()); uerr != nil {
			log.Printf("failed to record validation time for user %s: %v", cred.UserID, uerr)
		}
		return true, nil
	}

	if IsAuthFailure(err) {
		log.Printf("broker session expired for user %s: %v", cred.UserID, err)
		if derr := m.store.MarkDisconnected(ctx, cred.UserID, time.Now()); derr != nil {
			log.Printf("failed to mark user %s disconnected: %v", cred.UserID, derr)
		}
		m.setCache(key, false)
		return false, nil
	}

	// Transient failure: cache the negative verdict for this window but do
	// not lock the user out.
	m.setCache(key, false)
	return false, err
}

// probe runs the session check with a bounded timeout, retrying briefly on
// transient errors. Auth failures are never retried.
func (m *CredentialMonitor) probe(ctx context.Context, cred *domain.BrokerCredentials) error {
	b := &backoff.Backoff{Min: 200 * time.Millisecond, Max: 2 * time.Second, Jitter: true}

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
		err = m.prober.CheckSession(pctx, cred)
		cancel()

		if err == nil || IsAuthFailure(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return err
		}
	}
	return err
}

func (m *CredentialMonitor) setCache(key string, valid bool) {
	m.cacheMu.Lock()
	m.cache[key] = cacheEntry{valid: valid, checkedAt: time.Now()}
	m.cacheMu.Unlock()
}

// ValidateAllConnected validates every user currently flagged connected.
// Each user is validated independently; a failure lands in the summary's
// error list instead of aborting the batch.
func (m *CredentialMonitor) ValidateAllConnected(ctx context.Context) (*domain.ValidationSummary, error) {
	creds, err := m.store.ListConnected(ctx)
	if err != nil {
		return nil, err
	}

	summary := &domain.ValidationSummary{}
	for _, cred := range creds {
		summary.Checked++

		valid, verr := m.validate(ctx, cred)
		switch {
		case verr != nil:
			summary.Errored++
			summary.Errors = append(summary.Errors, domain.ValidationError{UserID: cred.UserID, Err: verr.Error()})
		case valid:
			summary.Valid++
		default:
			summary.Invalid++
		}

		if ctx.Err() != nil {
			break
		}
	}

	log.Printf("credential validation batch: checked=%d valid=%d invalid=%d errored=%d",
		summary.Checked, summary.Valid, summary.Invalid, summary.Errored)
	return summary, nil
}

// Start launches the periodic batch driver. Starting while already running
// cancels the prior timer first, so a process never runs two.
func (m *CredentialMonitor) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultValidationInterval
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := m.ValidateAllConnected(ctx); err != nil {
					log.Printf("credential validation batch failed: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("credential monitor started, interval %s", interval)
}

// Stop cancels the periodic driver. An in-flight batch finishes its current
// user before observing the cancellation.
func (m *CredentialMonitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// InvalidateUser drops any cached verdicts for the user, e.g. after a
// re-authentication.
func (m *CredentialMonitor) InvalidateUser(userID string) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	for key := range m.cache {
		if strings.HasPrefix(key, userID+"|") {
			delete(m.cache, key)
		}
	}
}

// InvalidateAll clears the whole cache.
func (m *CredentialMonitor) InvalidateAll() {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	m.cache = make(map[string]cacheEntry)
}
