package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"monitor-backend/internal/domain"
	"monitor-backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type authError struct{ msg string }

func (e *authError) Error() string     { return e.msg }
func (e *authError) IsAuthError() bool { return true }

type fakeProber struct {
	mu     sync.Mutex
	calls  int
	errors map[string]error // userID -> error to return
}

func newFakeProber() *fakeProber {
	return &fakeProber{errors: make(map[string]error)}
}

func (p *fakeProber) CheckSession(_ context.Context, cred *domain.BrokerCredentials) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.errors[cred.UserID]
}

func (p *fakeProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProber) failWith(userID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors[userID] = err
}

func seedCredential(t *testing.T, store domain.CredentialStore, userID string) {
	t.Helper()
	require.NoError(t, store.Save(context.Background(), &domain.BrokerCredentials{
		UserID:    userID,
		APIKey:    "key-" + userID,
		SecretKey: "secret-" + userID,
		Connected: true,
	}))
}

func TestIsValid_CachesWithinTTL(t *testing.T) {
	store := repository.NewInMemoryCredentialStore()
	prober := newFakeProber()
	monitor := NewCredentialMonitor(store, prober, time.Minute, time.Second)
	ctx := context.Background()
	seedCredential(t, store, "u1")

	valid, err := monitor.IsValid(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, 1, prober.callCount())

	// Within the TTL the cached verdict is reused without a probe.
	valid, err = monitor.IsValid(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, 1, prober.callCount())

	// A successful probe records the validation time.
	cred, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, cred.LastValidated.IsZero())
}

func TestIsValid_ReprobesAfterTTL(t *testing.T) {
	store := repository.NewInMemoryCredentialStore()
	prober := newFakeProber()
	monitor := NewCredentialMonitor(store, prober, 10*time.Millisecond, time.Second)
	ctx := context.Background()
	seedCredential(t, store, "u1")

	_, err := monitor.IsValid(ctx, "u1")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	_, err = monitor.IsValid(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, prober.callCount())
}

func TestIsValid_AuthFailureDisconnects(t *testing.T) {
	store := repository.NewInMemoryCredentialStore()
	prober := newFakeProber()
	monitor := NewCredentialMonitor(store, prober, time.Minute, time.Second)
	ctx := context.Background()
	seedCredential(t, store, "u1")
	prober.failWith("u1", &authError{msg: "session rejected"})

	valid, err := monitor.IsValid(ctx, "u1")
	require.NoError(t, err, "an auth failure is a verdict, not an error")
	assert.False(t, valid)

	// Auth failures are never retried.
	assert.Equal(t, 1, prober.callCount())

	cred, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, cred.Connected)
	assert.NotNil(t, cred.DisconnectedAt)

	// A disconnected credential short-circuits without probing.
	valid, err = monitor.IsValid(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Equal(t, 1, prober.callCount())
}

func TestIsValid_AuthFailureBySignature(t *testing.T) {
	store := repository.NewInMemoryCredentialStore()
	prober := newFakeProber()
	monitor := NewCredentialMonitor(store, prober, time.Minute, time.Second)
	ctx := context.Background()
	seedCredential(t, store, "u1")
	prober.failWith("u1", errors.New("broker says: Token Expired, please login again"))

	valid, err := monitor.IsValid(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, valid)

	cred, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, cred.Connected)
}

func TestIsValid_TransientFailureKeepsConnected(t *testing.T) {
	store := repository.NewInMemoryCredentialStore()
	prober := newFakeProber()
	monitor := NewCredentialMonitor(store, prober, time.Minute, time.Second)
	ctx := context.Background()
	seedCredential(t, store, "u1")
	prober.failWith("u1", errors.New("connection refused"))

	valid, err := monitor.IsValid(ctx, "u1")
	assert.Error(t, err)
	assert.False(t, valid)

	// Transient errors are retried before giving up.
	assert.Equal(t, 3, prober.callCount())

	// The user stays connected; nothing was classified as expiry.
	cred, gerr := store.Get(ctx, "u1")
	require.NoError(t, gerr)
	assert.True(t, cred.Connected)
}

func TestIsValid_RotatedKeyBypassesCache(t *testing.T) {
	store := repository.NewInMemoryCredentialStore()
	prober := newFakeProber()
	monitor := NewCredentialMonitor(store, prober, time.Minute, time.Second)
	ctx := context.Background()
	seedCredential(t, store, "u1")

	_, err := monitor.IsValid(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, prober.callCount())

	// Rotating the key changes the fingerprint, so the stale verdict does
	// not apply.
	require.NoError(t, store.Save(ctx, &domain.BrokerCredentials{
		UserID:    "u1",
		APIKey:    "rotated",
		SecretKey: "rotated",
		Connected: true,
	}))

	_, err = monitor.IsValid(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, prober.callCount())
}

func TestInvalidateUserForcesReprobe(t *testing.T) {
	store := repository.NewInMemoryCredentialStore()
	prober := newFakeProber()
	monitor := NewCredentialMonitor(store, prober, time.Minute, time.Second)
	ctx := context.Background()
	seedCredential(t, store, "u1")

	_, err := monitor.IsValid(ctx, "u1")
	require.NoError(t, err)
	monitor.InvalidateUser("u1")

	_, err = monitor.IsValid(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, prober.callCount())
}

func TestValidateAllConnected_IsolatesFailures(t *testing.T) {
	store := repository.NewInMemoryCredentialStore()
	prober := newFakeProber()
	monitor := NewCredentialMonitor(store, prober, time.Minute, time.Second)
	ctx := context.Background()

	seedCredential(t, store, "ok")
	seedCredential(t, store, "expired")
	prober.failWith("expired", &authError{msg: "invalid api key"})

	// A disconnected user is not part of the batch.
	seedCredential(t, store, "gone")
	require.NoError(t, store.MarkDisconnected(ctx, "gone", time.Now()))

	summary, err := monitor.ValidateAllConnected(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Checked)
	assert.Equal(t, 1, summary.Valid)
	assert.Equal(t, 1, summary.Invalid)
	assert.Equal(t, 0, summary.Errored)

	cred, err := store.Get(ctx, "expired")
	require.NoError(t, err)
	assert.False(t, cred.Connected)

	cred, err = store.Get(ctx, "ok")
	require.NoError(t, err)
	assert.True(t, cred.Connected)
}

func TestStartStop(t *testing.T) {
	store := repository.NewInMemoryCredentialStore()
	prober := newFakeProber()
	monitor := NewCredentialMonitor(store, prober, time.Minute, time.Second)

	// Start twice then stop; the second start must cancel the first driver
	// and stop must be safe to call repeatedly.
	monitor.Start(time.Hour)
	monitor.Start(time.Hour)
	monitor.Stop()
	monitor.Stop()
}

func TestFingerprintChangesWithKeyMaterial(t *testing.T) {
	a := &domain.BrokerCredentials{UserID: "u1", APIKey: "k1", SecretKey: "s1"}
	b := &domain.BrokerCredentials{UserID: "u1", APIKey: "k1", SecretKey: "s2"}
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
	assert.Equal(t, a.Fingerprint(), (&domain.BrokerCredentials{APIKey: "k1", SecretKey: "s1"}).Fingerprint())
}
