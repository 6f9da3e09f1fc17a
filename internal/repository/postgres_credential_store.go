package repository

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"time"

	"monitor-backend/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCredentialStore stores broker credentials in Postgres.
// SecretKey is encrypted at rest using AES-GCM with a 32-byte key.
type PostgresCredentialStore struct {
	pool       *pgxpool.Pool
	encryptKey []byte
}

func NewPostgresCredentialStore(pool *pgxpool.Pool, encryptionKey string) *PostgresCredentialStore {
	key := []byte(encryptionKey)
	if len(key) < 32 {
		padded := make([]byte, 32)
		copy(padded, key)
		key = padded
	} else if len(key) > 32 {
		key = key[:32]
	}

	return &PostgresCredentialStore{pool: pool, encryptKey: key}
}

func (r *PostgresCredentialStore) Save(ctx context.Context, cred *domain.BrokerCredentials) error {
	if cred == nil || cred.UserID == "" {
		return errors.New("credentials require a user id")
	}

	encryptedSecret, err := r.encrypt(cred.SecretKey)
	if err != nil {
		return err
	}

	now := time.Now()
	createdAt := cred.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	lastValidated := cred.LastValidated
	if lastValidated.IsZero() {
		lastValidated = time.Unix(0, 0).UTC()
	}

	_, err = r.pool.Exec(ctx, `
		insert into broker_credentials(
			user_id, api_key, secret_key_enc, connected, disconnected_at,
			created_at, updated_at, last_validated
		) values ($1,$2,$3,$4,$5,$6,$7,$8)
		on conflict (user_id) do update set
			api_key        = excluded.api_key,
			secret_key_enc = excluded.secret_key_enc,
			connected      = excluded.connected,
			disconnected_at = excluded.disconnected_at,
			updated_at     = excluded.updated_at
	`,
		cred.UserID,
		cred.APIKey,
		encryptedSecret,
		cred.Connected,
		nullableTime(cred.DisconnectedAt),
		createdAt,
		now,
		lastValidated,
	)
	return err
}

const credentialColumns = `user_id, api_key, secret_key_enc, connected, disconnected_at,
	created_at, updated_at, last_validated`

func (r *PostgresCredentialStore) Get(ctx context.Context, userID string) (*domain.BrokerCredentials, error) {
	row := r.pool.QueryRow(ctx, `
		select `+credentialColumns+` from broker_credentials where user_id = $1
	`, userID)

	cred, err := r.scanCredentials(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCredentialsNotFound
	}
	if err != nil {
		return nil, err
	}
	return cred, nil
}

func (r *PostgresCredentialStore) ListConnected(ctx context.Context) ([]*domain.BrokerCredentials, error) {
	rows, err := r.pool.Query(ctx, `
		select `+credentialColumns+` from broker_credentials where connected order by user_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	creds := make([]*domain.BrokerCredentials, 0)
	for rows.Next() {
		cred, serr := r.scanCredentials(rows)
		if serr != nil {
			return nil, serr
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

func (r *PostgresCredentialStore) MarkDisconnected(ctx context.Context, userID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		update broker_credentials
		set connected = false, disconnected_at = $2, updated_at = now()
		where user_id = $1
	`, userID, at)
	return err
}

func (r *PostgresCredentialStore) MarkConnected(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `
		update broker_credentials
		set connected = true, disconnected_at = null, updated_at = now()
		where user_id = $1
	`, userID)
	return err
}

func (r *PostgresCredentialStore) UpdateLastValidated(ctx context.Context, userID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		update broker_credentials set last_validated = $2 where user_id = $1
	`, userID, at)
	return err
}

func (r *PostgresCredentialStore) scanCredentials(s rowScanner) (*domain.BrokerCredentials, error) {
	var cred domain.BrokerCredentials
	var secretEnc string
	var disconnectedAt pgtype.Timestamptz

	if err := s.Scan(
		&cred.UserID,
		&cred.APIKey,
		&secretEnc,
		&cred.Connected,
		&disconnectedAt,
		&cred.CreatedAt,
		&cred.UpdatedAt,
		&cred.LastValidated,
	); err != nil {
		return nil, err
	}

	secret, err := r.decrypt(secretEnc)
	if err != nil {
		return nil, err
	}
	cred.SecretKey = secret
	if disconnectedAt.Valid {
		t := disconnectedAt.Time
		cred.DisconnectedAt = &t
	}
	return &cred, nil
}

func (r *PostgresCredentialStore) encrypt(plain string) (string, error) {
	block, err := aes.NewCipher(r.encryptKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (r *PostgresCredentialStore) decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(r.encryptKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(raw) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// compile-time check
var _ domain.CredentialStore = (*PostgresCredentialStore)(nil)
