package oauth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Token is the credential a provider issued for a device. TokenSecret is
// only used by OAuth 1.0; RefreshToken and Expiry only by OAuth 2.0.
type Token struct {
	DeviceID     string
	Version      string
	AccessToken  string
	TokenSecret  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
	UpdatedAt    time.Time
}

// Usable reports whether the token can authorise requests without a new
// authorisation: it has not expired, or it can be refreshed.
func (t *Token) Usable(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	if t.Expiry.IsZero() || t.RefreshToken != "" {
		return true
	}
	return now.Before(t.Expiry)
}

// TokenStore persists device tokens.
type TokenStore interface {
	Save(ctx context.Context, token *Token) error
	Load(ctx context.Context, deviceID string) (*Token, error)
	Delete(ctx context.Context, deviceID string) error
}

// SQLiteTokenStore implements TokenStore on the oauth_tokens table.
type SQLiteTokenStore struct {
	db *sql.DB
}

var _ TokenStore = (*SQLiteTokenStore)(nil)

// NewSQLiteTokenStore creates a token store on db.
func NewSQLiteTokenStore(db *sql.DB) *SQLiteTokenStore {
	return &SQLiteTokenStore{db: db}
}

// Save upserts the token for token.DeviceID.
func (s *SQLiteTokenStore) Save(ctx context.Context, token *Token) error {
	var expiry sql.NullString
	if !token.Expiry.IsZero() {
		expiry = sql.NullString{String: token.Expiry.UTC().Format(time.RFC3339), Valid: true}
	}
	token.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oauth_tokens (device_id, version, access_token, token_secret, refresh_token, token_type, expiry, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(device_id) DO UPDATE SET
		   version = excluded.version,
		   access_token = excluded.access_token,
		   token_secret = excluded.token_secret,
		   refresh_token = excluded.refresh_token,
		   token_type = excluded.token_type,
		   expiry = excluded.expiry,
		   updated_at = excluded.updated_at`,
		token.DeviceID, token.Version, token.AccessToken,
		nullString(token.TokenSecret), nullString(token.RefreshToken), nullString(token.TokenType),
		expiry, token.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving oauth token: %w", err)
	}
	return nil
}

// Load returns the token stored for deviceID.
func (s *SQLiteTokenStore) Load(ctx context.Context, deviceID string) (*Token, error) {
	var t Token
	var secret, refresh, tokenType, expiry sql.NullString
	var updatedAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT device_id, version, access_token, token_secret, refresh_token, token_type, expiry, updated_at
		 FROM oauth_tokens WHERE device_id = ?`, deviceID,
	).Scan(&t.DeviceID, &t.Version, &t.AccessToken, &secret, &refresh, &tokenType, &expiry, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading oauth token: %w", err)
	}

	t.TokenSecret = secret.String
	t.RefreshToken = refresh.String
	t.TokenType = tokenType.String
	if expiry.Valid {
		t.Expiry, _ = time.Parse(time.RFC3339, expiry.String) //nolint:errcheck // format is controlled
	}
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	return &t, nil
}

// Delete removes the token for deviceID. Deleting a missing token is not
// an error.
func (s *SQLiteTokenStore) Delete(ctx context.Context, deviceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE device_id = ?`, deviceID); err != nil {
		return fmt.Errorf("deleting oauth token: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
