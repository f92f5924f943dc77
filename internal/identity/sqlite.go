package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on the device_identities table.
type SQLiteStore struct {
	db *sql.DB

	// mu serialises LookupOrAssign so concurrent onlines of the same
	// address agree on one identifier.
	mu sync.Mutex
}

var (
	_ Store     = (*SQLiteStore)(nil)
	_ SpecCache = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a store on db. The schema comes from the hub's
// migrations.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Lookup returns the identifier stored for hwAddr.
func (s *SQLiteStore) Lookup(ctx context.Context, hwAddr string) (string, bool, error) {
	if hwAddr == "" {
		return "", false, ErrInvalidAddress
	}
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT device_id FROM device_identities WHERE hardware_address = ?`, hwAddr,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up identity: %w", err)
	}
	return id, true, nil
}

// Assign upserts the identifier for hwAddr.
func (s *SQLiteStore) Assign(ctx context.Context, hwAddr, id string) error {
	if err := validate(hwAddr, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(ctx, hwAddr, id)
}

func (s *SQLiteStore) insert(ctx context.Context, hwAddr, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO device_identities (hardware_address, device_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(hardware_address) DO UPDATE SET device_id = excluded.device_id, updated_at = excluded.updated_at`,
		hwAddr, id, now, now,
	)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrIDInUse
		}
		return fmt.Errorf("assigning identity: %w", err)
	}
	return nil
}

// Remove deletes the row for hwAddr, including any cached specification.
func (s *SQLiteStore) Remove(ctx context.Context, hwAddr string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM device_identities WHERE hardware_address = ?`, hwAddr,
	); err != nil {
		return fmt.Errorf("removing identity: %w", err)
	}
	return nil
}

// LookupOrAssign returns the stored identifier or creates one.
func (s *SQLiteStore) LookupOrAssign(ctx context.Context, hwAddr string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok, err := s.Lookup(ctx, hwAddr)
	if err != nil || ok {
		return id, false, err
	}
	id = NewID()
	if err := s.insert(ctx, hwAddr, id); err != nil {
		return "", false, err
	}
	return id, true, nil
}

// SaveSpec caches the JSON specification for an assigned address.
func (s *SQLiteStore) SaveSpec(ctx context.Context, hwAddr string, spec []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE device_identities SET spec = ?, updated_at = ? WHERE hardware_address = ?`,
		string(spec), time.Now().UTC().Format(time.RFC3339), hwAddr,
	)
	if err != nil {
		return fmt.Errorf("caching specification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports rows affected
		return ErrInvalidAddress
	}
	return nil
}

// LoadSpec returns the cached specification, if any.
func (s *SQLiteStore) LoadSpec(ctx context.Context, hwAddr string) ([]byte, bool, error) {
	var spec sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT spec FROM device_identities WHERE hardware_address = ?`, hwAddr,
	).Scan(&spec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading cached specification: %w", err)
	}
	if !spec.Valid {
		return nil, false, nil
	}
	return []byte(spec.String), true, nil
}
