package module

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Metadata records a module installed from a registry.
type Metadata struct {
	Name        string         `json:"name"`
	Driver      string         `json:"driver"`
	Version     string         `json:"version"`
	Source      string         `json:"source"`
	Options     map[string]any `json:"options,omitempty"`
	InstalledAt time.Time      `json:"installed_at"`
}

// MetadataStore persists installed module metadata.
type MetadataStore interface {
	Save(ctx context.Context, md *Metadata) error
	Get(ctx context.Context, name string) (*Metadata, error)
	List(ctx context.Context) ([]Metadata, error)
	Delete(ctx context.Context, name string) error
}

// SQLiteMetadataStore implements MetadataStore on the modules table.
type SQLiteMetadataStore struct {
	db *sql.DB
}

var _ MetadataStore = (*SQLiteMetadataStore)(nil)

// NewSQLiteMetadataStore creates a store on db.
func NewSQLiteMetadataStore(db *sql.DB) *SQLiteMetadataStore {
	return &SQLiteMetadataStore{db: db}
}

// Save inserts or replaces the row for md.Name.
func (s *SQLiteMetadataStore) Save(ctx context.Context, md *Metadata) error {
	var options sql.NullString
	if len(md.Options) > 0 {
		data, err := json.Marshal(md.Options)
		if err != nil {
			return fmt.Errorf("encoding module options: %w", err)
		}
		options = sql.NullString{String: string(data), Valid: true}
	}
	if md.InstalledAt.IsZero() {
		md.InstalledAt = time.Now().UTC().Truncate(time.Second)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO modules (name, driver, version, source, options, installed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   driver = excluded.driver,
		   version = excluded.version,
		   source = excluded.source,
		   options = excluded.options,
		   installed_at = excluded.installed_at`,
		md.Name, md.Driver, md.Version, md.Source, options, md.InstalledAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving module metadata: %w", err)
	}
	return nil
}

// Get returns the metadata of one module.
func (s *SQLiteMetadataStore) Get(ctx context.Context, name string) (*Metadata, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, driver, version, source, options, installed_at FROM modules WHERE name = ?`, name)
	md, err := scanMetadata(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}
	return md, err
}

// List returns all installed modules ordered by name.
func (s *SQLiteMetadataStore) List(ctx context.Context) ([]Metadata, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, driver, version, source, options, installed_at FROM modules ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing modules: %w", err)
	}
	defer rows.Close()

	var out []Metadata
	for rows.Next() {
		md, err := scanMetadata(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *md)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating modules: %w", err)
	}
	return out, nil
}

// Delete removes the row for name.
func (s *SQLiteMetadataStore) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM modules WHERE name = ?`, name); err != nil {
		return fmt.Errorf("deleting module metadata: %w", err)
	}
	return nil
}

func scanMetadata(scan func(dest ...any) error) (*Metadata, error) {
	var md Metadata
	var options sql.NullString
	var installedAt string
	if err := scan(&md.Name, &md.Driver, &md.Version, &md.Source, &options, &installedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning module metadata: %w", err)
	}
	if options.Valid {
		if err := json.Unmarshal([]byte(options.String), &md.Options); err != nil {
			return nil, fmt.Errorf("decoding module options: %w", err)
		}
	}
	md.InstalledAt, _ = time.Parse(time.RFC3339, installedAt) //nolint:errcheck // format is controlled
	return &md, nil
}
