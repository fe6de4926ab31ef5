package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/storefront-notify/internal/model"
)

const metaLastSaved = "last_saved"

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SchemaVersion returns the applied schema version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.GetContext(ctx, &v, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// notificationRow is the database shape of a model.Notification.
type notificationRow struct {
	ID        string         `db:"id"`
	Title     string         `db:"title"`
	Message   string         `db:"message"`
	CreatedAt time.Time      `db:"created_at"`
	Read      bool           `db:"read"`
	OrderID   sql.NullString `db:"order_id"`
	Icon      string         `db:"icon"`
	Data      string         `db:"data"`
	Position  int            `db:"position"`
}

func (r notificationRow) toModel() (model.Notification, error) {
	n := model.Notification{
		ID:        r.ID,
		Title:     r.Title,
		Message:   r.Message,
		CreatedAt: r.CreatedAt.UTC(),
		Read:      r.Read,
		Icon:      r.Icon,
	}
	if r.OrderID.Valid {
		id := r.OrderID.String
		n.OrderID = &id
	}
	if r.Data != "" && r.Data != "{}" && r.Data != "null" {
		if err := json.Unmarshal([]byte(r.Data), &n.Data); err != nil {
			return model.Notification{}, fmt.Errorf("unmarshaling data for notification %s: %w", r.ID, err)
		}
	}
	return n, nil
}

// SaveNotifications replaces the cached list in a single transaction.
// The list order is kept as a tie-breaker for equal timestamps.
func (s *SQLiteStore) SaveNotifications(ctx context.Context, list []model.Notification) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM notifications"); err != nil {
		return fmt.Errorf("clearing notifications: %w", err)
	}

	const query = `
		INSERT OR REPLACE INTO notifications (
			id, title, message, created_at, read,
			order_id, icon, data, position
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for i, n := range list {
		data := "{}"
		if len(n.Data) > 0 {
			raw, err := json.Marshal(n.Data)
			if err != nil {
				return fmt.Errorf("marshaling data for notification %s: %w", n.ID, err)
			}
			data = string(raw)
		}

		var orderID sql.NullString
		if n.OrderID != nil {
			orderID = sql.NullString{String: *n.OrderID, Valid: true}
		}

		_, err = stmt.ExecContext(ctx,
			n.ID, n.Title, n.Message, n.CreatedAt.UTC(), n.Read,
			orderID, n.Icon, data, i,
		)
		if err != nil {
			return fmt.Errorf("inserting notification %s: %w", n.ID, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache_meta (key, value) VALUES (?, ?)",
		metaLastSaved, now,
	); err != nil {
		return fmt.Errorf("recording save time: %w", err)
	}

	return tx.Commit()
}

// LoadNotifications returns the cached list, newest first.
func (s *SQLiteStore) LoadNotifications(ctx context.Context) ([]model.Notification, error) {
	var rows []notificationRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, title, message, created_at, read, order_id, icon, data, position
		FROM notifications
		ORDER BY created_at DESC, position ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}

	list := make([]model.Notification, 0, len(rows))
	for _, r := range rows {
		n, err := r.toModel()
		if err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, nil
}

// LastSaved returns when SaveNotifications last committed.
func (s *SQLiteStore) LastSaved(ctx context.Context) (time.Time, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM cache_meta WHERE key = ?", metaLastSaved)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading last save time: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing last save time %q: %w", value, err)
	}
	return t, nil
}
