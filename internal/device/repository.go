package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Repository defines the interface for entry and entity persistence.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetEntry retrieves an entry by ID.
	// Returns ErrEntryNotFound if the entry does not exist.
	GetEntry(ctx context.Context, id string) (*Entry, error)

	// GetEntryByUniqueID retrieves an entry by its device unique ID.
	// Returns ErrEntryNotFound if no entry has that unique ID.
	GetEntryByUniqueID(ctx context.Context, uniqueID string) (*Entry, error)

	// ListEntries retrieves all entries.
	ListEntries(ctx context.Context) ([]Entry, error)

	// CreateEntry inserts a new entry.
	// Returns ErrHostInUse if another entry already owns the host.
	CreateEntry(ctx context.Context, e *Entry) error

	// UpdateEntry modifies an existing entry's host, name, MAC and type.
	// Returns ErrEntryNotFound if the entry does not exist.
	UpdateEntry(ctx context.Context, e *Entry) error

	// DeleteEntry removes an entry and all of its entities.
	// Returns ErrEntryNotFound if the entry does not exist.
	DeleteEntry(ctx context.Context, id string) error

	// GetEntityByUniqueID retrieves a registered entity by unique ID.
	// Returns ErrEntityNotFound if it is not registered.
	GetEntityByUniqueID(ctx context.Context, uniqueID string) (*Entity, error)

	// ListEntities retrieves all registered entities.
	ListEntities(ctx context.Context) ([]Entity, error)

	// EntityIDExists reports whether entityID is already taken.
	EntityIDExists(ctx context.Context, entityID string) (bool, error)

	// CreateEntity inserts a new entity registration.
	CreateEntity(ctx context.Context, e *Entity) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with the registry
// migrations applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const entryColumns = `id, unique_id, host, name, mac, device_type, created_at, updated_at`

const entityColumns = `entity_id, unique_id, entry_id, platform, name, created_at`

// GetEntry retrieves an entry by ID.
func (r *SQLiteRepository) GetEntry(ctx context.Context, id string) (*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE id = ?`

	e, err := scanEntry(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("querying entry by id: %w", err)
	}
	return e, nil
}

// GetEntryByUniqueID retrieves an entry by unique ID.
func (r *SQLiteRepository) GetEntryByUniqueID(ctx context.Context, uniqueID string) (*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE unique_id = ?`

	e, err := scanEntry(r.db.QueryRowContext(ctx, query, uniqueID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("querying entry by unique id: %w", err)
	}
	return e, nil
}

// ListEntries retrieves all entries ordered by name.
func (r *SQLiteRepository) ListEntries(ctx context.Context) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return entries, nil
}

// CreateEntry inserts a new entry.
func (r *SQLiteRepository) CreateEntry(ctx context.Context, e *Entry) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	query := `INSERT INTO entries (` + entryColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.UniqueID, e.Host, e.Name, e.MAC, e.DeviceType,
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrHostInUse, e.Host)
		}
		return fmt.Errorf("inserting entry: %w", err)
	}
	return nil
}

// UpdateEntry modifies an existing entry.
func (r *SQLiteRepository) UpdateEntry(ctx context.Context, e *Entry) error {
	e.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE entries
		SET host = ?, name = ?, mac = ?, device_type = ?, updated_at = ?
		WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query,
		e.Host, e.Name, e.MAC, e.DeviceType, formatTime(e.UpdatedAt), e.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrHostInUse, e.Host)
		}
		return fmt.Errorf("updating entry: %w", err)
	}
	return requireAffected(result, ErrEntryNotFound)
}

// DeleteEntry removes an entry and its entities in one transaction.
func (r *SQLiteRepository) DeleteEntry(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE entry_id = ?`, id); err != nil {
		return fmt.Errorf("deleting entities: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	if err := requireAffected(result, ErrEntryNotFound); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

// GetEntityByUniqueID retrieves a registered entity by unique ID.
func (r *SQLiteRepository) GetEntityByUniqueID(ctx context.Context, uniqueID string) (*Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE unique_id = ?`

	e, err := scanEntity(r.db.QueryRowContext(ctx, query, uniqueID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntityNotFound
		}
		return nil, fmt.Errorf("querying entity by unique id: %w", err)
	}
	return e, nil
}

// ListEntities retrieves all entities ordered by entity ID.
func (r *SQLiteRepository) ListEntities(ctx context.Context) ([]Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities ORDER BY entity_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		entities = append(entities, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}
	return entities, nil
}

// EntityIDExists reports whether entityID is registered.
func (r *SQLiteRepository) EntityIDExists(ctx context.Context, entityID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM entities WHERE entity_id = ?`, entityID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking entity id: %w", err)
	}
	return n > 0, nil
}

// CreateEntity inserts a new entity registration.
func (r *SQLiteRepository) CreateEntity(ctx context.Context, e *Entity) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO entities (` + entityColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		e.EntityID, e.UniqueID, e.EntryID, e.Platform, e.Name, formatTime(e.CreatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, e.EntryID)
		}
		return fmt.Errorf("inserting entity: %w", err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var created, updated string
	if err := row.Scan(&e.ID, &e.UniqueID, &e.Host, &e.Name, &e.MAC, &e.DeviceType, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEntity(row rowScanner) (*Entity, error) {
	var e Entity
	var created string
	if err := row.Scan(&e.EntityID, &e.UniqueID, &e.EntryID, &e.Platform, &e.Name, &created); err != nil {
		return nil, err
	}
	var err error
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &e, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func requireAffected(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func isForeignKeyViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
