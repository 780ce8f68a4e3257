package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"dispatch/internal/model"
)

var (
	// ErrNotFound is returned when a lookup by id or name matches nothing.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateName is returned when a collection name is already taken.
	ErrDuplicateName = errors.New("name already exists")
)

const (
	// Secure file permissions - owner read/write only
	secureFileMode = 0600 // -rw-------
	secureDirMode  = 0700 // drwx------

	// DefaultHistoryLimit is the number of history rows surfaced by GetHistory.
	DefaultHistoryLimit = 50
)

// ensureSecureFile creates a file with secure permissions if it doesn't exist,
// or verifies/fixes permissions if it does exist.
func ensureSecureFile(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, secureFileMode)
		if err != nil {
			return fmt.Errorf("failed to create secure file: %w", err)
		}
		return f.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	if info.Mode().Perm() != secureFileMode {
		if err := os.Chmod(path, secureFileMode); err != nil {
			return fmt.Errorf("failed to set secure permissions: %w", err)
		}
	}
	return nil
}

// SQLiteStorage is the durable store for history, collections and aliases.
// Every read hands back freshly scanned values.
type SQLiteStorage struct {
	db *sql.DB
}

// NewStorage opens (and if needed creates) the database at dbPath.
func NewStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), secureDirMode); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Create the file up front so it never exists with default permissions.
	if err := ensureSecureFile(dbPath); err != nil {
		return nil, err
	}

	// Pragmas go in the DSN so every pooled connection enforces foreign keys.
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		request_body TEXT DEFAULT '',
		request_headers TEXT DEFAULT '[]',
		response_body TEXT DEFAULT '',
		response_headers TEXT DEFAULT '',
		status TEXT DEFAULT '',
		time TEXT DEFAULT '',
		size INTEGER DEFAULT 0,
		timestamp DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS collections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS collection_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		collection_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		body TEXT DEFAULT '',
		headers TEXT DEFAULT '[]',
		FOREIGN KEY (collection_id) REFERENCES collections(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_collection_items_collection ON collection_items(collection_id);

	CREATE TABLE IF NOT EXISTS aliases (
		name TEXT PRIMARY KEY,
		url TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// =============================================================================
// History Operations
// =============================================================================

const historyColumns = `id, method, url, request_body, request_headers,
	response_body, response_headers, status, time, size, timestamp`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistoryItem(row rowScanner) (model.HistoryItem, error) {
	var item model.HistoryItem
	err := row.Scan(
		&item.ID, &item.Method, &item.URL, &item.RequestBody, &item.RequestHeaders,
		&item.ResponseBody, &item.ResponseHeaders, &item.Status, &item.Time,
		&item.Size, &item.Timestamp,
	)
	return item, err
}

// SaveExchange appends an exchange to history and returns its id. The
// timestamp is set here when the caller leaves it zero.
func (s *SQLiteStorage) SaveExchange(item model.HistoryItem) (int64, error) {
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now().UTC()
	}

	result, err := s.db.Exec(`
		INSERT INTO history (
			method, url, request_body, request_headers,
			response_body, response_headers, status, time, size, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.Method, item.URL, item.RequestBody, item.RequestHeaders,
		item.ResponseBody, item.ResponseHeaders, item.Status, item.Time, item.Size, item.Timestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save exchange: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get history ID: %w", err)
	}
	return id, nil
}

// GetHistory returns the newest limit rows, newest first. Older rows stay in
// the table and remain reachable through GetHistoryItem.
func (s *SQLiteStorage) GetHistory(limit int) ([]model.HistoryItem, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.db.Query(`SELECT `+historyColumns+` FROM history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	items := []model.HistoryItem{}
	for rows.Next() {
		item, err := scanHistoryItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetHistoryItem gets a specific exchange by ID
func (s *SQLiteStorage) GetHistoryItem(id int64) (model.HistoryItem, error) {
	row := s.db.QueryRow(`SELECT `+historyColumns+` FROM history WHERE id = ?`, id)
	item, err := scanHistoryItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.HistoryItem{}, fmt.Errorf("history item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.HistoryItem{}, fmt.Errorf("failed to get history item: %w", err)
	}
	return item, nil
}

// CountHistory returns the total number of stored rows, including the ones
// beyond the read-time cap.
func (s *SQLiteStorage) CountHistory() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM history`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}

// ClearHistory clears all history
func (s *SQLiteStorage) ClearHistory() error {
	if _, err := s.db.Exec("DELETE FROM history"); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// =============================================================================
// Collection Operations
// =============================================================================

// CreateCollection creates a new collection. Names are unique.
func (s *SQLiteStorage) CreateCollection(name string) (model.Collection, error) {
	result, err := s.db.Exec("INSERT INTO collections (name) VALUES (?)", name)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Collection{}, fmt.Errorf("collection %q: %w", name, ErrDuplicateName)
		}
		return model.Collection{}, fmt.Errorf("failed to create collection: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return model.Collection{}, fmt.Errorf("failed to get collection ID: %w", err)
	}
	return model.Collection{ID: id, Name: name}, nil
}

// GetCollections lists collections ordered by name.
func (s *SQLiteStorage) GetCollections() ([]model.Collection, error) {
	rows, err := s.db.Query("SELECT id, name FROM collections ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to load collections: %w", err)
	}
	defer rows.Close()

	cols := []model.Collection{}
	for rows.Next() {
		var c model.Collection
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// GetCollectionByName looks a collection up by its unique name.
func (s *SQLiteStorage) GetCollectionByName(name string) (model.Collection, error) {
	var c model.Collection
	err := s.db.QueryRow("SELECT id, name FROM collections WHERE name = ?", name).Scan(&c.ID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Collection{}, fmt.Errorf("collection %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return model.Collection{}, fmt.Errorf("failed to get collection: %w", err)
	}
	return c, nil
}

// DeleteCollection deletes a collection; its items go with it.
func (s *SQLiteStorage) DeleteCollection(id int64) error {
	result, err := s.db.Exec("DELETE FROM collections WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("collection %d: %w", id, ErrNotFound)
	}
	return nil
}

// SaveToCollection stores a request template under item.CollectionID.
func (s *SQLiteStorage) SaveToCollection(item model.CollectionItem) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO collection_items (collection_id, name, method, url, body, headers)
		VALUES (?, ?, ?, ?, ?, ?)`,
		item.CollectionID, item.Name, item.Method, item.URL, item.Body, item.Headers)
	if err != nil {
		return 0, fmt.Errorf("failed to save to collection: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get collection item ID: %w", err)
	}
	return id, nil
}

const collectionItemColumns = `id, collection_id, name, method, url, body, headers`

func scanCollectionItem(row rowScanner) (model.CollectionItem, error) {
	var item model.CollectionItem
	err := row.Scan(&item.ID, &item.CollectionID, &item.Name, &item.Method, &item.URL, &item.Body, &item.Headers)
	return item, err
}

// GetCollectionItems lists the items of a collection. Callers must not rely
// on the order.
func (s *SQLiteStorage) GetCollectionItems(collectionID int64) ([]model.CollectionItem, error) {
	rows, err := s.db.Query(`SELECT `+collectionItemColumns+` FROM collection_items WHERE collection_id = ?`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load collection items: %w", err)
	}
	defer rows.Close()

	items := []model.CollectionItem{}
	for rows.Next() {
		item, err := scanCollectionItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan collection item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetCollectionItem gets a saved request by ID
func (s *SQLiteStorage) GetCollectionItem(id int64) (model.CollectionItem, error) {
	row := s.db.QueryRow(`SELECT `+collectionItemColumns+` FROM collection_items WHERE id = ?`, id)
	item, err := scanCollectionItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CollectionItem{}, fmt.Errorf("collection item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.CollectionItem{}, fmt.Errorf("failed to get collection item: %w", err)
	}
	return item, nil
}

// =============================================================================
// Alias Operations
// =============================================================================

// ListAliases returns all aliases ordered by name.
func (s *SQLiteStorage) ListAliases() ([]model.Alias, error) {
	rows, err := s.db.Query("SELECT name, url FROM aliases ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to load aliases: %w", err)
	}
	defer rows.Close()

	aliases := []model.Alias{}
	for rows.Next() {
		var a model.Alias
		if err := rows.Scan(&a.Name, &a.URL); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

// CreateAlias creates an alias, replacing the URL of an existing one.
func (s *SQLiteStorage) CreateAlias(name, baseURL string) error {
	_, err := s.db.Exec(`
		INSERT INTO aliases (name, url) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET url = excluded.url`,
		name, baseURL)
	if err != nil {
		return fmt.Errorf("failed to create alias: %w", err)
	}
	return nil
}

// DeleteAlias deletes an alias
func (s *SQLiteStorage) DeleteAlias(name string) error {
	if _, err := s.db.Exec("DELETE FROM aliases WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to delete alias: %w", err)
	}
	return nil
}

// GetAlias gets an alias URL by name
func (s *SQLiteStorage) GetAlias(name string) (string, bool, error) {
	var baseURL string
	err := s.db.QueryRow("SELECT url FROM aliases WHERE name = ?", name).Scan(&baseURL)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get alias: %w", err)
	}
	return baseURL, true, nil
}
