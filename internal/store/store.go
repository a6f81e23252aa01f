package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"RatingWatch/internal/model"
)

// Store persists instrument snapshots and rating changes to SQLite.
// Write serialisation is left to SQLite: WAL keeps readers concurrent
// and busy_timeout makes a second writer wait instead of failing.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them:
	// WAL for concurrent reads while the monitor writes, foreign_keys
	// so pruned snapshots cascade to their rating changes.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite store opened: %s", path)
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol         TEXT NOT NULL,
			retrieved_at   TEXT NOT NULL,
			analyst_rating TEXT,
			price          REAL,
			raw_json       TEXT,
			UNIQUE(symbol, retrieved_at)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_symbol_time ON snapshots(symbol, retrieved_at)`,

		`CREATE TABLE IF NOT EXISTS rating_changes (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol         TEXT NOT NULL,
			changed_at     TEXT NOT NULL,
			old_rating     TEXT,
			new_rating     TEXT,
			price_before   REAL,
			price_after    REAL,
			snapshot_rowid INTEGER,
			FOREIGN KEY(snapshot_rowid) REFERENCES snapshots(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rating_changes_symbol_time ON rating_changes(symbol, changed_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Begin opens a write transaction. The ingest engine runs one per cycle.
func (s *Store) Begin() (*sql.Tx, error) {
	return s.db.Begin()
}

// LastSnapshot is the subset of a snapshot row needed for change detection.
type LastSnapshot struct {
	ID          int64
	Rating      *string
	Price       *float64
	RetrievedAt string
}

// GetLastSnapshot returns the most recent snapshot for the given symbol,
// or nil if the symbol has never been observed.
func (s *Store) GetLastSnapshot(tx *sql.Tx, symbol string) (*LastSnapshot, error) {
	row := tx.QueryRow(`SELECT id, analyst_rating, price, retrieved_at
		FROM snapshots
		WHERE symbol = ?
		ORDER BY retrieved_at DESC
		LIMIT 1`, symbol)

	var snap LastSnapshot
	var rating sql.NullString
	var price sql.NullFloat64
	if err := row.Scan(&snap.ID, &rating, &price, &snap.RetrievedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query last snapshot: %w", err)
	}
	if rating.Valid {
		snap.Rating = &rating.String
	}
	if price.Valid {
		snap.Price = &price.Float64
	}
	return &snap, nil
}

// InsertSnapshot inserts or updates the snapshot keyed by (symbol,
// retrieved_at) and returns the affected row's id on both paths.
func (s *Store) InsertSnapshot(tx *sql.Tx, symbol, retrievedAt string, rating *string, price *float64, raw map[string]any) (int64, error) {
	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return 0, fmt.Errorf("marshal raw record: %w", err)
	}

	var id int64
	err = tx.QueryRow(`INSERT INTO snapshots(symbol, retrieved_at, analyst_rating, price, raw_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol, retrieved_at) DO UPDATE SET
			analyst_rating=excluded.analyst_rating,
			price=excluded.price,
			raw_json=excluded.raw_json
		RETURNING id`,
		symbol, retrievedAt, nullableStr(rating), nullableFloat(price), string(rawJSON),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert snapshot: %w", err)
	}
	return id, nil
}

// InsertRatingChange persists a rating change event and fills in its ID.
func (s *Store) InsertRatingChange(tx *sql.Tx, change *model.RatingChange) error {
	res, err := tx.Exec(`INSERT INTO rating_changes
		(symbol, changed_at, old_rating, new_rating, price_before, price_after, snapshot_rowid)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		change.Symbol,
		model.FormatTime(change.ChangedAt),
		nullableStr(change.OldRating),
		nullableStr(change.NewRating),
		nullableFloat(change.PriceBefore),
		nullableFloat(change.PriceAfter),
		change.SnapshotRowID,
	)
	if err != nil {
		return fmt.Errorf("insert rating change: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("rating change rowid: %w", err)
	}
	change.ID = id
	return nil
}

// FetchRatingChanges returns the total count and a page of rating change
// rows ordered by changed_at descending.
func (s *Store) FetchRatingChanges(limit, offset int) (int, []map[string]any, error) {
	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM rating_changes`).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("count rating changes: %w", err)
	}

	rows, err := s.db.Query(`SELECT id, symbol, changed_at, old_rating, new_rating, price_before, price_after, snapshot_rowid
		FROM rating_changes
		ORDER BY changed_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return 0, nil, fmt.Errorf("query rating changes: %w", err)
	}
	defer rows.Close()

	items := make([]map[string]any, 0, limit)
	for rows.Next() {
		var (
			id, snapshotRowID    int64
			symbol, changedAt    string
			oldRating, newRating sql.NullString
			before, after        sql.NullFloat64
		)
		if err := rows.Scan(&id, &symbol, &changedAt, &oldRating, &newRating, &before, &after, &snapshotRowID); err != nil {
			return 0, nil, fmt.Errorf("scan rating change: %w", err)
		}
		items = append(items, map[string]any{
			"id":             id,
			"symbol":         symbol,
			"changed_at":     changedAt,
			"old_rating":     nullStrValue(oldRating),
			"new_rating":     nullStrValue(newRating),
			"price_before":   nullFloatValue(before),
			"price_after":    nullFloatValue(after),
			"snapshot_rowid": snapshotRowID,
		})
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate rating changes: %w", err)
	}
	return total, items, nil
}

// FetchSymbolHistory returns snapshots for a symbol bounded by optional
// inclusive ISO timestamps. The most recent `limit` rows are returned in
// chronological order (queried descending, then reversed).
func (s *Store) FetchSymbolHistory(symbol string, limit int, start, end string) ([]map[string]any, error) {
	query := `SELECT symbol, retrieved_at, analyst_rating, price FROM snapshots WHERE symbol = ?`
	args := []any{symbol}
	if start != "" {
		query += ` AND retrieved_at >= ?`
		args = append(args, start)
	}
	if end != "" {
		query += ` AND retrieved_at <= ?`
		args = append(args, end)
	}
	query += ` ORDER BY retrieved_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query symbol history: %w", err)
	}
	defer rows.Close()

	items := make([]map[string]any, 0, limit)
	for rows.Next() {
		var (
			sym, retrievedAt string
			rating           sql.NullString
			price            sql.NullFloat64
		)
		if err := rows.Scan(&sym, &retrievedAt, &rating, &price); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		items = append(items, map[string]any{
			"symbol":         sym,
			"retrieved_at":   retrievedAt,
			"analyst_rating": nullStrValue(rating),
			"price":          nullFloatValue(price),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}

	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

// GetLatestSnapshot returns the newest snapshot for a symbol including its
// decoded raw payload, or nil if the symbol is unknown.
func (s *Store) GetLatestSnapshot(symbol string) (map[string]any, error) {
	row := s.db.QueryRow(`SELECT symbol, retrieved_at, analyst_rating, price, raw_json
		FROM snapshots
		WHERE symbol = ?
		ORDER BY retrieved_at DESC
		LIMIT 1`, symbol)

	var (
		sym, retrievedAt string
		rating           sql.NullString
		price            sql.NullFloat64
		rawJSON          sql.NullString
	)
	if err := row.Scan(&sym, &retrievedAt, &rating, &price, &rawJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}

	var raw map[string]any
	if rawJSON.Valid && rawJSON.String != "" {
		if err := json.Unmarshal([]byte(rawJSON.String), &raw); err != nil {
			return nil, fmt.Errorf("decode raw payload: %w", err)
		}
	}
	return map[string]any{
		"symbol":         sym,
		"retrieved_at":   retrievedAt,
		"analyst_rating": nullStrValue(rating),
		"price":          nullFloatValue(price),
		"raw":            raw,
	}, nil
}

// MostRecentSnapshotTime returns the latest retrieved_at across all
// symbols, or "" when the store is empty.
func (s *Store) MostRecentSnapshotTime() (string, error) {
	var ts string
	err := s.db.QueryRow(`SELECT retrieved_at FROM snapshots ORDER BY retrieved_at DESC LIMIT 1`).Scan(&ts)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query latest snapshot time: %w", err)
	}
	return ts, nil
}

// PruneSnapshotsBefore deletes snapshots older than the given ISO cutoff.
// Dependent rating changes are removed by the cascading foreign key.
// A prune may run while an ingest transaction is open; SQLite serialises
// the writers and busy_timeout absorbs the wait.
func (s *Store) PruneSnapshotsBefore(cutoff string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM snapshots WHERE retrieved_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	log.Println("[INFO] closing sqlite store")
	return s.db.Close()
}

func nullableStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullStrValue(v sql.NullString) any {
	if !v.Valid {
		return nil
	}
	return v.String
}

func nullFloatValue(v sql.NullFloat64) any {
	if !v.Valid {
		return nil
	}
	return v.Float64
}
