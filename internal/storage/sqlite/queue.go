package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/skysched/vertiport/internal/uam"
	"github.com/skysched/vertiport/pkg/logger"
)

// RankedEntry is one row of the landing queue: a vehicle id, its priority
// score, and the most recent telemetry detail. Detail entries expire on a
// TTL independent of the score entry, so Detail may be nil for a live score
// row; readers must tolerate and filter such entries.
type RankedEntry struct {
	UAMID  string
	Score  float64
	Detail *uam.Telemetry
}

// QueueStorage is a SQLite-based store for the priority-ranked landing queue
// and the landed-vehicle ledger.
type QueueStorage struct {
	db        *sql.DB
	detailTTL time.Duration
	logger    *logger.Logger
}

// NewQueueStorage opens (or creates) the queue database at dbPath.
//
// Score entries carry no TTL while detail entries do, so ranking state left
// over from a previous process lifetime is unreliable: all queue tables are
// cleared on startup rather than merged.
func NewQueueStorage(dbPath string, detailTTL time.Duration, log *logger.Logger) (*QueueStorage, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing queue storage",
		logger.String("path", dbPath),
		logger.Duration("detail_ttl", detailTTL))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool limits
	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	// Set pragmas for better performance and concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	storage := &QueueStorage{
		db:        db,
		detailTTL: detailTTL,
		logger:    storageLogger,
	}

	if err := storage.reset(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// Close closes the database connection
func (s *QueueStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// initSchema initializes the database schema
func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ranked_entries (
			uam_id TEXT PRIMARY KEY,
			score REAL NOT NULL,
			seq INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create ranked_entries table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS ranked_details (
			uam_id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create ranked_details table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS landed_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uam_id TEXT NOT NULL,
			landed_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create landed_records table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_ranked_entries_score ON ranked_entries(score DESC, seq ASC)`)
	if err != nil {
		return fmt.Errorf("failed to create ranked_entries index: %w", err)
	}

	return nil
}

// reset clears all queue state left over from a previous process lifetime.
func (s *QueueStorage) reset() error {
	for _, table := range []string{"ranked_entries", "ranked_details", "landed_records"} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	s.logger.Info("Cleared queue state from previous run")
	return nil
}

// Upsert atomically writes the score entry and the detail entry for a
// vehicle. The detail row receives a fresh TTL on every write; the score row
// keeps its original insertion sequence so equal scores rank
// earliest-inserted-first.
func (s *QueueStorage) Upsert(uamID string, score float64, detail uam.Telemetry) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("failed to marshal detail for %s: %w", uamID, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin upsert transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO ranked_entries (uam_id, score, seq)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM ranked_entries))
		ON CONFLICT(uam_id) DO UPDATE SET score = excluded.score
	`, uamID, score)
	if err != nil {
		return fmt.Errorf("failed to upsert score for %s: %w", uamID, err)
	}

	expiresAt := time.Now().Add(s.detailTTL).UnixMilli()
	_, err = tx.Exec(`
		INSERT INTO ranked_details (uam_id, payload, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(uam_id) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at
	`, uamID, string(payload), expiresAt)
	if err != nil {
		return fmt.Errorf("failed to upsert detail for %s: %w", uamID, err)
	}

	return tx.Commit()
}

// TopK returns up to k entries ordered by descending score, ties broken by
// insertion order. Entries whose detail has expired are returned with a nil
// Detail.
func (s *QueueStorage) TopK(k int) ([]RankedEntry, error) {
	now := time.Now().UnixMilli()

	// Expired detail rows are garbage; drop them opportunistically.
	if _, err := s.db.Exec("DELETE FROM ranked_details WHERE expires_at < ?", now); err != nil {
		s.logger.Warn("Failed to purge expired details", logger.Error(err))
	}

	rows, err := s.db.Query(`
		SELECT r.uam_id, r.score, d.payload
		FROM ranked_entries r
		LEFT JOIN ranked_details d ON d.uam_id = r.uam_id AND d.expires_at >= ?
		ORDER BY r.score DESC, r.seq ASC
		LIMIT ?
	`, now, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query top entries: %w", err)
	}
	defer rows.Close()

	var entries []RankedEntry
	for rows.Next() {
		var entry RankedEntry
		var payload sql.NullString
		if err := rows.Scan(&entry.UAMID, &entry.Score, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan ranked entry: %w", err)
		}
		if payload.Valid {
			var detail uam.Telemetry
			if err := json.Unmarshal([]byte(payload.String), &detail); err != nil {
				s.logger.Warn("Discarding unreadable detail payload",
					logger.String("uam_id", entry.UAMID),
					logger.Error(err))
			} else {
				entry.Detail = &detail
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Remove deletes both the score entry and the detail entry for a vehicle.
// Removing an absent id is a no-op.
func (s *QueueStorage) Remove(uamID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin remove transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM ranked_entries WHERE uam_id = ?", uamID); err != nil {
		return fmt.Errorf("failed to remove score for %s: %w", uamID, err)
	}
	if _, err := tx.Exec("DELETE FROM ranked_details WHERE uam_id = ?", uamID); err != nil {
		return fmt.Errorf("failed to remove detail for %s: %w", uamID, err)
	}

	return tx.Commit()
}

// Count returns the number of score entries currently in the queue.
func (s *QueueStorage) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM ranked_entries").Scan(&count)
	return count, err
}

// AppendLanded appends one record to the landed ledger.
func (s *QueueStorage) AppendLanded(rec uam.LandedRecord) error {
	_, err := s.db.Exec(
		"INSERT INTO landed_records (uam_id, landed_at) VALUES (?, ?)",
		rec.UAMID, rec.LandedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append landed record for %s: %w", rec.UAMID, err)
	}
	return nil
}

// LandedNewest returns the full ledger ordered newest first.
func (s *QueueStorage) LandedNewest() ([]uam.LandedRecord, error) {
	rows, err := s.db.Query("SELECT uam_id, landed_at FROM landed_records ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query landed records: %w", err)
	}
	defer rows.Close()

	var records []uam.LandedRecord
	for rows.Next() {
		var rec uam.LandedRecord
		if err := rows.Scan(&rec.UAMID, &rec.LandedAt); err != nil {
			return nil, fmt.Errorf("failed to scan landed record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
