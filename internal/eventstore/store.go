package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tarz-one/Companion/internal/config"
	"github.com/tarz-one/Companion/internal/protocol"
)

// Utterance is a recorded final transcript.
type Utterance struct {
	ID         int64
	SessionID  string
	Text       string
	Confidence float64
	CreatedAt  time.Time
}

// Detection is a recorded keyword hit.
type Detection struct {
	ID        int64
	SessionID string
	Keyword   string
	Term      string
	Address   string
	CreatedAt time.Time
}

// Store keeps a SQLite timeline of what the installation heard and which
// triggers fired. With retention_mode=ephemeral nothing is persisted.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS utterances (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    text TEXT NOT NULL,
    confidence REAL,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS detections (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    keyword TEXT NOT NULL,
    term TEXT,
    address TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_utterances_session_created ON utterances(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_detections_session_created ON detections(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_detections_keyword ON detections(keyword);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordUtterance appends a final transcript to the timeline.
func (s *Store) RecordUtterance(ctx context.Context, sessionID, text string, confidence float64) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO utterances(session_id, text, confidence, created_at) VALUES(?, ?, ?, ?)`,
		sessionID, text, confidence, s.clock().UTC())
	return err
}

// RecordDetection appends a keyword hit to the timeline.
func (s *Store) RecordDetection(ctx context.Context, d protocol.Detection) error {
	if s.db == nil {
		return nil
	}
	created := d.Timestamp
	if created.IsZero() {
		created = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO detections(session_id, keyword, term, address, created_at) VALUES(?, ?, ?, ?, ?)`,
		d.SessionID, d.Keyword, d.Term, d.Address, created.UTC())
	return err
}

// RecentDetections returns up to limit detections, newest first. With a
// non-empty sessionID the result is scoped to that utterance session.
func (s *Store) RecentDetections(ctx context.Context, sessionID string, limit int) ([]Detection, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, session_id, keyword, term, address, created_at
	          FROM detections`
	args := []interface{}{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var detections []Detection
	for rows.Next() {
		var d Detection
		var created string
		if err := rows.Scan(&d.ID, &d.SessionID, &d.Keyword, &d.Term, &d.Address, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			d.CreatedAt = ts
		}
		detections = append(detections, d)
	}
	return detections, rows.Err()
}

// SessionUtterances retrieves up to limit utterances for a session ordered
// ascending by time.
func (s *Store) SessionUtterances(ctx context.Context, sessionID string, limit int) ([]Utterance, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, text, confidence, created_at
		 FROM utterances WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var utterances []Utterance
	for rows.Next() {
		var u Utterance
		var created string
		if err := rows.Scan(&u.ID, &u.SessionID, &u.Text, &u.Confidence, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			u.CreatedAt = ts
		}
		utterances = append(utterances, u)
	}
	return utterances, rows.Err()
}

// Prune applies configured retention: by age and by utterance row count.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC()
		if _, err = tx.ExecContext(ctx, `DELETE FROM utterances WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM detections WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxUtterances > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM utterances WHERE id IN (
			SELECT id FROM utterances ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxUtterances); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
