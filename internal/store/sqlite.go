package store

import (
	"context"
	"database/sql"
	"fmt"

	"perf-ingest/internal/model"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

// Store 는 SINK=sqlite 일 때의 로컬 sink. 배치 하나가 트랜잭션 하나.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open 은 path 의 DB 를 열고 테이블을 만든다.
// WAL + busy timeout 으로 "database is locked" 를 피한다.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:  db,
		log: log.With().Str("component", "sqlite").Logger(),
	}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS events(
	  id              INTEGER PRIMARY KEY,
	  ts              INTEGER NOT NULL,
	  event           TEXT    NOT NULL,
	  uuid            TEXT,
	  distinct_id     TEXT,
	  properties_json TEXT    NOT NULL CHECK (json_valid(properties_json))
	);
	CREATE INDEX IF NOT EXISTS idx_events_ts    ON events(ts);
	CREATE INDEX IF NOT EXISTS idx_events_event ON events(event);
	`)
	if err != nil {
		return fmt.Errorf("store: create tables: %w", err)
	}
	return nil
}

// Deliver 는 배치 전체를 한 트랜잭션으로 넣는다. 하나라도 실패하면 전부 롤백.
func (s *Store) Deliver(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events(ts, event, uuid, distinct_id, properties_json) VALUES(?,?,?,?,json(?))`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("store: prepare: %w", err)
	}
	defer stmt.Close()

	for i := range events {
		ev := &events[i]

		props := ev.Properties
		if props == nil {
			props = map[string]any{}
		}
		propsJSON, err := json.Marshal(props)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("store: marshal properties of %q: %w", ev.UUID, err)
		}

		if _, err := stmt.ExecContext(ctx, ev.Ts, ev.Event, ev.UUID, ev.DistinctID, string(propsJSON)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("store: insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	s.log.Debug().Int("events", len(events)).Msg("batch stored")
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
