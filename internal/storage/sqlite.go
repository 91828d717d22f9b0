//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "slotwatch/pkg/logx"
)

//go:embed migrations.sql
var migrations string

// Rows older than this are pruned every pruneEvery writes.
const retention = 30 * 24 * time.Hour

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	writes     atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log, pruneEvery: 500}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendDispatch(ctx context.Context, e DispatchEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch(at, at_ms, key, chat_id, thread_id, ok, err, bytes, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.At.UnixMilli(), e.Key, e.ChatID, e.ThreadID,
		boolInt(e.OK), nullStr(e.Error), e.Bytes, e.TookMS,
	)
	s.afterWrite(err)
	return err
}

func (s *sqliteStore) AppendPass(ctx context.Context, e PassEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pass(id, at, at_ms, keys, notified, failed, took_ms) VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		e.ID, e.At.Format(time.RFC3339Nano), e.At.UnixMilli(), e.Keys, e.Notified, e.Failed, e.TookMS,
	)
	s.afterWrite(err)
	return err
}

func (s *sqliteStore) afterWrite(err error) {
	if err != nil || s.writes.Add(1)%s.pruneEvery != 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if err := s.pruneExpired(ctx); err != nil {
		s.log.Debug("audit prune failed", logx.Err(err))
	}
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	cutoff := time.Now().Add(-retention).UnixMilli()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dispatch WHERE at_ms < ?`, cutoff); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM pass WHERE at_ms < ?`, cutoff)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
