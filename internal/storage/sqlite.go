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

	"dayorder/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; modernc serializes anyway and this avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	if _, err := db.Exec(migrationsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log, pruneEvery: 500}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor, chat_id, action, target, detail, err, surface)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Actor, e.ChatID, e.Action,
		nullStr(e.Target), nullStr(e.Detail), nullStr(e.Error), nullStr(e.Surface),
	)
	return err
}

func (s *sqliteStore) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, actor, chat_id, action, target, detail, err, surface
		 FROM audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var at string
		var target, detail, errStr, surface sql.NullString
		if err := rows.Scan(&at, &e.Actor, &e.ChatID, &e.Action, &target, &detail, &errStr, &surface); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.Target, e.Detail, e.Error, e.Surface = target.String, detail.String, errStr.String, surface.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutOverride(ctx context.Context, o CalendarOverride) error {
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendar_override(date, day_order, holiday, note, updated_by, updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(date) DO UPDATE SET
		   day_order=excluded.day_order, holiday=excluded.holiday, note=excluded.note,
		   updated_by=excluded.updated_by, updated_at=excluded.updated_at`,
		o.Date, o.DayOrder, boolInt(o.Holiday), nullStr(o.Note), nullStr(o.UpdatedBy),
		o.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) DeleteOverride(ctx context.Context, date string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM calendar_override WHERE date = ?`, date)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) ListOverrides(ctx context.Context) ([]CalendarOverride, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, day_order, holiday, note, updated_by, updated_at
		 FROM calendar_override ORDER BY date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CalendarOverride
	for rows.Next() {
		var (
			o         CalendarOverride
			holiday   int
			note, by  sql.NullString
			updatedAt string
		)
		if err := rows.Scan(&o.Date, &o.DayOrder, &holiday, &note, &by, &updatedAt); err != nil {
			return nil, err
		}
		o.Holiday = holiday != 0
		o.Note, o.UpdatedBy = note.String, by.String
		o.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if _, perr := s.db.ExecContext(pctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli()); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
