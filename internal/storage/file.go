package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"dayorder/pkg/logx"
)

const dedupCompactEvery = 1000

// fileStore keeps everything in memory and mirrors it to files:
//   - <prefix>.audit.jsonl         append-only
//   - <prefix>.calendar.json       full override set, rewritten atomically
//   - <prefix>.dedup.snapshot.json compacted dedup state
//   - <prefix>.dedup.journal.jsonl dedup appends since the last compaction
type fileStore struct {
	log logx.Logger
	mu  sync.Mutex

	auditPath string
	auditFile *os.File

	calendarPath string
	overrides    map[string]CalendarOverride

	dedupSnapshotPath string
	dedupJournal      *os.File
	dedup             map[string]int64 // unix milli
	dedupWrites       int
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	prefix := filepath.Join(dir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))

	s := &fileStore{
		log:               log,
		auditPath:         prefix + ".audit.jsonl",
		calendarPath:      prefix + ".calendar.json",
		dedupSnapshotPath: prefix + ".dedup.snapshot.json",
		overrides:         map[string]CalendarOverride{},
		dedup:             map[string]int64{},
	}

	if err := readJSONFile(s.calendarPath, &s.overrides); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read calendar overrides: %w", err)
	}
	if err := readJSONFile(s.dedupSnapshotPath, &s.dedup); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("dedup snapshot unreadable, starting empty", logx.Err(err))
	}
	journalPath := prefix + ".dedup.journal.jsonl"
	if err := replayDedupJournal(journalPath, s.dedup); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("dedup journal replay failed", logx.Err(err))
	}
	if s.overrides == nil {
		s.overrides = map[string]CalendarOverride{}
	}
	if s.dedup == nil {
		s.dedup = map[string]int64{}
	}
	pruneExpiredDedup(s.dedup, time.Now())

	var err error
	if s.auditFile, err = os.OpenFile(s.auditPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600); err != nil {
		return nil, err
	}
	if s.dedupJournal, err = os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600); err != nil {
		_ = s.auditFile.Close()
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	if s.dedupJournal != nil {
		errs = append(errs, s.dedupJournal.Close())
		s.dedupJournal = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

// ListAudit returns the newest entries first.
func (s *fileStore) ListAudit(_ context.Context, limit int) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil, ErrClosed
	}
	f, err := os.Open(s.auditPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if json.Unmarshal(sc.Bytes(), &e) == nil {
			all = append(all, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	out := make([]AuditEntry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, all[i])
	}
	return out, nil
}

func (s *fileStore) PutOverride(_ context.Context, o CalendarOverride) error {
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	prev, had := s.overrides[o.Date]
	s.overrides[o.Date] = o
	if err := writeJSONAtomic(s.calendarPath, s.overrides); err != nil {
		if had {
			s.overrides[o.Date] = prev
		} else {
			delete(s.overrides, o.Date)
		}
		return err
	}
	return nil
}

func (s *fileStore) DeleteOverride(_ context.Context, date string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return false, ErrClosed
	}
	prev, had := s.overrides[date]
	if !had {
		return false, nil
	}
	delete(s.overrides, date)
	if err := writeJSONAtomic(s.calendarPath, s.overrides); err != nil {
		s.overrides[date] = prev
		return false, err
	}
	return true, nil
}

func (s *fileStore) ListOverrides(_ context.Context) ([]CalendarOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CalendarOverride, 0, len(s.overrides))
	for _, o := range s.overrides {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournal == nil {
		return ErrClosed
	}
	s.dedup[key] = ms
	if err := json.NewEncoder(s.dedupJournal).Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%dedupCompactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok || key == "" {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// compactLocked folds the journal into the snapshot and truncates it.
func (s *fileStore) compactLocked() error {
	pruneExpiredDedup(s.dedup, time.Now())
	if err := writeJSONAtomic(s.dedupSnapshotPath, s.dedup); err != nil {
		return err
	}
	if err := s.dedupJournal.Truncate(0); err != nil {
		return err
	}
	_, err := s.dedupJournal.Seek(0, 2)
	return err
}

func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSONFile(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r dedupRecord
		if json.Unmarshal(sc.Bytes(), &r) != nil || r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return sc.Err()
}

func pruneExpiredDedup(m map[string]int64, now time.Time) {
	cutoff := now.UnixMilli()
	for k, v := range m {
		if v < cutoff {
			delete(m, k)
		}
	}
}
