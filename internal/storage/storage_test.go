package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"dayorder/pkg/logx"
)

func openTestStore(t *testing.T, driver string, path string) Store {
	t.Helper()
	st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	if st == nil {
		t.Fatalf("Open(%s) returned nil store", driver)
	}
	return st
}

func TestOpenDisabled(t *testing.T) {
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver accepted")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatalf("file driver without path accepted")
	}
}

func TestDrivers(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state", "dayorder.db")
			ctx := context.Background()

			st := openTestStore(t, driver, path)
			if err := st.PutOverride(ctx, CalendarOverride{Date: "2025-07-04", DayOrder: 2, Note: "makeup", UpdatedBy: "owner"}); err != nil {
				t.Fatalf("PutOverride: %v", err)
			}
			if err := st.PutOverride(ctx, CalendarOverride{Date: "2025-07-01", Holiday: true}); err != nil {
				t.Fatalf("PutOverride: %v", err)
			}
			if err := st.PutOverride(ctx, CalendarOverride{Date: "2025-07-04", DayOrder: 3}); err != nil {
				t.Fatalf("PutOverride upsert: %v", err)
			}
			if err := st.PutDedup(ctx, "period:2025-07-04:1", time.Now().Add(time.Hour)); err != nil {
				t.Fatalf("PutDedup: %v", err)
			}
			if err := st.AppendAudit(ctx, AuditEntry{Actor: "owner", Action: "calendar.set", Target: "2025-07-04"}); err != nil {
				t.Fatalf("AppendAudit: %v", err)
			}
			if err := st.AppendAudit(ctx, AuditEntry{Actor: "owner", Action: "calendar.clear", Target: "2025-07-01"}); err != nil {
				t.Fatalf("AppendAudit: %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			// Everything survives a reopen.
			st = openTestStore(t, driver, path)
			defer st.Close()

			ovs, err := st.ListOverrides(ctx)
			if err != nil {
				t.Fatalf("ListOverrides: %v", err)
			}
			if len(ovs) != 2 {
				t.Fatalf("overrides = %+v, want 2", ovs)
			}
			if ovs[0].Date != "2025-07-01" || !ovs[0].Holiday {
				t.Fatalf("first override = %+v", ovs[0])
			}
			if ovs[1].Date != "2025-07-04" || ovs[1].DayOrder != 3 || ovs[1].Holiday {
				t.Fatalf("second override = %+v", ovs[1])
			}
			if ovs[1].UpdatedAt.IsZero() {
				t.Fatalf("UpdatedAt not stamped")
			}

			if _, ok, err := st.GetDedup(ctx, "period:2025-07-04:1"); err != nil || !ok {
				t.Fatalf("GetDedup = %v, %v; want hit", ok, err)
			}
			if _, ok, _ := st.GetDedup(ctx, "missing"); ok {
				t.Fatalf("GetDedup(missing) hit")
			}

			audit, err := st.ListAudit(ctx, 1)
			if err != nil {
				t.Fatalf("ListAudit: %v", err)
			}
			if len(audit) != 1 || audit[0].Action != "calendar.clear" {
				t.Fatalf("ListAudit(1) = %+v, want newest calendar.clear", audit)
			}

			existed, err := st.DeleteOverride(ctx, "2025-07-01")
			if err != nil || !existed {
				t.Fatalf("DeleteOverride = %v, %v", existed, err)
			}
			existed, err = st.DeleteOverride(ctx, "2025-07-01")
			if err != nil || existed {
				t.Fatalf("second DeleteOverride = %v, %v", existed, err)
			}
		})
	}
}

func TestFileDedupExpiredPrunedOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.json")
	ctx := context.Background()
	st := openTestStore(t, "file", path)
	if err := st.PutDedup(ctx, "old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	_ = st.Close()

	st = openTestStore(t, "file", path)
	defer st.Close()
	if _, ok, _ := st.GetDedup(ctx, "old"); ok {
		t.Fatalf("expired dedup key survived reopen")
	}
}
