package config

import (
	"reflect"
	"strings"

	"dayorder/pkg/logx"
)

// SummarizeChange lists the top-level sections that differ between two
// configs, plus safe log fields describing the new values. Tokens are only
// ever reported as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Dashboard, newCfg.Dashboard) {
		changed = append(changed, "dashboard")
		fields = append(fields,
			logx.Bool("dashboard.enabled", newCfg.Dashboard.Enabled),
			logx.String("dashboard.addr", newCfg.Dashboard.Addr),
			logx.Bool("dashboard.token_set", strings.TrimSpace(newCfg.Dashboard.Token) != ""),
			logx.Bool("dashboard.pprof", newCfg.Dashboard.Pprof),
		)
	}
	if !reflect.DeepEqual(oldCfg.Timetable, newCfg.Timetable) {
		changed = append(changed, "timetable")
		if tt := newCfg.Timetable; tt != nil {
			fields = append(fields,
				logx.String("timetable.timezone", tt.Timezone),
				logx.Int("timetable.periods", len(tt.Periods)),
				logx.Int("timetable.days", len(tt.Days)),
				logx.Int("timetable.calendar_entries", len(tt.Calendar)),
			)
		}
	}
	if !reflect.DeepEqual(oldCfg.Announce, newCfg.Announce) {
		changed = append(changed, "announce")
		fields = append(fields,
			logx.Bool("announce.enabled", newCfg.Announce.Enabled),
			logx.String("announce.digest", newCfg.Announce.Digest),
			logx.String("announce.lead", newCfg.Announce.Lead),
		)
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		fields = append(fields,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}
	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, "task_engine")
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		// Storage is opened once at startup; changes need a restart.
		changed = append(changed, "storage")
		fields = append(fields, logx.Bool("storage.restart_required", true))
	}
	return changed, fields
}
