package config

import "strings"

// Environment variables that override secrets and bind addresses, so the
// config file can be committed without them.
const (
	EnvTelegramToken  = "DAYORDER_TELEGRAM_TOKEN"
	EnvDashboardToken = "DAYORDER_DASHBOARD_TOKEN"
	EnvDashboardAddr  = "DAYORDER_DASHBOARD_ADDR"
	EnvTimezone       = "DAYORDER_TIMEZONE"
)

// applyEnv overlays non-empty environment values onto cfg.
func applyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		return
	}
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvDashboardToken)); v != "" {
		cfg.Dashboard.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvDashboardAddr)); v != "" {
		cfg.Dashboard.Addr = v
	}
	if v := strings.TrimSpace(getenv(EnvTimezone)); v != "" {
		if cfg.Timetable == nil {
			cfg.Timetable = &TimetableConfig{}
		}
		cfg.Timetable.Timezone = v
	}
}
