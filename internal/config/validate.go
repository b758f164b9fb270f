package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"dayorder/internal/timetable"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
			_, err := timetable.ParseTimeOfDay(fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
			_, err := time.Parse(timetable.DateLayout, fl.Field().String())
			return err == nil
		})
		validate = v
	})
	return validate
}

// Validate checks field constraints, durations and the timetable section.
// It does not touch the network or the filesystem.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := structValidator().Struct(cfg); err != nil {
		return describeValidation(err)
	}

	durations := map[string]string{
		"telegram.poll_timeout":   cfg.Telegram.PollTimeout,
		"dashboard.read_timeout":  cfg.Dashboard.ReadTimeout,
		"dashboard.write_timeout": cfg.Dashboard.WriteTimeout,
		"dashboard.idle_timeout":  cfg.Dashboard.IdleTimeout,
		"announce.lead":           cfg.Announce.Lead,
	}
	if te := cfg.TaskEngine; te != nil {
		durations["task_engine.default_timeout"] = te.DefaultTimeout
	}
	if n := cfg.Notifier; n != nil {
		durations["notifier.retry_base"] = n.RetryBase
		durations["notifier.retry_max_delay"] = n.RetryMaxDelay
		durations["notifier.dedup_window"] = n.DedupWindow
	}
	if st := cfg.Storage; st != nil {
		durations["storage.busy_timeout"] = st.BusyTimeout
		d := strings.ToLower(strings.TrimSpace(st.Driver))
		if d != "" && d != "none" && strings.TrimSpace(st.Path) == "" {
			return fmt.Errorf("storage.path is required for driver %q", st.Driver)
		}
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	if cfg.Announce.Enabled && cfg.Announce.ChatID == 0 {
		return errors.New("announce.chat_id is required when announce.enabled is true")
	}

	tt, cal, loc, err := cfg.Timetable.BuildTimetable()
	if err != nil {
		return err
	}
	if _, err := timetable.NewResolver(tt, cal, loc); err != nil {
		return fmt.Errorf("timetable: %w", err)
	}
	return nil
}

// describeValidation flattens validator errors into one readable line.
func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(parts, "; "))
}
