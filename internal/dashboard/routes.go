package dashboard

import (
	"context"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"dayorder/pkg/logx"
)

const defaultRatePerSec = 20

// Handler builds the router for the current config. Streams end when ctx
// is cancelled.
func (s *Service) Handler(ctx context.Context) http.Handler { return s.handler(ctx, s.config()) }

func (s *Service) handler(ctx context.Context, cfg Config) http.Handler {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	rate := cfg.RatePerSec
	if rate <= 0 {
		rate = defaultRatePerSec
	}
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)
	r.Use(s.recoverer)

	r.Get("/healthz", s.handleHealthz)

	// The event stream is long-lived; keep it out of the rate limiter.
	r.Get("/api/stream", func(w http.ResponseWriter, req *http.Request) { s.handleStream(ctx, w, req) })

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(rate, time.Second))
		r.Get("/", s.handleIndex)
		r.Route("/api", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/timetable", s.handleTimetable)
			r.Get("/calendar", s.handleCalendar)
			r.Get("/calendar.ics", s.handleICS)
			r.Group(func(r chi.Router) {
				r.Use(s.requireToken(cfg))
				r.Put("/calendar/{date}", s.handlePutOverride)
				r.Delete("/calendar/{date}", s.handleDeleteOverride)
			})
		})
		if cfg.Pprof {
			r.Group(func(r chi.Router) {
				r.Use(s.requireToken(cfg))
				r.HandleFunc("/debug/pprof/*", hpprof.Index)
				r.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
				r.HandleFunc("/debug/pprof/profile", hpprof.Profile)
				r.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
				r.HandleFunc("/debug/pprof/trace", hpprof.Trace)
			})
		}
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return r
}

// requireToken accepts "Authorization: Bearer <token>" or ?token=. With no
// token configured, guarded routes are only open under AllowInsecure.
func (s *Service) requireToken(cfg Config) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(cfg.Token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tok == "" {
				if cfg.AllowInsecure {
					next.ServeHTTP(w, r)
					return
				}
				writeError(w, http.StatusForbidden, "disabled: set dashboard.token")
				return
			}
			got := r.URL.Query().Get("token")
			if ah := r.Header.Get("Authorization"); got == "" && strings.HasPrefix(ah, "Bearer ") {
				got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
			}
			if got != tok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Service) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		fields := []logx.Field{
			logx.String("req", id),
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("dur", time.Since(start)),
			logx.String("ip", r.RemoteAddr),
		}
		switch {
		case ww.Status() >= 500:
			s.log.Warn("http request failed", fields...)
		default:
			s.log.Debug("http request", fields...)
		}
	})
}

func (s *Service) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				s.log.Error("http handler panic", logx.Any("panic", p), logx.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
