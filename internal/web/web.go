package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"icalfeed/internal/config"
	appLog "icalfeed/internal/log"
	"icalfeed/internal/model"
	"icalfeed/internal/render"
)

// FeedWriter renders one view as ICS.
type FeedWriter interface {
	Write(ctx context.Context, w io.Writer, view config.View, viewerTZ string) (render.Result, error)
}

// Server exposes configured views as ICS feeds.
type Server struct {
	cfg    *config.Config
	feeds  FeedWriter
	router *mux.Router
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, feeds FeedWriter) *Server {
	s := &Server{
		cfg:    cfg,
		feeds:  feeds,
		router: mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the router wrapped with basic auth (when configured),
// access logging, panic recovery and proxy header handling.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	h = accessLog(h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}), handlers.PrintRecoveryStack(false))(h)
	return handlers.ProxyHeaders(h)
}

// HTTPServer returns an http.Server bound to cfg.Listen.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/feeds/{view:[A-Za-z0-9_-]+}.ics", s.handleFeed).Methods(http.MethodGet, http.MethodHead)
	s.router.HandleFunc("/views/{view:[A-Za-z0-9_-]+}", s.handleView).Methods(http.MethodGet)
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="icalfeed", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleFeed serves GET /feeds/{view}.ics?tz=Zone. tz overrides the
// configured default viewer timezone.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	view, ok := s.cfg.View(mux.Vars(r)["view"])
	if !ok {
		http.NotFound(w, r)
		return
	}

	tz := r.URL.Query().Get("tz")
	if tz == "" {
		tz = s.cfg.Timezone
	} else if _, err := model.LoadZone(tz); err != nil {
		http.Error(w, "unknown timezone", http.StatusBadRequest)
		return
	}
	ctx := appLog.Ctx(r.Context(), "view", view.ID, "tz", tz)

	// Buffer so a failed render never leaves a half-written calendar.
	var buf bytes.Buffer
	res, err := s.feeds.Write(ctx, &buf, view, tz)
	if err != nil {
		msg := "failed to render feed"
		if errors.Is(err, render.ErrConfig) {
			msg = "view is misconfigured"
		}
		appLog.ErrorCtx(ctx, "feed render failed", err)
		http.Error(w, msg, http.StatusInternalServerError)
		return
	}
	for _, warning := range res.Warnings {
		appLog.WarnCtx(ctx, "feed rendered with warning", "warning", warning)
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s.ics"`, view.ID))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := buf.WriteTo(w); err != nil {
		appLog.ErrorCtx(ctx, "failed to write feed response", err)
	}
}

var viewPage = template.Must(template.New("view").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<link rel="alternate" type="application/calendar" href="{{.FeedURL}}" title="{{.Title}}">
</head>
<body>
<h1>{{.Title}}</h1>
<p><a href="{{.FeedURL}}">Subscribe</a></p>
</body>
</html>
`))

// handleView serves a small page that advertises the view's feed through a
// discovery link, both in the markup and in a Link header.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	view, ok := s.cfg.View(mux.Vars(r)["view"])
	if !ok {
		http.NotFound(w, r)
		return
	}

	title := view.Title
	if title == "" {
		title = view.ID
	}
	feedURL := absoluteFeedURL(r, view.ID)

	w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="alternate"; type="application/calendar"; title=%q`, feedURL, title))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := viewPage.Execute(w, struct{ Title, FeedURL string }{title, feedURL}); err != nil {
		appLog.Error("failed to write view page", err, "view", view.ID)
	}
}

// absoluteFeedURL builds the feed address from the request's host and
// scheme, so calendar clients can subscribe to the advertised link as is. A
// valid tz query is carried over to the feed.
func absoluteFeedURL(r *http.Request, viewID string) string {
	u := url.URL{
		Scheme: r.URL.Scheme,
		Host:   r.Host,
		Path:   "/feeds/" + viewID + ".ics",
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
	}
	if tz := r.URL.Query().Get("tz"); tz != "" {
		if _, err := model.LoadZone(tz); err == nil {
			u.RawQuery = url.Values{"tz": {tz}}.Encode()
		}
	}
	return u.String()
}

// accessLog logs every request with its status and duration.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		writer := &respCodeWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(writer, r)

		appLog.Debug("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start).String(),
			"status_code", writer.code,
		)
	})
}

// respCodeWriter traps the response status code for logging.
type respCodeWriter struct {
	http.ResponseWriter
	code int
}

func (w *respCodeWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...any) {
	appLog.Error("panic while serving request", fmt.Errorf("%s", fmt.Sprint(v...)))
}
