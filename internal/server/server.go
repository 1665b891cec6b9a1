// Package server exposes the admin commands as a local JSON API, one
// database session per browser cookie.
package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"golang.org/x/sync/errgroup"

	"github.com/bgunnarsson/binadmin/internal/admin"
	"github.com/bgunnarsson/binadmin/internal/history"
	"github.com/bgunnarsson/binadmin/internal/session"
)

const (
	cookieName = "binadmin"
	sessionKey = "sid"
)

// Config holds what the server needs to build an admin.Service per request.
type Config struct {
	Listen        string
	SessionSecret string
	Manager       *session.Manager
	Dumper        admin.Dumper
	History       history.Recorder
	BackupDir     string
	Logger        *slog.Logger
}

type Server struct {
	listen    string
	manager   *session.Manager
	cookies   *sessions.CookieStore
	dumper    admin.Dumper
	history   history.Recorder
	backupDir string
	logger    *slog.Logger
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		_, _ = rand.Read(secret)
	}

	cookies := sessions.NewCookieStore(secret)
	// session-only cookie; connections do not survive a restart anyway
	cookies.MaxAge(0)
	cookies.Options.Path = "/"
	cookies.Options.HttpOnly = true
	cookies.Options.SameSite = http.SameSiteStrictMode

	return &Server{
		listen:    cfg.Listen,
		manager:   cfg.Manager,
		cookies:   cookies,
		dumper:    cfg.Dumper,
		history:   cfg.History,
		backupDir: cfg.BackupDir,
		logger:    logger,
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		s.logRequests,
	)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Get("/connection", s.handleConnection)

		r.Get("/databases", s.handleDatabases)
		r.Post("/databases", s.handleCreate)
		r.Route("/databases/{db}", func(r chi.Router) {
			r.Delete("/", s.handleDelete)
			r.Get("/tables", s.handleTables)
			r.Get("/tables/{table}/columns", s.handleColumns)
			r.Post("/query", s.handleQuery)
			r.Post("/clone", s.handleClone)
			r.Post("/rename", s.handleRename)
			r.Post("/backup", s.handleBackup)
			r.Post("/restore", s.handleRestore)
		})
	})

	return r
}

// Serve listens until ctx is cancelled, then shuts down and disconnects
// every session.
func (s *Server) Serve(ctx context.Context) error {
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.listen,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting API server", slog.String("addr", "http://"+s.listen))

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down API server")
		err := srv.Shutdown(shutdownCtx)
		s.manager.CloseAll()
		return err
	})

	return eg.Wait()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// lookup returns the database session bound to the request cookie.
func (s *Server) lookup(r *http.Request) (string, *session.Session, bool) {
	c, err := s.cookies.Get(r, cookieName)
	if err != nil {
		return "", nil, false
	}
	id, _ := c.Values[sessionKey].(string)
	if id == "" {
		return "", nil, false
	}
	sess, ok := s.manager.Get(id)
	return id, sess, ok
}

// bind returns the request's session and its ID, creating and storing a
// new one in the cookie when there is none.
func (s *Server) bind(w http.ResponseWriter, r *http.Request) (string, *session.Session, error) {
	if id, sess, ok := s.lookup(r); ok {
		return id, sess, nil
	}

	id, sess := s.manager.New()
	c, _ := s.cookies.New(r, cookieName)
	c.Values[sessionKey] = id
	if err := c.Save(r, w); err != nil {
		s.manager.Remove(id)
		return "", nil, fmt.Errorf("failed to save session cookie: %w", err)
	}
	return id, sess, nil
}

// release forgets the session and expires the client's cookie.
func (s *Server) release(w http.ResponseWriter, r *http.Request, id string) {
	s.manager.Remove(id)
	if c, _ := s.cookies.Get(r, cookieName); c != nil {
		c.Options.MaxAge = -1
		_ = c.Save(r, w)
	}
}

func (s *Server) service(sess *session.Session) *admin.Service {
	return admin.New(sess, s.dumper,
		admin.WithHistory(s.history),
		admin.WithLogger(s.logger),
		admin.WithBackupDir(s.backupDir))
}

// connected returns a service for the request, or writes 401.
func (s *Server) connected(w http.ResponseWriter, r *http.Request) (*admin.Service, bool) {
	_, sess, ok := s.lookup(r)
	if !ok || !sess.Connected() {
		s.fail(w, session.ErrNotConnected)
		return nil, false
	}
	return s.service(sess), true
}
