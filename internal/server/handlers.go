package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bgunnarsson/binadmin/internal/admin"
	"github.com/bgunnarsson/binadmin/internal/db"
	"github.com/bgunnarsson/binadmin/internal/dump"
	"github.com/bgunnarsson/binadmin/internal/print"
	"github.com/bgunnarsson/binadmin/internal/session"
)

// pg_dump's own default level for compressed formats
const defaultCompression = 6

type loginRequest struct {
	Driver   string            `json:"driver"`
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	User     string            `json:"user"`
	Password string            `json:"password"`
	Database string            `json:"database"`
	SSLMode  string            `json:"sslmode"`
	Options  map[string]string `json:"options"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}

	id, sess, err := s.bind(w, r)
	if err != nil {
		s.fail(w, err)
		return
	}

	info, err := sess.Connect(r.Context(), db.Credentials{
		Driver:   req.Driver,
		Host:     req.Host,
		Port:     req.Port,
		User:     req.User,
		Password: req.Password,
		Database: req.Database,
		SSLMode:  req.SSLMode,
		Options:  req.Options,
	})
	if err != nil {
		// a failed login leaves the session disconnected
		s.release(w, r, id)
		s.write(w, http.StatusUnauthorized, envelope{Error: err.Error()})
		return
	}
	s.ok(w, info)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, _, _ := s.lookup(r)
	s.release(w, r, id)
	s.ok(w, nil)
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := s.lookup(r)
	if !ok {
		s.fail(w, session.ErrNotConnected)
		return
	}
	info, ok := sess.Info()
	if !ok {
		s.fail(w, session.ErrNotConnected)
		return
	}
	s.ok(w, info)
}

func (s *Server) handleDatabases(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.connected(w, r)
	if !ok {
		return
	}
	templates, _ := strconv.ParseBool(r.URL.Query().Get("templates"))

	dbs, err := svc.Databases(r.Context(), templates)
	if err != nil {
		s.fail(w, err)
		return
	}
	if dbs == nil {
		dbs = []db.DatabaseInfo{}
	}
	s.ok(w, dbs)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.connected(w, r)
	if !ok {
		return
	}
	var opts db.CreateOptions
	if err := decode(r, &opts); err != nil {
		s.fail(w, err)
		return
	}
	if err := svc.CreateDatabase(r.Context(), opts); err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, map[string]string{"database": opts.Name})
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.connected(w, r)
	if !ok {
		return
	}
	tables, err := svc.Tables(r.Context(), chi.URLParam(r, "db"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if tables == nil {
		tables = []string{}
	}
	s.ok(w, tables)
}

func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.connected(w, r)
	if !ok {
		return
	}
	cols, err := svc.Columns(r.Context(), chi.URLParam(r, "db"), chi.URLParam(r, "table"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if cols == nil {
		cols = []db.Column{}
	}
	s.ok(w, cols)
}

type queryRequest struct {
	SQL string `json:"sql"`
}

type queryResult struct {
	Columns      []db.Column `json:"columns"`
	Rows         []db.Row    `json:"rows"`
	RowsAffected int64       `json:"rowsAffected"`
	Message      string      `json:"message"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.connected(w, r)
	if !ok {
		return
	}
	var req queryRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}

	rows, err := svc.Query(r.Context(), chi.URLParam(r, "db"), req.SQL)
	if err != nil {
		s.fail(w, err)
		return
	}

	res := queryResult{
		Columns:      rows.Columns,
		Rows:         rows.Data,
		RowsAffected: rows.RowsAffected,
		Message:      print.Footer(rows),
	}
	if res.Columns == nil {
		res.Columns = []db.Column{}
	}
	if res.Rows == nil {
		res.Rows = []db.Row{}
	}
	s.ok(w, res)
}

type cloneRequest struct {
	Target   string `json:"target"`
	WithData *bool  `json:"withData"`
}

func (s *Server) handleClone(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.connected(w, r)
	if !ok {
		return
	}
	var req cloneRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	withData := req.WithData == nil || *req.WithData

	source := chi.URLParam(r, "db")
	if err := svc.CloneDatabase(r.Context(), source, req.Target, withData); err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, map[string]string{"source": source, "target": req.Target})
}

type renameRequest struct {
	NewName string `json:"newName"`
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.connected(w, r)
	if !ok {
		return
	}
	var req renameRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}

	current := chi.URLParam(r, "db")
	if err := svc.RenameDatabase(r.Context(), current, req.NewName); err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, map[string]string{"from": current, "to": req.NewName})
}

type deleteRequest struct {
	Confirm string `json:"confirm"`
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.connected(w, r)
	if !ok {
		return
	}
	req := deleteRequest{Confirm: r.URL.Query().Get("confirm")}
	if req.Confirm == "" {
		if err := decode(r, &req); err != nil {
			s.fail(w, err)
			return
		}
	}

	name := chi.URLParam(r, "db")
	if err := svc.DeleteDatabase(r.Context(), name, req.Confirm); err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, map[string]string{"database": name})
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.connected(w, r)
	if !ok {
		return
	}
	var req struct {
		Format      string `json:"format"`
		Compression *int   `json:"compression"`
		Path        string `json:"path"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}

	backup := admin.BackupRequest{
		Database: chi.URLParam(r, "db"),
		Format:   req.Format,
		Path:     req.Path,
	}
	switch {
	case req.Compression != nil:
		backup.Compression = *req.Compression
	case compressedFormat(req.Format):
		backup.Compression = defaultCompression
	}
	s.runTool(w, r, func(ctx context.Context, progress dump.ProgressFunc) (*dump.Result, error) {
		return svc.Backup(ctx, backup, progress)
	})
}

// compressedFormat reports whether the default compression applies. Bad
// names are left for the service to reject.
func compressedFormat(name string) bool {
	f, err := dump.ParseFormat(name)
	return err != nil || f.Compressed()
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.connected(w, r)
	if !ok {
		return
	}
	var req struct {
		File              string `json:"file"`
		Clean             bool   `json:"clean"`
		SingleTransaction bool   `json:"singleTransaction"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}

	restore := admin.RestoreRequest{
		Database:          chi.URLParam(r, "db"),
		File:              req.File,
		Clean:             req.Clean,
		SingleTransaction: req.SingleTransaction,
	}
	s.runTool(w, r, func(ctx context.Context, progress dump.ProgressFunc) (*dump.Result, error) {
		return svc.Restore(ctx, restore, progress)
	})
}

type toolResult struct {
	*dump.Result
	WarningCount int `json:"warningCount"`
}

// runTool answers with the final result, or streams progress events
// followed by a result or error event when the client asked for SSE.
func (s *Server) runTool(w http.ResponseWriter, r *http.Request, run func(context.Context, dump.ProgressFunc) (*dump.Result, error)) {
	var stream *eventStream
	if wantsEvents(r) {
		stream, _ = newEventStream(w, s.logger)
	}
	if stream == nil {
		res, err := run(r.Context(), nil)
		if err != nil {
			s.fail(w, err)
			return
		}
		s.ok(w, toolResult{Result: res, WarningCount: res.WarningCount()})
		return
	}

	res, err := run(r.Context(), stream.progress)
	if err != nil {
		stream.send("error", envelope{Error: err.Error(), Data: res})
		return
	}
	stream.send("result", envelope{Success: true, Data: toolResult{Result: res, WarningCount: res.WarningCount()}})
}
