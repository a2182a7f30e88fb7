package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"readshelf/internal/util"
	"readshelf/pkg/store"
	"readshelf/services/catalog/internal/app"
)

// Limiter gates upload traffic per client key.
type Limiter interface {
	Allow(key string) bool
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Limiter        Limiter
	TrustedProxies *util.TrustedProxies
	MaxUploadBytes int64
	AllowedOrigins []string
}

// Server exposes HTTP endpoints for the catalog service.
type Server struct {
	app            *app.App
	limiter        Limiter
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
	maxUploadBytes int64
	allowedOrigins []string
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 100 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		limiter:        cfg.Limiter,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
		allowedOrigins: cfg.AllowedOrigins,
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("catalog", util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/books", s.handleBooks)
	s.mux.HandleFunc("/api/books/", s.handleBooksSubtree)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUploadBook(w, r)
	case http.MethodGet:
		s.handleListBooks(w, r)
	default:
		methodNotAllowed(w)
	}
}

// /api/books/folders[/{name}], /api/books/{id}[/load-pages|/actions]
func (s *Server) handleBooksSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/books/")
	parts := strings.SplitN(path, "/", 2)
	head := parts[0]
	if head == "" {
		notFound(w, "not found")
		return
	}

	if head == "folders" {
		if len(parts) == 2 {
			s.handleFolderByName(w, r, parts[1])
			return
		}
		s.handleFolders(w, r)
		return
	}

	id := head
	if len(parts) == 2 {
		switch parts[1] {
		case "load-pages":
			s.handleLoadPages(w, r, id)
		case "actions":
			s.handleBookAction(w, r, id)
		default:
			notFound(w, "not found")
		}
		return
	}
	s.handleBookByID(w, r, id)
}

func (s *Server) handleUploadBook(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow(util.ClientIP(r, s.trustedProxies)) {
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	summary, err := s.app.UploadBook(r.Context(), app.UploadRequest{
		Filename: header.Filename,
		Title:    r.FormValue("title"),
		Folder:   r.FormValue("folder"),
		File:     file,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.app.ListBooks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": books,
		"count": len(books),
	})
}

func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		summary, err := s.app.GetBook(r.Context(), id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	case http.MethodDelete:
		if err := s.app.DeleteBook(r.Context(), id); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleLoadPages(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	res, err := s.app.LoadPages(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBookAction(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var req actionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	summary, err := s.app.TrackAction(r.Context(), id, req.Action)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		names, err := s.app.ListFolderNames(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": names,
			"count": len(names),
		})
	case http.MethodPost:
		var req folderRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		folder, err := s.app.CreateFolder(r.Context(), req.Name)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, folder)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleFolderByName(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteFolder(r.Context(), name); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrBookNotFound):
		writeError(w, http.StatusNotFound, "book not found")
	case errors.Is(err, app.ErrFolderNotFound):
		writeError(w, http.StatusNotFound, "folder not found")
	case errors.Is(err, app.ErrInvalidAction):
		writeError(w, http.StatusBadRequest, "invalid action")
	case errors.Is(err, app.ErrFileRequired):
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
	case errors.Is(err, app.ErrUnsupportedFile):
		writeError(w, http.StatusBadRequest, "unsupported file type")
	case errors.Is(err, app.ErrAdvanceInProgress):
		writeError(w, http.StatusConflict, "page advance already in progress")
	case errors.Is(err, store.ErrFolderExists):
		writeError(w, http.StatusConflict, "folder already exists")
	case errors.Is(err, store.ErrFolderInUse):
		writeError(w, http.StatusConflict, "folder still contains books")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForCatalog(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForCatalog(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "book not found":
		return "BOOK_NOT_FOUND"
	case message == "folder not found":
		return "FOLDER_NOT_FOUND"
	case message == "folder already exists":
		return "FOLDER_EXISTS"
	case message == "folder still contains books":
		return "FOLDER_IN_USE"
	case message == "file too large":
		return "BOOK_FILE_TOO_LARGE"
	case message == "invalid action":
		return "BOOK_INVALID_ACTION"
	case strings.Contains(message, "file is required"):
		return "BOOK_FILE_REQUIRED"
	case message == "unsupported file type":
		return "BOOK_UNSUPPORTED_FILE_TYPE"
	case message == "invalid form data":
		return "BOOK_INVALID_UPLOAD_FORM"
	case message == "invalid json body":
		return "BOOK_INVALID_REQUEST"
	case message == "page advance already in progress":
		return "BOOK_ADVANCE_IN_PROGRESS"
	case message == "rate limited":
		return "RATE_LIMITED"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "BOOK_INVALID_REQUEST"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusConflict:
		return "BOOK_CONFLICT"
	case http.StatusRequestEntityTooLarge:
		return "BOOK_FILE_TOO_LARGE"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

type actionRequest struct {
	Action string `json:"action"`
}

type folderRequest struct {
	Name string `json:"name"`
}
