// Package server exposes the book service over HTTP.
//
// Every response uses the envelope {success, data?, message, status?}.
// Unmatched routes return 404 with message "API NOT FOUND".
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"bookcatalog/internal/app"
	"bookcatalog/internal/util"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// AllowedOrigin is the single client origin CORS admits.
	AllowedOrigin string
}

// Server routes API requests to the book service.
type Server struct {
	app           *app.App
	allowedOrigin string
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	s := &Server{
		app:           cfg.App,
		allowedOrigin: cfg.AllowedOrigin,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler wrapped in the middleware stack.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("bookcatalog", util.WithSecurityHeaders(util.WithCORS(s.allowedOrigin, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/books", s.handleBooks)
	s.mux.HandleFunc("/api/books/", s.handleBookByID)
	s.mux.HandleFunc("/", s.handleNotFound)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, nil, "ok")
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "API NOT FOUND")
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateBook(w, r)
	case http.MethodGet:
		s.handleListBooks(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// /api/books/search or /api/books/{id}
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/books/")
	if path == "" || strings.Contains(path, "/") {
		s.handleNotFound(w, r)
		return
	}
	if path == "search" {
		s.handleSearchBooks(w, r)
		return
	}
	id := path
	switch r.Method {
	case http.MethodGet:
		s.handleGetBook(w, r, id)
	case http.MethodPut:
		s.handleUpdateBook(w, r, id)
	case http.MethodDelete:
		s.handleDeleteBook(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeBookInput(w, r)
	if !ok {
		return
	}
	res, err := s.app.CreateBook(r.Context(), in)
	if err != nil {
		writeAppError(w, err)
		return
	}
	msg := "book created successfully"
	if res.IndexPending {
		msg = "book created successfully, search indexing pending"
	}
	writeSuccess(w, http.StatusOK, res.Book, msg)
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.app.ListBooks(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, books, "books fetched successfully")
}

func (s *Server) handleSearchBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "search query is required")
		return
	}
	hits, err := s.app.SearchBooks(r.Context(), query)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, hits, "books fetched successfully")
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request, id string) {
	book, err := s.app.GetBook(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, book, "book detail fetched successfully")
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request, id string) {
	in, ok := decodeBookInput(w, r)
	if !ok {
		return
	}
	res, err := s.app.UpdateBook(r.Context(), id, in)
	if err != nil {
		writeAppError(w, err)
		return
	}
	msg := "book updated successfully"
	if res.IndexPending {
		msg = "book updated successfully, search indexing pending"
	}
	writeSuccess(w, http.StatusOK, res.Book, msg)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request, id string) {
	indexPending, err := s.app.DeleteBook(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	msg := "book deleted successfully"
	if indexPending {
		msg = "book deleted successfully, search index cleanup pending"
	}
	writeSuccess(w, http.StatusOK, nil, msg)
}

func decodeBookInput(w http.ResponseWriter, r *http.Request) (app.BookInput, bool) {
	var in app.BookInput
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return app.BookInput{}, false
	}
	return in, true
}

// apiResponse is the envelope every endpoint returns.
type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

func writeSuccess(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, apiResponse{Success: true, Data: data, Message: message})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiResponse{Success: false, Status: status, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeAppError maps service errors onto the envelope. Anything without an
// explicit status falls back to 400.
func writeAppError(w http.ResponseWriter, err error) {
	var verr *app.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, app.ErrISBNConflict):
		writeError(w, http.StatusConflict, app.ErrISBNConflict.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, app.ErrNotFound.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
