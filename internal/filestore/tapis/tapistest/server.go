// Package tapistest serves a subset of the Tapis files and systems APIs
// over HTTP, backed by a memory.Store, for exercising the tapis client.
package tapistest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/koustreak/bacanora/internal/errs"
	"github.com/koustreak/bacanora/internal/filestore"
	"github.com/koustreak/bacanora/internal/filestore/memory"
)

// Version is reported in every response envelope.
const Version = "2.2.27-test"

// Server is a running fake Tapis API.
type Server struct {
	*httptest.Server
	Store *memory.Store
	// Token, when set, is required as the bearer token of every request.
	Token string
}

// New starts a server over store. Call Close when done.
func New(store *memory.Store) *Server {
	s := &Server{Store: store}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.auth)

	r.Route("/files/v2", func(r chi.Router) {
		r.Get("/media/system/{system}/*", s.download)
		r.Post("/media/system/{system}/*", s.upload)
		r.Put("/media/system/{system}/*", s.manage)
		r.Delete("/media/system/{system}/*", s.remove)
		r.Get("/listings/system/{system}/*", s.list)
		r.Post("/pems/system/{system}/*", s.permissions)
		r.Get("/history/system/{system}/*", s.history)
	})
	r.Get("/systems/v2/{system}", s.system)
	return r
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.Token {
			writeError(w, errs.New(errs.ErrKindPermissionDenied, "invalid credentials"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func target(r *http.Request) (string, string) {
	return chi.URLParam(r, "system"), "/" + chi.URLParam(r, "*")
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	sys, p := target(r)
	rc, err := s.Store.Download(r.Context(), sys, p)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = io.Copy(w, rc)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	sys, dir := target(r)
	file, header, err := r.FormFile("fileToUpload")
	if err != nil {
		writeError(w, errs.Wrap(errs.ErrKindInvalidInput, "missing fileToUpload", err))
		return
	}
	defer file.Close()
	name := r.FormValue("fileName")
	if name == "" {
		name = header.Filename
	}
	if err := s.Store.Upload(r.Context(), sys, dir, name, file, header.Size); err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusAccepted, map[string]string{"name": name, "status": filestore.StatusStagingQueued})
}

func (s *Server) manage(w http.ResponseWriter, r *http.Request) {
	sys, p := target(r)
	var op filestore.ManageOp
	if err := json.NewDecoder(r.Body).Decode(&op); err != nil {
		writeError(w, errs.Wrap(errs.ErrKindInvalidInput, "malformed body", err))
		return
	}
	if err := s.Store.Manage(r.Context(), sys, p, op); err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]string{"action": op.Action, "path": op.Path})
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	sys, p := target(r)
	if err := s.Store.Delete(r.Context(), sys, p); err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusOK, nil)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	sys, p := target(r)
	opts := filestore.ListOptions{}
	opts.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	opts.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	entries, err := s.Store.List(r.Context(), sys, p, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusOK, entries)
}

func (s *Server) permissions(w http.ResponseWriter, r *http.Request) {
	sys, p := target(r)
	var g filestore.Grant
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		writeError(w, errs.Wrap(errs.ErrKindInvalidInput, "malformed body", err))
		return
	}
	if err := s.Store.UpdatePermissions(r.Context(), sys, p, g); err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusOK, []filestore.Grant{g})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	sys, p := target(r)
	events, err := s.Store.History(r.Context(), sys, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusOK, events)
}

func (s *Server) system(w http.ResponseWriter, r *http.Request) {
	info, err := s.Store.System(r.Context(), chi.URLParam(r, "system"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusOK, info)
}

type envelope struct {
	Status  string  `json:"status"`
	Message *string `json:"message"`
	Version string  `json:"version"`
	Result  any     `json:"result"`
}

func writeResult(w http.ResponseWriter, code int, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{Status: "success", Version: Version, Result: result})
}

// StatusFor maps a store error to the HTTP status Tapis would answer with.
func StatusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.ErrKindNotFound:
		return http.StatusNotFound
	case errs.ErrKindConflict:
		return http.StatusConflict
	case errs.ErrKindInvalidInput:
		return http.StatusBadRequest
	case errs.ErrKindPermissionDenied:
		return http.StatusForbidden
	case errs.ErrKindTimeout:
		return http.StatusGatewayTimeout
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	msg := strings.TrimSpace(err.Error())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusFor(err))
	_ = json.NewEncoder(w).Encode(envelope{Status: "error", Message: &msg, Version: Version})
}

// StatusError is an error that carries its own HTTP status, for injecting
// arbitrary responses through memory.Store.Fail.
type StatusError struct {
	Code int
	Msg  string
}

func (e *StatusError) Error() string { return e.Msg }
