package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"

	"lsmengine/pkg/config"
	"lsmengine/pkg/dberrors"
	"lsmengine/pkg/metrics"
	"lsmengine/pkg/store"
	"lsmengine/pkg/types"
)

const (
	contentTypeJSON        = "application/json"
	defaultScanLimit       = 1000
	defaultShutdownTimeout = time.Second * 5
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type iStoreAPI interface {
	Put(key types.Key, value types.Value) error
	Delete(key types.Key) error
	Get(key types.Key) (types.Value, bool, error)
	GetAt(key types.Key, seq types.SeqN) (types.Value, bool, error)
	Scan(start, end []byte, limit int) ([]store.KV, error)
	LastSeq() types.SeqN
	Describe() (string, error)
	Flush(ctx context.Context) error
	Compact(ctx context.Context) error
}

// Server exposes a store over HTTP.
type Server struct {
	store      iStoreAPI
	registry   *metrics.Registry
	httpServer *http.Server
	URL        string
	addr       string
	cfg        config.ServerConfig
}

// NewServer creates a new server instance. registry may be nil.
func NewServer(st iStoreAPI, registry *metrics.Registry, cfg config.ServerConfig) *Server {
	port := strconv.Itoa(cfg.Port)
	return &Server{
		store:    st,
		registry: registry,
		URL:      "http://localhost:" + port,
		addr:     ":" + port,
		cfg:      cfg,
	}
}

// Start starts the server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.createRouter(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.URL)
	return nil
}

// Stop stops the server. The store stays open.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// createRouter builds chi router
func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Put("/api/string", s.handlePut)
	r.Get("/api/string", s.handleGet)
	r.Delete("/api", s.handleDelete)

	r.Get("/api/scan", s.handleScan)
	r.Get("/api/version", s.handleVersion)
	r.Post("/api/flush", s.handleFlush)
	r.Post("/api/compact", s.handleCompact)

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dberrors.ErrInvalidArgument), errors.Is(err, dberrors.ErrRecordTooLarge):
		status = http.StatusBadRequest
	case errors.Is(err, dberrors.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, NewErrorResponse(err.Error()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		s.writeJSON(w, http.StatusOK, metrics.Snapshot{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.registry.Snapshot())
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Failed to parse form"))
		return
	}

	key := r.FormValue("key")
	if key == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key"))
		return
	}

	if err := s.store.Put([]byte(key), []byte(r.FormValue("value"))); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSeqResponse(s.store.LastSeq()))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("key")
	if key == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key"))
		return
	}

	var (
		value []byte
		found bool
		err   error
	)
	if raw := q.Get("seq"); raw != "" {
		seq, perr := strconv.ParseUint(raw, 10, 64)
		if perr != nil {
			s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Invalid seq"))
			return
		}
		value, found, err = s.store.GetAt([]byte(key), seq)
	} else {
		value, found, err = s.store.Get([]byte(key))
	}

	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("Key not found"))
		return
	}
	s.writeJSON(w, http.StatusOK, NewValueResponse(string(value)))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key"))
		return
	}

	if err := s.store.Delete([]byte(key)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSeqResponse(s.store.LastSeq()))
}

// handleScan serves [start, end). An empty end is unbounded.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultScanLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Invalid limit"))
			return
		}
		limit = n
	}
	var end []byte
	if e := q.Get("end"); e != "" {
		end = []byte(e)
	}

	kvs, err := s.store.Scan([]byte(q.Get("start")), end, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := ScanResponse{Status: StatusSuccess, Items: make([]Item, 0, len(kvs))}
	for _, kv := range kvs {
		resp.Items = append(resp.Items, Item{Key: string(kv.Key), Value: string(kv.Value)})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	desc, err := s.store.Describe()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, Value: desc, Seq: s.store.LastSeq()})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Flush(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Compact(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}
