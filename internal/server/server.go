// Package server implements the ingestion HTTP API: the uploader protocol
// endpoints plus read-only upload queries, behind API-key auth.
package server

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/mdas-ops/tddf-cli/internal/ingest"
	"github.com/mdas-ops/tddf-cli/internal/model"
	"github.com/mdas-ops/tddf-cli/internal/store"
)

// maxUploadBytes caps a single request body; chunked transfer handles
// anything larger.
const maxUploadBytes = 64 << 20

// Config controls the HTTP API.
type Config struct {
	APIKeys []string

	// SpoolDir holds partial chunk assemblies.
	SpoolDir string

	// MaxConcurrent is advertised in batch-status.
	MaxConcurrent int

	Environment string
}

// Server wires the router, session registry, store, and ingest service.
type Server struct {
	cfg      Config
	store    store.Store
	ingest   *ingest.Service
	sessions *sessionRegistry
	router   chi.Router
}

// New creates the server and builds its routes.
func New(cfg Config, st store.Store, svc *ingest.Service) *Server {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.Environment == "" {
		cfg.Environment = "production"
	}
	s := &Server{
		cfg:      cfg,
		store:    st,
		ingest:   svc,
		sessions: newSessionRegistry(cfg.SpoolDir),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type", "X-API-Key"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.Route("/uploader", func(r chi.Router) {
			r.Get("/ping", s.handlePing)
			r.Get("/batch-status", s.handleBatchStatus)
			r.Post("/start", s.handleStart)
			r.Post("/{id}/upload", s.handleUpload)
			r.Post("/{id}/upload-chunk", s.handleUploadChunk)
		})

		r.Route("/uploads", func(r chi.Router) {
			r.Get("/", s.handleListUploads)
			r.Get("/{id}", s.handleGetUpload)
		})
	})

	return r
}

// requireAPIKey rejects requests whose X-API-Key header matches no
// configured key.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		for _, k := range s.cfg.APIKeys {
			if key != "" && key == k {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeError(w, http.StatusUnauthorized, "invalid or missing API key")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"environment": s.cfg.Environment,
		"message":     "ready on " + hostname,
	})
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.QueueStats(r.Context())
	if err != nil {
		zap.L().Error("queue stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "queue stats unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"queue":         stats,
		"maxConcurrent": s.cfg.MaxConcurrent,
		"isBusy":        stats.Busy() && stats.Active+stats.Waiting >= s.cfg.MaxConcurrent,
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileName string `json:"fileName"`
		FileSize int64  `json:"fileSize"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FileName == "" {
		writeError(w, http.StatusBadRequest, "fileName is required")
		return
	}

	sess, err := s.sessions.create(req.FileName, req.FileSize)
	if err != nil {
		zap.L().Error("create upload session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create upload session")
		return
	}

	zap.L().Info("upload session started",
		zap.String("sessionId", sess.ID),
		zap.String("fileName", req.FileName),
		zap.Int64("fileSize", req.FileSize),
	)
	writeJSON(w, http.StatusOK, map[string]string{"id": sess.ID})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown upload session")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	content, err := readAllLimited(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read file content")
		return
	}

	upload, result, err := s.ingest.Content(r.Context(), sess.FileName, content)
	if err != nil {
		zap.L().Error("ingest failed",
			zap.String("sessionId", sess.ID),
			zap.String("fileName", sess.FileName),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}
	s.sessions.remove(sess.ID)

	writeJSON(w, http.StatusOK, map[string]any{
		"uploadId":     upload.ID,
		"status":       upload.Status,
		"totalRecords": result.TotalRecords,
		"errors":       len(result.Errors),
	})
}

func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown upload session")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	index, err := strconv.Atoi(r.FormValue("chunkIndex"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid chunkIndex")
		return
	}
	total, err := strconv.Atoi(r.FormValue("totalChunks"))
	if err != nil || total <= 0 || index >= total {
		writeError(w, http.StatusBadRequest, "invalid totalChunks")
		return
	}

	chunk, _, err := r.FormFile("chunk")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing chunk field")
		return
	}
	defer chunk.Close()

	complete, err := s.sessions.saveChunk(sess, chunk, index, total)
	if err != nil {
		zap.L().Error("save chunk failed",
			zap.String("sessionId", sess.ID),
			zap.Int("chunkIndex", index),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "could not save chunk")
		return
	}

	if !complete {
		writeJSON(w, http.StatusOK, map[string]any{
			"received": index,
			"total":    total,
		})
		return
	}

	content, err := s.sessions.assemble(sess)
	if err != nil {
		zap.L().Error("assemble chunks failed", zap.String("sessionId", sess.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not assemble chunks")
		return
	}

	upload, result, err := s.ingest.Content(r.Context(), sess.FileName, content)
	if err != nil {
		zap.L().Error("ingest failed",
			zap.String("sessionId", sess.ID),
			zap.String("fileName", sess.FileName),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}
	s.sessions.remove(sess.ID)

	writeJSON(w, http.StatusOK, map[string]any{
		"uploadId":     upload.ID,
		"status":       upload.Status,
		"totalRecords": result.TotalRecords,
		"errors":       len(result.Errors),
	})
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	filter := store.UploadFilter{
		Status: model.UploadStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	uploads, err := s.store.ListUploads(r.Context(), filter)
	if err != nil {
		zap.L().Error("list uploads failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list uploads failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": uploads})
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	upload, err := s.store.GetUpload(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "upload not found")
		return
	}
	writeJSON(w, http.StatusOK, upload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
