package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"pixgrid/internal/config"
	"pixgrid/internal/objectstore"
	"pixgrid/internal/pipeline"
	"pixgrid/internal/storage"
	"pixgrid/internal/tasks"
	"pixgrid/internal/web"

	"github.com/gorilla/mux"
)

// Server wraps the HTTP API, the job stream and the live preview.
type Server struct {
	addr     string
	cfg      *config.Config
	store    *storage.Store
	pipeline *pipeline.Pipeline
	objects  *objectstore.Store
	preview  *web.PreviewHub
	watcher  *tasks.Watcher
	log      *slog.Logger
	server   *http.Server
}

// Option customizes a Server.
type Option func(*Server)

// WithWatcher runs w alongside the HTTP listener.
func WithWatcher(w *tasks.Watcher) Option {
	return func(s *Server) { s.watcher = w }
}

// NewServer wires the API to its collaborators. objects may be nil, in
// which case results are only returned inline.
func NewServer(
	cfg *config.Config,
	store *storage.Store,
	pipe *pipeline.Pipeline,
	objects *objectstore.Store,
	log *slog.Logger,
	opts ...Option,
) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Server{
		addr:     cfg.Server.Addr,
		cfg:      cfg,
		store:    store,
		pipeline: pipe,
		objects:  objects,
		log:      log,
		preview: web.NewPreviewHub(log, web.PreviewConfig{
			Rate:     cfg.Server.PreviewRate,
			MaxBytes: cfg.Server.MaxUploadMB << 20,
			Limits:   analysisLimits(cfg),
		}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.setupRoutes(r)
	s.setupAPIRoutes(r)
	s.preview.Register(r)
	return r
}

// Start begins serving and blocks until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.watcher != nil {
		go func() {
			if err := s.watcher.Run(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("watcher stopped", "error", err)
			}
		}()
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// setupRoutes configures the job routes.
func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/jobs", s.handleSubmitJob).Methods("POST")
	r.HandleFunc("/jobs/{id}", s.handleJob).Methods("GET")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
}

// Serve starts a server with default options.
func Serve(ctx context.Context, cfg *config.Config, store *storage.Store, pipe *pipeline.Pipeline, objects *objectstore.Store, log *slog.Logger) error {
	return NewServer(cfg, store, pipe, objects, log).Start(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Preview-Clients", strconv.Itoa(s.preview.Clients()))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentJobs(100)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.Job(id)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]any{"job": rec}
	if meta, err := s.store.JobMeta(id); err == nil {
		resp["meta"] = meta
	}
	writeJSON(w, http.StatusOK, resp)
}

type submitRequest struct {
	Type    pipeline.JobType `json:"type"`
	Input   string           `json:"input"`
	Output  string           `json:"output"`
	Options map[string]any   `json:"options"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid job: " + err.Error()})
		return
	}
	switch req.Type {
	case pipeline.JobPattern, pipeline.JobTiles, pipeline.JobWalkCheck:
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown job type: " + string(req.Type)})
		return
	}
	if req.Input == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "input is required"})
		return
	}
	job := pipeline.Job{
		ID:        pipeline.NewJobID(string(req.Type)),
		Type:      req.Type,
		InputPath: req.Input,
		Output:    req.Output,
		Options:   req.Options,
	}
	if err := s.pipeline.Submit(job); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID, "status": pipeline.StatusQueued})
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(streamEvent{
				ID:    res.Job.ID,
				Type:  res.Job.Type,
				Error: errString(res.Error),
				Meta:  res.Meta,
			})
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

// streamEvent is the SSE payload; Result.Error does not marshal.
type streamEvent struct {
	ID    string           `json:"id"`
	Type  pipeline.JobType `json:"type"`
	Error string           `json:"error,omitempty"`
	Meta  map[string]any   `json:"meta,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
