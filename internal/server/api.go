package server

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"pixgrid/internal/config"
	"pixgrid/internal/grid"
	"pixgrid/internal/gridwalk"
	"pixgrid/internal/objectstore"
	"pixgrid/internal/pattern"
	"pixgrid/internal/pipeline"
	"pixgrid/internal/raster"
	"pixgrid/internal/storage"
	"pixgrid/internal/tiles"
)

// setupAPIRoutes configures the synchronous image endpoints and the library.
func (s *Server) setupAPIRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/pattern", s.handlePattern).Methods("POST")
	api.HandleFunc("/tiles", s.handleTiles).Methods("POST")
	api.HandleFunc("/walk", s.handleWalk).Methods("POST")
	api.HandleFunc("/library/media", s.handleListMedia).Methods("GET")
	api.HandleFunc("/library/media", s.handleAddMedia).Methods("POST")
	api.HandleFunc("/library/prompts", s.handleListPrompts).Methods("GET")
	api.HandleFunc("/library/prompts", s.handleAddPrompt).Methods("POST")
	api.HandleFunc("/errors", s.handleErrors).Methods("GET")
	api.HandleFunc("/objects/{key}", s.handleObject).Methods("GET")
	api.HandleFunc("/objects/{key}", s.handleDeleteObject).Methods("DELETE")
}

func analysisLimits(cfg *config.Config) grid.Limits {
	return grid.Limits{MaxCols: cfg.Pattern.MaxCols, MaxRows: cfg.Pattern.MaxRows}
}

func tilingLimits(cfg *config.Config) grid.Limits {
	return grid.Limits{MaxCols: cfg.Tiling.MaxCols, MaxRows: cfg.Tiling.MaxRows}
}

// handlePattern analyzes an uploaded image and returns the pattern file.
func (s *Server) handlePattern(w http.ResponseWriter, r *http.Request) {
	img, _, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	pc := s.cfg.Pattern
	spec, err := specFromForm(r, pc.Cols, pc.Rows, true)
	if err != nil {
		writeError(w, err)
		return
	}
	auto := formBool(r, "auto")
	if spec.Threshold == nil && !auto {
		spec = spec.WithThreshold(pc.Threshold)
	}
	if err := spec.Validate(analysisLimits(s.cfg)); err != nil {
		writeError(w, err)
		return
	}
	modeName := r.FormValue("mode")
	if modeName == "" {
		modeName = pc.Mode
	}
	mode, err := pattern.ParseMode(modeName)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	compute := pattern.Compute
	if auto {
		compute = pattern.ComputeAuto
	}
	g, err := compute(r.Context(), img, spec, mode)
	if err != nil {
		s.recordError(r, "api.pattern", err)
		writeError(w, err)
		return
	}
	data, err := g.Bytes()
	if err != nil {
		writeError(w, err)
		return
	}
	summary := pattern.Summarize(g)
	w.Header().Set("X-Pattern-Threshold", strconv.Itoa(g.Threshold))
	w.Header().Set("X-Pattern-Black-Cells", strconv.Itoa(summary.BlackCells))
	if key := s.putObject(data, ".json"); key != "" {
		w.Header().Set("X-Object-Key", key)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="pattern.json"`)
	w.Write(data)
}

// handleTiles splits an uploaded image and returns the zip archive.
func (s *Server) handleTiles(w http.ResponseWriter, r *http.Request) {
	img, header, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	tc := s.cfg.Tiling
	spec, err := specFromForm(r, tc.Cols, tc.Rows, false)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := spec.Validate(tilingLimits(s.cfg)); err != nil {
		writeError(w, err)
		return
	}

	base := tiles.BaseName(header.Filename)
	batch, err := tiles.Crop(r.Context(), img, spec, base)
	if err == nil {
		err = tiles.Encode(r.Context(), batch, 0)
	}
	var buf bytes.Buffer
	if err == nil {
		err = tiles.WriteZip(&buf, base, batch)
	}
	if err != nil {
		s.recordError(r, "api.tiles", err)
		writeError(w, err)
		return
	}
	if key := s.putObject(buf.Bytes(), ".zip"); key != "" {
		w.Header().Set("X-Object-Key", key)
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", tiles.ArchiveName(base)))
	w.Write(buf.Bytes())
}

type walkRequest struct {
	Grid json.RawMessage `json:"grid"`
	From *gridwalk.Pos   `json:"from"`
	Move string          `json:"move"`
}

type walkResponse struct {
	Position gridwalk.Pos `json:"position"`
	Moved    bool         `json:"moved"`
}

// handleWalk applies one move on a pattern map.
func (s *Server) handleWalk(w http.ResponseWriter, r *http.Request) {
	var req walkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid walk request: " + err.Error()})
		return
	}
	g, err := pattern.Decode(bytes.NewReader(req.Grid))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	dir, ok := gridwalk.DirFromKey(req.Move)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("unknown move %q", req.Move)})
		return
	}
	from := gridwalk.Start
	if req.From != nil {
		from = *req.From
	}
	pos, moved := gridwalk.New(g).Move(from, dir)
	writeJSON(w, http.StatusOK, walkResponse{Position: pos, Moved: moved})
}

func (s *Server) handleListMedia(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.Media()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleAddMedia(w http.ResponseWriter, r *http.Request) {
	var item storage.MediaItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	saved, err := s.store.AddMedia(item, s.cfg.Library.MaxMedia)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.Prompts()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleAddPrompt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	item, added, err := s.store.AddPrompt(body.Text, s.cfg.Library.MaxPrompts)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if !added {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentErrors(50)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	if s.objects == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "object storage disabled"})
		return
	}
	f, err := s.objects.Open(mux.Vars(r)["key"])
	if err != nil {
		writeError(w, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, err)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	if s.objects == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "object storage disabled"})
		return
	}
	if err := s.objects.Delete(mux.Vars(r)["key"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readUpload decodes the multipart "image" field.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*raster.Image, *multipart.FileHeader, error) {
	maxBytes := s.cfg.Server.MaxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return nil, nil, &badRequest{fmt.Errorf("parse upload: %w", err)}
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, nil, &badRequest{errors.New(`missing "image" file field`)}
	}
	defer file.Close()
	img, err := raster.Decode(r.Context(), file, header.Filename)
	if err != nil {
		return nil, nil, err
	}
	return img, header, nil
}

// specFromForm reads cols, rows and (optionally) threshold form values.
func specFromForm(r *http.Request, defCols, defRows int, withThreshold bool) (grid.Spec, error) {
	cols, err := formInt(r, "cols", defCols)
	if err != nil {
		return grid.Spec{}, err
	}
	rows, err := formInt(r, "rows", defRows)
	if err != nil {
		return grid.Spec{}, err
	}
	spec := grid.Spec{Cols: cols, Rows: rows}
	if withThreshold && r.FormValue("threshold") != "" {
		t, err := formInt(r, "threshold", grid.DefaultThreshold)
		if err != nil {
			return grid.Spec{}, err
		}
		spec = spec.WithThreshold(t)
	}
	return spec, nil
}

func formInt(r *http.Request, key string, def int) (int, error) {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &badRequest{fmt.Errorf("%s must be an integer, got %q", key, v)}
	}
	return n, nil
}

func formBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.FormValue(key))
	return b
}

func (s *Server) putObject(data []byte, ext string) string {
	if s.objects == nil {
		return ""
	}
	key, err := s.objects.PutBytes(data, ext)
	if err != nil {
		s.log.Warn("store object failed", "error", err)
		return ""
	}
	return key
}

func (s *Server) recordError(r *http.Request, context string, err error) {
	if rerr := s.store.RecordError(context, r.Header.Get("X-User-Id"), err); rerr != nil {
		s.log.Warn("record error failed", "error", rerr)
	}
}

type badRequest struct{ err error }

func (e *badRequest) Error() string { return e.err.Error() }
func (e *badRequest) Unwrap() error { return e.err }

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var br *badRequest
	var de *raster.DecodeError
	var se *grid.SpecError
	var dg *grid.DegenerateGridError
	switch {
	case errors.As(err, &br), errors.As(err, &de):
		return http.StatusBadRequest
	case errors.As(err, &se), errors.As(err, &dg):
		return http.StatusUnprocessableEntity
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, objectstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrQueueFull):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

