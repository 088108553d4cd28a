package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"pixgrid/internal/config"
	"pixgrid/internal/grid"
	"pixgrid/internal/logging"
	"pixgrid/internal/pattern"
	"pixgrid/internal/tasks"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log       *slog.Logger
	cfg       *config.Config
	patternFn patternFunc
	tilesFn   tilesFunc
	walkFn    walkFunc
}

type patternFunc func(ctx context.Context, req tasks.PatternRequest) (tasks.PatternResult, error)

type tilesFunc func(ctx context.Context, req tasks.TileRequest) (tasks.TileResult, error)

type walkFunc func(ctx context.Context, req tasks.WalkCheckRequest) (tasks.WalkCheckResult, error)

func newRouter(logger *slog.Logger, cfg *config.Config) Processor {
	if cfg == nil {
		cfg = config.Default()
	}
	return &router{
		log:       logger,
		cfg:       cfg,
		patternFn: tasks.AnalyzePattern,
		tilesFn:   tasks.SplitTiles,
		walkFn:    tasks.CheckWalkMap,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobPattern:
		return r.handlePattern(ctx, job)
	case JobTiles:
		return r.handleTiles(ctx, job)
	case JobWalkCheck:
		return r.handleWalkCheck(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handlePattern(ctx context.Context, job Job) Result {
	pc := r.cfg.Pattern
	spec := grid.Spec{
		Cols: getIntOption(job.Options, "cols", pc.Cols),
		Rows: getIntOption(job.Options, "rows", pc.Rows),
	}
	auto := getBoolOption(job.Options, "auto")
	if _, ok := job.Options["threshold"]; ok {
		spec = spec.WithThreshold(getIntOption(job.Options, "threshold", pc.Threshold))
	} else if !auto {
		spec = spec.WithThreshold(pc.Threshold)
	}
	modeName, _ := job.Options["mode"].(string)
	if modeName == "" {
		modeName = pc.Mode
	}
	mode, err := pattern.ParseMode(modeName)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	logging.LogProcessingStep(r.log, job.ID, "sampling", "started", map[string]any{"cols": spec.Cols, "rows": spec.Rows})
	res, err := r.patternFn(ctx, tasks.PatternRequest{
		Input:  job.InputPath,
		Output: job.Output,
		Spec:   spec,
		Auto:   auto,
		Mode:   mode,
		Limits: grid.Limits{MaxCols: pc.MaxCols, MaxRows: pc.MaxRows},
	})
	if err != nil {
		return Result{Job: job, Error: err, Meta: map[string]any{"stage": stageOf(err)}}
	}
	meta := res.Summary.Map()
	meta["output"] = res.OutputFile
	meta["width"] = res.Width
	meta["height"] = res.Height
	meta["stage"] = "emitted"
	return Result{Job: job, Meta: meta}
}

func (r *router) handleTiles(ctx context.Context, job Job) Result {
	tc := r.cfg.Tiling
	spec := grid.Spec{
		Cols: getIntOption(job.Options, "cols", tc.Cols),
		Rows: getIntOption(job.Options, "rows", tc.Rows),
	}
	logging.LogProcessingStep(r.log, job.ID, "cropping", "started", map[string]any{"cols": spec.Cols, "rows": spec.Rows})
	res, err := r.tilesFn(ctx, tasks.TileRequest{
		Input:    job.InputPath,
		Output:   job.Output,
		AsDir:    getBoolOption(job.Options, "dir"),
		Spec:     spec,
		Parallel: getIntOption(job.Options, "parallel", 0),
		Limits:   grid.Limits{MaxCols: tc.MaxCols, MaxRows: tc.MaxRows},
	})
	if err != nil {
		return Result{Job: job, Error: err, Meta: map[string]any{"stage": stageOf(err)}}
	}
	return Result{Job: job, Meta: map[string]any{
		"output": res.OutputFile,
		"tiles":  res.TileCount,
		"files":  res.Files,
		"stage":  "packaged",
	}}
}

func (r *router) handleWalkCheck(ctx context.Context, job Job) Result {
	res, err := r.walkFn(ctx, tasks.WalkCheckRequest{
		Input: job.InputPath,
		Rows:  getIntOption(job.Options, "rows", 0),
		Cols:  getIntOption(job.Options, "cols", 0),
	})
	meta := map[string]any{
		"rows":      res.Rows,
		"cols":      res.Cols,
		"reachable": res.Reachable,
		"start":     []int{res.Start.X, res.Start.Y},
	}
	return Result{Job: job, Error: err, Meta: meta}
}

// Helper functions to safely extract typed options from job.Options map.
// Values decoded from JSON arrive as float64.
func getBoolOption(options map[string]any, key string) bool {
	if val, ok := options[key].(bool); ok {
		return val
	}
	return false
}

func getIntOption(options map[string]any, key string, def int) int {
	switch v := options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == math.Trunc(v) {
			return int(v)
		}
	}
	return def
}
