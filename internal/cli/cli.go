package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"pixgrid/internal/config"
	"pixgrid/internal/fsutil"
	"pixgrid/internal/grpcserver"
	"pixgrid/internal/objectstore"
	"pixgrid/internal/pipeline"
	"pixgrid/internal/server"
	"pixgrid/internal/storage"
	"pixgrid/internal/tasks"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

// remoteClient is the subset of the gRPC client the CLI uses.
type remoteClient interface {
	AnalyzePattern(ctx context.Context, call grpcserver.PatternCall) (grpcserver.PatternReply, error)
	SplitTiles(ctx context.Context, call grpcserver.TilesCall) (grpcserver.TilesReply, error)
	Close() error
}

type dialFunc func(addr string) (remoteClient, error)

func dialRemote(cfg *config.Config, addr string) (remoteClient, error) {
	opts, err := grpcserver.DialOptions(cfg)
	if err != nil {
		return nil, err
	}
	c, err := grpcserver.Dial(addr, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// maxInFlight matches the buffer of a pipeline subscription.
const maxInFlight = 8

type serverFunc func(ctx context.Context, r *Root, watchDirs []string) error

// defaultServe runs the HTTP API and the gRPC service until ctx is done.
func defaultServe(ctx context.Context, r *Root, watchDirs []string) error {
	real, ok := r.pipeline.(*pipeline.Pipeline)
	if !ok {
		return fmt.Errorf("pipeline does not support server operation")
	}

	var opts []server.Option
	if len(watchDirs) > 0 {
		w, err := tasks.NewWatcher(r.log, watchDirs, tasks.DefaultSettle, r.watchSubmitter(ctx))
		if err != nil {
			return fmt.Errorf("watch: %w", err)
		}
		opts = append(opts, server.WithWatcher(w))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.NewServer(r.cfg, r.store, real, r.objects, r.log, opts...).Start(gctx)
	})
	if r.cfg.Server.GRPCAddr != "" {
		g.Go(func() error {
			return grpcserver.New(r.cfg, r.log).Serve(gctx, r.cfg.Server.GRPCAddr)
		})
	}
	return g.Wait()
}

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	objects  *objectstore.Store
	serveFn  serverFunc
	dialFn   dialFunc
	out      io.Writer
}

// NewRoot constructs the CLI root.
func NewRoot(pl *pipeline.Pipeline, cfg *config.Config, logger *slog.Logger, store *storage.Store, objects *objectstore.Store) *Root {
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		objects:  objects,
		serveFn:  defaultServe,
		dialFn: func(addr string) (remoteClient, error) {
			return dialRemote(cfg, addr)
		},
		out: os.Stdout,
	}
}

// Run executes the command line in args.
func (r *Root) Run(ctx context.Context, args []string) error {
	cmd := r.command()
	cmd.SetArgs(args)
	cmd.SetOut(r.out)
	return cmd.ExecuteContext(ctx)
}

func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return pipeline.Result{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return pipeline.Result{}, fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res, res.Error
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath)
	return nil
}

// watchSubmitter queues a pattern job for each settled image. The pattern
// is written next to the image.
func (r *Root) watchSubmitter(ctx context.Context) func(path string) {
	return func(path string) {
		job := pipeline.Job{
			ID:        pipeline.NewJobID("watch"),
			Type:      pipeline.JobPattern,
			InputPath: path,
			Output:    fsutil.ReplaceExt(path, ".pattern.json"),
			Options:   map[string]any{},
		}
		if err := r.enqueue(ctx, job); err != nil {
			r.log.Warn("watch submit failed", "path", path, "error", err)
		}
	}
}

// printMeta writes job metadata as sorted key: value lines.
func (r *Root) printMeta(meta map[string]any) {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := meta[k]
		if list, ok := v.([]string); ok {
			v = strings.Join(list, ", ")
		}
		fmt.Fprintf(r.out, "  %s: %v\n", k, v)
	}
}

// patternDir runs one pattern job per image under dir. Each pattern is
// written next to its image. At most maxInFlight jobs are queued at once so
// neither the job queue nor the result subscription overflows.
func (r *Root) patternDir(ctx context.Context, dir string, options map[string]any) error {
	images, err := fsutil.ListImages(dir)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return fmt.Errorf("no images found in %s", dir)
	}

	window := r.cfg.Processing.ParallelJobs
	if window < 1 {
		window = 1
	}
	if window > maxInFlight {
		window = maxInFlight
	}

	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()

	pending := make(map[string]string, window)
	next, failed := 0, 0
	for next < len(images) || len(pending) > 0 {
		for next < len(images) && len(pending) < window {
			path := images[next]
			next++
			job := pipeline.Job{
				ID:        pipeline.NewJobID("pattern"),
				Type:      pipeline.JobPattern,
				InputPath: path,
				Output:    fsutil.ReplaceExt(path, ".pattern.json"),
				Options:   options,
			}
			if err := r.enqueue(ctx, job); err != nil {
				return err
			}
			pending[job.ID] = job.Output
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return fmt.Errorf("pipeline stopped with %d jobs outstanding", len(pending))
			}
			out, mine := pending[res.Job.ID]
			if !mine {
				continue
			}
			delete(pending, res.Job.ID)
			if res.Error != nil {
				failed++
				fmt.Fprintf(r.out, "FAIL %s: %v\n", res.Job.InputPath, res.Error)
				continue
			}
			fmt.Fprintf(r.out, "ok   %s\n", out)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(images))
	}
	return nil
}
