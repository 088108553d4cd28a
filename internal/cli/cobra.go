package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"pixgrid/internal/config"
	"pixgrid/internal/fsutil"
	"pixgrid/internal/grpcserver"
	"pixgrid/internal/objectstore"
	"pixgrid/internal/pipeline"
	"pixgrid/internal/storage"
	"pixgrid/internal/tasks"
	"pixgrid/internal/tiles"
)

// Version is set at build time.
var Version = "0.1.0-dev"

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline, objects *objectstore.Store) *cobra.Command {
	return NewRoot(pipe, cfg, log, store, objects).command()
}

func (r *Root) command() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pixgrid",
		Short: "pixgrid turns images into cell patterns and tiles",
		Long: `pixgrid partitions an image into a grid, classifies each cell as
dark or light into a pattern file, and splits images into equal tiles.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newPatternCmd(r))
	rootCmd.AddCommand(newTilesCmd(r))
	rootCmd.AddCommand(newWalkCmd(r))
	rootCmd.AddCommand(newJobsCmd(r))
	rootCmd.AddCommand(newErrorsCmd(r))
	rootCmd.AddCommand(newServeCmd(r))
	rootCmd.AddCommand(newWatchCmd(r))
	rootCmd.AddCommand(newConfigCmd(r))
	rootCmd.AddCommand(newVersionCmd(r))

	return rootCmd
}

func newPatternCmd(root *Root) *cobra.Command {
	var (
		cols      int
		rows      int
		threshold int
		auto      bool
		mode      string
		output    string
		remote    string
	)

	cmd := &cobra.Command{
		Use:   "pattern <image>",
		Short: "Classify grid cells of an image into a pattern file",
		Long: `Split the image into cols x rows cells and classify each one as black
when its mean luminance is below the threshold. The result is written as
{"grid": [[...]]} with 1/0 or "black"/"white" values.

Examples:
  pixgrid pattern level.png --cols 20 --rows 15
  pixgrid pattern photo.jpg --auto --mode label -o photo.pattern.json
  pixgrid pattern photo.jpg --remote localhost:9090
  pixgrid pattern ./levels/   # writes <name>.pattern.json for every image`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			var thresholdPtr *int
			if cmd.Flags().Changed("threshold") {
				thresholdPtr = &threshold
			}

			if info, err := os.Stat(input); err == nil && info.IsDir() && remote == "" {
				return root.patternDir(cmd.Context(), input, patternOptions(cols, rows, thresholdPtr, auto, mode))
			}
			if output == "" {
				output = filepath.Join(filepath.Dir(input), tasks.DefaultPatternOutput)
			}

			if remote != "" {
				return root.remotePattern(cmd, remote, input, output, grpcserver.PatternCall{
					Filename:  filepath.Base(input),
					Cols:      cols,
					Rows:      rows,
					Threshold: thresholdPtr,
					Auto:      auto,
					Mode:      mode,
				})
			}

			res, err := root.enqueueAndWait(cmd.Context(), pipeline.Job{
				ID:        pipeline.NewJobID("pattern"),
				Type:      pipeline.JobPattern,
				InputPath: input,
				Output:    output,
				Options:   patternOptions(cols, rows, thresholdPtr, auto, mode),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(root.out, "Pattern written to %s\n", output)
			root.printMeta(res.Meta)
			return nil
		},
	}

	pc := root.cfg.Pattern
	cmd.Flags().IntVar(&cols, "cols", pc.Cols, "grid columns")
	cmd.Flags().IntVar(&rows, "rows", pc.Rows, "grid rows")
	cmd.Flags().IntVar(&threshold, "threshold", pc.Threshold, "luminance threshold (0-255); cells darker than this are black")
	cmd.Flags().BoolVar(&auto, "auto", false, "derive the threshold from the image when --threshold is not set")
	cmd.Flags().StringVar(&mode, "mode", pc.Mode, "cell values: binary (1/0) or label (black/white)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "pattern file (default: pattern.json next to the image)")
	cmd.Flags().StringVar(&remote, "remote", "", "run on a pixgrid gRPC server at host:port")

	return cmd
}

func patternOptions(cols, rows int, threshold *int, auto bool, mode string) map[string]any {
	options := map[string]any{
		"cols": cols,
		"rows": rows,
		"auto": auto,
		"mode": mode,
	}
	if threshold != nil {
		options["threshold"] = *threshold
	}
	return options
}

func (r *Root) remotePattern(cmd *cobra.Command, addr, input, output string, call grpcserver.PatternCall) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	call.Image = data

	client, err := r.dialFn(addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer client.Close()

	reply, err := client.AnalyzePattern(cmd.Context(), call)
	if err != nil {
		return err
	}
	out, err := reply.Grid.Bytes()
	if err != nil {
		return err
	}
	if err := fsutil.EnsureParent(output); err != nil {
		return err
	}
	if err := os.WriteFile(output, out, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Pattern written to %s\n", output)
	r.printMeta(reply.Summary.Map())
	return nil
}

func newTilesCmd(root *Root) *cobra.Command {
	var (
		cols     int
		rows     int
		output   string
		asDir    bool
		parallel int
		remote   string
	)

	cmd := &cobra.Command{
		Use:   "tiles <image>",
		Short: "Split an image into rows x cols PNG tiles",
		Long: `Crop the image into equal tiles named {base}_{row}_{col}.png and
package them into {base}-split-images.zip, or a directory with --dir.

Examples:
  pixgrid tiles poster.jpg --rows 3 --cols 3
  pixgrid tiles poster.jpg --dir -o ./poster-tiles`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]

			if remote != "" {
				return root.remoteTiles(cmd, remote, input, output, grpcserver.TilesCall{
					Filename: filepath.Base(input),
					Cols:     cols,
					Rows:     rows,
				})
			}

			res, err := root.enqueueAndWait(cmd.Context(), pipeline.Job{
				ID:        pipeline.NewJobID("tiles"),
				Type:      pipeline.JobTiles,
				InputPath: input,
				Output:    output,
				Options: map[string]any{
					"cols":     cols,
					"rows":     rows,
					"dir":      asDir,
					"parallel": parallel,
				},
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(root.out, "Tiles written to %v\n", res.Meta["output"])
			root.printMeta(res.Meta)
			return nil
		},
	}

	tc := root.cfg.Tiling
	cmd.Flags().IntVar(&cols, "cols", tc.Cols, "tile columns")
	cmd.Flags().IntVar(&rows, "rows", tc.Rows, "tile rows")
	cmd.Flags().StringVarP(&output, "output", "o", "", "archive path, or directory with --dir")
	cmd.Flags().BoolVar(&asDir, "dir", false, "write loose PNG files instead of a zip archive")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "tile encoders (default: number of CPUs)")
	cmd.Flags().StringVar(&remote, "remote", "", "run on a pixgrid gRPC server at host:port")

	return cmd
}

func (r *Root) remoteTiles(cmd *cobra.Command, addr, input, output string, call grpcserver.TilesCall) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	call.Image = data

	client, err := r.dialFn(addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer client.Close()

	reply, err := client.SplitTiles(cmd.Context(), call)
	if err != nil {
		return err
	}
	if output == "" {
		name := reply.Filename
		if name == "" {
			name = tiles.ArchiveName(tiles.BaseName(input))
		}
		output = filepath.Join(filepath.Dir(input), name)
	}
	if err := fsutil.EnsureParent(output); err != nil {
		return err
	}
	if err := os.WriteFile(output, reply.Archive, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Tiles written to %s\n  tiles: %d\n", output, reply.Tiles)
	return nil
}

func newWalkCmd(root *Root) *cobra.Command {
	var rows, cols int

	cmd := &cobra.Command{
		Use:   "walk <pattern.json>",
		Short: "Check that a pattern file is a playable walk map",
		Long: `Load a pattern file as a walkability map (black cells are walls) and
verify its size and that the start cell (1,1) is open.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := root.enqueueAndWait(cmd.Context(), pipeline.Job{
				ID:        pipeline.NewJobID("walk"),
				Type:      pipeline.JobWalkCheck,
				InputPath: args[0],
				Options:   map[string]any{"rows": rows, "cols": cols},
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(root.out, "Walk map OK\n")
			root.printMeta(res.Meta)
			return nil
		},
	}

	cmd.Flags().IntVar(&rows, "rows", 0, "required row count (0 accepts any)")
	cmd.Flags().IntVar(&cols, "cols", 0, "required column count (0 accepts any)")
	return cmd
}

func newJobsCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.store == nil {
				return fmt.Errorf("job store unavailable")
			}
			jobs, err := root.store.RecentJobs(limit)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(root.out, "No jobs recorded")
				return nil
			}
			for _, j := range jobs {
				fmt.Fprintf(root.out, "%-36s %-10s %-9s %s\n", j.ID, j.JobType, j.Status, j.InputPath)
				if j.Error != "" {
					fmt.Fprintf(root.out, "  error: %s\n", j.Error)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of jobs to show")
	return cmd
}

func newErrorsCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Show the recent error log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.store == nil {
				return fmt.Errorf("job store unavailable")
			}
			records, err := root.store.RecentErrors(limit)
			if err != nil {
				return err
			}
			for _, rec := range records {
				fmt.Fprintf(root.out, "%s [%s] %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.Context, rec.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries to show")
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr       string
		grpcAddr   string
		watchPaths []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, live preview and gRPC service",
		Long: `Start an HTTP server for pattern analysis, tiling, the media library and
job monitoring, plus the gRPC GridService.

Examples:
  # Basic server
  pixgrid serve --addr :8080

  # Also analyze images dropped into a directory
  pixgrid serve --addr :8080 --watch /data/levels`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root.cfg.Server.Addr = addr
			root.cfg.Server.GRPCAddr = grpcAddr

			root.log.Info("starting server",
				"addr", addr,
				"grpc_addr", grpcAddr,
				"watch_paths", watchPaths,
			)
			return root.serveFn(cmd.Context(), root, watchPaths)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", root.cfg.Server.Addr, "HTTP address (host:port)")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", root.cfg.Server.GRPCAddr, "gRPC address; empty disables it")
	cmd.Flags().StringSliceVar(&watchPaths, "watch", nil, "directories to watch for new images")

	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <dir>...",
		Short: "Write a pattern file for every image added to the directories",
		Long: `Watch directories and, once a new image stops changing, write
<name>.pattern.json next to it using the configured pattern defaults.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w, err := tasks.NewWatcher(root.log, args, tasks.DefaultSettle, root.watchSubmitter(ctx))
			if err != nil {
				return err
			}
			err = w.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show or validate pixgrid configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow()
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				return err
			}
			root.log.Info("configuration validation", "status", "valid")
			fmt.Fprintln(root.out, "Configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(root.out, "pixgrid %s\n", Version)
			fmt.Fprintf(root.out, "Built with Go %s\n", runtime.Version())
		},
	}
}
