package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"

	"pixgrid/internal/config"
	"pixgrid/internal/fsutil"
	"pixgrid/internal/pipeline"
	"pixgrid/internal/storage"
	"pixgrid/internal/tasks"
)

// test-integration drops a synthetic image into a watched directory and
// follows it through the watcher, the pipeline and the job store.
func main() {
	fmt.Println("Testing watcher + pipeline + storage integration")

	dir, err := os.MkdirTemp("", "pixgrid-integration-")
	if err != nil {
		log.Fatal("Failed to create temp dir:", err)
	}
	defer os.RemoveAll(dir)

	store, err := storage.New(filepath.Join(dir, "test_integration.db"))
	if err != nil {
		log.Fatal("Failed to create storage:", err)
	}
	defer store.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg := config.Default()
	cfg.Pattern.Cols, cfg.Pattern.Rows = 8, 8

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pipe := pipeline.New(ctx, 2, logger, store, cfg)
	defer pipe.Stop()
	results, unsubscribe := pipe.Subscribe()
	defer unsubscribe()

	watchDir := filepath.Join(dir, "inbox")
	if err := os.MkdirAll(watchDir, 0o755); err != nil {
		log.Fatal("Failed to create inbox:", err)
	}
	watcher, err := tasks.NewWatcher(logger, []string{watchDir}, 200*time.Millisecond, func(path string) {
		job := pipeline.Job{
			ID:        pipeline.NewJobID("watch"),
			Type:      pipeline.JobPattern,
			InputPath: path,
			Output:    fsutil.ReplaceExt(path, ".pattern.json"),
		}
		if err := pipe.Submit(job); err != nil {
			logger.Error("submit failed", "path", path, "error", err)
		}
	})
	if err != nil {
		log.Fatal("Failed to create watcher:", err)
	}
	go watcher.Run(ctx)

	src := filepath.Join(watchDir, "checker.png")
	if err := imaging.Save(checkerboard(64, 64, 8), src); err != nil {
		log.Fatal("Failed to write test image:", err)
	}
	fmt.Printf("Wrote %s\n", src)

	select {
	case <-ctx.Done():
		log.Fatal("Timed out waiting for the pattern job")
	case res := <-results:
		if res.Error != nil {
			log.Fatal("Pattern job failed:", res.Error)
		}
		fmt.Printf("Pattern job %s: %d black of %v cells\n", res.Job.ID, res.Meta["black_cells"], res.Meta["rows"])
	}

	tileRes := make(chan pipeline.Result, 1)
	go func() {
		for res := range results {
			if res.Job.Type == pipeline.JobTiles {
				tileRes <- res
				return
			}
		}
	}()
	if err := pipe.Submit(pipeline.Job{
		ID:        pipeline.NewJobID("tiles"),
		Type:      pipeline.JobTiles,
		InputPath: src,
		Options:   map[string]any{"rows": 2, "cols": 2},
	}); err != nil {
		log.Fatal("Failed to submit tiles job:", err)
	}
	select {
	case <-ctx.Done():
		log.Fatal("Timed out waiting for the tiles job")
	case res := <-tileRes:
		if res.Error != nil {
			log.Fatal("Tiles job failed:", res.Error)
		}
		fmt.Printf("Tiles job wrote %v\n", res.Meta["output"])
	}

	jobs, err := store.RecentJobs(10)
	if err != nil {
		log.Fatal("Failed to list jobs:", err)
	}
	fmt.Printf("Job store:\n")
	for _, j := range jobs {
		fmt.Printf("   %s %s %s\n", j.ID, j.JobType, j.Status)
	}
	fmt.Println("Integration test completed")
}

func checkerboard(w, h, cell int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			if (x/cell+y/cell)%2 == 0 {
				c = color.NRGBA{A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}
