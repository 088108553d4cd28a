package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"pixgrid/internal/config"
	"pixgrid/internal/grpcserver"
	"pixgrid/internal/pattern"
	"pixgrid/internal/pipeline"
	"pixgrid/internal/storage"
)

func TestPatternCommandQueuesJob(t *testing.T) {
	root, fakePipe, out := newTestRoot(t)
	input := filepath.Join(t.TempDir(), "level.png")

	args := []string{"pattern", input, "--cols", "20", "--rows", "15", "--threshold", "90", "--mode", "label"}
	if err := root.Run(context.Background(), args); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(fakePipe.jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(fakePipe.jobs))
	}
	job := fakePipe.jobs[0]
	if job.Type != pipeline.JobPattern {
		t.Fatalf("expected pattern job, got %s", job.Type)
	}
	if job.Options["cols"] != 20 || job.Options["rows"] != 15 || job.Options["threshold"] != 90 {
		t.Fatalf("unexpected options: %v", job.Options)
	}
	if job.Options["mode"] != "label" {
		t.Fatalf("expected label mode, got %v", job.Options["mode"])
	}
	if want := filepath.Join(filepath.Dir(input), "pattern.json"); job.Output != want {
		t.Fatalf("expected default output %s, got %s", want, job.Output)
	}
	if !strings.Contains(out.String(), "Pattern written to") {
		t.Fatalf("missing confirmation in %q", out.String())
	}
}

func TestPatternCommandOmitsThresholdUnlessSet(t *testing.T) {
	root, fakePipe, _ := newTestRoot(t)
	input := filepath.Join(t.TempDir(), "photo.jpg")

	if err := root.Run(context.Background(), []string{"pattern", input, "--auto", "-o", "out.json"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	job := fakePipe.jobs[0]
	if _, ok := job.Options["threshold"]; ok {
		t.Fatalf("threshold should be left to auto detection: %v", job.Options)
	}
	if job.Options["auto"] != true {
		t.Fatalf("expected auto option, got %v", job.Options["auto"])
	}
	if job.Options["cols"] != 160 || job.Options["rows"] != 90 {
		t.Fatalf("expected configured default grid, got %v", job.Options)
	}
	if job.Output != "out.json" {
		t.Fatalf("expected explicit output, got %s", job.Output)
	}
}

func TestPatternDirectoryQueuesEveryImage(t *testing.T) {
	root, fakePipe, out := newTestRoot(t)
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.JPG", "notes.txt"} {
		touch(t, filepath.Join(dir, name))
	}

	if err := root.Run(context.Background(), []string{"pattern", dir}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(fakePipe.jobs) != 2 {
		t.Fatalf("expected two jobs, got %d", len(fakePipe.jobs))
	}
	outputs := map[string]bool{}
	for _, job := range fakePipe.jobs {
		outputs[job.Output] = true
	}
	for _, want := range []string{filepath.Join(dir, "a.pattern.json"), filepath.Join(dir, "b.pattern.json")} {
		if !outputs[want] {
			t.Fatalf("missing output %s in %v", want, outputs)
		}
	}
	if strings.Count(out.String(), "ok ") != 2 {
		t.Fatalf("expected two ok lines, got %q", out.String())
	}
}

func TestPatternDirectoryReportsFailures(t *testing.T) {
	root, fakePipe, out := newTestRoot(t)
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.png"))
	fakePipe.jobErrors[string(pipeline.JobPattern)] = errors.New("decode image a.png: bad header")

	err := root.Run(context.Background(), []string{"pattern", dir})
	if err == nil || !strings.Contains(err.Error(), "1 of 1") {
		t.Fatalf("expected failure count, got %v", err)
	}
	if !strings.Contains(out.String(), "FAIL") {
		t.Fatalf("expected FAIL line, got %q", out.String())
	}
}

func TestTilesCommandQueuesJob(t *testing.T) {
	root, fakePipe, _ := newTestRoot(t)
	input := filepath.Join(t.TempDir(), "poster.jpg")

	args := []string{"tiles", input, "--rows", "3", "--cols", "4", "--dir", "--parallel", "2"}
	if err := root.Run(context.Background(), args); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	job := fakePipe.jobs[0]
	if job.Type != pipeline.JobTiles {
		t.Fatalf("expected tiles job, got %s", job.Type)
	}
	if job.Options["rows"] != 3 || job.Options["cols"] != 4 || job.Options["dir"] != true || job.Options["parallel"] != 2 {
		t.Fatalf("unexpected options: %v", job.Options)
	}
}

func TestWalkCommandQueuesJob(t *testing.T) {
	root, fakePipe, _ := newTestRoot(t)
	if err := root.Run(context.Background(), []string{"walk", "map.json", "--rows", "15", "--cols", "20"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	job := fakePipe.jobs[0]
	if job.Type != pipeline.JobWalkCheck || job.InputPath != "map.json" {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestJobErrorIsReturned(t *testing.T) {
	root, fakePipe, _ := newTestRoot(t)
	fakePipe.jobErrors[string(pipeline.JobTiles)] = errors.New("degenerate grid")

	err := root.Run(context.Background(), []string{"tiles", "x.png"})
	if err == nil || !strings.Contains(err.Error(), "degenerate grid") {
		t.Fatalf("expected job error, got %v", err)
	}
}

func TestRunValidatesArguments(t *testing.T) {
	root, _, _ := newTestRoot(t)
	if err := root.Run(context.Background(), []string{"pattern"}); err == nil {
		t.Fatalf("expected error for missing pattern input")
	}
	if err := root.Run(context.Background(), []string{"watch"}); err == nil {
		t.Fatalf("expected error for missing watch directory")
	}
}

func TestJobsCommandListsStore(t *testing.T) {
	root, _, out := newTestRoot(t)
	store, err := storage.New(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	root.store = store

	if err := store.RecordJobQueued(storage.JobRecord{ID: "pattern-1", JobType: "pattern", Status: pipeline.StatusQueued, InputPath: "in.png"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := root.Run(context.Background(), []string{"jobs"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out.String(), "pattern-1") || !strings.Contains(out.String(), "in.png") {
		t.Fatalf("job missing from listing: %q", out.String())
	}
}

func TestJobsCommandNeedsStore(t *testing.T) {
	root, _, _ := newTestRoot(t)
	if err := root.Run(context.Background(), []string{"jobs"}); err == nil {
		t.Fatalf("expected error without a store")
	}
}

func TestServeUsesServeFn(t *testing.T) {
	root, _, _ := newTestRoot(t)
	var gotWatch []string
	root.serveFn = func(ctx context.Context, r *Root, watchDirs []string) error {
		gotWatch = watchDirs
		return nil
	}

	args := []string{"serve", "--addr", ":18080", "--grpc-addr", "", "--watch", "/a", "--watch", "/b"}
	if err := root.Run(context.Background(), args); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if root.cfg.Server.Addr != ":18080" || root.cfg.Server.GRPCAddr != "" {
		t.Fatalf("flags not applied: %+v", root.cfg.Server)
	}
	if len(gotWatch) != 2 || gotWatch[0] != "/a" {
		t.Fatalf("unexpected watch dirs: %v", gotWatch)
	}
}

func TestRemotePatternWritesFile(t *testing.T) {
	root, fakePipe, _ := newTestRoot(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "level.png")
	if err := os.WriteFile(input, []byte("png bytes"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	remote := &fakeRemote{grid: &pattern.Grid{Mode: pattern.ModeBinary, Threshold: 128, Cells: [][]bool{{true, false}}}}
	var dialed string
	root.dialFn = func(addr string) (remoteClient, error) {
		dialed = addr
		return remote, nil
	}

	output := filepath.Join(dir, "out", "level.json")
	args := []string{"pattern", input, "--remote", "grid.local:9090", "--cols", "2", "--rows", "1", "-o", output}
	if err := root.Run(context.Background(), args); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if dialed != "grid.local:9090" || !remote.closed {
		t.Fatalf("remote not dialed and closed: %q closed=%v", dialed, remote.closed)
	}
	if len(fakePipe.jobs) != 0 {
		t.Fatalf("remote run should not use the local pipeline")
	}
	if string(remote.patternCall.Image) != "png bytes" || remote.patternCall.Cols != 2 || remote.patternCall.Threshold != nil {
		t.Fatalf("unexpected call: %+v", remote.patternCall)
	}

	f, err := os.Open(output)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	g, err := pattern.Decode(f)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if !g.Black(0, 0) || g.Black(0, 1) {
		t.Fatalf("unexpected cells: %v", g.Cells)
	}
}

func TestRemoteTilesWritesArchive(t *testing.T) {
	root, _, _ := newTestRoot(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "poster.jpg")
	touch(t, input)
	remote := &fakeRemote{archive: []byte("PK zip"), filename: "poster-split-images.zip"}
	root.dialFn = func(string) (remoteClient, error) { return remote, nil }

	if err := root.Run(context.Background(), []string{"tiles", input, "--remote", "x:1"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "poster-split-images.zip"))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if string(data) != "PK zip" {
		t.Fatalf("unexpected archive %q", data)
	}
}

func TestConfigShowPrintsYAML(t *testing.T) {
	root, _, out := newTestRoot(t)
	if err := root.Run(context.Background(), []string{"config", "show"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for _, want := range []string{"pattern:", "cols: 160", "max_cols: 10"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in %q", want, out.String())
		}
	}
}

func TestVersionCommand(t *testing.T) {
	root, _, out := newTestRoot(t)
	if err := root.Run(context.Background(), []string{"version"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "pixgrid ") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func newTestRoot(t *testing.T) (*Root, *fakePipeline, *bytes.Buffer) {
	t.Helper()

	cfg := config.Default()
	tmp := t.TempDir()
	cfg.Paths.DefaultOutput = filepath.Join(tmp, "output")
	cfg.Paths.DatabasePath = filepath.Join(tmp, "pixgrid.db")

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
	pipe := newFakePipeline()
	out := new(bytes.Buffer)

	root := &Root{
		pipeline: pipe,
		cfg:      cfg,
		log:      logger,
		serveFn:  defaultServe,
		out:      out,
	}
	root.dialFn = func(addr string) (remoteClient, error) { return dialRemote(cfg, addr) }
	return root, pipe, out
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("touch %s: %v", path, err)
	}
}

type fakePipeline struct {
	mu        sync.Mutex
	jobs      []pipeline.Job
	subs      map[int]chan pipeline.Result
	nextSubID int
	jobErrors map[string]error
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		subs:      make(map[int]chan pipeline.Result),
		jobErrors: make(map[string]error),
	}
}

// Submit completes the job immediately and delivers the result to every
// subscriber.
func (f *fakePipeline) Submit(job pipeline.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	res := pipeline.Result{Job: job, Error: f.errorFor(job), Meta: map[string]any{"output": job.Output}}
	for _, ch := range f.subs {
		select {
		case ch <- res:
		default:
		}
	}
	return nil
}

func (f *fakePipeline) Subscribe() (<-chan pipeline.Result, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSubID
	f.nextSubID++
	ch := make(chan pipeline.Result, 16)
	f.subs[id] = ch
	unsub := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			close(c)
			delete(f.subs, id)
		}
	}
	return ch, unsub
}

func (f *fakePipeline) errorFor(job pipeline.Job) error {
	if err, ok := f.jobErrors[job.ID]; ok {
		return err
	}
	if err, ok := f.jobErrors[string(job.Type)]; ok {
		return err
	}
	return nil
}

type fakeRemote struct {
	grid        *pattern.Grid
	archive     []byte
	filename    string
	patternCall grpcserver.PatternCall
	closed      bool
}

func (f *fakeRemote) AnalyzePattern(ctx context.Context, call grpcserver.PatternCall) (grpcserver.PatternReply, error) {
	f.patternCall = call
	return grpcserver.PatternReply{Grid: f.grid, Summary: pattern.Summarize(f.grid)}, nil
}

func (f *fakeRemote) SplitTiles(ctx context.Context, call grpcserver.TilesCall) (grpcserver.TilesReply, error) {
	return grpcserver.TilesReply{Archive: f.archive, Filename: f.filename, Tiles: 4}, nil
}

func (f *fakeRemote) Close() error {
	f.closed = true
	return nil
}
