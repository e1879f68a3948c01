package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forPelevin/lipseg/internal/infer"
	"github.com/forPelevin/lipseg/internal/types"
	"github.com/forPelevin/lipseg/internal/workspace"
)

func TestRun_SegmentedHappyPath(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	media := &fakeMedia{counts: map[string]int{"video": 4, "audio": 4}}
	model := &fakeModel{}
	uc, base := newUsecase(t, media, model, 2)

	out := filepath.Join(tmp, "out", "result.mp4")
	res, err := uc.Run(context.Background(), Input{
		VideoPath:     filepath.Join(tmp, "in.mp4"),
		AudioPath:     filepath.Join(tmp, "in.wav"),
		SegmentLength: 5 * time.Second,
		OutPath:       out,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.OutPath != out || res.RunID == "" || res.Pairs != 4 || res.Warning != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	wantStates := []State{StateStart, StateSegmenting, StatePairing, StateRunning, StateConcatenating, StateDone}
	if !reflect.DeepEqual(res.States, wantStates) {
		t.Fatalf("states = %v, want %v", res.States, wantStates)
	}

	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(b) != "out_000.mp4,out_001.mp4,out_002.mp4,out_003.mp4" {
		t.Fatalf("output joined in wrong order: %q", b)
	}
	if model.calls.Load() != 4 {
		t.Fatalf("expected 4 inference calls, got %d", model.calls.Load())
	}
	if media.normalizes != 0 {
		t.Fatalf("segmented run must not re-encode")
	}
	assertNoWorkspaces(t, base)
}

func TestRun_JobLogsCarryRunID(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	var buf bytes.Buffer
	uc := New(Deps{
		Media:      &fakeMedia{counts: map[string]int{"video": 2, "audio": 2}},
		Model:      &fakeModel{},
		Workspaces: workspace.NewManager(filepath.Join(tmp, "work")),
		Jobs:       infer.Options{Workers: 2},
		Log:        slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})

	res, err := uc.Run(context.Background(), Input{
		VideoPath:     filepath.Join(tmp, "in.mp4"),
		AudioPath:     filepath.Join(tmp, "in.wav"),
		SegmentLength: 5 * time.Second,
		OutPath:       filepath.Join(tmp, "result.mp4"),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	jobLines := 0
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		if _, ok := rec["segment"]; !ok {
			continue
		}
		jobLines++
		if rec["run_id"] != res.RunID {
			t.Fatalf("job line without run_id %q: %s", res.RunID, line)
		}
	}
	if jobLines != 4 {
		t.Fatalf("expected started and finished lines for 2 jobs, got %d", jobLines)
	}
}

func TestRun_UnsegmentedNormalizes(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	media := &fakeMedia{}
	uc, base := newUsecase(t, media, &fakeModel{}, 1)

	out := filepath.Join(tmp, "result.mp4")
	res, err := uc.Run(context.Background(), Input{
		VideoPath: filepath.Join(tmp, "in.mp4"),
		AudioPath: filepath.Join(tmp, "in.wav"),
		OutPath:   out,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Pairs != 1 {
		t.Fatalf("expected 1 pair, got %d", res.Pairs)
	}
	if media.copies != 2 || media.splits != 0 {
		t.Fatalf("expected whole-file copies, got copies=%d splits=%d", media.copies, media.splits)
	}
	if media.normalizes != 1 || media.concats != 0 {
		t.Fatalf("expected normalize, got normalize=%d concat=%d", media.normalizes, media.concats)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("output missing: %v", err)
	}
	assertNoWorkspaces(t, base)
}

func TestRun_JobFailureAbortsBeforeConcat(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	media := &fakeMedia{counts: map[string]int{"video": 5, "audio": 5}}
	model := &fakeModel{fail: map[int]bool{2: true}}
	uc, base := newUsecase(t, media, model, 2)

	out := filepath.Join(tmp, "result.mp4")
	res, err := uc.Run(context.Background(), Input{
		VideoPath:     filepath.Join(tmp, "in.mp4"),
		AudioPath:     filepath.Join(tmp, "in.wav"),
		SegmentLength: time.Second,
		OutPath:       out,
	})

	var runErr *types.RunError
	if !errors.As(err, &runErr) || runErr.Stage != string(StateRunning) {
		t.Fatalf("expected RunError in running stage, got %v", err)
	}
	var infErr *types.InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("expected InferenceError, got %v", err)
	}
	if got := infErr.Indices(); !reflect.DeepEqual(got, []int{2}) {
		t.Fatalf("failed indices = %v", got)
	}
	if model.calls.Load() != 5 {
		t.Fatalf("every job must be attempted, got %d calls", model.calls.Load())
	}
	if media.concats != 0 {
		t.Fatalf("concatenation must not start after a job failure")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("no output may be written, stat err=%v", err)
	}
	if last := res.States[len(res.States)-1]; last != StateAborted {
		t.Fatalf("final state = %s", last)
	}
	if len(res.Jobs) != 5 {
		t.Fatalf("job results must be reported, got %d", len(res.Jobs))
	}
	assertNoWorkspaces(t, base)
}

func TestRun_SegmentationFailure(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	media := &fakeMedia{
		counts:   map[string]int{"video": 3, "audio": 3},
		splitErr: map[string]error{"audio": errors.New("exit status 1")},
	}
	model := &fakeModel{}
	uc, base := newUsecase(t, media, model, 2)

	res, err := uc.Run(context.Background(), Input{
		VideoPath:     filepath.Join(tmp, "in.mp4"),
		AudioPath:     filepath.Join(tmp, "in.wav"),
		SegmentLength: time.Second,
		OutPath:       filepath.Join(tmp, "result.mp4"),
	})

	var segErr *types.SegmentationError
	if !errors.As(err, &segErr) {
		t.Fatalf("expected SegmentationError, got %v", err)
	}
	var runErr *types.RunError
	if !errors.As(err, &runErr) || runErr.Stage != string(StateSegmenting) {
		t.Fatalf("expected RunError in segmenting stage, got %v", err)
	}
	if model.calls.Load() != 0 {
		t.Fatalf("model must not run after segmentation failure")
	}
	want := []State{StateStart, StateSegmenting, StateAborted}
	if !reflect.DeepEqual(res.States, want) {
		t.Fatalf("states = %v, want %v", res.States, want)
	}
	assertNoWorkspaces(t, base)
}

func TestRun_CountMismatchWarnsAndUsesShorterSide(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	media := &fakeMedia{counts: map[string]int{"video": 5, "audio": 3}}
	model := &fakeModel{}
	uc, base := newUsecase(t, media, model, 3)

	res, err := uc.Run(context.Background(), Input{
		VideoPath:     filepath.Join(tmp, "in.mp4"),
		AudioPath:     filepath.Join(tmp, "in.wav"),
		SegmentLength: time.Second,
		OutPath:       filepath.Join(tmp, "result.mp4"),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Pairs != 3 || model.calls.Load() != 3 {
		t.Fatalf("expected 3 pairs processed, got pairs=%d calls=%d", res.Pairs, model.calls.Load())
	}
	if res.Warning == nil {
		t.Fatalf("expected pairing warning")
	}
	if res.Warning.Side != types.KindVideo || !reflect.DeepEqual(res.Warning.Dropped, []int{3, 4}) {
		t.Fatalf("unexpected warning: %+v", res.Warning)
	}
	assertNoWorkspaces(t, base)
}

func TestRun_CancellationTearsDown(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	media := &fakeMedia{counts: map[string]int{"video": 6, "audio": 6}}
	started := make(chan struct{}, 6)
	model := &fakeModel{block: started}
	uc, base := newUsecase(t, media, model, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := uc.Run(ctx, Input{
			VideoPath:     filepath.Join(tmp, "in.mp4"),
			AudioPath:     filepath.Join(tmp, "in.wav"),
			SegmentLength: time.Second,
			OutPath:       filepath.Join(tmp, "result.mp4"),
		})
		done <- outcome{res, err}
	}()

	<-started
	<-started
	cancel()

	var got outcome
	select {
	case got = <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after cancellation")
	}
	if !errors.Is(got.err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", got.err)
	}
	if model.calls.Load() != 2 {
		t.Fatalf("no job may start after cancellation, got %d calls", model.calls.Load())
	}
	if last := got.res.States[len(got.res.States)-1]; last != StateAborted {
		t.Fatalf("final state = %s", last)
	}
	if media.concats != 0 {
		t.Fatalf("concatenation must not run after cancellation")
	}
	assertNoWorkspaces(t, base)
}

func TestRun_ConcurrentRunsAreIsolated(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	media := &fakeMedia{counts: map[string]int{"video": 3, "audio": 3}}
	uc, base := newUsecase(t, media, &fakeModel{}, 2)

	const runs = 4
	var wg sync.WaitGroup
	ids := make([]string, runs)
	errs := make([]error, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := uc.Run(context.Background(), Input{
				VideoPath:     filepath.Join(tmp, "in.mp4"),
				AudioPath:     filepath.Join(tmp, "in.wav"),
				SegmentLength: time.Second,
				OutPath:       filepath.Join(tmp, fmt.Sprintf("result_%d.mp4", i)),
			})
			ids[i], errs[i] = res.RunID, err
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < runs; i++ {
		if errs[i] != nil {
			t.Fatalf("run %d: %v", i, errs[i])
		}
		if seen[ids[i]] {
			t.Fatalf("duplicate run id %s", ids[i])
		}
		seen[ids[i]] = true
	}
	assertNoWorkspaces(t, base)
}

func TestRun_ConcatFailure(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	media := &fakeMedia{counts: map[string]int{"video": 2, "audio": 2}, concatErr: errors.New("exit status 1")}
	uc, base := newUsecase(t, media, &fakeModel{}, 2)

	out := filepath.Join(tmp, "result.mp4")
	_, err := uc.Run(context.Background(), Input{
		VideoPath:     filepath.Join(tmp, "in.mp4"),
		AudioPath:     filepath.Join(tmp, "in.wav"),
		SegmentLength: time.Second,
		OutPath:       out,
	})
	var cErr *types.ConcatenationError
	if !errors.As(err, &cErr) {
		t.Fatalf("expected ConcatenationError, got %v", err)
	}
	var runErr *types.RunError
	if !errors.As(err, &runErr) || runErr.Stage != string(StateConcatenating) {
		t.Fatalf("expected RunError in concatenating stage, got %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("no output may be written, stat err=%v", err)
	}
	assertNoWorkspaces(t, base)
}

func TestRun_WorkspaceFailureAbortsBeforeWork(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	blocker := filepath.Join(tmp, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	media := &fakeMedia{}
	uc := New(Deps{Media: media, Model: &fakeModel{}, Workspaces: workspace.NewManager(blocker)})

	res, err := uc.Run(context.Background(), Input{
		VideoPath: filepath.Join(tmp, "in.mp4"),
		AudioPath: filepath.Join(tmp, "in.wav"),
		OutPath:   filepath.Join(tmp, "result.mp4"),
	})
	var wsErr *types.WorkspaceError
	if !errors.As(err, &wsErr) {
		t.Fatalf("expected WorkspaceError, got %v", err)
	}
	if media.splits+media.copies != 0 {
		t.Fatalf("no work may start without a workspace")
	}
	if !reflect.DeepEqual(res.States, []State{StateStart, StateAborted}) {
		t.Fatalf("states = %v", res.States)
	}
}

func TestRun_RequiresPaths(t *testing.T) {
	t.Parallel()

	uc, _ := newUsecase(t, &fakeMedia{}, &fakeModel{}, 1)
	_, err := uc.Run(context.Background(), Input{VideoPath: "in.mp4"})
	if err == nil || !strings.Contains(err.Error(), "required") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIsValidTransition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to State
		want     bool
	}{
		{StateStart, StateSegmenting, true},
		{StateSegmenting, StatePairing, true},
		{StatePairing, StateRunning, true},
		{StateRunning, StateConcatenating, true},
		{StateConcatenating, StateDone, true},
		{StateRunning, StateAborted, true},
		{StateStart, StateAborted, true},
		{StateStart, StateRunning, false},
		{StateRunning, StateDone, false},
		{StateDone, StateAborted, false},
		{StateAborted, StateStart, false},
	}
	for _, tc := range cases {
		if got := isValidTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func newUsecase(t *testing.T, media *fakeMedia, model *fakeModel, workers int) (Usecase, string) {
	t.Helper()
	base := filepath.Join(t.TempDir(), "work")
	return New(Deps{
		Media:      media,
		Model:      model,
		Workspaces: workspace.NewManager(base),
		Jobs:       infer.Options{Workers: workers},
	}), base
}

func assertNoWorkspaces(t *testing.T, base string) {
	t.Helper()
	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatalf("read workspace base: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected all workspaces removed, found %d", len(entries))
	}
}

// fakeMedia writes placeholder files where ffmpeg would. Concat writes the
// base names of the manifest entries, in manifest order, into the output.
type fakeMedia struct {
	mu         sync.Mutex
	counts     map[string]int
	splitErr   map[string]error
	concatErr  error
	splits     int
	copies     int
	concats    int
	normalizes int
}

func (f *fakeMedia) Split(_ context.Context, in string, _ time.Duration, outPattern string) error {
	kind := "video"
	if strings.HasSuffix(in, ".wav") {
		kind = "audio"
	}
	f.mu.Lock()
	f.splits++
	n, err := f.counts[kind], f.splitErr[kind]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if werr := os.WriteFile(fmt.Sprintf(outPattern, i), []byte(kind), 0o644); werr != nil {
			return werr
		}
	}
	return nil
}

func (f *fakeMedia) Copy(_ context.Context, _, out string) error {
	f.mu.Lock()
	f.copies++
	f.mu.Unlock()
	return os.WriteFile(out, []byte("whole"), 0o644)
}

func (f *fakeMedia) Concat(_ context.Context, manifest, out string) error {
	f.mu.Lock()
	f.concats++
	err := f.concatErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	b, rerr := os.ReadFile(manifest)
	if rerr != nil {
		return rerr
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		p := strings.TrimSuffix(strings.TrimPrefix(line, "file '"), "'")
		names = append(names, filepath.Base(p))
	}
	return os.WriteFile(out, []byte(strings.Join(names, ",")), 0o644)
}

func (f *fakeMedia) Normalize(_ context.Context, _, out string) error {
	f.mu.Lock()
	f.normalizes++
	f.mu.Unlock()
	return os.WriteFile(out, []byte("normalized"), 0o644)
}

func (f *fakeMedia) ProbeDuration(context.Context, string) (time.Duration, error) {
	return 0, nil
}

func (f *fakeMedia) Thumbnail(context.Context, string, string) error { return nil }

type fakeModel struct {
	calls atomic.Int32
	fail  map[int]bool
	// block, when set, makes every call signal it and wait for cancellation.
	block chan struct{}
}

func (f *fakeModel) Infer(ctx context.Context, _, _, out string) error {
	f.calls.Add(1)
	if f.block != nil {
		f.block <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
	var idx int
	if _, err := fmt.Sscanf(filepath.Base(out), "out_%03d.mp4", &idx); err != nil {
		return err
	}
	if f.fail[idx] {
		return errors.New("lipsync inference: exit status 1")
	}
	return os.WriteFile(out, []byte("synced"), 0o644)
}
