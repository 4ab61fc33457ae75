package render

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/pyropy/renderfarm/core/model"
	"go.uber.org/zap"
)

func TestParserReportsFramesAndSavedImages(t *testing.T) {
	p := &parser{}
	lines := []string{
		"Blender 4.1.0 (hash 0000 built 2024-03-25)",
		"Fra:3 Mem:12.00M (Peak 12.00M) | Time:00:00.10 | Syncing Cube",
		"Fra:3 Mem:14.00M (Peak 14.00M) | Time:00:01.20 | Rendering 1 / 64 samples",
		"Warning: image format is lossy",
		"Saved: '/tmp/out/job_00003.png'",
		" Time: 00:01.90 (Saving: 00:00.02)",
		"Fra:4 Mem:12.00M (Peak 12.00M) | Time:00:00.10 | Syncing Cube",
		"Saved: /tmp/out/job_00004.png Time: 00:02.10 (Saving: 00:00.02)",
	}

	var got []Status
	for _, l := range lines {
		if st, ok := p.parse(l); ok {
			got = append(got, st)
		}
	}

	want := []Status{
		{Kind: Running, Frame: 3, Message: "rendering frame 3"},
		{Kind: Running, Frame: 3, Message: "Warning: image format is lossy"},
		{Kind: Completed, Frame: 3, Path: "/tmp/out/job_00003.png"},
		{Kind: Running, Frame: 4, Message: "rendering frame 4"},
		{Kind: Completed, Frame: 4, Path: "/tmp/out/job_00004.png"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d statuses, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("status %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
	if p.saved != 2 {
		t.Fatalf("expected 2 saved frames, got %d", p.saved)
	}
}

func TestParserRecordsErrors(t *testing.T) {
	p := &parser{}
	if _, ok := p.parse("Error: Cannot read file '/tmp/missing.blend'"); ok {
		t.Fatalf("expected error line to produce no status")
	}
	if p.lastError != "Cannot read file '/tmp/missing.blend'" {
		t.Fatalf("unexpected error message %q", p.lastError)
	}
}

func TestBlenderArgsCoverTaskRange(t *testing.T) {
	task := model.Task{JobID: uuid.New(), Range: model.Range{Start: 4, End: 7}}
	args := NewBlender("blender", zap.NewNop().Sugar()).args(task, "scene.blend", "out")

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-s 4 -e 6 -a") {
		t.Fatalf("expected inclusive end frame 6, got %q", joined)
	}
	if !strings.Contains(joined, "-o "+filepath.Join("out", task.JobID.String()+"_#####")) {
		t.Fatalf("expected job image pattern, got %q", joined)
	}
}

func fakeBlender(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script renderer requires a unix shell")
	}

	path := filepath.Join(t.TempDir(), "blender")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatalf("write fake blender: %v", err)
	}

	return path
}

func collect(ch <-chan Status) []Status {
	var result []Status
	for st := range ch {
		result = append(result, st)
	}
	return result
}

func TestBlenderRenderCompletes(t *testing.T) {
	exe := fakeBlender(t, `echo "Fra:1 Mem:1M | Syncing"
echo "Saved: '/tmp/out/a_00001.png'"
`)
	task := model.Task{ID: uuid.New(), JobID: uuid.New(), Range: model.Range{Start: 1, End: 2}}

	got := collect(NewBlender(exe, zap.NewNop().Sugar()).Render(context.Background(), task, "scene.blend", t.TempDir()))
	if len(got) != 2 || got[1].Kind != Completed || got[1].Path != "/tmp/out/a_00001.png" || got[1].Frame != 1 {
		t.Fatalf("unexpected statuses %+v", got)
	}
}

func TestBlenderRenderFailure(t *testing.T) {
	exe := fakeBlender(t, `echo "Error: Cannot read file"
exit 1
`)
	task := model.Task{ID: uuid.New(), JobID: uuid.New(), Range: model.Range{Start: 1, End: 2}}

	got := collect(NewBlender(exe, zap.NewNop().Sugar()).Render(context.Background(), task, "scene.blend", t.TempDir()))
	if len(got) != 1 || got[0].Kind != Error || !strings.Contains(got[0].Message, "Cannot read file") {
		t.Fatalf("unexpected statuses %+v", got)
	}
}

func TestBlenderRenderMissingFrames(t *testing.T) {
	exe := fakeBlender(t, `echo "Fra:1 Mem:1M | Syncing"
echo "Saved: '/tmp/out/a_00001.png'"
`)
	task := model.Task{ID: uuid.New(), JobID: uuid.New(), Range: model.Range{Start: 1, End: 3}}

	got := collect(NewBlender(exe, zap.NewNop().Sugar()).Render(context.Background(), task, "scene.blend", t.TempDir()))
	if len(got) != 3 || got[2].Kind != Error {
		t.Fatalf("expected trailing error for unsaved frame, got %+v", got)
	}
}
