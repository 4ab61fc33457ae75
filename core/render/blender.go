package render

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pyropy/renderfarm/core/model"
	"go.uber.org/zap"
)

// Blender runs the blender executable in background mode.
type Blender struct {
	Path string
	log  *zap.SugaredLogger
}

func NewBlender(path string, log *zap.SugaredLogger) *Blender {
	return &Blender{Path: path, log: log}
}

// ImagePattern is the output pattern handed to blender. Frames are saved as
// <job id>_<frame padded to 5 digits>.<format extension>.
func ImagePattern(outDir string, task model.Task) string {
	return filepath.Join(outDir, task.JobID.String()+"_#####")
}

func (b *Blender) args(task model.Task, blendFile, outDir string) []string {
	return []string{
		"-b", blendFile,
		"-o", ImagePattern(outDir, task),
		"-F", "PNG",
		"-s", strconv.Itoa(task.Range.Start),
		"-e", strconv.Itoa(task.Range.End - 1),
		"-a",
	}
}

func (b *Blender) Render(ctx context.Context, task model.Task, blendFile, outDir string) <-chan Status {
	out := make(chan Status, 16)

	go func() {
		defer close(out)

		if err := b.run(ctx, task, blendFile, outDir, out); err != nil {
			b.log.Warnw("render", "event", "render failed", "task", task.ID, "range", task.Range.String(), "error", err)
			send(ctx, out, Status{Kind: Error, Message: err.Error()})
		}
	}()

	return out
}

func (b *Blender) run(ctx context.Context, task model.Task, blendFile, outDir string, out chan<- Status) error {
	if err := os.MkdirAll(outDir, 0750); err != nil {
		return fmt.Errorf("create render dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, b.Path, b.args(task, blendFile, outDir)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("blender stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start blender: %w", err)
	}
	b.log.Infow("render", "event", "blender started", "task", task.ID, "range", task.Range.String(), "version", task.Version)

	p := &parser{}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if st, ok := p.parse(scanner.Text()); ok {
			send(ctx, out, st)
		}
	}

	err = cmd.Wait()
	if ctx.Err() != nil {
		return fmt.Errorf("render cancelled: %w", ctx.Err())
	}
	if err != nil {
		msg := p.lastError
		if msg == "" {
			msg = strings.TrimSpace(stderr.String())
		}
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("blender: %s", msg)
	}
	if p.lastError != "" && p.saved == 0 {
		return fmt.Errorf("blender: %s", p.lastError)
	}
	if p.saved < task.Range.Len() {
		return fmt.Errorf("blender saved %d of %d frames", p.saved, task.Range.Len())
	}

	return nil
}

func send(ctx context.Context, out chan<- Status, st Status) {
	select {
	case out <- st:
	case <-ctx.Done():
	}
}

// parser turns blender's stdout into statuses. Frame numbers come from the
// last "Fra:" line because "Saved:" lines don't carry one.
type parser struct {
	started   bool
	frame     int
	saved     int
	lastError string
}

func (p *parser) parse(line string) (Status, bool) {
	line = strings.TrimSpace(line)

	switch {
	case strings.HasPrefix(line, "Fra:"):
		field := strings.Fields(strings.TrimPrefix(line, "Fra:"))
		if len(field) == 0 {
			return Status{}, false
		}
		frame, err := strconv.Atoi(field[0])
		if err != nil {
			return Status{}, false
		}
		if p.started && frame == p.frame {
			return Status{}, false
		}
		p.started = true
		p.frame = frame
		return Status{Kind: Running, Frame: frame, Message: fmt.Sprintf("rendering frame %d", frame)}, true

	case strings.HasPrefix(line, "Saved:"):
		path := savedPath(strings.TrimSpace(strings.TrimPrefix(line, "Saved:")))
		if path == "" {
			return Status{}, false
		}
		p.saved++
		return Status{Kind: Completed, Frame: p.frame, Path: path}, true

	case strings.HasPrefix(line, "Error:"):
		p.lastError = strings.TrimSpace(strings.TrimPrefix(line, "Error:"))

	case strings.HasPrefix(line, "Warning:"):
		return Status{Kind: Running, Frame: p.frame, Message: line}, true
	}

	return Status{}, false
}

// savedPath accepts both `'path'` and `path Time: ...` forms.
func savedPath(s string) string {
	if strings.HasPrefix(s, "'") || strings.HasPrefix(s, "\"") {
		quote := s[:1]
		if end := strings.Index(s[1:], quote); end >= 0 {
			return s[1 : end+1]
		}
		return ""
	}

	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}

	return fields[0]
}
