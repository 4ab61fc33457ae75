package network

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type recordingResponder struct {
	files map[string]string
	data  []byte
	err   string
}

func (r *recordingResponder) ProvidedPath(name string) (string, bool) {
	path, ok := r.files[name]
	return path, ok
}

func (r *recordingResponder) RespondFile(_ *ResponseHandle, data []byte) { r.data = data }

func (r *recordingResponder) RespondError(_ *ResponseHandle, reason string) { r.err = reason }

func TestAnswerFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame.png")
	if err := os.WriteFile(path, []byte("png"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := &recordingResponder{files: map[string]string{
		"frame.png": path,
		"gone.png":  filepath.Join(dir, "gone.png"),
	}}

	if err := AnswerFromDisk(r, InboundRequest{FileName: "frame.png", Handle: NewResponseHandle()}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if string(r.data) != "png" {
		t.Fatalf("expected file content, got %q", r.data)
	}

	err := AnswerFromDisk(r, InboundRequest{FileName: "unknown.png", Handle: NewResponseHandle()})
	if !errors.Is(err, ErrFileNotProvided) || r.err == "" {
		t.Fatalf("expected explicit failure for unprovided file, got %v (%q)", err, r.err)
	}

	r.err = ""
	if err := AnswerFromDisk(r, InboundRequest{FileName: "gone.png", Handle: NewResponseHandle()}); err == nil || r.err == "" {
		t.Fatalf("expected explicit failure for missing path, got %v (%q)", err, r.err)
	}
}

func TestResponseHandleDeliversOnce(t *testing.T) {
	h := NewResponseHandle()

	if !h.respond(fileReply{data: []byte("a")}) {
		t.Fatalf("expected first response to be delivered")
	}
	if h.respond(fileReply{data: []byte("b")}) {
		t.Fatalf("expected second response to be dropped")
	}
}
