package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"codejudge/pkg/utils/contextkey"
)

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	if _, err := NewLogger(Config{Level: "info", Format: "xml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
	if _, err := NewLogger(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestContextFieldsAreWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := Init(Config{Level: "debug", Format: "json", OutputPath: path}); err != nil {
		t.Fatalf("init logger: %v", err)
	}
	t.Cleanup(func() { globalLogger = nil })

	ctx := context.WithValue(context.Background(), contextkey.TraceID, "trace-1")
	ctx = WithSubmission(ctx, "sub-9")
	Info(ctx, "hello")
	_ = Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	for _, want := range []string{`"trace_id":"trace-1"`, `"submission_id":"sub-9"`, `"msg":"hello"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %q missing %s", line, want)
		}
	}
}

func TestHelpersAreSafeWithoutInit(t *testing.T) {
	globalLogger = nil
	Info(context.Background(), "dropped")
	Error(context.TODO(), "dropped")
	if err := Sync(); err != nil {
		t.Fatalf("sync without logger: %v", err)
	}
}
