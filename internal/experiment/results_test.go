package experiment

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/collsim/internal/run"
	"github.com/danmuck/collsim/internal/testutil/testlog"
)

func TestWriteResultsAppendsBlocks(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	results := []run.Result{{Run: 0, Start: 0, AllProposals: 3 * time.Millisecond, AllDone: 9 * time.Millisecond}}
	for i := 0; i < 2; i++ {
		path, err := WriteResults(dir, "bcast", 4, results)
		if err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		if want := filepath.Join(dir, "bcast", "4", "data"); path != want {
			t.Fatalf("path=%q want %q", path, want)
		}
	}
	data, err := os.ReadFile(filepath.Join(dir, "bcast", "4", "data"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "RUN: \n0,3000000,9000000\nRUN: \n0,3000000,9000000\n"
	if string(data) != want {
		t.Fatalf("results=%q want %q", data, want)
	}
}

func TestWriteResultsReportsUnusableDir(t *testing.T) {
	testlog.Start(t)

	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if path, err := WriteResults(blocker, "bcast", 4, nil); err == nil || path != "" {
		t.Fatalf("expected error under a regular file, got path=%q err=%v", path, err)
	}
}
