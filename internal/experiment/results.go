package experiment

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/danmuck/collsim/internal/run"
)

// WriteResults appends one RUN block to <dir>/<name>/<n>/data: a header line
// followed by `start,all_proposals,all_done` in nanoseconds per run.
func WriteResults(dir, name string, n int, results []run.Result) (path string, err error) {
	target := filepath.Join(dir, name, strconv.Itoa(n))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("experiment: create results dir: %w", err)
	}
	path = filepath.Join(target, "data")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("experiment: open results: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			path, err = "", fmt.Errorf("experiment: close results: %w", cerr)
		}
	}()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "RUN: ")
	for _, r := range results {
		fmt.Fprintf(w, "%d,%d,%d\n", r.Start.Nanoseconds(), r.AllProposals.Nanoseconds(), r.AllDone.Nanoseconds())
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("experiment: write results: %w", err)
	}
	return path, nil
}
