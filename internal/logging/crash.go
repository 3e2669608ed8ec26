package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// CrashReport describes a recovered panic.
type CrashReport struct {
	Timestamp    time.Time      `json:"timestamp"`
	Version      string         `json:"version"`
	Component    string         `json:"component,omitempty"`
	GOOS         string         `json:"goos"`
	GOARCH       string         `json:"goarch"`
	NumGoroutine int            `json:"num_goroutine"`
	PanicValue   string         `json:"panic_value"`
	StackTrace   string         `json:"stack_trace"`
	Context      map[string]any `json:"context,omitempty"`
}

// CrashHandler writes a JSON report for every panic it recovers.
type CrashHandler struct {
	mu        sync.Mutex
	dir       string
	version   string
	component string
	stderr    io.Writer

	// OnCrash is called after the report is written.
	OnCrash func(CrashReport)
}

// NewCrashHandler returns a handler writing reports to dir.
func NewCrashHandler(dir, version, component string) *CrashHandler {
	return &CrashHandler{dir: dir, version: version, component: component, stderr: os.Stderr}
}

// Recover is deferred at the top of main and of long-lived goroutines.
// The panic is reported and then re-raised so the process still fails.
//
//	defer crash.Recover(nil)
func (h *CrashHandler) Recover(ctx map[string]any) {
	if v := recover(); v != nil {
		h.HandlePanic(v, ctx)
		panic(v)
	}
}

// HandlePanic records panicValue and returns the report path.
func (h *CrashHandler) HandlePanic(panicValue any, ctx map[string]any) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	report := CrashReport{
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		Component:    h.component,
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		NumGoroutine: runtime.NumGoroutine(),
		PanicValue:   fmt.Sprintf("%v", panicValue),
		StackTrace:   string(debug.Stack()),
		Context:      ctx,
	}

	path, err := h.write(report)
	if err != nil {
		fmt.Fprintf(h.stderr, "write crash report: %v\n", err)
	} else {
		fmt.Fprintf(h.stderr, "crash report written to %s\n", path)
	}
	if h.OnCrash != nil {
		h.OnCrash(report)
	}
	return path
}

func (h *CrashHandler) write(report CrashReport) (string, error) {
	if err := os.MkdirAll(h.dir, 0750); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal crash report: %w", err)
	}
	name := fmt.Sprintf("crash-%s-%s.json", h.component, report.Timestamp.Format("20060102-150405.000000"))
	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", err
	}
	return path, nil
}

// Reports returns the stored crash reports, newest first.
func (h *CrashHandler) Reports() ([]CrashReport, error) {
	files, err := filepath.Glob(filepath.Join(h.dir, "crash-*.json"))
	if err != nil {
		return nil, err
	}
	reports := make([]CrashReport, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		var r CrashReport
		if json.Unmarshal(data, &r) == nil {
			reports = append(reports, r)
		}
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Timestamp.After(reports[j].Timestamp) })
	return reports, nil
}

// Prune removes reports older than maxAge.
func (h *CrashHandler) Prune(maxAge time.Duration) error {
	files, err := filepath.Glob(filepath.Join(h.dir, "crash-*.json"))
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	for _, f := range files {
		if info, err := os.Stat(f); err == nil && info.ModTime().Before(cutoff) {
			os.Remove(f)
		}
	}
	return nil
}
