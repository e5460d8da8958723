package compiler

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// timingEvent is one JSON line of the timing file. Offsets are relative to
// the start of the build.
type timingEvent struct {
	Phase      string  `json:"phase"`
	Kind       string  `json:"kind"`
	File       string  `json:"file,omitempty"`
	Status     string  `json:"status,omitempty"`
	Modules    int     `json:"modules,omitempty"`
	StartMS    float64 `json:"start_ms"`
	DurationMS float64 `json:"duration_ms"`
}

// timeline streams timing events to a JSONL file. The zero timeline and
// a nil one drop everything.
type timeline struct {
	origin time.Time
	mu     sync.Mutex
	f      *os.File
	enc    *json.Encoder
	err    error
}

func openTimeline(origin time.Time, path string) *timeline {
	tl := &timeline{origin: origin}
	if path == "" {
		return tl
	}
	if tl.f, tl.err = os.Create(path); tl.err == nil {
		tl.enc = json.NewEncoder(tl.f)
	}
	return tl
}

func (tl *timeline) emit(ev timingEvent, since time.Time) {
	if tl == nil || tl.enc == nil {
		return
	}
	ev.StartMS = millis(since.Sub(tl.origin))
	ev.DurationMS = millis(time.Since(since))
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if err := tl.enc.Encode(ev); err != nil && tl.err == nil {
		tl.err = err
	}
}

func (tl *timeline) stage(phase, status string, since time.Time) {
	tl.emit(timingEvent{Phase: phase, Kind: "stage", Status: status}, since)
}

func (tl *timeline) file(u *unit, since time.Time) {
	status := "compiled"
	if u.Cached {
		status = "cache_hit"
	}
	tl.emit(timingEvent{Phase: "compile", Kind: "file", File: u.Rel, Status: status, Modules: len(u.Modules)}, since)
}

func (tl *timeline) Close() error {
	if tl == nil || tl.f == nil {
		return nil
	}
	if err := tl.f.Close(); err != nil && tl.err == nil {
		tl.err = err
	}
	return tl.err
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// resolveTimingPath prefers AMSGEN_TIMING_JSONL over the configured file
func resolveTimingPath(configured string) string {
	if envPath := os.Getenv("AMSGEN_TIMING_JSONL"); envPath != "" {
		return envPath
	}
	return configured
}
