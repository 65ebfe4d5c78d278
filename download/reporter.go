package download

import (
	"log/slog"
	"sync"
)

// Reporter receives per-topic progress. Implementations must be safe for
// concurrent use; topics progress in parallel.
type Reporter interface {
	Start(topic string, total int)
	Advance(topic string)
	Finish(topic string, saved int, err error)
}

// LogReporter reports progress as structured log lines.
type LogReporter struct {
	mu       sync.Mutex
	progress map[string]int
}

func NewLogReporter() *LogReporter {
	return &LogReporter{progress: make(map[string]int)}
}

func (r *LogReporter) Start(topic string, total int) {
	slog.Info("Downloading topic", slog.String("topic", topic), slog.Int("target", total))
}

func (r *LogReporter) Advance(topic string) {
	r.mu.Lock()
	r.progress[topic]++
	n := r.progress[topic]
	r.mu.Unlock()
	slog.Debug("Saved image", slog.String("topic", topic), slog.Int("saved", n))
}

func (r *LogReporter) Finish(topic string, saved int, err error) {
	if err != nil {
		slog.Error("Topic failed", slog.String("topic", topic), slog.Int("saved", saved), slog.String("error", err.Error()))
		return
	}
	slog.Info("Topic done", slog.String("topic", topic), slog.Int("saved", saved))
}

type nopReporter struct{}

func (nopReporter) Start(string, int)         {}
func (nopReporter) Advance(string)            {}
func (nopReporter) Finish(string, int, error) {}
