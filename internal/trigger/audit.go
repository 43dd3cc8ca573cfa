package trigger

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Recorder is a Sink that appends invocation records to a JSONL activity
// log and maintains per-trigger outcome counters in a stats file. The
// format follows the stats file the original activity-logger extension
// kept for itself, moved host-side so it covers every extension.
type Recorder struct {
	mu        sync.Mutex
	logPath   string
	statsPath string
	logger    *slog.Logger
}

// auditEntry is one line of the activity log.
type auditEntry struct {
	Timestamp  string `json:"timestamp"`
	Trigger    string `json:"trigger"`
	Extension  string `json:"extension"`
	Outcome    string `json:"outcome"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// NewRecorder creates a Recorder writing under dir. The directory is
// created on first use.
func NewRecorder(dir string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		logPath:   filepath.Join(dir, "activity.log"),
		statsPath: filepath.Join(dir, "stats.json"),
		logger:    logger,
	}
}

// Record implements Sink. Failures are logged, never propagated: audit is
// observability, not control flow.
func (r *Recorder) Record(res DispatchResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.logPath), 0o755); err != nil {
		r.logger.Warn("audit dir unavailable", "error", err)
		return
	}

	if err := r.appendLog(res); err != nil {
		r.logger.Warn("audit log write failed", "error", err)
	}
	if err := r.updateStats(res); err != nil {
		r.logger.Warn("audit stats update failed", "error", err)
	}
}

func (r *Recorder) appendLog(res DispatchResult) error {
	f, err := os.OpenFile(r.logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, out := range res.Outcomes {
		entry := auditEntry{
			Timestamp:  out.Start.Format(time.RFC3339Nano),
			Trigger:    out.Trigger,
			Extension:  out.Extension,
			Outcome:    out.Status.String(),
			DurationMS: out.Duration().Milliseconds(),
		}
		if out.Err != nil {
			entry.Error = out.Err.Error()
		}
		if err := enc.Encode(entry); err != nil {
			return err
		}
	}
	return nil
}

// updateStats bumps triggers.<name>.<outcome> counters and the
// last_updated timestamp in stats.json.
func (r *Recorder) updateStats(res DispatchResult) error {
	data, err := os.ReadFile(r.statsPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		data = []byte("{}")
	}

	for _, out := range res.Outcomes {
		key := "triggers." + escapeStatsKey(out.Trigger) + "." + out.Status.String()
		count := gjson.GetBytes(data, key).Int()
		data, err = sjson.SetBytes(data, key, count+1)
		if err != nil {
			return err
		}
	}

	data, err = sjson.SetBytes(data, "last_updated", time.Now().Format(time.RFC3339))
	if err != nil {
		return err
	}

	return os.WriteFile(r.statsPath, data, 0o644)
}

// escapeStatsKey protects dots in trigger names (listall.start) from being
// treated as path separators by gjson/sjson.
func escapeStatsKey(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			out = append(out, '\\')
		}
		out = append(out, name[i])
	}
	return string(out)
}

// StatsPath returns the path of the stats file.
func (r *Recorder) StatsPath() string {
	return r.statsPath
}

// LogPath returns the path of the activity log.
func (r *Recorder) LogPath() string {
	return r.logPath
}
