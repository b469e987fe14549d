package orchestrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FixLog is the append-only trace of fix runs, one line per decision:
//
//	14:03:07.412 foo plan deterministic=2 assisted=0 hybrid=1 human=0
//
// Lines from concurrent runs interleave whole.
type FixLog struct {
	mu  sync.Mutex
	w   io.Writer
	c   io.Closer
	now func() time.Time
}

// NewFixLog writes to w. A nil w discards everything.
func NewFixLog(w io.Writer) *FixLog {
	return &FixLog{w: w, now: time.Now}
}

// OpenFixLog appends to <stateDir>/logs/fix-YYYYMMDD.log, one file per day.
// An empty stateDir gives a log that discards.
func OpenFixLog(stateDir string) (*FixLog, error) {
	if stateDir == "" {
		return NewFixLog(nil), nil
	}
	dir := filepath.Join(stateDir, "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	name := "fix-" + time.Now().Format("20060102") + ".log"
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open fix log: %w", err)
	}
	l := NewFixLog(f)
	l.c = f
	return l, nil
}

// Printf records one line for entry. An empty entry is written as "-".
func (l *FixLog) Printf(entry, event, format string, args ...any) {
	if l == nil || l.w == nil {
		return
	}
	if entry == "" {
		entry = "-"
	}
	line := fmt.Sprintf("%s %s %s %s\n", l.now().Format("15:04:05.000"), entry, event, fmt.Sprintf(format, args...))
	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(l.w, line)
}

// Close releases the underlying file, if any.
func (l *FixLog) Close() error {
	if l == nil || l.c == nil {
		return nil
	}
	return l.c.Close()
}

var (
	activeLogMu sync.RWMutex
	activeLog   *FixLog
)

// SetFixLog installs the log used by every run in the process. Nil turns
// tracing off.
func SetFixLog(l *FixLog) {
	activeLogMu.Lock()
	activeLog = l
	activeLogMu.Unlock()
}

func logf(entry, event, format string, args ...any) {
	activeLogMu.RLock()
	l := activeLog
	activeLogMu.RUnlock()
	l.Printf(entry, event, format, args...)
}
