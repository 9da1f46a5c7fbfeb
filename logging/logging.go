// Package logging provides leveled, component-tagged console logging for the
// panel controller. Lines look like:
//
//	INFO  2024-05-01T12:00:00.000Z [supervisor] task_started kind=music generation=12
package logging

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
)

// Level is a log severity. Higher levels are more severe.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel reads a level name case-insensitively. "" and "warning" are
// accepted. Anything else gives LevelInfo and false.
func ParseLevel(s string) (Level, bool) {
	name := strings.ToUpper(strings.TrimSpace(s))
	switch name {
	case "":
		return LevelInfo, true
	case "WARNING":
		return LevelWarn, true
	}
	if i := slices.Index(levelNames[:], name); i >= 0 {
		return Level(i), true
	}
	return LevelInfo, false
}

// Fields are key/value pairs appended to a line, sorted by key.
type Fields = map[string]interface{}

// output is the writer and threshold shared by a root logger and every
// logger derived from it.
type output struct {
	mu  sync.Mutex
	w   io.Writer
	min Level
}

// Logger writes one line per event:
//
//	LEVEL TIMESTAMP [component] message key=value ...
type Logger struct {
	out       *output
	component string
	traceID   string
}

// New returns an INFO logger writing to stdout.
func New() *Logger {
	return &Logger{out: &output{w: os.Stdout, min: LevelInfo}}
}

// Nop returns a logger that writes nothing.
func Nop() *Logger {
	return &Logger{out: &output{w: io.Discard, min: LevelError + 1}}
}

// WithComponent tags lines with component. The result shares the parent's
// writer and level.
func (l *Logger) WithComponent(component string) *Logger {
	c := *l
	c.component = component
	return &c
}

// WithTraceID adds trace_id=traceID to every line.
func (l *Logger) WithTraceID(traceID string) *Logger {
	c := *l
	c.traceID = traceID
	return &c
}

func (l *Logger) SetLevel(level Level) {
	l.out.mu.Lock()
	l.out.min = level
	l.out.mu.Unlock()
}

func (l *Logger) SetOutput(w io.Writer) {
	l.out.mu.Lock()
	l.out.w = w
	l.out.mu.Unlock()
}

func (l *Logger) Debug(msg string, fields ...Fields) { l.emit(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Fields)  { l.emit(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Fields)  { l.emit(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Fields) { l.emit(LevelError, msg, fields) }

func (l *Logger) emit(level Level, msg string, fields []Fields) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	if level < l.out.min {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-5s %s ", level, time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
	if l.component != "" {
		b.WriteString("[" + l.component + "] ")
	}
	b.WriteString(msg)

	merged := Fields{}
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}
	if l.traceID != "" {
		merged["trace_id"] = l.traceID
	}
	writeFields(&b, merged)
	b.WriteByte('\n')
	io.WriteString(l.out.w, b.String())
}

// writeFields appends " k=v" pairs in key order, quoting values that
// contain blanks or quotes.
func writeFields(b *strings.Builder, fields Fields) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v := fmt.Sprint(fields[k])
		if strings.ContainsAny(v, " \t\"") {
			v = fmt.Sprintf("%q", v)
		}
		b.WriteString(" " + k + "=" + v)
	}
}

// TaskRequested logs an incoming task request.
func (l *Logger) TaskRequested(kind, source string) {
	l.Info("task_requested", Fields{
		"kind":   kind,
		"source": source,
	})
}

// TaskStarted logs a launched task.
func (l *Logger) TaskStarted(kind, runID string, generation uint64) {
	l.Info("task_started", Fields{
		"kind":       kind,
		"run_id":     runID,
		"generation": generation,
	})
}

// TaskExited logs a task that finished, failed or was stopped.
func (l *Logger) TaskExited(kind, runID string, duration time.Duration, err error) {
	fields := Fields{
		"kind":     kind,
		"run_id":   runID,
		"duration": duration.Round(time.Millisecond).String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("task_failed", fields)
		return
	}
	l.Info("task_exited", fields)
}

// StatusWriteFailed logs a failed active-task record write. The task still runs.
func (l *Logger) StatusWriteFailed(kind string, err error) {
	l.Warn("status_write_failed", Fields{
		"kind":  kind,
		"error": err.Error(),
	})
}

// MonitorTransition logs a now-playing state change.
func (l *Logger) MonitorTransition(from, to, title string) {
	l.Debug("monitor_transition", Fields{
		"from":  from,
		"to":    to,
		"title": title,
	})
}

// TrackCommitted logs a confirmed track change that triggers a render.
func (l *Logger) TrackCommitted(title, artist string, playing bool) {
	l.Info("track_committed", Fields{
		"title":   title,
		"artist":  artist,
		"playing": playing,
	})
}

// FrameShown logs a frame pushed to the panel.
func (l *Logger) FrameShown(layout string, duration time.Duration) {
	l.Info("frame_shown", Fields{
		"layout":   layout,
		"duration": duration.Round(time.Millisecond).String(),
	})
}
