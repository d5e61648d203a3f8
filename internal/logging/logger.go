// Package logging provides structured logging for the scheduling engine
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

// Logger interface for structured logging with trace support
type Logger interface {
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})

	// Context-aware logging with trace IDs
	InfoContext(ctx context.Context, msg string, fields ...interface{})
	WarnContext(ctx context.Context, msg string, fields ...interface{})
	ErrorContext(ctx context.Context, msg string, fields ...interface{})
	DebugContext(ctx context.Context, msg string, fields ...interface{})

	WithTraceID(traceID string) Logger
	WithComponent(component string) Logger
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	TraceID   string                 `json:"trace_id,omitempty"`
	Component string                 `json:"component,omitempty"`
	File      string                 `json:"file,omitempty"`
	Line      int                    `json:"line,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// ContextKey represents keys used in context for trace IDs
type ContextKey string

const (
	TraceIDKey ContextKey = "trace_id"
)

// LogLevel represents logging levels
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	default:
		return "ERROR"
	}
}

// Options configures a StructuredLogger
type Options struct {
	Level  LogLevel
	Format string // "json" or "text"
	Output io.Writer
}

// StructuredLogger implements structured logging with JSON or colored text output
type StructuredLogger struct {
	level     LogLevel
	traceID   string
	component string
	useJSON   bool
	out       io.Writer
	mu        *sync.Mutex
}

// NewLogger creates a new structured logger writing JSON to stdout
func NewLogger(level LogLevel) Logger {
	return NewLoggerWithOptions(Options{Level: level, Format: "json"})
}

// NewLoggerWithOptions creates a structured logger from explicit options
func NewLoggerWithOptions(opts Options) Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	return &StructuredLogger{
		level:   opts.Level,
		useJSON: !strings.EqualFold(opts.Format, "text"),
		out:     out,
		mu:      &sync.Mutex{},
	}
}

func (l *StructuredLogger) clone() *StructuredLogger {
	c := *l
	return &c
}

// WithTraceID creates a new logger with a trace ID
func (l *StructuredLogger) WithTraceID(traceID string) Logger {
	c := l.clone()
	c.traceID = traceID
	return c
}

// WithComponent creates a new logger with a component name
func (l *StructuredLogger) WithComponent(component string) Logger {
	c := l.clone()
	c.component = component
	return c
}

func (l *StructuredLogger) Info(msg string, fields ...interface{}) {
	l.log(INFO, "", msg, fields)
}

func (l *StructuredLogger) Warn(msg string, fields ...interface{}) {
	l.log(WARN, "", msg, fields)
}

func (l *StructuredLogger) Error(msg string, fields ...interface{}) {
	l.log(ERROR, "", msg, fields)
}

func (l *StructuredLogger) Debug(msg string, fields ...interface{}) {
	l.log(DEBUG, "", msg, fields)
}

func (l *StructuredLogger) InfoContext(ctx context.Context, msg string, fields ...interface{}) {
	l.log(INFO, GetTraceID(ctx), msg, fields)
}

func (l *StructuredLogger) WarnContext(ctx context.Context, msg string, fields ...interface{}) {
	l.log(WARN, GetTraceID(ctx), msg, fields)
}

func (l *StructuredLogger) ErrorContext(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ERROR, GetTraceID(ctx), msg, fields)
}

func (l *StructuredLogger) DebugContext(ctx context.Context, msg string, fields ...interface{}) {
	l.log(DEBUG, GetTraceID(ctx), msg, fields)
}

func (l *StructuredLogger) log(level LogLevel, contextTraceID, msg string, fields []interface{}) {
	if level < l.level {
		return
	}

	traceID := l.traceID
	if contextTraceID != "" {
		traceID = contextTraceID
	}

	// skip log and the exported level method
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		file = "unknown"
		line = 0
	} else {
		file = file[strings.LastIndex(file, "/")+1:]
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   msg,
		TraceID:   traceID,
		Component: l.component,
		File:      file,
		Line:      line,
		Fields:    fieldMap(fields),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.useJSON {
		l.writeJSON(entry)
	} else {
		l.writeText(entry)
	}
}

// fieldMap parses alternating key/value pairs; a dangling value gets a positional key
func fieldMap(fields []interface{}) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	m := make(map[string]interface{}, len(fields)/2+1)
	for i := 0; i < len(fields); i += 2 {
		if i+1 < len(fields) {
			value := fields[i+1]
			if err, ok := value.(error); ok {
				value = err.Error()
			}
			m[fmt.Sprintf("%v", fields[i])] = value
		} else {
			m[fmt.Sprintf("field_%d", i)] = fields[i]
		}
	}
	return m
}

func (l *StructuredLogger) writeJSON(entry LogEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal log entry: %v\n", err)
		return
	}
	fmt.Fprintln(l.out, string(data))
}

var levelColors = map[string]*color.Color{
	"DEBUG": color.New(color.FgHiBlack),
	"INFO":  color.New(color.FgCyan),
	"WARN":  color.New(color.FgYellow),
	"ERROR": color.New(color.FgRed, color.Bold),
}

func (l *StructuredLogger) writeText(entry LogEntry) {
	parts := []string{entry.Timestamp}

	levelTag := fmt.Sprintf("[%s]", entry.Level)
	if c, ok := levelColors[entry.Level]; ok {
		levelTag = c.Sprint(levelTag)
	}
	parts = append(parts, levelTag)

	if entry.TraceID != "" {
		short := entry.TraceID
		if len(short) > 8 {
			short = short[:8]
		}
		parts = append(parts, "trace:"+short)
	}
	if entry.Component != "" {
		parts = append(parts, "component:"+entry.Component)
	}
	parts = append(parts, entry.Message)

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, entry.Fields[k]))
	}

	if entry.File != "" && entry.Line > 0 {
		parts = append(parts, fmt.Sprintf("(%s:%d)", entry.File, entry.Line))
	}

	fmt.Fprintln(l.out, strings.Join(parts, " "))
}

// GenerateTraceID creates a new random trace id
func GenerateTraceID() string {
	return uuid.New().String()
}

// WithTraceID stores a trace id in the context, generating one when empty
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = GenerateTraceID()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID extracts the trace id from the context
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// ParseLogLevel parses a level name, defaulting to INFO
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}
