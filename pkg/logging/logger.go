// Package logging provides component-scoped logging for reimburse.
//
// Every process execution gets its own log file under ~/.reimburse/logs,
// shared by all components. Automation steps are chatty by nature (each
// click and wait is logged) so the file is the primary place to look when
// a form submission misbehaves.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger writes timestamped, component-tagged lines.
//
// Debugf output is suppressed unless REIMBURSE_DEBUG is set; the other
// levels write unconditionally.
type Logger struct {
	executionID string
	component   string
	file        *os.File
	logger      *log.Logger
	mu          *sync.Mutex
	logPath     string
	debug       bool
	closeOnce   *sync.Once
}

var (
	executionID     string
	executionIDOnce sync.Once

	logDir   string
	initOnce sync.Once
	initErr  error
)

func getExecutionID() string {
	executionIDOnce.Do(func() {
		executionID = uuid.New().String()
	})
	return executionID
}

func initLogDirectory() error {
	initOnce.Do(func() {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			initErr = fmt.Errorf("failed to get home directory: %w", err)
			return
		}

		logDir = filepath.Join(homeDir, ".reimburse", "logs")
		if err := os.MkdirAll(logDir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}
	})
	return initErr
}

func debugEnabled() bool {
	return os.Getenv("REIMBURSE_DEBUG") != ""
}

// NewLogger creates a logger for a component writing to
// ~/.reimburse/logs/<execution-id>-reimburse.log.
//
// If the file cannot be opened it returns a stderr logger together with
// the error, so callers can keep going and report the degradation.
func NewLogger(component string) (*Logger, error) {
	if err := initLogDirectory(); err != nil {
		return newFallbackLogger(component, err), err
	}

	execID := getExecutionID()
	logPath := filepath.Join(logDir, fmt.Sprintf("%s-reimburse.log", execID))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return newFallbackLogger(component, fmt.Errorf("failed to open log file: %w", err)), err
	}

	return &Logger{
		executionID: execID,
		component:   component,
		file:        file,
		logger:      log.New(file, "", 0),
		mu:          &sync.Mutex{},
		logPath:     logPath,
		debug:       debugEnabled(),
		closeOnce:   &sync.Once{},
	}, nil
}

// NewWriterLogger creates a logger writing to w. Used by the HTTP server in
// foreground mode and by tests.
func NewWriterLogger(component string, w io.Writer) *Logger {
	return &Logger{
		executionID: getExecutionID(),
		component:   component,
		logger:      log.New(w, "", 0),
		mu:          &sync.Mutex{},
		debug:       debugEnabled(),
		closeOnce:   &sync.Once{},
	}
}

// Discard returns a logger that drops everything.
func Discard(component string) *Logger {
	return NewWriterLogger(component, io.Discard)
}

func newFallbackLogger(component string, err error) *Logger {
	logger := log.New(os.Stderr, fmt.Sprintf("[%s] ", component), log.LstdFlags|log.Lshortfile)
	logger.Printf("WARNING: Failed to initialize file logging: %v", err)
	logger.Printf("Falling back to stderr logging")

	return &Logger{
		executionID: getExecutionID(),
		component:   component,
		logger:      logger,
		mu:          &sync.Mutex{},
		debug:       debugEnabled(),
		closeOnce:   &sync.Once{},
	}
}

// With returns a logger sharing the same sink under another component name.
func (l *Logger) With(component string) *Logger {
	clone := *l
	clone.component = component
	return &clone
}

func (l *Logger) formatLogEntry(level, message string) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	return fmt.Sprintf("[%s] [%s] [%s] %s", timestamp, l.component, level, message)
}

func (l *Logger) write(level, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Println(l.formatLogEntry(level, fmt.Sprintf(format, v...)))
}

// Printf logs a formatted message at INFO.
func (l *Logger) Printf(format string, v ...interface{}) {
	l.write("INFO", format, v...)
}

// Debugf logs a debug-level message when REIMBURSE_DEBUG is set.
func (l *Logger) Debugf(format string, v ...interface{}) {
	if !l.debug {
		return
	}
	l.write("DEBUG", format, v...)
}

// Infof logs an info-level message.
func (l *Logger) Infof(format string, v ...interface{}) {
	l.write("INFO", format, v...)
}

// Warnf logs a warning-level message.
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.write("WARN", format, v...)
}

// Errorf logs an error-level message.
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.write("ERROR", format, v...)
}

// Writer returns the underlying sink.
func (l *Logger) Writer() io.Writer {
	if l.file != nil {
		return l.file
	}
	return l.logger.Writer()
}

// ExecutionID returns the id shared by every logger of this process.
func (l *Logger) ExecutionID() string {
	return l.executionID
}

// LogPath returns the path to the log file, empty for writer loggers.
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

// GetLogDirectory returns the directory where logs are stored.
func GetLogDirectory() (string, error) {
	if err := initLogDirectory(); err != nil {
		return "", err
	}
	return logDir, nil
}
