package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const currentFileName = "audit.log"

// FileLoggerConfig configures the file logger
type FileLoggerConfig struct {
	Dir      string
	MaxSize  int64 // bytes before rotation; 0 means 100MB
	MaxFiles int   // rotated files kept; 0 means 10
}

// FileLogger appends entries as NDJSON to Dir/audit.log, rotating by size
type FileLogger struct {
	cfg FileLoggerConfig
	now func() time.Time

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// NewFileLogger creates the directory if needed and opens the current file
func NewFileLogger(cfg FileLoggerConfig) (*FileLogger, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("audit log directory is required")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 100 * 1024 * 1024
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 10
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	l := &FileLogger{cfg: cfg, now: time.Now}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) open() error {
	file, err := os.OpenFile(filepath.Join(l.cfg.Dir, currentFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	l.file = file
	l.encoder = json.NewEncoder(file)
	return nil
}

// rotate renames the current file with a timestamp and prunes old files.
// Callers hold l.mu.
func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log file: %w", err)
	}
	rotated := filepath.Join(l.cfg.Dir, fmt.Sprintf("audit-%s.log", l.now().UTC().Format("20060102T150405.000000000")))
	if err := os.Rename(filepath.Join(l.cfg.Dir, currentFileName), rotated); err != nil {
		return fmt.Errorf("failed to rotate audit log file: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(l.cfg.Dir, "audit-*.log"))
	if err == nil && len(files) > l.cfg.MaxFiles {
		// timestamped names sort chronologically
		sort.Strings(files)
		for _, f := range files[:len(files)-l.cfg.MaxFiles] {
			os.Remove(f)
		}
	}
	return l.open()
}

// Record implements Logger
func (l *FileLogger) Record(_ context.Context, entry *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.New("audit file logger is closed")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}
	if info, err := l.file.Stat(); err == nil && info.Size() >= l.cfg.MaxSize {
		if err := l.rotate(); err != nil {
			return err
		}
	}
	if err := l.encoder.Encode(entry); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// Close implements Logger
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadEntries decodes up to count entries from the current file; 0 reads all
func (l *FileLogger) ReadEntries(count int) ([]*Entry, error) {
	file, err := os.Open(filepath.Join(l.cfg.Dir, currentFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var entries []*Entry
	decoder := json.NewDecoder(file)
	for count <= 0 || len(entries) < count {
		var entry Entry
		if err := decoder.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode audit entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}
