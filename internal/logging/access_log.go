// Package logging writes the HTTP access log: one JSON object per line,
// buffered in memory and flushed by a background goroutine, with size-based
// rotation and a bounded number of retained files.
package logging

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// AccessEntry is one line of the access log
type AccessEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Bytes      int64     `json:"bytes"`
	RemoteAddr string    `json:"remote_addr"`
	UserAgent  string    `json:"user_agent,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
}

// AccessLogConfig configures an AccessLogger
type AccessLogConfig struct {
	// FileTemplate names log files; its single %s receives a timestamp,
	// e.g. "/var/log/chat/access-%s.jsonl"
	FileTemplate string

	MaxSize       int64         // bytes per file before rotation
	MaxFiles      int           // rotated files to keep
	BufferSize    int           // queued entries before new ones are dropped
	FlushInterval time.Duration // how often buffered lines reach the disk
}

// DefaultAccessLogConfig returns defaults for template
func DefaultAccessLogConfig(template string) AccessLogConfig {
	return AccessLogConfig{
		FileTemplate:  template,
		MaxSize:       50 * 1024 * 1024,
		MaxFiles:      10,
		BufferSize:    1024,
		FlushInterval: time.Second,
	}
}

// AccessLogger writes AccessEntry lines asynchronously
type AccessLogger struct {
	cfg AccessLogConfig

	mu          sync.Mutex
	currentFile string
	file        *os.File
	writer      *bufio.Writer
	currentSize int64

	entries chan AccessEntry
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool
	dropped uint64
}

// NewAccessLogger opens the first log file and starts the writer goroutine
func NewAccessLogger(cfg AccessLogConfig) (*AccessLogger, error) {
	if strings.Count(cfg.FileTemplate, "%s") != 1 {
		return nil, errors.New("access log file template must contain exactly one %s")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultAccessLogConfig("").MaxSize
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}

	l := &AccessLogger{
		cfg:     cfg,
		entries: make(chan AccessEntry, cfg.BufferSize),
		done:    make(chan struct{}),
	}
	if err := l.openFile(); err != nil {
		return nil, err
	}

	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log queues an entry. When the buffer is full the entry is dropped rather
// than slowing the request down.
func (l *AccessLogger) Log(entry AccessEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	select {
	case l.entries <- entry:
	default:
		l.dropped++
	}
}

// Dropped returns how many entries were discarded because the buffer was full
func (l *AccessLogger) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// CurrentFile returns the path of the file being written
func (l *AccessLogger) CurrentFile() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentFile
}

// Shutdown writes out queued entries and closes the file. It is safe to call twice.
func (l *AccessLogger) Shutdown() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	close(l.done)
	l.wg.Wait()
}

func (l *AccessLogger) run() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-l.entries:
			l.write(entry)
		case <-ticker.C:
			l.mu.Lock()
			_ = l.writer.Flush()
			l.mu.Unlock()
		case <-l.done:
			for {
				select {
				case entry := <-l.entries:
					l.write(entry)
				default:
					l.mu.Lock()
					_ = l.writer.Flush()
					_ = l.file.Close()
					l.mu.Unlock()
					return
				}
			}
		}
	}
}

func (l *AccessLogger) write(entry AccessEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentSize > 0 && l.currentSize+int64(len(data)) > l.cfg.MaxSize {
		if err := l.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "access log rotation failed: %v\n", err)
		}
	}
	n, _ := l.writer.Write(data)
	l.currentSize += int64(n)
}

// rotate closes the current file, opens a fresh one and prunes old files.
// Callers hold l.mu.
func (l *AccessLogger) rotate() error {
	if err := l.writer.Flush(); err != nil {
		return err
	}
	if err := l.file.Close(); err != nil {
		return err
	}
	if err := l.openFile(); err != nil {
		return err
	}
	return l.cleanupOldFiles()
}

func (l *AccessLogger) newFileName() string {
	stamp := time.Now().UTC().Format("20060102T150405.000000000")
	return fmt.Sprintf(l.cfg.FileTemplate, stamp)
}

func (l *AccessLogger) openFile() error {
	name := l.newFileName()
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open access log: %w", err)
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}

	l.currentFile = name
	l.currentSize = fi.Size()
	l.file = file
	l.writer = bufio.NewWriter(file)
	return nil
}

// cleanupOldFiles keeps the MaxFiles newest files. The timestamp in the name
// sorts chronologically.
func (l *AccessLogger) cleanupOldFiles() error {
	matches, err := filepath.Glob(fmt.Sprintf(l.cfg.FileTemplate, "*"))
	if err != nil {
		return err
	}
	sort.Strings(matches)

	for i := 0; i < len(matches)-l.cfg.MaxFiles; i++ {
		if matches[i] == l.currentFile {
			continue
		}
		_ = os.Remove(matches[i])
	}
	return nil
}
