package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	logFileName   = "imagebot.log"
	logMaxSize    = 10 * 1024 * 1024
	logMaxBackups = 5
)

// RotatableLogger writes to a file and rotates it when it reaches a certain size.
type RotatableLogger struct {
	Filename   string
	MaxSize    int64 // bytes
	MaxBackups int
	file       *os.File
	mu         sync.Mutex
}

// NewRotatableLogger creates a new RotatableLogger.
func NewRotatableLogger(filename string, maxSize int64, maxBackups int) *RotatableLogger {
	return &RotatableLogger{
		Filename:   filename,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}
}

func (l *RotatableLogger) open() error {
	file, err := os.OpenFile(l.Filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = file
	return nil
}

func (l *RotatableLogger) close() error {
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func (l *RotatableLogger) rotate() error {
	if err := l.close(); err != nil {
		return err
	}

	// The oldest backup falls off the end when it is overwritten by the rename chain.
	for i := l.MaxBackups - 1; i >= 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", l.Filename, i)
		newPath := fmt.Sprintf("%s.%d", l.Filename, i+1)
		_ = os.Rename(oldPath, newPath)
	}

	if l.MaxBackups > 0 {
		_ = os.Rename(l.Filename, fmt.Sprintf("%s.1", l.Filename))
	} else {
		_ = os.Remove(l.Filename)
	}

	return l.open()
}

func (l *RotatableLogger) Write(p []byte) (n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		if err := l.open(); err != nil {
			// Fallback to stderr if file open fails
			return os.Stderr.Write(p)
		}
	}

	info, err := l.file.Stat()
	if err == nil && info.Size()+int64(len(p)) > l.MaxSize && info.Size() > 0 {
		if err := l.rotate(); err != nil {
			return 0, err
		}
	}

	return l.file.Write(p)
}

// Close releases the current file handle. The next Write reopens it.
func (l *RotatableLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.close()
}

// SetupLogger builds the process logger: stderr (human readable when console is set)
// plus a size-rotated JSON log file under logDir. The returned closer releases the file.
func SetupLogger(logDir, level string, console bool) (zerolog.Logger, io.Closer, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var stderr io.Writer = os.Stderr
	if console {
		stderr = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		logger := zerolog.New(stderr).Level(lvl).With().Timestamp().Logger()
		return logger, nopCloser{}, fmt.Errorf("create log dir: %w", err)
	}

	// 10MB limit, 5 backups
	file := NewRotatableLogger(filepath.Join(logDir, logFileName), logMaxSize, logMaxBackups)

	logger := zerolog.New(zerolog.MultiLevelWriter(stderr, file)).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	return logger, file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
