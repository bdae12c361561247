package utils

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileOptions configures the rotating log file shared by component loggers
type LogFileOptions struct {
	Output     string // stdout, file, both
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// NewLogWriter returns the writer behind every component logger. The returned
// closer flushes the rotating file and is a no-op for stdout only.
func NewLogWriter(opts LogFileOptions) (io.Writer, func() error) {
	if opts.Output == "stdout" || opts.FilePath == "" {
		return os.Stdout, func() error { return nil }
	}

	if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o755); err != nil {
		log.Printf("logger: cannot create log dir for %s, using stdout: %v", opts.FilePath, err)
		return os.Stdout, func() error { return nil }
	}

	rotating := &lumberjack.Logger{
		Filename:   opts.FilePath,
		MaxSize:    opts.MaxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAge,
		Compress:   opts.Compress,
	}

	if opts.Output == "file" {
		return rotating, rotating.Close
	}
	return io.MultiWriter(os.Stdout, rotating), rotating.Close
}

// NewComponentLogger builds a goroutine-safe logger with UTC microsecond timestamps
func NewComponentLogger(w io.Writer, component string) *log.Logger {
	if w == nil {
		w = os.Stdout
	}
	return log.New(w, component+" ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
}
