package utils

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileOptions configures the rotating file behind a component logger
type LogFileOptions struct {
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewLogger returns a logger that writes to stdout and to <dir>/<name>.log with rotation.
// An empty Dir gives a stdout-only logger.
func NewLogger(name string, opts LogFileOptions) (*log.Logger, io.Closer) {
	flags := log.LstdFlags | log.Lmicroseconds | log.LUTC
	prefix := name + " "

	if opts.Dir == "" {
		return log.New(os.Stdout, prefix, flags), io.NopCloser(nil)
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		l := log.New(os.Stdout, prefix, flags)
		l.Printf("could not create log dir %s, logging to stdout only: %v", opts.Dir, err)
		return l, io.NopCloser(nil)
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, name+".log"),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
		LocalTime:  false,
	}

	return log.New(io.MultiWriter(os.Stdout, rotator), prefix, flags), rotator
}

// DiscardLogger returns a logger that drops everything, for tests
func DiscardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}
