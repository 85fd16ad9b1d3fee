// Package logging builds the prefixed loggers used by each subsystem.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a stderr logger with the given subsystem prefix.
func New(prefix string) *log.Logger {
	return log.New(os.Stderr, "["+prefix+"] ", log.LstdFlags)
}

// NewWithFile returns a logger that writes to stderr and, when path is
// non-empty, to a size-rotated log file as well.
func NewWithFile(prefix, path string) *log.Logger {
	var w io.Writer = os.Stderr
	if path != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     30, // days
			Compress:   true,
		})
	}
	return log.New(w, "["+prefix+"] ", log.LstdFlags)
}
