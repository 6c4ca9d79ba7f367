package logging

import (
	"log/slog"
	"strings"
)

// Writer is an io.Writer implementation that forwards process output to slog, one record per line.
type Writer struct {
	logger *slog.Logger
	msg    string
}

// NewWriter constructs a Writer bound to the provided logger. Each line is logged at debug
// level under msg with the text in the "line" attribute.
func NewWriter(logger *slog.Logger, msg string) *Writer {
	if msg == "" {
		msg = "process output"
	}
	return &Writer{logger: logger, msg: msg}
}

// Write logs every non-empty line of p.
func (w *Writer) Write(p []byte) (int, error) {
	if w.logger != nil {
		for _, line := range strings.Split(string(p), "\n") {
			line = strings.TrimRight(line, "\r")
			if line != "" {
				w.logger.Debug(w.msg, "line", line)
			}
		}
	}
	return len(p), nil
}
