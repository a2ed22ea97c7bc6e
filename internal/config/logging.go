package config

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger builds the process logger: human-readable text on stderr
// plus JSON appended to logFile for later inspection. The returned
// cleanup closes the file. When the file cannot be opened the logger
// degrades to stderr only, so a bad log path never blocks startup.
func SetupLogger(logFile string, level slog.Level) (*slog.Logger, func() error) {
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		slog.Error("failed to open log file, using stderr only", "error", err, "file", logFile)
		textOnly := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
		return slog.New(textOnly), func() error { return nil }
	}

	logger := slog.New(dualHandler(os.Stderr, file, level))
	return logger, file.Close
}

// dualHandler fans every record out to a text handler on the terminal
// writer and a JSON handler on the file writer.
func dualHandler(terminal, file io.Writer, level slog.Level) slog.Handler {
	return slogmulti.Fanout(
		slog.NewTextHandler(terminal, &slog.HandlerOptions{Level: level}),
		slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}),
	)
}
