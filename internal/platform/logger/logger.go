package logger

import (
	"log/slog"
	"os"
)

// New returns the process logger. Handlers and background loops receive it by
// injection rather than reaching for a global.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}
