// Package obs contains observability utilities such as logging.
package obs

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Logger is the global structured logger used by the service.
//
// Logger is exported to allow other packages to use it for logging.
var Logger *slog.Logger

// InitLogger initializes the global Logger at info level. Format "text"
// selects a tinted console handler for local development; anything else
// gets the JSON handler.
func InitLogger(format string) {
	var h slog.Handler
	if format == "text" {
		h = tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
			Level:   slog.LevelInfo,
			NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
		})
	} else {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	Logger = slog.New(h)
}
