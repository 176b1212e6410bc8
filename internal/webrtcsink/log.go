package webrtcsink

import (
	"log/slog"

	"github.com/breeze-rmm/webrtcsink/internal/logging"
)

func newComponentLogger(component string) *slog.Logger {
	return logging.L(component)
}
