package observability

import (
	"log/slog"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/couchcryptid/surf-forecast-etl/internal/config"
)

const serviceName = "surf-forecast-etl"

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT, installs
// it as the slog default, and tags every record with the service name.
func NewLogger(cfg *config.Config) *slog.Logger {
	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat).With("service", serviceName)
	slog.SetDefault(logger)
	return logger
}
