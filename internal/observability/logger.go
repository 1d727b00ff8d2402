package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stimworks/stimlink/internal/logging"
)

// InitLogger applies the runtime logging profile, honoring the
// STIMLINK_LOG_* environment overrides, and tags the global logger
// with the application name.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
