package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner followed by the effective settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.Print("Flashdeck", Version)

	logger.Info().
		Str("version", GetFullVersion()).
		Str("environment", config.Environment).
		Str("listen", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Str("backend", config.Backend.BaseURL).
		Str("storage", config.Storage.Type).
		Msg("Flashdeck starting")
}
