package app

import (
	"github.com/rs/zerolog"

	intrnl "salachat/internal"
)

// RunClient launches the Bubble Tea TUI with the provided configuration.
func RunClient(cfg ClientConfig, logger zerolog.Logger) error {
	serverURL, err := NormalizeServerURL(cfg.ServerURL)
	if err != nil {
		return err
	}
	logger.Info().Str("server", serverURL).Str("version", intrnl.Version).Msg("client starting")
	return intrnl.RunClient(intrnl.ClientOptions{
		ServerURL:      serverURL,
		AdminUser:      cfg.AdminUser,
		JoinTimeout:    cfg.JoinTimeout,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})
}
