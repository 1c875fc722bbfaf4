package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	intrnl "salachat/internal"
	"salachat/internal/app"
)

var rootCmd = &cobra.Command{
	Use:           "salachat",
	Short:         "Room chat client for the terminal",
	RunE:          runClientCmd,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Connect the TUI to a running chat server",
	RunE:  runClientCmd,
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the development chat backend",
	RunE:  runServerCmd,
}

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Start a throwaway backend and open the client against it",
	RunE:  runLocalCmd,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), intrnl.VersionString())
	},
}

var (
	flagServerURL      string
	flagAdminUser      string
	flagJoinTimeout    time.Duration
	flagRequestTimeout time.Duration
	flagLogFile        string

	flagServerAddr    string
	flagLocalAddr     string
	flagDBPath        string
	flagUploadDir     string
	flagMaxUpload     int64
	flagAdminPassword string
	flagTokenTTL      time.Duration
	flagQuiet         bool
)

func init() {
	persistent := rootCmd.PersistentFlags()
	persistent.StringVar(&flagAdminUser, "admin-user", envOrDefault("SALACHAT_ADMIN_USER", "admin"), "admin username (prefilled in the client, seeded by the server)")
	persistent.StringVar(&flagLogFile, "log-file", envOrDefault("SALACHAT_LOG_FILE", app.DefaultLogPath()), "client log file")
	persistent.DurationVar(&flagJoinTimeout, "join-timeout", 15*time.Second, "how long to wait for a room join reply")
	persistent.DurationVar(&flagRequestTimeout, "request-timeout", 10*time.Second, "timeout for REST calls and the socket handshake")
	persistent.BoolVar(&flagQuiet, "quiet", false, "suppress informational server logs")

	rootCmd.Flags().StringVar(&flagServerURL, "server", envOrDefault("SALACHAT_SERVER", app.DefaultServerURL), "chat server URL")
	clientCmd.Flags().StringVar(&flagServerURL, "server", envOrDefault("SALACHAT_SERVER", app.DefaultServerURL), "chat server URL")

	for _, cmd := range []*cobra.Command{serverCmd, localCmd} {
		flags := cmd.Flags()
		flags.StringVar(&flagDBPath, "db", envOrDefault("SALACHAT_DB_PATH", app.DefaultDBPath()), "sqlite database path")
		flags.StringVar(&flagUploadDir, "upload-dir", envOrDefault("SALACHAT_UPLOAD_DIR", app.DefaultUploadDir()), "directory for uploaded files")
		flags.Int64Var(&flagMaxUpload, "max-upload", intrnl.DefaultMaxUploadSize, "maximum upload size in bytes")
		flags.StringVar(&flagAdminPassword, "admin-password", envOrDefault("SALACHAT_ADMIN_PASSWORD", "admin123"), "seeded admin password")
		flags.DurationVar(&flagTokenTTL, "token-ttl", 8*time.Hour, "admin session lifetime")
	}
	serverCmd.Flags().StringVar(&flagServerAddr, "addr", envOrDefault("SALACHAT_ADDR", ":5001"), "listen address")
	localCmd.Flags().StringVar(&flagLocalAddr, "addr", "127.0.0.1:0", "listen address")

	rootCmd.AddCommand(clientCmd, serverCmd, localCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("salachat")
	}
}

func runClientCmd(cmd *cobra.Command, args []string) error {
	return runClient(clientConfig(flagServerURL))
}

func runServerCmd(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := app.NewConsoleLogger(os.Stderr, flagQuiet)
	cfg := serverConfig(flagServerAddr)
	handle, err := app.RunServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info().
		Str("addr", handle.Addr()).
		Str("db", cfg.DBPath).
		Str("uploads", cfg.UploadDir).
		Msg("salachat server listening")
	return handle.Wait()
}

func runLocalCmd(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The TUI owns stdout, so the embedded server shares the client log.
	logger, closer, err := app.NewFileLogger(flagLogFile, zerolog.InfoLevel)
	if err != nil {
		return err
	}
	defer closer.Close()

	handle, err := app.RunServer(ctx, serverConfig(flagLocalAddr), logger.With().Str("component", "server").Logger())
	if err != nil {
		return err
	}
	defer stopServer(handle)

	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}
	if err := app.RunClient(clientConfig(handle.URL()), logger.With().Str("component", "client").Logger()); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func runClient(cfg app.ClientConfig) error {
	logger, closer, err := app.NewFileLogger(cfg.LogPath, zerolog.InfoLevel)
	if err != nil {
		return err
	}
	defer closer.Close()
	return app.RunClient(cfg, logger)
}

func clientConfig(serverURL string) app.ClientConfig {
	return app.ClientConfig{
		ServerURL:      serverURL,
		AdminUser:      flagAdminUser,
		JoinTimeout:    flagJoinTimeout,
		RequestTimeout: flagRequestTimeout,
		LogPath:        flagLogFile,
	}
}

func serverConfig(addr string) app.ServerConfig {
	return app.ServerConfig{
		Addr:          addr,
		DBPath:        flagDBPath,
		UploadDir:     flagUploadDir,
		MaxUploadSize: flagMaxUpload,
		AdminUser:     flagAdminUser,
		AdminPassword: flagAdminPassword,
		TokenTTL:      flagTokenTTL,
	}
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
