package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/app"
)

var (
	serverPort int
	serverHost string
	logLevel   string
	feedName   string
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the live order-flow server",
	Long: `Start the live order-flow server.

This will start all components:
• HTTP API (/ingest, /status, /chart, /mentor, /replay, ...)
• Live feed (Binance, OANDA or a JSON WebSocket) when configured
• Tick store with retention sweeps
• Zone memory with daily pruning
• Optional InfluxDB bar sink, Redis snapshots and NATS fan-out

Examples:
  imo server                      # Start with default settings
  imo server --port 9090          # Start on custom port
  imo server --feed binance       # Stream PAXGUSDT trades from Binance
  imo server --log-level debug    # Enable debug logging`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "Server port (default from SERVER_PORT)")
	serverCmd.Flags().StringVarP(&serverHost, "host", "H", "", "Server host (default from SERVER_HOST)")
	serverCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	serverCmd.Flags().StringVar(&feedName, "feed", "", "Live feed (none, binance, oanda, websocket)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(logLevel)
	if err != nil {
		return err
	}

	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}
	if feedName != "" {
		cfg.Exchange.Feed = feedName
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Info("Starting order-flow server")

	application := app.New(cfg, log)

	if err := application.Initialize(); err != nil {
		log.WithError(err).Error("Failed to initialize application")
		return err
	}

	if err := application.Start(); err != nil {
		log.WithError(err).Error("Failed to start application")
		return err
	}

	// Wait for interrupt signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-interrupt
	log.WithField("signal", sig.String()).Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownComplete := make(chan struct{})
	go func() {
		if err := application.Stop(); err != nil {
			log.WithError(err).Error("Application shutdown error")
		}
		close(shutdownComplete)
	}()

	select {
	case <-shutdownComplete:
		log.Info("Application shutdown complete")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout, forcing exit")
		os.Exit(1)
	}

	return nil
}
