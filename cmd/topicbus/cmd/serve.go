// =============================================================================
// SERVE COMMAND - RUN THE BROKER
// =============================================================================
//
// STARTUP ORDER:
//   1. Load + validate config (fail fast, all errors at once)
//   2. Initialize the metrics registry
//   3. Build the broker and register the lifecycle listeners
//      (metrics listener first: counter sets must exist before dispatch)
//   4. Start the ack-timeout sweeper and the HTTP API
//   5. Block until SIGINT/SIGTERM, then drain in reverse order
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"topicbus/internal/api"
	"topicbus/internal/broker"
	"topicbus/internal/config"
	"topicbus/internal/metrics"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the topicbus broker",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "",
		"Path to config file (env overrides still apply)")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	reg := metrics.Init(cfg.Metrics)

	var recorder broker.PublishRecorder
	if reg.Enabled() {
		recorder = reg.Broker
	}
	b := broker.New(cfg.Broker(), recorder)
	b.Listeners().Add(metrics.NewConsumerStatsListener(reg))
	b.StartSweeper()

	server := api.NewServer(b, reg, api.ServerConfig{
		Addr:         cfg.API.Addr,
		ReadTimeout:  time.Duration(cfg.API.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.API.WriteTimeoutMs) * time.Millisecond,
		IdleTimeout:  time.Duration(cfg.API.IdleTimeoutMs) * time.Millisecond,
	})
	if err := server.Start(); err != nil {
		return err
	}

	// Block until shutdown signal.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		return err
	}
	return b.Close()
}
