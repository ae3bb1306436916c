package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"packet-racers/pkg/config"
	"packet-racers/pkg/logger"
)

var (
	cfg      *config.Config
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "packet-racers",
	Short: "Peer-to-peer file transfer over tcp, udp and acknowledged udp",
	Long: `packet-racers moves files between nodes over a stream transport, a plain
datagram transport or a datagram transport with per-packet acknowledgements,
and resolves node identifiers through a small directory service.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.New()
		level := cfg.LogLevel()
		if logLevel != "" {
			level = logLevel
		}
		logger.Init(level, cfg.LogFile())
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Sugar.Error(err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}
