package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"packet-racers/directory"
	"packet-racers/pkg/config"
	"packet-racers/pkg/logger"
)

func main() {
	cfg := config.New()
	addr := flag.StringP("addr", "a", cfg.DirectoryAddr(), "address to listen on")
	advertise := flag.Bool("advertise", false, "announce over mDNS")
	flag.Parse()

	logger.Init(cfg.LogLevel(), cfg.LogFile())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := directory.NewServer(*addr, directory.WithAdvertise(*advertise))
	if err := server.ListenAndAccept(); err != nil {
		logger.Sugar.Error("Error starting directory ", err)
		os.Exit(1)
	}

	<-ctx.Done()
	if err := server.Stop(); err != nil {
		logger.Sugar.Error(err)
	}
}
