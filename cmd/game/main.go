// Package main plays a bot-driven game on the configured board.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	gamecmd "github.com/tomaszsb/code2027/internal/cmd/game"
	"github.com/tomaszsb/code2027/internal/platform/config"
)

func main() {
	cfg, err := gamecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	config.ExitOnError("parse flags", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.ExitOnError("play game", gamecmd.Run(ctx, cfg, os.Stdout, os.Stderr))
}
