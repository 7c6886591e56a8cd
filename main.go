package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/whipbird/chorus-go/cmd"
	"github.com/whipbird/chorus-go/internal/conf"
	"github.com/whipbird/chorus-go/internal/logging"
)

func main() {
	logging.Init()

	settings := conf.Setting()
	if settings == nil {
		logging.Fatal("settings could not be loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logging.Fatal("command execution failed", "error", err)
	}
}
