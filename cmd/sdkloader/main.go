package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/snowmerak/sdkloader.go/cmd/sdkloader/cmd"
	"github.com/snowmerak/sdkloader.go/lib/lifecycle"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()

	lifecycle.Run(context.Background())
	if err != nil {
		os.Exit(1)
	}
}
