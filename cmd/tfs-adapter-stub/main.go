// Command tfs-adapter-stub is an adapter executable serving the recording stub
// command. Archives name it in their manifest to exercise the process-backed
// construction path without a TFS server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/snowmerak/sdkloader.go/lib/bridge"
	"github.com/snowmerak/sdkloader.go/lib/command"
	"github.com/snowmerak/sdkloader.go/lib/command/stubcommand"
	"github.com/snowmerak/sdkloader.go/lib/plugin"
	"github.com/snowmerak/sdkloader.go/lib/sdkloader"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	module := plugin.NewStd()
	logger := module.Logger()

	nativeDir := os.Getenv(sdkloader.DefaultNativePathEnv)
	if nativeDir == "" {
		logger.Warn("native library directory is not set", "env", sdkloader.DefaultNativePathEnv)
	} else {
		logger.Info("using native libraries", "dir", nativeDir)
	}

	err := bridge.Serve(ctx, module, map[string]command.Constructor{
		stubcommand.Symbol: stubcommand.New,
	})
	if err != nil && ctx.Err() == nil {
		logger.Error("adapter stopped", "error", err)
		os.Exit(1)
	}
}
