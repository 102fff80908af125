package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/snowmerak/sdkloader.go/lib/logging"
	"github.com/snowmerak/sdkloader.go/lib/metrics"
	"github.com/snowmerak/sdkloader.go/lib/sdkloader"
)

var (
	cfgFile      string
	outputFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sdkloader",
	Short: "Prepare and exercise the isolated TFS SDK runtime",
	Long: `sdkloader locates the TFS adapter archive, extracts its native libraries,
opens the isolated adapter context and builds adapter commands inside it.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it with ctx.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sdkloader/config.yaml)")
	flags.StringVar(&outputFormat, "output", "table", "output format: table or json")
	flags.String("archive", "", "path or URL of the adapter archive")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "text", "log format: text or json")

	viper.BindPFlag("archive_path", flags.Lookup("archive"))
	viper.BindPFlag("log.level", flags.Lookup("log-level"))
	viper.BindPFlag("log.format", flags.Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".sdkloader"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// newHolder builds the process-wide holder from the loaded configuration.
func newHolder() (*sdkloader.Holder, *slog.Logger, error) {
	cfg, err := sdkloader.LoadConfig(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger)

	collectors := metrics.New()
	if err := collectors.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Warn("failed to register metrics", "error", err)
	}

	h := sdkloader.NewHolder(
		sdkloader.WithConfig(cfg),
		sdkloader.WithLogger(logger),
		sdkloader.WithMetrics(collectors),
	)
	sdkloader.SetDefault(h)
	return h, logger, nil
}
