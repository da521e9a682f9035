// Command valve-panel serves an HTTP control panel for relay-driven gate
// valves and publishes every change to MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sweeney/valve-panel/internal/config"
	"github.com/sweeney/valve-panel/internal/logger"
	"github.com/sweeney/valve-panel/internal/version"
)

func main() {
	ctx, stop := signalContext(context.Background())
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

type rootOptions struct {
	configPath string
	listen     string
	driver     string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "valve-panel",
		Short: "Serve the gate valve control panel",
		Long: `Serves the gate valve HTTP API and status page.

Valves, the relay driver and the MQTT broker are read from the YAML
configuration file. Flags override the file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	flags.StringVar(&opts.listen, "listen", "", "HTTP listen address (overrides config)")
	flags.StringVar(&opts.driver, "driver", "", "relay driver: noop, gpiocdev, periph or modbus (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error (overrides config)")

	root.AddCommand(newValvesCommand(opts))
	version.AttachCobraVersionCommand(root)
	return root
}

func newValvesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "valves",
		Short: "Print the configured valves and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tPIN\tNAME")
			for i, v := range cfg.Valves {
				fmt.Fprintf(tw, "%d\t%d\t%s\n", i, v.Pin, v.Name)
			}
			return tw.Flush()
		},
	}
}

// loadConfig reads the configuration file, applies flag overrides and sets
// the log level.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = opts.listen
	}
	if flags.Changed("driver") {
		cfg.Driver.Type = opts.driver
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	lvl, _ := logger.ParseLogLevel(cfg.LogLevel)
	logger.SetLevel(lvl)
	return cfg, nil
}

// shutdownSignal is the cancellation cause recorded when a signal arrives.
type shutdownSignal struct {
	os.Signal
}

func (s shutdownSignal) Error() string {
	return "received " + s.String()
}

// signalContext is canceled on SIGINT or SIGTERM with a shutdownSignal cause.
func signalContext(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigCh:
			cancel(shutdownSignal{s})
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel(context.Canceled)
	}
}

// shutdownReason names the signal that ended ctx for the SHUTDOWN event.
func shutdownReason(ctx context.Context) string {
	var sig shutdownSignal
	if !errors.As(context.Cause(ctx), &sig) {
		return "UNKNOWN"
	}
	switch sig.Signal {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return sig.String()
}
