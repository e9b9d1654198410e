package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/metal-stack/failover/zapup"
	"github.com/metal-stack/v"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "FAILOVER"

type cli struct {
	v   *viper.Viper
	out io.Writer
	log *zap.SugaredLogger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{out: os.Stdout}
	if err := newRootCmd(c).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd(c *cli) *cobra.Command {
	c.v = viper.New()
	c.v.SetEnvPrefix(envPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:          "failover-server",
		Short:        "serves stateful health checks for load balancers",
		Long:         "serves health checks of TCP targets over HTTP. Checks can be debounced, polled in the background and held in the failed state until reset manually.",
		SilenceUsage: true,
		Version:      v.V.String(),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := c.v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return c.initLogger()
		},
	}
	rootCmd.SetOut(c.out)

	rootCmd.PersistentFlags().String("log-level", "info", "log level, one of debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-encoding", "json", "log encoding, one of json, console")

	rootCmd.AddCommand(
		newServeCmd(c),
		newProbeCmd(c),
		newVersionCmd(c),
	)

	return rootCmd
}

func (c *cli) initLogger() error {
	if c.log != nil {
		return nil
	}

	config := zapup.ConfigFromEnv()
	config.Level = c.v.GetString("log-level")
	config.Encoding = c.v.GetString("log-encoding")
	if config.App == "" {
		config.App = "failover-server"
	}

	logger, err := zapup.New(config)
	if err != nil {
		return fmt.Errorf("unable to create logger: %w", err)
	}
	c.log = logger.Sugar()

	return nil
}

func newVersionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(c.out, v.V.String())
			return err
		},
	}
}
