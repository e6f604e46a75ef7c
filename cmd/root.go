package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammad-safakhou/incidentsync/config"
	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	var root = &cobra.Command{
		Use:           "incidentsync",
		Short:         "Sync the incident feed into a hosted feature layer",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")

	root.AddCommand(serveCMD(), migrateCMD(), syncCMD(), tokenCMD(), inspectCMD())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(cfgPath)
}
