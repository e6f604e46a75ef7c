package main

import (
	"fmt"

	srv "github.com/mohammad-safakhou/incidentsync/internal/server"
	"github.com/spf13/cobra"
)

// syncCMD runs a single flow and exits non-zero on failure, for use from an
// external scheduler.
func syncCMD() *cobra.Command {
	var sync = &cobra.Command{
		Use:   "sync",
		Short: "Run one append or delete flow and exit",
	}

	sync.AddCommand(&cobra.Command{
		Use:   "append <feed-type>",
		Short: "Fetch, encode, upload and upsert one feed type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, err := components(cmd)
			if err != nil {
				return err
			}
			defer comps.Close()
			res := comps.Pipeline.Append(cmd.Context(), args[0])
			fmt.Fprintln(cmd.OutOrStdout(), res.Message())
			if res.Err != nil {
				return fmt.Errorf("append %s: %w", args[0], res.Err)
			}
			return nil
		},
	})

	sync.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Delete features older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, err := components(cmd)
			if err != nil {
				return err
			}
			defer comps.Close()
			res := comps.Pipeline.Delete(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), res.Message())
			if res.Err != nil {
				return fmt.Errorf("delete: %w", res.Err)
			}
			return nil
		},
	})

	return sync
}

func components(cmd *cobra.Command) (*srv.Components, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidatePipeline(); err != nil {
		return nil, err
	}
	return srv.BuildComponents(cmd.Context(), cfg)
}
