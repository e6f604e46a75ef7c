package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mohammad-safakhou/incidentsync/internal/tabular"
	"github.com/spf13/cobra"
)

func inspectCMD() *cobra.Command {
	var inspect = &cobra.Command{
		Use:   "inspect <artifact.csv>",
		Short: "Decode an encoded artifact and print its rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			_, records, err := tabular.DecodeArtifact(f)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "UUID\tTYPE\tSUBTYPE\tCITY\tPUBLISHED\tLON\tLAT")
			for _, r := range records {
				published := "-"
				if r.PubMillis != nil {
					published = fmt.Sprint(tabular.Seconds(*r.PubMillis))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%g\t%g\n", r.UUID, r.Type, r.Subtype, r.City, published, r.Location.X, r.Location.Y)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d rows\n", len(records))
			return nil
		},
	}
	return inspect
}
