package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"proxyharvest/proxypool/scraper"
)

// NewSourcesCmd creates the sources command.
func NewSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the registered proxy sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintln(cmd.OutOrStdout(), scraper.AllSources)
			for _, name := range a.Manager().Sources().Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
