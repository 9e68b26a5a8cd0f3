package main

import (
	"fmt"

	"github.com/spf13/cobra"

	manager "proxyharvest/proxypool"
	"proxyharvest/proxypool/scraper"
	"proxyharvest/proxypool/validator"
)

// NewHarvestCmd creates the harvest command.
func NewHarvestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Collect candidate proxies from public sources",
		Long: `Harvest fetches proxy lists from one source, or from every registered
source with --source all-sources, and prints the deduplicated candidates.

With --verify the candidates are checked right away; functional ones are
written to the store and only they are printed.

Examples:
  # Collect HTTP proxies from every source
  proxyharvest harvest --kind http

  # Collect SOCKS5 proxies from one source, verify, save the survivors
  proxyharvest harvest --source proxynova --kind socks5 --verify --out socks.txt`,
		Args: cobra.NoArgs,
		RunE: runHarvestCmd,
	}

	cmd.Flags().String("source", scraper.AllSources, "Source name, or all-sources")
	cmd.Flags().String("kind", "http", "Proxy kind to harvest (http, socks5)")
	cmd.Flags().Bool("verify", false, "Verify the harvested candidates")
	cmd.Flags().IntP("concurrency", "c", 0, "Verification workers (default: [verify] concurrency)")
	cmd.Flags().StringP("out", "o", "", "Write the resulting list to this file instead of stdout")

	return cmd
}

func runHarvestCmd(cmd *cobra.Command, _ []string) error {
	source, _ := cmd.Flags().GetString("source")
	kindStr, _ := cmd.Flags().GetString("kind")
	verify, _ := cmd.Flags().GetBool("verify")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	out, _ := cmd.Flags().GetString("out")

	kind, err := parseKindFlag(kindStr, false)
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	m := a.Manager()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	ch, err := m.Harvest(ctx, source, kind)
	if err != nil {
		return err
	}
	manager.Drain(ch)
	fmt.Fprintf(cmd.ErrOrStderr(), "Harvested %d unique candidates\n", m.WorkSet().Len())

	if verify && m.WorkSet().Len() > 0 {
		if concurrency <= 0 {
			concurrency = a.Config().VerifyConf.Concurrency
		}
		ch, err := m.VerifyWorkingSet(ctx, validator.Options{Concurrency: concurrency, Kind: kind})
		if err != nil {
			return err
		}
		summary := renderRun(ch, cmd.ErrOrStderr(), cmd.ErrOrStderr(), "verifying")
		printSummary(cmd.ErrOrStderr(), summary)
	}

	return writeWorkSet(cmd, m, out)
}

// writeWorkSet 把工作集写到文件，未指定文件时写到 stdout。
func writeWorkSet(cmd *cobra.Command, m *manager.Manager, out string) error {
	if out == "" {
		_, err := m.Export(cmd.OutOrStdout(), "")
		return err
	}
	n, err := m.ExportFile(out, "")
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Saved %d proxies to %s\n", n, out)
	return nil
}
