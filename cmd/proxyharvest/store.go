package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"proxyharvest/proxypool/ingest"
	"proxyharvest/proxypool/model"
	"proxyharvest/proxypool/storage"
)

// NewStoreCmd creates the store command group.
func NewStoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect and maintain the proxy store",
	}

	cmd.AddCommand(newStoreListCmd())
	cmd.AddCommand(newStoreAddCmd())
	cmd.AddCommand(newStoreImportCmd())
	cmd.AddCommand(newStoreExportCmd())
	cmd.AddCommand(newStoreCompactCmd())
	cmd.AddCommand(newStoreClearCmd())

	return cmd
}

func newStoreListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored proxies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kindStr, _ := cmd.Flags().GetString("kind")
			all, _ := cmd.Flags().GetBool("all")
			kind, err := parseKindFlag(kindStr, true)
			if err != nil {
				return err
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var rows []model.StoredProxy
			if all {
				rows, err = a.Manager().Store().ListAll(cmd.Context())
			} else {
				rows, err = a.Manager().Store().ListValid(cmd.Context(), kind)
			}
			if err != nil {
				return err
			}
			return printProxies(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().String("kind", "", "Only list this kind (ignored with --all)")
	cmd.Flags().Bool("all", false, "Include invalid entries")
	return cmd
}

func printProxies(w io.Writer, rows []model.StoredProxy) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tPORT\tKIND\tLATENCY\tLAST CHECKED\tVALID")
	for _, p := range rows {
		latency := "-"
		if p.ResponseTime != nil {
			latency = p.ResponseTime.Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%t\n",
			p.Address, p.Port, p.Kind, latency, p.LastChecked.Local().Format("2006-01-02 15:04:05"), p.Valid)
	}
	return tw.Flush()
}

func newStoreAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add ADDR:PORT [ADDR:PORT...]",
		Short: "Add proxies to the store without verifying them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kindStr, _ := cmd.Flags().GetString("kind")
			kind, err := parseKindFlag(kindStr, false)
			if err != nil {
				return err
			}

			cands := make([]model.Candidate, 0, len(args))
			for _, arg := range args {
				c, err := ingest.ParseLine(arg, kind)
				if err != nil {
					return fmt.Errorf("invalid proxy %q: %w", arg, err)
				}
				cands = append(cands, c)
			}
			return addToStore(cmd, cands)
		},
	}
	cmd.Flags().String("kind", "http", "Kind for untagged entries")
	return cmd
}

func newStoreImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Add every entry of a proxy list file to the store without verifying",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kindStr, _ := cmd.Flags().GetString("kind")
			kind, err := parseKindFlag(kindStr, false)
			if err != nil {
				return err
			}

			cands, lineErrs, loadErr := storage.NewFileStorage(args[0]).Load(kind)
			for _, le := range lineErrs {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped %v\n", le)
			}
			if len(cands) == 0 && loadErr != nil {
				return loadErr
			}
			if err := addToStore(cmd, cands); err != nil {
				return err
			}
			return loadErr
		},
	}
	cmd.Flags().String("kind", "http", "Kind for untagged lines")
	return cmd
}

func addToStore(cmd *cobra.Command, cands []model.Candidate) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.Manager().AddToStore(cmd.Context(), cands)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %d proxies (%d already stored)\n", n, len(cands)-n)
	return nil
}

func newStoreExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the valid stored proxies as a proxy list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kindStr, _ := cmd.Flags().GetString("kind")
			out, _ := cmd.Flags().GetString("out")
			kind, err := parseKindFlag(kindStr, true)
			if err != nil {
				return err
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			n, err := a.Manager().ExportStore(cmd.Context(), w, kind)
			if err != nil {
				return err
			}
			if out != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d proxies to %s\n", n, out)
			}
			return nil
		},
	}
	cmd.Flags().String("kind", "", "Only export this kind")
	cmd.Flags().StringP("out", "o", "", "Write to this file instead of stdout")
	return cmd
}

func newStoreCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Merge duplicate (address, port) rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			removed, err := a.Manager().Store().Compact(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d duplicate rows\n", removed)
			return nil
		},
	}
}

var errClearNotConfirmed = errors.New("refusing to clear the store without --yes")

func newStoreClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return errClearNotConfirmed
			}
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Manager().Store().ClearAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Store cleared")
			return nil
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Confirm deleting every row")
	return cmd
}
