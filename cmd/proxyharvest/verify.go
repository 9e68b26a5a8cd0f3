package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"proxyharvest/proxypool/validator"
)

// NewVerifyCmd creates the verify command.
func NewVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify FILE",
		Short: "Verify a proxy list file and store the functional ones",
		Long: `Verify imports a proxy list ("address:port [kind]" per line), checks every
entry and upserts the functional ones into the store. The functional
entries are printed, or written to --out.

Lines without a [kind] tag use --kind. When --kind is given explicitly,
every entry is verified as that kind.`,
		Args: cobra.ExactArgs(1),
		RunE: runVerifyCmd,
	}

	cmd.Flags().String("kind", "http", "Kind for untagged lines; forces the kind when set")
	cmd.Flags().IntP("concurrency", "c", 0, "Verification workers (default: [verify] concurrency)")
	cmd.Flags().StringP("out", "o", "", "Write the functional proxies to this file instead of stdout")

	return cmd
}

func runVerifyCmd(cmd *cobra.Command, args []string) error {
	kindStr, _ := cmd.Flags().GetString("kind")
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

	added, lineErrs, err := m.ImportFile(args[0], kind)
	for _, le := range lineErrs {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipped %v\n", le)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Imported %d proxies from %s\n", added, args[0])

	opts := validator.Options{Concurrency: concurrency}
	if opts.Concurrency <= 0 {
		opts.Concurrency = a.Config().VerifyConf.Concurrency
	}
	if cmd.Flags().Changed("kind") {
		opts.Kind = kind
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()
	ch, err := m.VerifyWorkingSet(ctx, opts)
	if err != nil {
		return err
	}
	printSummary(cmd.ErrOrStderr(), renderRun(ch, cmd.ErrOrStderr(), cmd.ErrOrStderr(), "verifying"))

	return writeWorkSet(cmd, m, out)
}

// NewRevalidateCmd creates the revalidate command.
func NewRevalidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revalidate",
		Short: "Re-verify every valid proxy in the store",
		Long: `Revalidate loads the valid proxies from the store, checks them again and
replaces the store content with the ones that are still functional.
An interrupted run (Ctrl-C) leaves the store unchanged.`,
		Args: cobra.NoArgs,
		RunE: runRevalidateCmd,
	}

	cmd.Flags().String("kind", "", "Verify every entry as this kind (default: the stored kind)")
	cmd.Flags().IntP("concurrency", "c", 0, "Verification workers (default: [verify] concurrency)")

	return cmd
}

func runRevalidateCmd(cmd *cobra.Command, _ []string) error {
	kindStr, _ := cmd.Flags().GetString("kind")
	concurrency, _ := cmd.Flags().GetInt("concurrency")

	kind, err := parseKindFlag(kindStr, true)
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if concurrency <= 0 {
		concurrency = a.Config().VerifyConf.Concurrency
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()
	ch, err := a.Manager().VerifyStore(ctx, validator.Options{Concurrency: concurrency, Kind: kind})
	if err != nil {
		return err
	}
	printSummary(cmd.ErrOrStderr(), renderRun(ch, cmd.OutOrStdout(), cmd.ErrOrStderr(), "revalidating"))
	return nil
}
