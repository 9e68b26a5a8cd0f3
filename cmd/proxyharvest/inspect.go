package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"proxyharvest/proxypool/ingest"
)

// NewInspectCmd creates the inspect command.
func NewInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect ADDR:PORT",
		Short: "Run a detailed check of a single proxy",
		Long: `Inspect reports the exit IP and its location, anonymity (whether the
proxy hides the local IP), DNS leak status and reachability of a list of
well-known sites, rated by success rate.`,
		Args: cobra.ExactArgs(1),
		RunE: runInspectCmd,
	}
	cmd.Flags().String("kind", "http", "Proxy kind (http, socks5)")
	return cmd
}

func runInspectCmd(cmd *cobra.Command, args []string) error {
	kindStr, _ := cmd.Flags().GetString("kind")
	kind, err := parseKindFlag(kindStr, false)
	if err != nil {
		return err
	}
	c, err := ingest.ParseLine(args[0], kind)
	if err != nil {
		return fmt.Errorf("invalid proxy %q: %w", args[0], err)
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	v := a.Manager().Validator()
	report, err := v.Inspect(ctx, c)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Proxy:      %s\n", report.Candidate)
	if report.ProxyIP != "" {
		fmt.Fprintf(w, "Exit IP:    %s (%s)\n", report.ProxyIP, v.Locate(ctx, report.ProxyIP))
	}
	fmt.Fprintf(w, "Anonymity:  %s\n", report.Anonymity)
	fmt.Fprintf(w, "DNS leak:   %s\n", passFail(report.DNSLeakOK))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SITE\tRESULT\tLATENCY\tDETAIL")
	for _, s := range report.Sites {
		detail := s.Error
		if detail == "" && s.Status != 0 {
			detail = fmt.Sprintf("HTTP %d", s.Status)
		}
		fmt.Fprintf(tw, "%s\t%s\t%dms\t%s\n", s.Name, passFail(s.OK), s.Latency.Milliseconds(), detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "Success:    %d/%d (%.0f%%), %s\n", report.Successes(), len(report.Sites), report.SuccessRate, report.Rating)
	return nil
}

func passFail(ok bool) string {
	if ok {
		return "pass"
	}
	return "fail"
}

// NewLocateCmd creates the locate command.
func NewLocateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locate [IP]",
		Short: "Look up the geographic location of an IP or of every proxy in a list",
		Long: `With an IP argument, locate prints the location of that IP.
With --file, every proxy in the list is located and printed with its location.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runLocateCmd,
	}
	cmd.Flags().StringP("file", "f", "", "Proxy list file to locate")
	cmd.Flags().String("kind", "http", "Kind for untagged lines in --file")
	return cmd
}

func runLocateCmd(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	if (file == "") == (len(args) == 0) {
		return errors.New("provide either an IP or --file")
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	m := a.Manager()

	if file == "" {
		loc := m.Validator().Locate(cmd.Context(), args[0])
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", args[0], loc)
		return nil
	}

	kindStr, _ := cmd.Flags().GetString("kind")
	kind, err := parseKindFlag(kindStr, false)
	if err != nil {
		return err
	}
	added, lineErrs, err := m.ImportFile(file, kind)
	for _, le := range lineErrs {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipped %v\n", le)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Imported %d proxies from %s\n", added, file)

	ctx, cancel := signalContext(cmd)
	defer cancel()
	ch, err := m.LocateWorkingSet(ctx)
	if err != nil {
		return err
	}
	s := renderRun(ch, io.Discard, cmd.ErrOrStderr(), "locating")

	for _, e := range m.WorkSet().Snapshot() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", e.Candidate, e.Location)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Located %d/%d proxies\n", s.Functional, s.Total)
	return nil
}
