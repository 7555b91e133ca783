package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/JonMunkholm/countrybatch/internal/core"
	"github.com/JonMunkholm/countrybatch/internal/logging"
	"github.com/JonMunkholm/countrybatch/internal/resolver"
	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var defaultFallbacks = []string{"country", "Country", "country_name", "Country Name"}

type runOptions struct {
	column        string
	fallbacks     []string
	resolverURL   string
	workers       int
	rps           float64
	burst         int
	retryMax      int
	timeout       time.Duration
	maxSize       int64
	out           string
	format        string
	legacyQuoting bool
	quiet         bool
	logLevel      string
}

// report is the machine-readable run summary.
type report struct {
	File          string `json:"file" yaml:"file"`
	Column        string `json:"column" yaml:"column"`
	Total         int    `json:"total" yaml:"total"`
	Success       int    `json:"success" yaml:"success"`
	NotFound      int    `json:"not_found" yaml:"not_found"`
	Errors        int    `json:"errors" yaml:"errors"`
	Skipped       int    `json:"skipped" yaml:"skipped"`
	ReplacedBytes int    `json:"replaced_bytes,omitempty" yaml:"replaced_bytes,omitempty"`
	Output        string `json:"output" yaml:"output"`
	Duration      string `json:"duration" yaml:"duration"`
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "batchresolve",
		Short: "Resolve country names in CSV and TSV files",
		Long: `batchresolve sends each value of a file's query column to the country
resolution service and writes one export row per data row, in file order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(newRunCmd(stdout, stderr))
	return root
}

func newRunCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Resolve a file and write the export",
		Long: `Resolve every row of FILE ("-" reads stdin) and write the export CSV.

Files ending in .tsv are tab separated, everything else comma separated.
The summary goes to stdout when --out names a file, otherwise to stderr.

Examples:
  batchresolve run countries.csv --out results.csv
  batchresolve run data.tsv --column Nation --format json --out results.csv
  cat list.csv | batchresolve run - > results.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runResolve(cmd, args[0], opts, stdout, stderr)
			if err != nil {
				reportError(stderr, err)
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.column, "column", "c", core.DefaultColumn, "query column")
	f.StringArrayVar(&opts.fallbacks, "fallback", defaultFallbacks, "fallback column, tried in order when --column is missing (repeatable)")
	f.StringVar(&opts.resolverURL, "resolver-url", os.Getenv("RESOLVER_BASE_URL"), "resolution service base URL (env RESOLVER_BASE_URL)")
	f.IntVarP(&opts.workers, "workers", "w", core.DefaultWorkers, "concurrent resolver calls")
	f.Float64Var(&opts.rps, "rps", 0, "max resolver requests per second, 0 for unlimited")
	f.IntVar(&opts.burst, "burst", 1, "resolver request burst when --rps is set")
	f.IntVar(&opts.retryMax, "retries", 3, "retries per row on transport errors")
	f.DurationVar(&opts.timeout, "timeout", 10*time.Second, "per request timeout")
	f.Int64Var(&opts.maxSize, "max-size", 10<<20, "maximum input size in bytes, 0 for unlimited")
	f.StringVarP(&opts.out, "out", "o", "-", `export path, "-" for stdout`)
	f.StringVar(&opts.format, "format", "text", "summary format: text, json, yaml")
	f.BoolVar(&opts.legacyQuoting, "legacy-quoting", false, "do not escape quotes inside export fields")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "hide the progress bar")
	f.StringVar(&opts.logLevel, "log-level", "warn", "resolver client log level")

	return cmd
}

func runResolve(cmd *cobra.Command, path string, opts runOptions, stdout, stderr io.Writer) error {
	switch opts.format {
	case "text", "json", "yaml":
	default:
		return errors.Newf("unknown format %q (want text, json or yaml)", opts.format)
	}
	if opts.resolverURL == "" {
		return errors.New("resolver URL is required (--resolver-url or RESOLVER_BASE_URL)")
	}

	start := time.Now()

	in, err := openInput(path, cmd.InOrStdin(), opts.maxSize)
	if err != nil {
		return err
	}

	table, err := core.Parse(in.Content, core.DelimiterFor(path))
	if err != nil {
		return err
	}

	column, err := core.ResolveColumn(table.Headers, opts.column, opts.fallbacks)
	if err != nil {
		return err
	}

	retryMax := opts.retryMax
	if retryMax == 0 {
		retryMax = -1
	}
	client, err := resolver.New(resolver.Options{
		BaseURL:           opts.resolverURL,
		Timeout:           opts.timeout,
		RetryMax:          retryMax,
		RequestsPerSecond: opts.rps,
		Burst:             opts.burst,
		Logger:            logging.New(stderr, opts.logLevel, "text"),
	})
	if err != nil {
		return err
	}

	total := len(table.Rows)
	var bar *pterm.ProgressbarPrinter
	if !opts.quiet {
		bar, _ = pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Resolving " + column).
			WithWriter(stderr).
			WithRemoveWhenDone(true).
			Start()
	}

	shown := 0
	driver := core.NewDriver(client, core.DriverConfig{
		Workers: opts.workers,
		OnProgress: func(p core.Progress) {
			if bar != nil && p.Completed > shown {
				bar.Add(p.Completed - shown)
				shown = p.Completed
			}
		},
	})

	outcomes, err := driver.Run(cmd.Context(), table.Rows, column)
	if bar != nil {
		_, _ = bar.Stop()
	}
	if err != nil {
		return err
	}

	// Render first so a failed run never leaves a truncated file behind.
	var buf bytes.Buffer
	if err := core.Export(&buf, outcomes, core.ExportOptions{LegacyQuoting: opts.legacyQuoting}); err != nil {
		return errors.Wrap(err, "render export")
	}

	summaryOut := stderr
	if opts.out == "-" {
		if _, err := stdout.Write(buf.Bytes()); err != nil {
			return errors.Wrap(err, "write export")
		}
	} else {
		if err := os.WriteFile(opts.out, buf.Bytes(), 0o644); err != nil {
			return errors.Wrap(err, "write export")
		}
		summaryOut = stdout
	}

	summary := core.Summarize(outcomes)
	return writeSummary(summaryOut, opts.format, report{
		File:          path,
		Column:        column,
		Total:         summary.Total,
		Success:       summary.Success,
		NotFound:      summary.NotFound,
		Errors:        summary.Error,
		Skipped:       summary.Skipped,
		ReplacedBytes: in.Replaced,
		Output:        opts.out,
		Duration:      time.Since(start).Round(time.Millisecond).String(),
	})
}

func openInput(path string, stdin io.Reader, maxSize int64) (core.Input, error) {
	if path == "-" {
		return core.ReadInput(stdin, maxSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return core.Input{}, errors.Wrap(err, "open input")
	}
	defer f.Close()
	return core.ReadInput(f, maxSize)
}

func writeSummary(w io.Writer, format string, r report) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	}

	data := pterm.TableData{
		{"Status", "Rows"},
		{pterm.Green("success"), strconv.Itoa(r.Success)},
		{pterm.Yellow("not_found"), strconv.Itoa(r.NotFound)},
		{pterm.Red("error"), strconv.Itoa(r.Errors)},
		{pterm.Gray("skipped"), strconv.Itoa(r.Skipped)},
	}
	pterm.Success.WithWriter(w).Printfln("Resolved %d rows from %s (column %q) in %s", r.Total, r.File, r.Column, r.Duration)
	if r.ReplacedBytes > 0 {
		pterm.Warning.WithWriter(w).Printfln("%d invalid UTF-8 bytes were replaced", r.ReplacedBytes)
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()
}

// reportError prints err for a terminal user.
func reportError(w io.Writer, err error) {
	var cancelled *core.CancelledError
	if errors.As(err, &cancelled) {
		pterm.Warning.WithWriter(w).Printfln("cancelled, %d of %d completed", cancelled.Completed, cancelled.Total)
		return
	}

	msg := core.MapError(err)
	if msg.Code == "ERR000" {
		pterm.Error.WithWriter(w).Println(err.Error())
		return
	}
	pterm.Error.WithWriter(w).Printfln("%s (%s)", msg.Message, msg.Code)
	for _, hint := range core.UserHints(err) {
		pterm.Info.WithWriter(w).Println(hint)
	}
}

func init() {
	// Keep colour codes out of redirected output.
	if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice == 0 {
		pterm.DisableColor()
	}
}
