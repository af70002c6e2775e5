package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/sqlnet/internal/analyzer"
	"firestige.xyz/sqlnet/internal/config"
	"firestige.xyz/sqlnet/internal/log"
	"firestige.xyz/sqlnet/internal/metrics"
	"firestige.xyz/sqlnet/internal/report"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <capture>...",
	Short: "Analyze capture files and print the findings",
	Long: `Analyze one or more capture files as a single trace.

Files that cannot be read are logged and skipped; the command fails only
when none of them could be read. The report goes to stdout unless -o is given.

Examples:
  sqlnet analyze client.pcap server.pcapng
  sqlnet analyze -c sqlnet.yml -f json -o findings.json trace*.pcap`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configFile)
		if err != nil {
			exitWithError("failed to load config", err)
		}
		if analyzeFormat != "" {
			cfg.Output.Format = analyzeFormat
		}
		if err := log.Init(cfg.Log); err != nil {
			exitWithError("failed to initialize logging", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var out io.Writer = os.Stdout
		if analyzeOutput != "" {
			f, err := os.Create(analyzeOutput)
			if err != nil {
				exitWithError("failed to create output file", err)
			}
			defer f.Close()
			out = f
		}

		if err := runAnalyze(ctx, cfg, args, out); err != nil {
			slog.Error("analysis failed", "error", err)
			stop()
			os.Exit(1)
		}
	},
}

var (
	analyzeOutput string
	analyzeFormat string
)

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "",
		"write the report to this file instead of stdout")
	analyzeCmd.Flags().StringVarP(&analyzeFormat, "format", "f", "",
		"report format: yaml or json (overrides output.format)")
}

func runAnalyze(ctx context.Context, cfg *config.GlobalConfig, paths []string, w io.Writer) error {
	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics, slog.Default())
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer srv.Stop(context.Background())
	}

	a, err := analyzer.New(cfg.Analysis, slog.Default())
	if err != nil {
		return err
	}
	t, err := a.Run(ctx, paths...)
	if err != nil {
		return err
	}
	return report.Write(w, report.Build(t), cfg.Output.Format)
}
