package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/newsrisk/backend/internal/app"
	"github.com/newsrisk/backend/internal/models"
	"github.com/newsrisk/backend/internal/report"
	"github.com/newsrisk/backend/internal/risk"
	"github.com/newsrisk/backend/pkg/config"
	"github.com/newsrisk/backend/pkg/logger"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "riskctl",
		Short:         "riskctl - News risk reports from the command line",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringToStringP("set", "s", nil, "Stage toggles, e.g. --set topic_model=false,use_gpt=false")
	rootCmd.PersistentFlags().BoolP("progress", "p", false, "Print stage names to stderr")
	rootCmd.PersistentFlags().Bool("indent", true, "Indent the JSON output")

	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(fetchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Build a risk report from a search results JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			company, _ := cmd.Flags().GetString("company")

			return run(cmd, func(ctx context.Context, svc *report.Service, opts risk.Options) (*report.Analysis, error) {
				return svc.Analyze(ctx, report.Request{Company: company, Data: data, Options: opts})
			})
		},
	}

	cmd.Flags().StringP("company", "c", "", "Company the news is about")

	return cmd
}

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [company]",
		Short: "Fetch recent news for a company and build a risk report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, svc *report.Service, opts risk.Options) (*report.Analysis, error) {
				return svc.FetchAndAnalyze(ctx, args[0], opts)
			})
		},
	}
}

type action func(ctx context.Context, svc *report.Service, opts risk.Options) (*report.Analysis, error)

func run(cmd *cobra.Command, do action) error {
	opts, err := optionsFromFlags(cmd)
	if err != nil {
		return err
	}
	if progress, _ := cmd.Flags().GetBool("progress"); progress {
		opts.Progress = func(stage string) {
			fmt.Fprintln(cmd.ErrOrStderr(), "stage:", stage)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	output := cfg.Logging.OutputPath
	if output == "" || output == "stdout" {
		// stdout carries the report
		output = "stderr"
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, output); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	analysis, err := do(ctx, application.Service(), opts)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	if indent, _ := cmd.Flags().GetBool("indent"); indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(analysis)
}

func optionsFromFlags(cmd *cobra.Command) (risk.Options, error) {
	set, err := cmd.Flags().GetStringToString("set")
	if err != nil {
		return risk.Options{}, err
	}

	flags := make(map[string]bool, len(set))
	for name, value := range set {
		v, err := strconv.ParseBool(value)
		if err != nil {
			return risk.Options{}, fmt.Errorf("%w: option %s: %v", models.ErrSchema, name, err)
		}
		flags[name] = v
	}
	return risk.ParseOptions(flags)
}
