package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/audit"
	"github.com/boddenberg/txn-risk-engine/internal/config"
	"github.com/boddenberg/txn-risk-engine/internal/domain"
	"github.com/boddenberg/txn-risk-engine/internal/infra/client"
	"github.com/boddenberg/txn-risk-engine/internal/infra/messaging"
	"github.com/boddenberg/txn-risk-engine/internal/infra/observability"
	"github.com/boddenberg/txn-risk-engine/internal/infra/store/memory"
	"github.com/boddenberg/txn-risk-engine/internal/profile"
	"github.com/boddenberg/txn-risk-engine/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI is the riskctl command tree.
type CLI struct {
	out     io.Writer
	rootCmd *cobra.Command
}

func NewCLI(out io.Writer) *CLI {
	if out == nil {
		out = os.Stdout
	}
	cli := &CLI{out: out}
	cli.rootCmd = cli.newRootCmd()
	return cli
}

func (cli *CLI) Execute() error {
	return cli.rootCmd.Execute()
}

func (cli *CLI) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "riskctl",
		Short:         "Transaction risk engine tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(cli.out)
	cmd.AddCommand(newAnalyzeCmd(cli.out))
	cmd.AddCommand(newRulesCmd(cli.out))
	return cmd
}

// ============================================================
// analyze
// ============================================================

type analyzeCmd struct {
	input    string
	rules    string
	format   string
	logLevel string
	window   int
	out      io.Writer
}

func newAnalyzeCmd(out io.Writer) *cobra.Command {
	ac := &analyzeCmd{out: out}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Assess a JSON file of transactions in chronological order",
		RunE:  ac.run,
	}
	cmd.Flags().StringVar(&ac.input, "input", "", "Path to a JSON array of transactions (or {\"transactions\": [...]}), - for stdin")
	cmd.Flags().StringVar(&ac.rules, "rules", "", "Path to a rules file (YAML, JSON or TOML)")
	cmd.Flags().StringVar(&ac.format, "format", "table", "Output format: json or table")
	cmd.Flags().StringVar(&ac.logLevel, "log-level", "error", "Log level for engine diagnostics (written to stderr)")
	cmd.Flags().IntVar(&ac.window, "window", 100, "Historical window size")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func (ac *analyzeCmd) run(cmd *cobra.Command, _ []string) error {
	if ac.format != "json" && ac.format != "table" {
		return fmt.Errorf("unsupported format %q (json or table)", ac.format)
	}
	rules, err := config.LoadRules(ac.rules)
	if err != nil {
		return err
	}
	txns, err := readTransactions(ac.input)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	logger := observability.NewLogger(ac.logLevel)
	defer logger.Sync()
	svc, err := offlineService(ctx, rules, ac.window, logger)
	if err != nil {
		return err
	}

	res, err := svc.IngestBatch(ctx, txns)
	if err != nil {
		return err
	}
	if ac.format == "json" {
		enc := json.NewEncoder(ac.out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return writeTable(ac.out, res)
}

// offlineService wires the engine over in-memory stores with the rule file's
// reference rates and alerts written to the log.
func offlineService(ctx context.Context, rules *config.Rules, window int, logger *zap.Logger) (*service.RiskService, error) {
	store := memory.New()
	chain, err := audit.NewChain(ctx, audit.NewMemorySink(), time.Now, logger)
	if err != nil {
		return nil, err
	}
	return service.NewRiskService(
		service.Ports{
			History:     store,
			Assessments: store,
			Alerts:      store,
			Publisher:   messaging.NewLogPublisher(logger),
			Rates:       client.NewStaticProvider(rules.FX.BaseCurrency, rules.ReferenceRates, time.Now()),
			Audit:       chain,
		},
		profile.NewRegistry(store, profile.NewBuilder(rules.Geo.LocationHistorySize), logger),
		rules,
		service.Options{WindowSize: window, MaxConcurrency: 8},
		observability.NewMetrics(),
		logger,
	), nil
}

func readTransactions(path string) ([]domain.Transaction, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var req domain.BatchRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decode input: %w", err)
		}
		return req.Transactions, nil
	}
	var txns []domain.Transaction
	if err := json.Unmarshal(raw, &txns); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return txns, nil
}

func writeTable(out io.Writer, res *domain.BatchResult) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TRANSACTION\tENTITY\tAMOUNT\tSCORE\tLEVEL\tACTION\tPRIMARY\tSIGNALS")
	for _, ra := range res.Assessments {
		primary := "-"
		if ra.Primary != nil {
			primary = string(ra.Primary.Type)
		}
		types := make([]string, 0, len(ra.Anomalies))
		for _, an := range ra.Anomalies {
			types = append(types, string(an.Type))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			ra.TransactionID, ra.EntityID, ra.Amount.StringFixed(2), ra.Score,
			ra.Level, ra.Action, primary, strings.Join(types, ","))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "\n%d transaction(s), %d flagged\n", res.Total, res.Flagged)
	return err
}

// ============================================================
// rules
// ============================================================

func newRulesCmd(out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect detection rules",
	}

	var validatePath string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a rules file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := config.LoadRules(validatePath); err != nil {
				return err
			}
			_, err := fmt.Fprintf(out, "%s: ok\n", validatePath)
			return err
		},
	}
	validate.Flags().StringVar(&validatePath, "rules", "", "Path to a rules file")
	_ = validate.MarkFlagRequired("rules")

	var showPath string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective rules (defaults merged with an optional file)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rules, err := config.LoadRules(showPath)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(rules)
		},
	}
	show.Flags().StringVar(&showPath, "rules", "", "Path to a rules file")

	cmd.AddCommand(validate, show)
	return cmd
}
