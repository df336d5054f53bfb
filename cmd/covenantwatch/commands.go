package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/covenantwatch/covenantwatch/internal/backend"
	"github.com/covenantwatch/covenantwatch/internal/covenant"
	"github.com/covenantwatch/covenantwatch/internal/monitor"
	"github.com/covenantwatch/covenantwatch/internal/news"
	"github.com/covenantwatch/covenantwatch/internal/report"
	"github.com/covenantwatch/covenantwatch/internal/session"
	"github.com/covenantwatch/covenantwatch/pkg/models"
)

func init() {
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(ratiosCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(newsCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

// readJSONArg decodes the file named by args[0] ("-" or no argument reads
// stdin) into v.
func readJSONArg(args []string, v interface{}) error {
	var r io.Reader = os.Stdin
	if len(args) > 0 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON input: %w", err)
	}
	return nil
}

// --- Evaluate Command ---

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate a value (or a history file) against a covenant threshold",
	Example: `  covenantwatch evaluate --operator "<=" --threshold 3.5 --value 3.2
  covenantwatch evaluate --operator ">=" --threshold 1.25 --history points.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opStr, _ := cmd.Flags().GetString("operator")
		op, ok := models.ParseOperator(opStr)
		if !ok {
			return fmt.Errorf("unknown operator %q", opStr)
		}
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		metric, _ := cmd.Flags().GetString("metric")
		cov := models.Covenant{ID: "cli", CovenantName: metric, MetricName: metric, Operator: op, ThresholdValue: threshold}

		eval := covenant.NewEvaluator(
			covenant.WithWarningMargin(cfg.Health.WarningMarginPct),
			covenant.WithStableBand(cfg.Health.StableBandPct),
			covenant.WithMissingDataStatus(models.HealthStatus(cfg.Health.MissingDataStatus)),
		)

		if path, _ := cmd.Flags().GetString("history"); path != "" {
			var points []models.MetricPoint
			if err := readJSONArg([]string{path}, &points); err != nil {
				return err
			}
			h, err := eval.Health(cov, points)
			if err != nil {
				return err
			}
			return printJSON(h)
		}

		value := math.NaN()
		if cmd.Flags().Changed("value") {
			value, _ = cmd.Flags().GetFloat64("value")
		}
		res, err := eval.Evaluate(cov, value, threshold, op)
		if err != nil {
			return err
		}
		fmt.Printf("Status:  %s\n", res.Status)
		if res.InsufficientData {
			fmt.Println("Buffer:  n/a (no value)")
			return nil
		}
		fmt.Printf("Buffer:  %.1f%%\n", covenant.DisplayBuffer(res.BufferPercentage))
		return nil
	},
}

func init() {
	evaluateCmd.Flags().String("operator", "<=", "comparison operator (<, <=, >, >=, =, !=)")
	evaluateCmd.Flags().Float64("threshold", 0, "threshold value")
	evaluateCmd.Flags().Float64("value", 0, "current value (omit for missing data)")
	evaluateCmd.Flags().String("metric", "metric", "metric name used in messages")
	evaluateCmd.Flags().String("history", "", "JSON file of metric points [{value, observed_at}]")
}

// --- Ratios Command ---

var ratiosCmd = &cobra.Command{
	Use:   "ratios [financials.json]",
	Short: "Compute covenant ratios from one period of financial data",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var fin models.FinancialData
		if err := readJSONArg(args, &fin); err != nil {
			return err
		}
		return printJSON(covenant.ComputeRatios(fin).Rounded())
	},
}

// --- Aggregate Command ---

var aggregateCmd = &cobra.Command{
	Use:   "aggregate [events.json]",
	Short: "Aggregate adverse events into a borrower risk score",
	Long:  "Aggregates events from a JSON file, or the stored events of --borrower.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var events []models.AdverseEvent
		if borrower, _ := cmd.Flags().GetString("borrower"); borrower != "" {
			events, err = a.store.ListEvents(cmd.Context(), borrower, time.Time{})
			if err != nil {
				return err
			}
		} else if err := readJSONArg(args, &events); err != nil {
			return err
		}
		return printJSON(a.agg.Aggregate(events))
	},
}

func init() {
	aggregateCmd.Flags().String("borrower", "", "aggregate the stored events of this borrower")
}

// --- Refresh Command ---

var refreshCmd = &cobra.Command{
	Use:   "refresh <contract-id>...",
	Short: "Recompute covenant health for contracts and raise alerts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		m := a.monitor(monitor.WithBroadcast(func(al models.Alert) {
			fmt.Printf("ALERT [%s] %s: %s\n", al.Severity, al.Title, al.Message)
		}))

		if every, _ := cmd.Flags().GetDuration("watch"); every > 0 {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			err := m.Watch(ctx, every, args)
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var reportCfg *report.Config
		if f, _ := cmd.Flags().GetString("report"); f != "" {
			format, ok := report.ParseFormat(f)
			if !ok {
				return fmt.Errorf("--report must be html or text")
			}
			rc := report.DefaultConfig()
			rc.Format = format
			reportCfg = &rc
		}
		outDir, _ := cmd.Flags().GetString("out")

		for _, id := range args {
			rep, err := m.RefreshContract(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("refresh %s: %s", id, backend.Message(err))
			}
			if reportCfg == nil {
				printReport(rep)
				continue
			}
			if err := writeComplianceReport(cmd, a, rep, *reportCfg, outDir); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	refreshCmd.Flags().Duration("watch", 0, "keep refreshing at this interval (e.g. 1h)")
	refreshCmd.Flags().String("report", "", "render a compliance report (html or text) instead of the summary")
	refreshCmd.Flags().String("out", ".", "directory for html reports")
}

// writeComplianceReport prints a text report or writes an html one to outDir,
// and stores it in the backend when one is configured.
func writeComplianceReport(cmd *cobra.Command, a *app, rep *monitor.Report, rc report.Config, outDir string) error {
	rec, err := report.ToModel(rep, rc)
	if err != nil {
		return err
	}
	var content report.Content
	if err := json.Unmarshal(rec.Content, &content); err != nil {
		return err
	}

	if rc.Format == report.FormatText {
		fmt.Print(content.Body)
	} else {
		path := filepath.Join(outDir, rep.ContractID+"-compliance.html")
		if err := os.WriteFile(path, []byte(content.Body), 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Printf("Report for %s written to %s\n", rep.ContractID, path)
	}

	if a.backend != nil {
		stored, err := a.backend.CreateReport(cmd.Context(), rec)
		if err != nil {
			return fmt.Errorf("store report: %s", backend.Message(err))
		}
		fmt.Printf("Report stored as %s\n", stored.ID)
	}
	return nil
}

func printReport(rep *monitor.Report) {
	s := rep.Summary
	fmt.Printf("Contract %s (%s): %d covenants, %d compliant, %d warning, %d breached, %d failed\n",
		rep.ContractID, rep.Source, s.Total, s.Compliant, s.Warning, s.Breached, s.Failed)
	for _, r := range rep.Results {
		if r.Error != "" {
			fmt.Printf("  %-36s error: %s\n", r.Covenant.CovenantName, r.Error)
			continue
		}
		h := r.Health
		line := fmt.Sprintf("  %-36s %-10s %-13s", r.Covenant.CovenantName, h.Status, h.Trend)
		if h.BufferPercentage != nil {
			line += fmt.Sprintf(" buffer %6.1f%%", covenant.DisplayBuffer(*h.BufferPercentage))
		}
		if h.DaysToBreach != nil {
			line += fmt.Sprintf("  breach in %dd", *h.DaysToBreach)
		}
		if h.InsufficientData {
			line += "  (no data)"
		}
		fmt.Println(line)
	}
}

// --- News Command ---

var newsCmd = &cobra.Command{
	Use:   "news <borrower-id>",
	Short: "Scan configured RSS feeds for adverse news about a borrower",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("--name is required")
		}
		aliases, _ := cmd.Flags().GetStringSlice("alias")

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		b := news.Borrower{ID: args[0], Name: name, Aliases: aliases}
		if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
			events, err := a.scanner.Scan(cmd.Context(), b)
			if err != nil {
				return err
			}
			return printJSON(events)
		}
		res, err := a.scanner.Ingest(cmd.Context(), a.store, b)
		if err != nil {
			return err
		}
		fmt.Printf("%d adverse items found, %d new\n", res.Found, res.Added)
		for _, e := range res.Events {
			fmt.Printf("  [%4.1f] %-26s %s\n", e.RiskScore, e.EventType, e.Title)
		}
		return nil
	},
}

func init() {
	newsCmd.Flags().String("name", "", "borrower name to match in headlines")
	newsCmd.Flags().StringSlice("alias", nil, "additional names to match")
	newsCmd.Flags().Bool("dry-run", false, "print matches without storing them")
}

// --- Login / Logout Commands ---

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the backend and persist the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password := os.Getenv("COVENANTWATCH_PASSWORD")
		if p, _ := cmd.Flags().GetString("password"); p != "" {
			password = p
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.requireBackend(); err != nil {
			return err
		}

		res, err := a.backend.Login(cmd.Context(), email, password)
		if err != nil {
			return fmt.Errorf("login failed: %s", backend.Message(err))
		}
		if err := a.sessions.Save(cmd.Context(), session.Session{Token: res.AuthToken, User: res.User}); err != nil {
			return err
		}
		fmt.Printf("Logged in as %s\n", res.User.Email)
		return nil
	},
}

func init() {
	loginCmd.Flags().String("email", "", "account email")
	loginCmd.Flags().String("password", "", "account password (or COVENANTWATCH_PASSWORD)")
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the persisted backend session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.sessions.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}
