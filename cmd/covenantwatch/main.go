// covenantwatch monitors loan covenants: it extracts them from contracts,
// tracks their health against reported financials, watches borrower news for
// adverse events and raises alerts when a covenant deteriorates.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/covenantwatch/covenantwatch/api"
	"github.com/covenantwatch/covenantwatch/internal/config"
	"github.com/covenantwatch/covenantwatch/internal/logger"
	"github.com/covenantwatch/covenantwatch/internal/metrics"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "covenantwatch",
	Short: "covenantwatch: loan covenant monitoring",
	Long: `covenantwatch extracts covenants from loan agreements, evaluates their
health against reported financials, scans borrower news for adverse events
and raises alerts when a covenant moves toward breach.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.Logging.Level = lvl
		}
		if _, err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
			return err
		}
		metrics.Init()
		api.Version = version
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("covenantwatch %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		srv, err := api.NewServer(cfg, api.Deps{
			Store:      a.store,
			Evaluator:  a.eval,
			Aggregator: a.agg,
			Assessor:   a.assessor,
			Scanner:    a.scanner,
			Sessions:   a.sessions,
			Backend:    a.backend,
			Cache:      a.cache,
			Logger:     a.log,
		})
		if err != nil {
			return err
		}

		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = cfg.API.Port
		}
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, port)
		a.log.Info("starting API server",
			zap.String("addr", addr),
			zap.Bool("ai", a.assessor.AIEnabled()),
			zap.Bool("backend", a.backend != nil),
		)
		return srv.ListenAndServe(addr)
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "listen port (default: api.port)")
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  covenantwatch: System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Printf("  Time:          %s\n", time.Now().Format(time.RFC1123))
		fmt.Println()

		fmt.Println("  Configuration:")
		ai := "disabled (no Gemini key)"
		if a.assessor.AIEnabled() {
			ai = "enabled (model: " + cfg.LLM.Model + ")"
		}
		fmt.Printf("    AI:            %s\n", ai)
		if a.gemini != nil {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			if err := a.gemini.Ping(ctx); err != nil {
				fmt.Printf("    Gemini:        unreachable (%v)\n", err)
			} else {
				fmt.Println("    Gemini:        reachable")
			}
			cancel()
		}
		backendURL := cfg.Backend.BaseURL
		if backendURL == "" {
			backendURL = "not configured (local store only)"
		}
		fmt.Printf("    Backend:       %s\n", backendURL)
		fmt.Printf("    Store:         %s\n", cfg.Storage.Path)
		fmt.Printf("    Cache:         %s\n", cfg.Cache.Backend)
		fmt.Printf("    News feeds:    %d\n", len(cfg.News.Feeds))
		fmt.Printf("    API Server:    %s:%d\n", cfg.API.Host, cfg.API.Port)
		fmt.Println()

		fmt.Println("  Session:")
		if cur := a.sessions.Current(); cur != nil {
			fmt.Printf("    Logged in as   %s (%s)\n", cur.User.Email, cur.User.Role)
		} else {
			fmt.Println("    Not logged in")
		}
		fmt.Println()

		fmt.Println("  API Keys:")
		for _, k := range config.CheckAPIKeys(cfg) {
			status := "not set"
			if k.IsSet {
				status = fmt.Sprintf("set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}

// httpClient returns a client with the given timeout in seconds.
func httpClient(timeoutSec int) *http.Client {
	if timeoutSec <= 0 {
		timeoutSec = 30
	}
	return &http.Client{Timeout: time.Duration(timeoutSec) * time.Second}
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
