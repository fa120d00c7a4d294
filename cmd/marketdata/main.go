package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/marketdata/internal/core/app"
	"github.com/sawpanic/marketdata/internal/core/config"
	"github.com/sawpanic/marketdata/internal/core/logging"
	"github.com/sawpanic/marketdata/internal/core/quote"
)

const version = "v0.1.0"

var (
	cfgPath  string
	logLevel string
	jsonOut  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "marketdata",
		Short:   "Multi-source market data aggregation with failover, caching, and pre-warming",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "emit machine-readable JSON output")

	rootCmd.AddCommand(
		quoteCmd(),
		quotesCmd(),
		warmCmd(),
		invalidateCmd(),
		statusCmd(),
		runCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("marketdata command failed")
	}
}

// buildApp loads configuration, configures logging, and wires a full
// App. Every subcommand shares this single composition path.
func buildApp() (*app.App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logging.Configure(level, jsonOut)
	return app.Build(cfg)
}

func printQuote(q quote.Quote) {
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(q)
		return
	}
	label := q.PriceLabel
	if label == "" {
		label = "Price"
	}
	fmt.Printf("%s\t%s=%.4f %s\tsource=%s default=%v updated=%s\n",
		q.Symbol, label, q.Price, q.Currency, q.Source, q.IsDefault, q.LastUpdated.Format("2006-01-02T15:04:05Z07:00"))
}

func quoteCmd() *cobra.Command {
	var dataType string
	var refresh bool
	cmd := &cobra.Command{
		Use:   "quote <symbol>",
		Short: "Resolve a single symbol's quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()
			dt, err := parseDataType(dataType)
			if err != nil {
				return err
			}
			q := a.GetQuote(cmd.Context(), dt, args[0], refresh)
			printQuote(q)
			return nil
		},
	}
	cmd.Flags().StringVar(&dataType, "type", "US_STOCK", "data type: US_STOCK|JP_STOCK|MUTUAL_FUND|EXCHANGE_RATE")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the cache and force an upstream fetch")
	return cmd
}

func quotesCmd() *cobra.Command {
	var dataType string
	var refresh bool
	cmd := &cobra.Command{
		Use:   "quotes <symbol...>",
		Short: "Resolve a batch of symbols' quotes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()
			dt, err := parseDataType(dataType)
			if err != nil {
				return err
			}
			results := a.GetQuotes(cmd.Context(), dt, args, refresh)
			for _, symbol := range args {
				printQuote(results[symbol])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dataType, "type", "US_STOCK", "data type: US_STOCK|JP_STOCK|MUTUAL_FUND|EXCHANGE_RATE")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the cache and force an upstream fetch")
	return cmd
}

func warmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "warm",
		Short: "Run one pre-warm tick now: sweep stale entries and refresh the hot sets",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()
			summary := a.PreWarm(cmd.Context())
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			fmt.Printf("swept cache=%d blacklist=%d aggregateFailRate=%.2f%% duration=%s\n",
				summary.CacheSwept, summary.BlacklistSwept, summary.AggregateFailRt*100, summary.Duration)
			for dt, b := range summary.PerDataType {
				fmt.Printf("  %s: total=%d defaulted=%d\n", dt, b.Total, b.Defaulted)
			}
			return nil
		},
	}
}

func invalidateCmd() *cobra.Command {
	var dataType string
	cmd := &cobra.Command{
		Use:   "invalidate <symbol>",
		Short: "Evict a symbol's cached quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()
			dt, err := parseDataType(dataType)
			if err != nil {
				return err
			}
			if err := a.Invalidate(cmd.Context(), dt, args[0]); err != nil {
				return fmt.Errorf("invalidate %s: %w", args[0], err)
			}
			fmt.Printf("invalidated %s (%s)\n", args[0], dt)
			return nil
		},
	}
	cmd.Flags().StringVar(&dataType, "type", "US_STOCK", "data type: US_STOCK|JP_STOCK|MUTUAL_FUND|EXCHANGE_RATE")
	return cmd
}

// circuitStatus reports one (source, dataType) breaker's current state.
type circuitStatus struct {
	SourceID string         `json:"sourceId"`
	DataType quote.DataType `json:"dataType"`
	State    string         `json:"state"`
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report budget usage, alert throttle stats, blacklist cooldowns, circuit state, and the last pre-warm summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			type report struct {
				Budgets     interface{}     `json:"budgets"`
				Alerts      interface{}     `json:"alerts"`
				Blacklist   interface{}     `json:"blacklist"`
				Circuits    []circuitStatus `json:"circuits"`
				LastPreWarm interface{}     `json:"lastPreWarm,omitempty"`
			}
			r := report{
				Budgets:   a.Budgets.Stats(),
				Alerts:    a.Alerts.Stats(),
				Blacklist: a.Blacklist.Snapshots(),
			}
			for _, dt := range a.Registry.DataTypes() {
				for _, src := range a.Registry.SourcesFor(dt) {
					r.Circuits = append(r.Circuits, circuitStatus{
						SourceID: src.ID(),
						DataType: dt,
						State:    a.Circuits.State(src.ID(), dt),
					})
				}
			}
			if summary, ok := a.Scheduler.LastRun(); ok {
				r.LastPreWarm = summary
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}
			fmt.Printf("budgets: %+v\n", r.Budgets)
			fmt.Printf("alerts: %+v\n", r.Alerts)
			fmt.Printf("blacklist: %+v\n", r.Blacklist)
			for _, c := range r.Circuits {
				fmt.Printf("circuit: %s/%s state=%s\n", c.SourceID, c.DataType, c.State)
			}
			if r.LastPreWarm != nil {
				fmt.Printf("lastPreWarm: %+v\n", r.LastPreWarm)
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the long-running pre-warm scheduler loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			log.Info().Msg("marketdata scheduler started")
			a.Run(ctx)
			log.Info().Msg("marketdata scheduler stopped")
			return nil
		},
	}
}

func parseDataType(s string) (quote.DataType, error) {
	dt := quote.DataType(strings.ToUpper(s))
	if !dt.Valid() {
		return "", fmt.Errorf("unknown data type %q", s)
	}
	return dt, nil
}
