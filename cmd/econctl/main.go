/**
 * @description
 * econctl is the operator CLI for the Macronet backend.
 * Subcommands manage the source registry, run one-shot crawls, trigger
 * analysis passes, and record global economic events.
 *
 * @dependencies
 * - github.com/spf13/cobra: Command-line framework
 */

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "econctl",
		Short: "Operate the Macronet ingestion and analysis backend",
	}

	root.AddCommand(sourcesCmd())
	root.AddCommand(seedCmd())
	root.AddCommand(crawlCmd())
	root.AddCommand(analyzeCmd())
	root.AddCommand(eventsCmd())

	return root
}

func sourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage the data source registry",
	}

	cmd.AddCommand(sourcesListCmd())
	cmd.AddCommand(sourcesRegisterCmd())
	cmd.AddCommand(sourcesEnableCmd())
	cmd.AddCommand(sourcesDisableCmd())
	cmd.AddCommand(sourcesRemoveCmd())

	return cmd
}

func sourcesListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered sources, including disabled and hidden ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSourcesList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func sourcesRegisterCmd() *cobra.Command {
	var (
		name     string
		desc     string
		baseURL  string
		rpm      int
		cadence  int
		needsKey bool
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a data source or update an existing one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSourcesRegister(name, desc, baseURL, rpm, cadence, needsKey)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "unique source name (e.g. fred)")
	cmd.Flags().StringVar(&desc, "description", "", "human-readable description")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "provider API base URL")
	cmd.Flags().IntVar(&rpm, "rate-limit", 60, "requests per minute")
	cmd.Flags().IntVar(&cadence, "cadence", 24, "crawl frequency in hours")
	cmd.Flags().BoolVar(&needsKey, "api-key-required", false, "provider requires an API key")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("base-url")
	return cmd
}

func sourcesEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable NAME",
		Short: "Enable a source for crawling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSourcesSetEnabled(args[0], true)
		},
	}
}

func sourcesDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable NAME",
		Short: "Disable a source; in-flight crawls finish, new ones stop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSourcesSetEnabled(args[0], false)
		},
	}
}

func sourcesRemoveCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "remove NAME",
		Short: "Decommission a source, deleting its series, observations and crawl history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSourcesRemove(args[0], yes)
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}

func seedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Apply a YAML registry seed (countries, sources, series)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(file)
		},
	}

	cmd.Flags().StringVar(&file, "file", "sources.yaml", "seed file path")
	return cmd
}

func crawlCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run a one-shot crawl honoring leases and rate limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(source)
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "crawl a single source regardless of cadence")
	return cmd
}

func analyzeCmd() *cobra.Command {
	var (
		correlations bool
		leading      bool
		propagate    bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run network analysis passes (full pass when no flag is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(correlations, leading, propagate)
		},
	}

	cmd.Flags().BoolVar(&correlations, "correlations", false, "recompute pairwise correlations only")
	cmd.Flags().BoolVar(&leading, "leading", false, "recompute leading indicators only")
	cmd.Flags().BoolVar(&propagate, "propagate", false, "recompute derived event impacts only")
	return cmd
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Manage global economic events",
	}

	cmd.AddCommand(eventsAddCmd())
	cmd.AddCommand(eventsImpactCmd())
	cmd.AddCommand(eventsCloseCmd())

	return cmd
}

func eventsAddCmd() *cobra.Command {
	var (
		name     string
		desc     string
		category string
		date     string
		endDate  string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a global economic event",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventsAdd(name, desc, category, date, endDate)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "event name")
	cmd.Flags().StringVar(&desc, "description", "", "event description")
	cmd.Flags().StringVar(&category, "category", "", "event category (e.g. pandemic, financial_crisis)")
	cmd.Flags().StringVar(&date, "date", "", "event start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "event end date, omit for ongoing")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func eventsImpactCmd() *cobra.Command {
	var (
		eventID    string
		country    string
		magnitude  float64
		confidence float64
	)

	cmd := &cobra.Command{
		Use:   "impact",
		Short: "Assert a primary country impact; derived impacts follow trade edges",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventsImpact(eventID, country, magnitude, confidence)
		},
	}

	cmd.Flags().StringVar(&eventID, "event", "", "event UUID")
	cmd.Flags().StringVar(&country, "country", "", "ISO alpha-3 country code")
	cmd.Flags().Float64Var(&magnitude, "magnitude", 0, "signed impact magnitude (index points)")
	cmd.Flags().Float64Var(&confidence, "confidence", 1, "assertion confidence in [0,1]")
	_ = cmd.MarkFlagRequired("event")
	_ = cmd.MarkFlagRequired("country")
	return cmd
}

func eventsCloseCmd() *cobra.Command {
	var (
		eventID string
		endDate string
	)

	cmd := &cobra.Command{
		Use:   "close",
		Short: "Mark an ongoing event as ended",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventsClose(eventID, endDate)
		},
	}

	cmd.Flags().StringVar(&eventID, "event", "", "event UUID")
	cmd.Flags().StringVar(&endDate, "date", "", "end date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("event")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}
