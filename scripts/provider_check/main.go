package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/macronet-project/backend/internal/config"
	"github.com/macronet-project/backend/internal/providers"
)

// Known-good series per provider for a cheap connectivity probe.
var probeSeries = map[string]string{
	"fred":       "GDPC1",
	"bls":        "LNS14000000",
	"census":     "timeseries/eits/resconst:TOTAL",
	"world_bank": "USA:NY.GDP.MKTP.KD.ZG",
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Display credential status (without showing actual values)
	fmt.Println("=== Provider Credentials Check ===")

	fredSet := cfg.Providers.FredAPIKey != ""
	blsSet := cfg.Providers.BLSAPIKey != ""
	censusSet := cfg.Providers.CensusAPIKey != ""

	fmt.Printf("FRED API Key: %s\n", statusString(fredSet))
	fmt.Printf("BLS API Key: %s\n", statusString(blsSet))
	fmt.Printf("Census API Key: %s\n", statusString(censusSet))
	fmt.Println("World Bank: no key required")
	fmt.Println()

	if !fredSet {
		fmt.Println("❌ FRED_API_KEY is required for the primary source. Check your .env file.")
		os.Exit(1)
	}
	if !blsSet {
		fmt.Println("⚠️  BLS_API_KEY not set: BLS allows unauthenticated calls at a reduced daily quota.")
	}
	if !censusSet {
		fmt.Println("⚠️  CENSUS_API_KEY not set: Census allows unauthenticated calls at a reduced daily quota.")
	}
	fmt.Println()

	// One cheap fetch per provider to verify connectivity and key validity.
	registry := providers.BuildRegistry(cfg)
	failures := 0
	for _, name := range []string{"fred", "bls", "census", "world_bank"} {
		provider, ok := registry[name]
		if !ok {
			continue
		}

		fmt.Printf("Testing %s (%s)...\n", name, probeSeries[name])
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		data, err := provider.FetchSeries(ctx, probeSeries[name])
		cancel()

		if err != nil {
			if isAuthError(err) {
				fmt.Printf("❌ %s authentication failed: %v\n", name, err)
				fmt.Println("   The API key is invalid, expired, or not yet activated.")
				failures++
			} else {
				fmt.Printf("⚠️  %s returned an unexpected error: %v\n", name, err)
				fmt.Println("   This might indicate a network or provider-side issue, not credentials.")
				failures++
			}
			continue
		}

		fmt.Printf("✅ %s responded: %q, %d observations\n",
			name, data.Meta.Title, len(data.Observations))
	}

	fmt.Println()
	fmt.Println("=== Summary ===")
	if failures == 0 {
		fmt.Println("✅ All providers reachable with the configured credentials.")
		return
	}
	fmt.Printf("❌ %d provider(s) failed the probe. Fix credentials or connectivity before enabling crawls.\n", failures)
	os.Exit(1)
}

func statusString(set bool) string {
	if set {
		return "[SET]"
	}
	return "[NOT SET]"
}

func isAuthError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "Unauthorized") || strings.Contains(msg, "api_key")
}
