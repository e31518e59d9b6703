// Command raid-status prints the current alert state of one location and
// exits. It shares the service's configuration and alert source.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mr1hm/go-raid-alerts/internal/config"
	"github.com/mr1hm/go-raid-alerts/internal/ingestion"
	"github.com/mr1hm/go-raid-alerts/internal/locations"
	"github.com/mr1hm/go-raid-alerts/internal/logging"
	"github.com/mr1hm/go-raid-alerts/internal/message"
	"github.com/mr1hm/go-raid-alerts/internal/resolver"
)

func main() {
	_ = godotenv.Load()

	location := flag.String("location", locations.DefaultSubdivision, "location id or name fragment")
	asJSON := flag.Bool("json", false, "print JSON")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	// keep stdout for the answer
	logging.Setup("error", cfg.Logging.Format)

	dir, err := locations.Load()
	if err != nil {
		logging.Fatalf("Failed to load locations: %v", err)
	}
	loc, ok := dir.Search(*location)
	if !ok {
		fmt.Fprintf(os.Stderr, "location not found: %s\n", *location)
		os.Exit(2)
	}

	source := ingestion.NewCachedSource(
		ingestion.NewAlertsInUA(cfg.Alerts.URL, cfg.Alerts.Token, cfg.Alerts.Timeout),
		ingestion.SourceOptions{MaxRetries: cfg.Alerts.MaxRetries, BaseDelay: cfg.Alerts.RetryBaseDelay},
	)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CycleTimeout)
	defer cancel()

	alerts, err := source.FetchActiveAlerts(ctx)
	if err != nil {
		logging.Fatalf("Failed to fetch alerts: %v", err)
	}

	res := resolver.New(dir)
	active := res.IsActive(alerts, loc.ID)
	threats := resolver.ThreatTypes(res.DetailsFor(alerts, loc.ID))

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(map[string]any{
			"location":    loc.Name,
			"locationUid": loc.ID,
			"alert":       active,
			"alertTypes":  threats,
			"summary":     res.SummarizeLocation(alerts, loc.ID),
			"countrywide": res.Summarize(alerts),
			"timestamp":   time.Now().UTC(),
		})
		return
	}

	state := "🟢 тривоги немає"
	if active {
		state = "🔴 тривога"
	}
	fmt.Printf("%s (%s): %s\n", loc.Name, loc.ID, state)
	if len(threats) > 0 {
		fmt.Printf("⚠️ %s\n", strings.Join(message.ThreatLabels(threats), ", "))
	}
	country := res.Summarize(alerts)
	fmt.Printf("🇺🇦 %d тривог, областей: %d\n", country.TotalAlerts, country.SubdivisionCount)
}
