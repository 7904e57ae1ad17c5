package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/opendatahub/catalog-harvester/internal/catalog"
	"github.com/opendatahub/catalog-harvester/internal/config"
	"github.com/opendatahub/catalog-harvester/internal/harvester"
	"github.com/opendatahub/catalog-harvester/internal/httpx"
	"github.com/opendatahub/catalog-harvester/internal/logging"
	"github.com/opendatahub/catalog-harvester/internal/metrics"
	"github.com/opendatahub/catalog-harvester/internal/progress"
	"github.com/opendatahub/catalog-harvester/internal/registry"
	"github.com/opendatahub/catalog-harvester/internal/streamer"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})

	slog.Info("catalog harvester starting",
		"version", harvester.Version,
		"git_sha", harvester.GitSHA,
	)

	if cfg.Metrics.Enabled {
		metrics.Init("")
		go func() {
			slog.Info("metrics server listening", "address", cfg.Metrics.Address)
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		slog.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	client, err := newCatalogClient(cfg)
	if err != nil {
		slog.Error("catalog client setup failed", "error", err)
		os.Exit(1)
	}

	reg, err := registry.NewWriter(ctx, cfg.Registry.PostgresDSN)
	if err != nil {
		slog.Error("registry setup failed", "error", err)
		os.Exit(1)
	}
	defer reg.Close()

	h := harvester.New(cfg, client)
	h.Registry = reg

	var reporter *progress.Reporter
	h.OnStart = func(total int) {
		reporter = progress.NewReporter(progress.Options{Total: total})
		reporter.Start()
	}
	h.OnProgress = func(out streamer.Outcome) {
		if reporter != nil {
			reporter.ResourceCompleted(out.OK())
		}
	}

	result, err := h.Run(ctx)
	if reporter != nil {
		reporter.Stop()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("harvest interrupted")
			os.Exit(130)
		}
		slog.Error("harvest failed", "error", err)
		os.Exit(1)
	}

	printSummary(result)
}

// newCatalogClient builds the configured catalog backend. A preset wins over
// explicit base URL / domain settings.
func newCatalogClient(cfg config.Config) (catalog.Client, error) {
	hc := httpx.NewClient(httpx.Options{
		Headers:         cfg.HTTP.Headers,
		Timeout:         cfg.HTTP.ResourceTimeout,
		RetryAttempts:   cfg.HTTP.RetryAttempts,
		RetryBackoff:    cfg.HTTP.RetryBackoff,
		RetryMaxBackoff: cfg.HTTP.RetryMaxBackoff,
	})

	switch cfg.Catalog.Kind {
	case "ckan":
		switch cfg.Catalog.Preset {
		case "canada":
			return catalog.NewCanadaCKAN(hc), nil
		case "italy":
			return catalog.NewItalyCKAN(hc), nil
		case "uk":
			return catalog.NewUKCKAN(hc), nil
		case "modena":
			return catalog.NewModenaCKAN(hc), nil
		case "":
			if cfg.Catalog.BaseURL == "" {
				return nil, fmt.Errorf("ckan catalog needs a preset or base_url")
			}
			actionPath := cfg.Catalog.ActionPath
			if actionPath == "" {
				actionPath = "/api/3/action"
			}
			return catalog.NewCKANClient(cfg.Catalog.BaseURL, actionPath, hc), nil
		default:
			return nil, fmt.Errorf("unknown ckan preset: %s", cfg.Catalog.Preset)
		}
	case "socrata":
		switch cfg.Catalog.Preset {
		case "chicago":
			return catalog.NewChicagoSocrata(cfg.Catalog.AppToken, hc), nil
		case "":
			if cfg.Catalog.Domain == "" {
				return nil, fmt.Errorf("socrata catalog needs a preset or domain")
			}
			return catalog.NewSocrataClient(cfg.Catalog.Domain, cfg.Catalog.AppToken, hc), nil
		default:
			return nil, fmt.Errorf("unknown socrata preset: %s", cfg.Catalog.Preset)
		}
	default:
		return nil, fmt.Errorf("unknown catalog kind: %s", cfg.Catalog.Kind)
	}
}

func printSummary(result harvester.Result) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	bold.Printf("Harvest %s complete", result.RunID)
	if result.Resumed {
		yellow.Print(" (resumed)")
	}
	fmt.Println()

	fmt.Printf("  attempted: %d\n", result.Summary.Attempted)
	green.Printf("  succeeded: %d\n", result.Summary.Succeeded)
	if n := len(result.Summary.Failures); n > 0 {
		red.Printf("  failed:    %d\n", n)

		byKind := map[string]int{}
		for _, f := range result.Summary.Failures {
			byKind[f.Kind]++
		}
		for kind, count := range byKind {
			fmt.Printf("    %-10s %d\n", kind, count)
		}
	}
}
