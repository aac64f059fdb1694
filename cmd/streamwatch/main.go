// Command streamwatch transcribes live streams and video files and raises
// alerts when configured keywords are spoken.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/streamwatch/internal/alert"
	"github.com/MrWong99/streamwatch/internal/app"
	"github.com/MrWong99/streamwatch/internal/config"
	"github.com/MrWong99/streamwatch/internal/observe"
	"github.com/MrWong99/streamwatch/internal/web"
	"github.com/MrWong99/streamwatch/pkg/provider/stt/deepgram"
	"github.com/MrWong99/streamwatch/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	source := flag.String("source", "", "audio source: file path, stream URL, or capture device")
	keywords := flag.String("keywords", "", "comma-separated keyword watch list (overrides config)")
	serve := flag.Bool("serve", false, "run the HTTP control server instead of a single pipeline")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "streamwatch: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "streamwatch: %v\n", err)
		}
		return 1
	}
	if *keywords != "" {
		cfg.Keywords.Watch = splitKeywords(*keywords)
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("streamwatch starting",
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
		"keywords", len(cfg.Keywords.Watch),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "streamwatch"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Recognition provider ──────────────────────────────────────────────────
	var dgOpts []deepgram.Option
	if cfg.Deepgram.Endpoint != "" {
		dgOpts = append(dgOpts, deepgram.WithEndpoint(cfg.Deepgram.Endpoint))
	}
	if cfg.Deepgram.Model != "" {
		dgOpts = append(dgOpts, deepgram.WithModel(cfg.Deepgram.Model))
	}
	if cfg.Deepgram.Language != "" {
		dgOpts = append(dgOpts, deepgram.WithLanguage(cfg.Deepgram.Language))
	}
	if cfg.Deepgram.Endpointing.Std() > 0 {
		dgOpts = append(dgOpts, deepgram.WithEndpointing(cfg.Deepgram.Endpointing.Std()))
	}
	provider, err := deepgram.New(cfg.Deepgram.APIKey, dgOpts...)
	if err != nil {
		slog.Error("failed to create recognition provider", "err", err)
		return 1
	}

	// ── Alert notifiers ───────────────────────────────────────────────────────
	notifiers := []alert.Notifier{&alert.LogNotifier{}}
	if wh := cfg.Alerts.Webhook; wh != nil {
		dg, err := discordgo.New("")
		if err != nil {
			slog.Error("failed to create webhook client", "err", err)
			return 1
		}
		notifiers = append(notifiers, alert.NewWebhookNotifier(dg, wh.ID, wh.Token))
		slog.Info("webhook alerts enabled", "webhook_id", wh.ID)
	}

	printStartupSummary(cfg, *serve, *source)

	// ── Serve mode ────────────────────────────────────────────────────────────
	if *serve {
		srv := web.New(cfg, provider, web.WithNotifiers(notifiers...))
		slog.Info("control server ready — press Ctrl+C to shut down")
		if err := srv.Run(ctx); err != nil {
			slog.Error("server error", "err", err)
			return 1
		}
		slog.Info("goodbye")
		return 0
	}

	// ── Single pipeline run ───────────────────────────────────────────────────
	if *source == "" {
		fmt.Fprintln(os.Stderr, "streamwatch: -source is required (or use -serve)")
		return 1
	}

	pipeline := app.NewPipeline(cfg, provider,
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithNotifiers(notifiers...),
		app.WithTranscriptSink(printTranscript),
	)

	// Hot-reload the keyword watch list and log level while the run is live.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.KeywordsChanged {
			pipeline.SetKeywords(d.NewKeywords)
		}
		if d.LogLevelChanged {
			slog.SetDefault(newLogger(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	if err := pipeline.Run(ctx, *source); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// printTranscript writes final results to stdout so a CLI run doubles as a
// plain transcription tool.
func printTranscript(tr types.Transcript) {
	if !tr.IsFinal {
		return
	}
	fmt.Printf("[%s] %s\n", alert.FormatTimestamp(tr.Start), tr.Text)
}

// splitKeywords parses the -keywords flag value.
func splitKeywords(s string) []string {
	var out []string
	for _, kw := range strings.Split(s, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, serve bool, source string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       streamwatch — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Model", cfg.Deepgram.Model+" / "+cfg.Deepgram.Language)
	printRow("Audio", fmt.Sprintf("%dHz x%d", cfg.Audio.SampleRate, cfg.Audio.Channels))
	printRow("Keywords", fmt.Sprintf("%d", len(cfg.Keywords.Watch)))
	if cfg.Alerts.Webhook != nil {
		printRow("Webhook", "enabled")
	} else {
		printRow("Webhook", "(disabled)")
	}
	if serve {
		printRow("Mode", "server "+cfg.Server.ListenAddr)
	} else {
		printRow("Mode", "pipeline")
		printRow("Source", source)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(key, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", key, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
