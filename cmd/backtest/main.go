package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/logs"

	"nodeflow/internal/diagnostics"
	"nodeflow/internal/export"
	"nodeflow/internal/feed"
	"nodeflow/internal/gps"
	"nodeflow/internal/obs"
	"nodeflow/internal/ops"
	"nodeflow/internal/orchestrator"
	"nodeflow/internal/recorder"
	"nodeflow/internal/session"
)

func main() {
	configPath := flag.String("config", "run.json", "Path to JSON run file")
	envFiles := flag.String("env", ".env", "Comma separated env files")
	name := flag.String("name", "backtest", "Run name recorded in the ledger")
	journalDir := flag.String("journal-dir", "", "Tick journal directory (overrides run file)")
	speed := flag.Float64("speed", -1, "Playback speed (1=real-time, 0=no pacing, <0=use run file)")
	outDir := flag.String("out", "", "Directory for position snapshots and event logs (empty=skip)")
	noLedger := flag.Bool("no-ledger", false, "Do not persist the run")
	profile := flag.String("pyroscope", "", "Pyroscope server address (empty=disabled)")
	flag.Parse()

	ops.LoadEnvFiles(strings.Split(*envFiles, ",")...)
	cfg, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	ops.ApplyEnv(&cfg)
	if *journalDir != "" {
		cfg.Journal.Dir = *journalDir
	}
	if *speed >= 0 {
		cfg.Journal.Speed = *speed
	}
	if *noLedger {
		cfg.Features.PersistLedger = false
		cfg.Features.Bootstrap = false
	}
	if cfg.Journal.Dir == "" {
		log.Fatalf("journal dir is required")
	}

	stop, err := ops.StartProfiler("nodeflow.backtest", *profile)
	if err != nil {
		log.Fatalf("pyroscope start failed: %v", err)
	}
	defer stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *name, *outDir); err != nil {
		log.Fatalf("backtest failed: %v", err)
	}
}

func run(ctx context.Context, cfg ops.Loaded, name, outDir string) error {
	opts := session.Options{Name: name, Mode: session.ModeBacktest, Metrics: obs.NewMetrics()}

	if cfg.Features.PersistLedger || cfg.Features.Bootstrap {
		client, repo, err := ops.OpenLedger(ctx, cfg.Ledger)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer func() { _ = client.Close() }()
		opts.Repo = repo
	}
	rdb, err := ops.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		logs.Warnf("redis unavailable, publishing disabled, err: %+v", err)
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		opts.Publisher = export.NewPublisher(rdb, cfg.Redis.Prefix, 0)
	}

	s, err := session.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	src, closeSrc, err := openSource(ctx, cfg.Journal)
	if err != nil {
		return err
	}
	defer closeSrc()

	start := time.Now()
	runErr := s.Run(ctx, src)

	// persist even when the run was interrupted
	finishCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	results, perr := s.Finish(finishCtx, runErr)
	logs.Infof("backtest finished, run: %s, elapsed: %s", s.RunID(), time.Since(start))

	printResults(results, opts.Metrics)
	if outDir != "" {
		if err := writeOutputs(outDir, s); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	return perr
}

func openSource(ctx context.Context, cfg ops.JournalConfig) (feed.Source, func(), error) {
	if cfg.Speed > 0 {
		pb, err := recorder.NewPlayback(recorder.PlaybackConfig{
			Dir:        cfg.Dir,
			FilePrefix: cfg.Prefix,
			Speed:      cfg.Speed,
		})
		if err != nil {
			return nil, nil, err
		}
		return feed.NewPlaybackSource(ctx, pb, cfg.Batch), func() {}, nil
	}
	src, err := feed.NewJournalSource(cfg.Dir, cfg.Prefix, cfg.Batch, recorder.ReaderOptions{})
	if err != nil {
		return nil, nil, err
	}
	return src, func() {
		logs.Infof("journal closed, ticks read: %d", src.Read())
		_ = src.Close()
	}, nil
}

func printResults(results []orchestrator.Result, metrics *obs.Metrics) {
	out := struct {
		Results []orchestrator.Result `json:"results"`
		Metrics obs.Snapshot          `json:"metrics"`
	}{Results: results, Metrics: metrics.Snapshot()}
	b, err := sonic.ConfigStd.MarshalIndent(out, "", "  ")
	if err != nil {
		logs.Errorf("encode results, err: %+v", err)
		return
	}
	fmt.Println(string(b))
}

// writeOutputs stores, per strategy, the position snapshot used by replay
// verification and the full execution log.
func writeOutputs(dir string, s *session.Session) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, in := range s.Orchestrator().Instances() {
		snap := in.Store().Snapshot(in.ID())
		if err := gps.WriteSnapshot(filepath.Join(dir, in.ID()+".positions.json"), snap); err != nil {
			return err
		}
		b, err := diagnostics.EncodeEvents(in.Diagnostics().Events())
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, in.ID()+".events.json"), b, 0o644); err != nil {
			return err
		}
	}
	return nil
}
