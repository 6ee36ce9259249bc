package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"

	"nodeflow/internal/export"
	"nodeflow/internal/feed"
	"nodeflow/internal/obs"
	"nodeflow/internal/ops"
	"nodeflow/internal/recorder"
	"nodeflow/internal/session"
)

const liveSourceID = 1

func main() {
	configPath := flag.String("config", "run.json", "Path to JSON run file")
	envFiles := flag.String("env", ".env", "Comma separated env files")
	name := flag.String("name", "live", "Run name recorded in the ledger")
	feedURL := flag.String("url", "", "Tick websocket url (overrides run file)")
	record := flag.String("record-dir", "", "Journal received ticks into this directory (empty=disabled)")
	statsInterval := flag.Duration("stats-interval", 15*time.Second, "Metrics log interval (0=disabled)")
	profile := flag.String("pyroscope", "", "Pyroscope server address (empty=disabled)")
	flag.Parse()

	ops.LoadEnvFiles(strings.Split(*envFiles, ",")...)
	cfg, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	ops.ApplyEnv(&cfg)
	if *feedURL != "" {
		cfg.Feed.URL = *feedURL
	}
	if cfg.Feed.URL == "" {
		log.Fatalf("feed url is required")
	}

	stop, err := ops.StartProfiler("nodeflow.live", *profile)
	if err != nil {
		log.Fatalf("pyroscope start failed: %v", err)
	}
	defer stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *name, *record, *statsInterval); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("live session failed: %v", err)
	}
}

func run(ctx context.Context, cfg ops.Loaded, name, recordDir string, statsInterval time.Duration) error {
	metrics := obs.NewMetrics()
	opts := session.Options{Name: name, Mode: session.ModeLive, Metrics: metrics}

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
		return fmt.Errorf("open redis: %w", err)
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		opts.Publisher = export.NewPublisher(rdb, cfg.Redis.Prefix, 0)
	}

	s, err := session.New(ctx, cfg, opts)
	if err != nil {
		return err
	}

	wss := feed.NewWebSocketSource(ctx, feed.WebSocketConfig{
		URL:       cfg.Feed.URL,
		Symbols:   cfg.Registry.Names(),
		QueueSize: cfg.Feed.QueueSize,
		Batch:     cfg.Journal.Batch,
	}, metrics)
	if err := wss.Start(ctx); err != nil {
		return err
	}
	defer wss.Close()

	var src feed.Source = wss
	if recordDir != "" {
		w, err := recorder.NewWriter(recorder.DefaultConfig(recordDir))
		if err != nil {
			return err
		}
		defer func() {
			if err := w.Close(); err != nil {
				logs.Errorf("close tick journal, err: %+v", err)
			}
		}()
		src = feed.NewRecordingSource(wss, w, liveSourceID)
	}

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	eg, egCtx := errgroup.WithContext(runCtx)
	var runErr error
	eg.Go(func() error {
		defer stopRun()
		runErr = s.Run(egCtx, src)
		return runErr
	})
	if statsInterval > 0 {
		eg.Go(func() error {
			logStats(egCtx, statsInterval, metrics, wss)
			return nil
		})
	}
	_ = eg.Wait()

	finishCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	runErr = ignoreCanceled(runErr)
	if runErr == nil {
		// evaluate the last buffered second and close strategies the signal interrupted
		runErr = s.Stop(finishCtx)
	}
	results, perr := s.Finish(finishCtx, runErr)
	for _, r := range results {
		logs.Infof("strategy %s, terminated: %t, reason: %s, trades: %d, net: %s",
			r.StrategyID, r.Terminated, r.Reason, r.Stats.Trades, r.Stats.NetPnL)
	}
	if runErr != nil {
		return runErr
	}
	return perr
}

func logStats(ctx context.Context, every time.Duration, metrics *obs.Metrics, wss *feed.WebSocketSource) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := metrics.Snapshot()
			logs.Infof("live stats, counters: %v, dropped: %d, second max: %s",
				snap.Counters, wss.Dropped(), snap.SecondLatency.Max)
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
