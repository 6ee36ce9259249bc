package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"nodeflow/internal/codec"
	"nodeflow/internal/feed"
	"nodeflow/internal/gps"
	"nodeflow/internal/ops"
	"nodeflow/internal/recorder"
	"nodeflow/internal/schema"
	"nodeflow/internal/session"
)

func main() {
	dir := flag.String("dir", "testdata/journal", "Journal directory")
	prefix := flag.String("prefix", "", "Journal file prefix (default: journal)")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	decode := flag.Bool("decode", false, "Decode tick payloads")
	configPath := flag.String("config", "", "Run file; with -verify-dir, replays the journal through its strategies")
	verifyDir := flag.String("verify-dir", "", "Directory of <strategy>.positions.json files to compare against")
	flag.Parse()

	if *verifyDir != "" {
		if *configPath == "" {
			log.Fatalf("-verify-dir needs -config")
		}
		if err := verify(*configPath, *dir, *prefix, *verifyDir); err != nil {
			log.Fatalf("verify failed: %v", err)
		}
		fmt.Println("positions match")
		return
	}

	pb, err := recorder.NewPlayback(recorder.PlaybackConfig{
		Dir:             *dir,
		FilePrefix:      *prefix,
		DisableChecksum: *noChecksum,
	})
	if err != nil {
		log.Fatalf("playback init failed: %v", err)
	}

	var index int
	err = pb.Run(context.Background(), func(header schema.EventHeader, payload []byte) error {
		index++
		fmt.Printf("%06d seq=%d type=%s ts_event=%d ts_recv=%d len=%d\n", index, header.Seq, header.Type, header.TsEvent, header.TsRecv, len(payload))
		if *decode && header.Type == schema.EventTick {
			tick, ok := codec.DecodeTick(payload)
			if !ok {
				fmt.Println("  decode tick failed")
				return nil
			}
			fmt.Printf("  tick symbol=%s ts=%s ltp=%g volume=%d oi=%d\n",
				tick.Symbol, tick.Timestamp.Format(time.RFC3339Nano), tick.LTP, tick.Volume, tick.OI)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("playback run failed: %v", err)
	}
}

// verify reruns the journal and checks every strategy ledger against a
// previously written snapshot. Identical input must give identical positions.
func verify(configPath, dir, prefix, verifyDir string) error {
	cfg, err := ops.Load(configPath)
	if err != nil {
		return err
	}
	cfg.Features = ops.FeatureFlags{}

	ctx := context.Background()
	s, err := session.New(ctx, cfg, session.Options{Name: "replay"})
	if err != nil {
		return err
	}
	src, err := feed.NewJournalSource(dir, prefix, cfg.Journal.Batch, recorder.ReaderOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()
	if err := s.Run(ctx, src); err != nil {
		return err
	}

	for _, in := range s.Orchestrator().Instances() {
		path := filepath.Join(verifyDir, in.ID()+".positions.json")
		expected, err := gps.ReadSnapshot(path)
		if os.IsNotExist(err) {
			fmt.Printf("skip %s: no snapshot\n", in.ID())
			continue
		}
		if err != nil {
			return err
		}
		if err := gps.CompareSnapshots(expected, in.Store().Snapshot(in.ID())); err != nil {
			return fmt.Errorf("strategy %s: %w", in.ID(), err)
		}
		fmt.Printf("ok %s: %d positions\n", in.ID(), len(expected.Positions))
	}
	return nil
}
