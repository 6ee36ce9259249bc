package main

import (
	"context"
	"flag"
	"log"

	"github.com/yanun0323/logs"

	"nodeflow/internal/chaos"
	"nodeflow/internal/codec"
	"nodeflow/internal/recorder"
	"nodeflow/internal/schema"
)

func main() {
	inputDir := flag.String("input-dir", "testdata/journal", "Input journal directory")
	inputPrefix := flag.String("input-prefix", "", "Input journal file prefix (default: journal)")
	outputDir := flag.String("output-dir", "testdata/journal_chaos", "Output journal directory")
	outputPrefix := flag.String("output-prefix", "chaos", "Output journal file prefix")
	seed := flag.Int64("seed", 0, "RNG seed (0=now)")
	dropRate := flag.Float64("drop-rate", 0, "Drop probability [0-1]")
	dupRate := flag.Float64("dup-rate", 0, "Duplicate probability [0-1]")
	reorderWindow := flag.Int("reorder-window", 1, "Reorder window (>=1)")
	maxDelay := flag.Duration("max-delay", 0, "Max receive delay")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	flag.Parse()

	pb, err := recorder.NewPlayback(recorder.PlaybackConfig{
		Dir:             *inputDir,
		FilePrefix:      *inputPrefix,
		DisableChecksum: *noChecksum,
	})
	if err != nil {
		log.Fatalf("playback init failed: %v", err)
	}

	engine, err := chaos.NewEngine(chaos.Config{
		Seed:          *seed,
		DropRate:      *dropRate,
		DuplicateRate: *dupRate,
		ReorderWindow: *reorderWindow,
		MaxDelay:      *maxDelay,
	})
	if err != nil {
		log.Fatalf("chaos config invalid: %v", err)
	}

	outCfg := recorder.DefaultConfig(*outputDir)
	outCfg.FilePrefix = *outputPrefix
	writer, err := recorder.NewWriter(outCfg)
	if err != nil {
		log.Fatalf("writer init failed: %v", err)
	}

	var (
		seq     uint64
		scratch []byte
	)
	write := func(ev chaos.Event) error {
		seq++
		ev.Header.Seq = seq
		scratch = codec.EncodeTick(scratch, ev.Tick)
		return writer.Append(ev.Header, scratch)
	}

	err = pb.Run(context.Background(), func(header schema.EventHeader, payload []byte) error {
		if header.Type != schema.EventTick {
			seq++
			header.Seq = seq
			return writer.Append(header, payload)
		}
		tick, ok := codec.DecodeTick(payload)
		if !ok {
			logs.Warnf("skip undecodable tick, seq: %d", header.Seq)
			return nil
		}
		for _, out := range engine.Process(chaos.Event{Header: header, Tick: tick}) {
			if err := write(out); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		for _, out := range engine.Flush() {
			if err = write(out); err != nil {
				break
			}
		}
	}
	if err != nil {
		log.Fatalf("chaos run failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		log.Fatalf("writer close failed: %v", err)
	}

	st := engine.Stats()
	logs.Infof("chaos done, in: %d, out: %d, dropped: %d, duplicated: %d, delayed: %d",
		st.In, st.Out, st.Dropped, st.Duplicated, st.Delayed)
}
