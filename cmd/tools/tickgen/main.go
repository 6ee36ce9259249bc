package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/yanun0323/logs"

	"nodeflow/internal/recorder"
	"nodeflow/internal/schema"
)

func main() {
	dir := flag.String("dir", "testdata/journal", "Output journal directory")
	prefix := flag.String("prefix", "", "Journal file prefix (default: journal)")
	symbols := flag.String("symbols", "NIFTY=21500,NIFTY24JAN21500CE=120", "Comma separated SYMBOL=START_PRICE")
	start := flag.String("start", "2024-01-10T09:15:00+05:30", "First tick time (RFC3339)")
	duration := flag.Duration("duration", 10*time.Minute, "Span of generated ticks")
	interval := flag.Duration("interval", 250*time.Millisecond, "Time between ticks of one symbol")
	volatility := flag.Float64("volatility", 0.0005, "Per tick relative price step")
	seed := flag.Int64("seed", 1, "RNG seed")
	flag.Parse()

	begin, err := time.Parse(time.RFC3339, *start)
	if err != nil {
		log.Fatalf("invalid start: %v", err)
	}
	if *interval <= 0 || *duration <= 0 {
		log.Fatalf("interval and duration must be > 0")
	}
	walks, err := parseSymbols(*symbols)
	if err != nil {
		log.Fatalf("invalid symbols: %v", err)
	}

	cfg := recorder.DefaultConfig(*dir)
	if *prefix != "" {
		cfg.FilePrefix = *prefix
	}
	w, err := recorder.NewWriter(cfg)
	if err != nil {
		log.Fatalf("journal init failed: %v", err)
	}

	rng := rand.New(rand.NewSource(*seed))
	var count int
	for ts := begin; ts.Before(begin.Add(*duration)); ts = ts.Add(*interval) {
		for i := range walks {
			wk := &walks[i]
			wk.price = math.Max(0.05, wk.price*(1+rng.NormFloat64()*(*volatility)))
			wk.volume += int64(rng.Intn(50))
			tick := schema.Tick{
				Symbol:    wk.symbol,
				Timestamp: ts.Add(time.Duration(i) * *interval / time.Duration(len(walks))),
				LTP:       math.Round(wk.price*20) / 20,
				Volume:    wk.volume,
			}
			if err := w.AppendTick(1, tick); err != nil {
				log.Fatalf("append failed: %v", err)
			}
			count++
		}
	}
	if err := w.Close(); err != nil {
		log.Fatalf("journal close failed: %v", err)
	}
	logs.Infof("ticks generated, count: %d, dir: %s", count, *dir)
}

type walk struct {
	symbol string
	price  float64
	volume int64
}

func parseSymbols(s string) ([]walk, error) {
	var out []walk
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, price, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("want SYMBOL=PRICE, got %q", part)
		}
		p, err := strconv.ParseFloat(price, 64)
		if err != nil || p <= 0 {
			return nil, fmt.Errorf("bad start price in %q", part)
		}
		out = append(out, walk{symbol: name, price: p})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no symbols")
	}
	return out, nil
}
