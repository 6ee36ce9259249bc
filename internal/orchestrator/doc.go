/*
Orchestrator drives every strategy instance off one tick feed.

# Module
  - second batcher: buckets ticks by whole second, processes complete seconds in order
  - market writer: LTP store, candle aggregator and indicator engine, written only here
  - dispatcher: evaluates each live strategy once per second (or per tick) in registration order
  - snapshot fan-out: per second strategy snapshots to sinks

# Source
 1. tick journal from backtest
 2. websocket tick stream from live
 3. in-memory slices from tests

# Produce
  - execution events and ledgers owned by each strategy instance
  - snapshots to sinks

# Sharded
  - none, a single goroutine owns the run
*/
package orchestrator
