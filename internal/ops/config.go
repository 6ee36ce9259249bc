package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/bytedance/sonic"

	"nodeflow/internal/candle"
	"nodeflow/internal/og"
	"nodeflow/internal/orchestrator"
	"nodeflow/internal/risk"
	"nodeflow/internal/schema"
	"nodeflow/internal/strategy"
	"nodeflow/pkg/conn"
)

// FileConfig mirrors the JSON run file layout.
type FileConfig struct {
	Registry   RegistryConfig     `json:"registry"`
	Candles    CandleConfig       `json:"candles"`
	Strategies StrategiesConfig   `json:"strategies"`
	History    []HistoryConfig    `json:"history"`
	Risk       risk.Config        `json:"risk"`
	Broker     BrokerConfig       `json:"broker"`
	Engine     EngineConfig       `json:"engine"`
	Journal    JournalConfig      `json:"journal"`
	Ledger     LedgerConfig       `json:"ledger"`
	Redis      RedisConfig        `json:"redis"`
	Feed       FeedConfig         `json:"feed"`
	Features   FeatureFlagsConfig `json:"features"`
}

// RegistryConfig lists the instruments a run may see.
type RegistryConfig struct {
	Symbols []SymbolConfig `json:"symbols"`
}

// SymbolConfig describes a symbol entry.
type SymbolConfig struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Underlying string `json:"underlying"`
	LotSize    int64  `json:"lot_size"`
}

// CandleConfig sets the rolling window and the session used for alignment.
type CandleConfig struct {
	Window      int    `json:"window"`
	SessionOpen string `json:"session_open"`
	Timezone    string `json:"timezone"`
}

// StrategiesConfig lists graph definitions, by file or inline.
type StrategiesConfig struct {
	Files  []string              `json:"files"`
	Inline []strategy.Definition `json:"inline"`
}

// HistoryConfig asks for a series to be bootstrapped from the ledger database.
type HistoryConfig struct {
	Symbol    string           `json:"symbol"`
	Timeframe schema.Timeframe `json:"timeframe"`
	Limit     int              `json:"limit"`
}

// BrokerConfig controls the simulated gateway.
type BrokerConfig struct {
	FillMode    string  `json:"fill_mode"`
	SlippageBps float64 `json:"slippage_bps"`
}

// EngineConfig controls the orchestrator.
type EngineConfig struct {
	EvalMode      string `json:"eval_mode"`
	SnapshotEvery int    `json:"snapshot_every"`
}

// JournalConfig locates the tick journal.
type JournalConfig struct {
	Dir    string  `json:"dir"`
	Prefix string  `json:"prefix"`
	Speed  float64 `json:"speed"`
	Batch  int     `json:"batch"`
}

// LedgerConfig addresses the persistence database. A postgres ledger takes
// either DSN or the separate connection fields; DSN wins when both are set.
type LedgerConfig struct {
	Driver   string            `json:"driver"`
	DSN      string            `json:"dsn"`
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	User     string            `json:"user"`
	Password string            `json:"password"`
	Database string            `json:"database"`
	SSLMode  string            `json:"sslmode"`
	Params   map[string]string `json:"params"`
}

// Option converts the ledger address to connection options.
func (c LedgerConfig) Option() conn.Option {
	return conn.Option{
		Host:       c.Host,
		Port:       c.Port,
		User:       c.User,
		Password:   c.Password,
		Database:   c.Database,
		SSLMode:    c.SSLMode,
		Params:     c.Params,
		ConnString: c.DSN,
	}
}

// RedisConfig addresses the snapshot publisher.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// FeedConfig addresses the live websocket feed.
type FeedConfig struct {
	URL       string `json:"url"`
	QueueSize int    `json:"queue_size"`
}

// FeatureFlagsConfig captures optional runtime flags.
type FeatureFlagsConfig struct {
	PersistLedger    *bool `json:"persist_ledger"`
	PublishSnapshots *bool `json:"publish_snapshots"`
	PublishEvents    *bool `json:"publish_events"`
	Bootstrap        *bool `json:"bootstrap"`
}

// FeatureFlags are resolved runtime flags.
type FeatureFlags struct {
	PersistLedger    bool
	PublishSnapshots bool
	PublishEvents    bool
	Bootstrap        bool
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Registry     *schema.Registry
	Candles      candle.Config
	Graphs       []*strategy.Graph
	History      []HistoryConfig
	Risk         risk.Config
	Gateway      og.GatewayConfig
	Orchestrator orchestrator.Config
	Journal      JournalConfig
	Ledger       LedgerConfig
	Redis        RedisConfig
	Feed         FeedConfig
	Features     FeatureFlags
}

// Load reads a JSON run file. Strategy files are resolved relative to it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	cfg, err := Decode(data)
	if err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg, filepath.Dir(path))
}

// Decode parses a run file without resolving it.
func Decode(data []byte) (FileConfig, error) {
	var cfg FileConfig
	if err := sonic.ConfigStd.Unmarshal(data, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("decode run config: %w", err)
	}
	return cfg, nil
}

// Resolve validates cfg and builds every runtime component config.
func Resolve(cfg FileConfig, baseDir string) (Loaded, error) {
	registry, err := buildRegistry(cfg.Registry)
	if err != nil {
		return Loaded{}, err
	}
	candles, err := resolveCandles(cfg.Candles)
	if err != nil {
		return Loaded{}, err
	}
	graphs, err := loadGraphs(cfg.Strategies, baseDir)
	if err != nil {
		return Loaded{}, err
	}
	gateway, err := resolveBroker(cfg.Broker)
	if err != nil {
		return Loaded{}, err
	}
	mode, err := orchestrator.ParseEvalMode(cfg.Engine.EvalMode)
	if err != nil {
		return Loaded{}, err
	}
	if err := validateHistory(cfg.History, registry); err != nil {
		return Loaded{}, err
	}
	if cfg.Journal.Dir != "" && !filepath.IsAbs(cfg.Journal.Dir) {
		cfg.Journal.Dir = filepath.Join(baseDir, cfg.Journal.Dir)
	}
	if cfg.Ledger.Driver == "" {
		cfg.Ledger.Driver = "sqlite"
	}

	return Loaded{
		Registry: registry,
		Candles:  candles,
		Graphs:   graphs,
		History:  cfg.History,
		Risk:     cfg.Risk,
		Gateway:  gateway,
		Orchestrator: orchestrator.Config{
			Mode:          mode,
			Location:      candles.Session.Location,
			SnapshotEvery: cfg.Engine.SnapshotEvery,
		},
		Journal:  cfg.Journal,
		Ledger:   cfg.Ledger,
		Redis:    cfg.Redis,
		Feed:     cfg.Feed,
		Features: resolveFeatures(cfg.Features),
	}, nil
}

func buildRegistry(cfg RegistryConfig) (*schema.Registry, error) {
	reg := schema.NewRegistry()
	for _, sym := range cfg.Symbols {
		kind, err := schema.ParseInstrumentKind(sym.Kind)
		if err != nil {
			return nil, fmt.Errorf("symbol %s: %w", sym.Name, err)
		}
		if sym.LotSize < 0 {
			return nil, fmt.Errorf("symbol %s: lot_size must be >= 0", sym.Name)
		}
		if _, err := reg.AddSymbol(sym.Name, kind, sym.Underlying, sym.LotSize); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func resolveCandles(cfg CandleConfig) (candle.Config, error) {
	session := candle.DefaultSession()
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return candle.Config{}, fmt.Errorf("candles timezone: %w", err)
		}
		session.Location = loc
	}
	if cfg.SessionOpen != "" {
		open, err := parseClock(cfg.SessionOpen)
		if err != nil {
			return candle.Config{}, err
		}
		session.Open = open
	}
	out := candle.Config{Window: cfg.Window, Session: session}
	if out.Window == 0 {
		return out, nil
	}
	return out, out.Validate()
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("session_open %q: want HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func loadGraphs(cfg StrategiesConfig, baseDir string) ([]*strategy.Graph, error) {
	var graphs []*strategy.Graph
	seen := make(map[string]bool)
	add := func(g *strategy.Graph) error {
		if seen[g.ID] {
			return fmt.Errorf("duplicate strategy id: %s", g.ID)
		}
		seen[g.ID] = true
		graphs = append(graphs, g)
		return nil
	}
	for _, file := range cfg.Files {
		if !filepath.IsAbs(file) {
			file = filepath.Join(baseDir, file)
		}
		g, err := strategy.LoadFile(file)
		if err != nil {
			return nil, fmt.Errorf("strategy file %s: %w", file, err)
		}
		if err := add(g); err != nil {
			return nil, err
		}
	}
	for _, def := range cfg.Inline {
		g, err := strategy.Load(def)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", def.ID, err)
		}
		if err := add(g); err != nil {
			return nil, err
		}
	}
	if len(graphs) == 0 {
		return nil, fmt.Errorf("no strategies configured")
	}
	return graphs, nil
}

func resolveBroker(cfg BrokerConfig) (og.GatewayConfig, error) {
	mode, err := og.ParseFillMode(cfg.FillMode)
	if err != nil {
		return og.GatewayConfig{}, err
	}
	if cfg.SlippageBps < 0 {
		return og.GatewayConfig{}, fmt.Errorf("broker slippage_bps must be >= 0")
	}
	return og.GatewayConfig{Mode: mode, SlippageBps: cfg.SlippageBps}, nil
}

func validateHistory(list []HistoryConfig, reg *schema.Registry) error {
	for _, h := range list {
		sym, ok := reg.Lookup(h.Symbol)
		if !ok {
			return fmt.Errorf("history symbol not found: %s", h.Symbol)
		}
		if !sym.Kind.BuildsCandles() {
			return fmt.Errorf("history symbol %s is ltp only", h.Symbol)
		}
		if h.Timeframe <= 0 {
			return fmt.Errorf("history %s: timeframe is required", h.Symbol)
		}
		if h.Limit < 0 {
			return fmt.Errorf("history %s: limit must be >= 0", h.Symbol)
		}
	}
	return nil
}

func resolveFeatures(cfg FeatureFlagsConfig) FeatureFlags {
	flags := FeatureFlags{
		PersistLedger:    true,
		PublishSnapshots: true,
		PublishEvents:    false,
		Bootstrap:        true,
	}
	if cfg.PersistLedger != nil {
		flags.PersistLedger = *cfg.PersistLedger
	}
	if cfg.PublishSnapshots != nil {
		flags.PublishSnapshots = *cfg.PublishSnapshots
	}
	if cfg.PublishEvents != nil {
		flags.PublishEvents = *cfg.PublishEvents
	}
	if cfg.Bootstrap != nil {
		flags.Bootstrap = *cfg.Bootstrap
	}
	return flags
}
