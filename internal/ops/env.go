package ops

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/yanun0323/logs"
)

// Environment overrides for endpoints and secrets that do not belong in a run file.
const (
	EnvLedgerDriver   = "NODEFLOW_LEDGER_DRIVER"
	EnvLedgerDSN      = "NODEFLOW_LEDGER_DSN"
	EnvLedgerHost     = "NODEFLOW_LEDGER_HOST"
	EnvLedgerPort     = "NODEFLOW_LEDGER_PORT"
	EnvLedgerUser     = "NODEFLOW_LEDGER_USER"
	EnvLedgerPassword = "NODEFLOW_LEDGER_PASSWORD"
	EnvLedgerDatabase = "NODEFLOW_LEDGER_DATABASE"
	EnvRedisAddr      = "NODEFLOW_REDIS_ADDR"
	EnvRedisPassword  = "NODEFLOW_REDIS_PASSWORD"
	EnvRedisDB        = "NODEFLOW_REDIS_DB"
	EnvFeedURL        = "NODEFLOW_FEED_URL"
	EnvJournalDir     = "NODEFLOW_JOURNAL_DIR"
)

// LoadEnvFiles loads .env style files into the process environment. Missing
// files are not an error; variables already set win.
func LoadEnvFiles(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			logs.Infof("no env file %s, using environment variables", f)
		}
	}
}

// ApplyEnv overrides cfg from the environment.
func ApplyEnv(cfg *Loaded) {
	cfg.Ledger.Driver = getEnvOrDefault(EnvLedgerDriver, cfg.Ledger.Driver)
	cfg.Ledger.DSN = getEnvOrDefault(EnvLedgerDSN, cfg.Ledger.DSN)
	cfg.Ledger.Host = getEnvOrDefault(EnvLedgerHost, cfg.Ledger.Host)
	cfg.Ledger.Port = getEnvInt(EnvLedgerPort, cfg.Ledger.Port)
	cfg.Ledger.User = getEnvOrDefault(EnvLedgerUser, cfg.Ledger.User)
	cfg.Ledger.Password = getEnvOrDefault(EnvLedgerPassword, cfg.Ledger.Password)
	cfg.Ledger.Database = getEnvOrDefault(EnvLedgerDatabase, cfg.Ledger.Database)
	cfg.Redis.Addr = getEnvOrDefault(EnvRedisAddr, cfg.Redis.Addr)
	cfg.Redis.Password = getEnvOrDefault(EnvRedisPassword, cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt(EnvRedisDB, cfg.Redis.DB)
	cfg.Feed.URL = getEnvOrDefault(EnvFeedURL, cfg.Feed.URL)
	cfg.Journal.Dir = getEnvOrDefault(EnvJournalDir, cfg.Journal.Dir)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		logs.Warnf("ignore invalid %s: %q", key, value)
		return defaultValue
	}
	return n
}
