package ops

import (
	"context"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/logs"

	"nodeflow/internal/ledger"
	"nodeflow/pkg/conn"
)

// StartProfiler pushes continuous profiles to a pyroscope server. An empty
// address disables profiling and returns a no-op stop.
func StartProfiler(app, addr string) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: app,
		ServerAddress:   addr,
		Logger:          profileLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, err
	}
	logs.Infof("profiling enabled, app: %s, server: %s", app, addr)
	return func() { _ = profiler.Stop() }, nil
}

type profileLogger struct{}

func (profileLogger) Infof(_ string, _ ...interface{})  {}
func (profileLogger) Debugf(_ string, _ ...interface{}) {}
func (profileLogger) Errorf(format string, args ...interface{}) {
	logs.Errorf("pyroscope: "+format, args...)
}

// OpenLedger connects the ledger database and migrates its tables.
func OpenLedger(ctx context.Context, cfg LedgerConfig) (*conn.Client, *ledger.Repository, error) {
	client, err := conn.Open(cfg.Driver, cfg.Option())
	if err != nil {
		return nil, nil, err
	}
	repo := ledger.NewRepository(client.DB())
	if err := repo.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return client, repo, nil
}

// OpenRedis connects redis and checks it answers. An empty address returns nil.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	logs.Infof("redis connected, addr: %s", cfg.Addr)
	return client, nil
}
