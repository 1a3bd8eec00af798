package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/praxis-labs/praxis-go/internal/archive"
	"github.com/praxis-labs/praxis-go/internal/assets"
	"github.com/praxis-labs/praxis-go/internal/control"
	"github.com/praxis-labs/praxis-go/internal/orchestrator"
	"github.com/praxis-labs/praxis-go/internal/platform/auditlog"
	"github.com/praxis-labs/praxis-go/internal/platform/env"
	"github.com/praxis-labs/praxis-go/internal/platform/objectstore"
	"github.com/praxis-labs/praxis-go/internal/platform/postgres"
	"github.com/praxis-labs/praxis-go/internal/platform/redis"
	repopg "github.com/praxis-labs/praxis-go/internal/repo/postgres"
	"github.com/praxis-labs/praxis-go/internal/protocolsrc"
	"github.com/praxis-labs/praxis-go/internal/scheduler"
	"github.com/praxis-labs/praxis-go/internal/state"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTimeout, err := env.Duration("PRAXIS_SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	pollInterval, err := env.Duration("PRAXIS_CONTROL_POLL_INTERVAL", time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	redisCfg, err := redis.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid redis config", "error", err)
		os.Exit(2)
	}
	redisClient, err := redis.Open(ctx, redisCfg)
	if err != nil {
		logger.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBucket(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	assetRepo := repopg.NewAssetStore(db)
	runRepo := repopg.NewRunStore(db)
	layoutRepo := repopg.NewDeckLayoutStore(db)
	audit := auditlog.NewStore(db)

	states, err := state.NewRedisFactory(redisClient, "praxis:state")
	if err != nil {
		logger.Error("state factory init failed", "error", err)
		os.Exit(2)
	}
	controlCh, err := control.NewRedisChannel(redisClient, "praxis:control")
	if err != nil {
		logger.Error("control channel init failed", "error", err)
		os.Exit(2)
	}

	// Protocol implementations registered by the packages linked into this
	// binary resolve against this registry by entrypoint name.
	registry := protocolsrc.NewRegistry()
	provider, err := protocolsrc.NewProvider(registry, logger)
	if err != nil {
		logger.Error("provider init failed", "error", err)
		os.Exit(2)
	}
	if err := addProtocolSources(provider, logger); err != nil {
		logger.Error("protocol source config invalid", "error", err)
		os.Exit(2)
	}

	runtime := assets.NewSimRuntime(logger)
	coordinator := assets.NewCoordinator(assetRepo, runtime, logger)
	archiver := archive.NewArchiver(archive.NewMinioStore(storeClient, storeCfg.BucketArchive), logger)

	orch := orchestrator.New(runRepo, provider, coordinator, states, controlCh, orchestrator.Options{
		Layouts:      layoutRepo,
		Audit:        audit,
		Archiver:     archiver,
		Logger:       logger,
		PollInterval: pollInterval,
	})
	sched := scheduler.New(runRepo, assetRepo, provider, orch, controlCh, logger)

	logger.Info("praxisd ready", "poll_interval", pollInterval.String())
	<-ctx.Done()

	logger.Info("shutting down, draining runs", "timeout", shutdownTimeout.String())
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelDrain()
	if err := sched.Shutdown(drainCtx); err != nil {
		logger.Error("shutdown with runs still in flight", "error", err)
		os.Exit(1)
	}
	logger.Info("praxisd stopped")
}

// addProtocolSources wires the version-controlled protocol sources named in
// the environment. The first source added becomes the default.
func addProtocolSources(provider *protocolsrc.Provider, logger *slog.Logger) error {
	gitName := env.String("PRAXIS_PROTOCOLS_GIT_NAME", "")
	if gitName != "" {
		remote := env.String("PRAXIS_PROTOCOLS_GIT_REMOTE", "")
		dir := env.String("PRAXIS_PROTOCOLS_GIT_DIR", "/var/lib/praxis/protocols")
		timeout, err := env.Duration("PRAXIS_PROTOCOLS_GIT_TIMEOUT", 60*time.Second)
		if err != nil {
			return err
		}
		src, err := protocolsrc.NewGitSource(gitName, remote, dir, timeout, logger)
		if err != nil {
			return err
		}
		if err := provider.AddSource(src); err != nil {
			return err
		}
	}
	fsName := env.String("PRAXIS_PROTOCOLS_FS_NAME", "")
	if fsName != "" {
		root := env.String("PRAXIS_PROTOCOLS_FS_DIR", "")
		src, err := protocolsrc.NewFSSource(fsName, root)
		if err != nil {
			return err
		}
		if err := provider.AddSource(src); err != nil {
			return err
		}
	}
	return nil
}
