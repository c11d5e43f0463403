package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Heidric/shmbridge/internal/cfg"
	"github.com/Heidric/shmbridge/internal/db"
	"github.com/Heidric/shmbridge/internal/dispatch"
	"github.com/Heidric/shmbridge/internal/logger"
	"github.com/Heidric/shmbridge/internal/registry"
	"github.com/Heidric/shmbridge/internal/remotewrite"
	"github.com/Heidric/shmbridge/internal/server"
	"github.com/Heidric/shmbridge/internal/services"
	"github.com/Heidric/shmbridge/internal/shm"
	"github.com/Heidric/shmbridge/internal/store"
)

func loadConfig() (*cfg.Config, error) {
	config, err := cfg.NewConfig()
	if err != nil {
		return nil, err
	}

	address := flag.String("a", config.ServerAddress, "HTTP server endpoint address")
	key := flag.String("k", config.Key, "HMAC key for signing responses")
	dsn := flag.String("d", config.DatabaseDSN, "Snapshot archive DSN")

	flag.Parse()

	config.ServerAddress = *address
	config.Key = *key
	config.DatabaseDSN = *dsn
	return config, nil
}

func openStore(config *cfg.Config) (*store.Handle, error) {
	key, err := config.SegmentKey()
	if err != nil {
		return nil, err
	}
	seg, err := shm.Open(config.ShmBackend, key, config.ShmPath, store.RecordSize)
	if err != nil {
		return nil, errors.Wrap(err, "open shared memory")
	}
	handle, err := store.CreateOrAttach(seg, store.WithAttachWait(config.AttachTimeout))
	if err != nil {
		_ = seg.Close()
		return nil, errors.Wrap(err, "attach metrics store")
	}
	return handle, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	runner, ctx := errgroup.WithContext(ctx)

	config, err := loadConfig()
	if err != nil {
		log.Fatal(err, "Load config")
	}

	config.Logger.Component = "server"
	lg, err := logger.Initialize(config.Logger)
	if err != nil {
		log.Fatal(err, "Init logger")
	}
	ctx = lg.Zerolog().WithContext(ctx)

	// Without a store every read answers "unavailable"; the server still runs
	// so the monitoring side sees that instead of a refused connection.
	var st dispatch.Store
	handle, err := openStore(config)
	if err != nil {
		logger.Log.Error().Err(err).Msg("metrics store unavailable")
	} else {
		st = handle
	}

	dispatcher := dispatch.New(registry.Default(), st, lg.Named("dispatch"))
	metrics := services.NewMetricsService(dispatcher)

	srv := server.NewServer(config.ServerAddress, config.Key, metrics)
	srv.Run(ctx, runner)

	instance := config.Instance
	if instance == "" {
		instance = uuid.NewString()
	}

	var archive *db.PostgresStore
	if handle != nil {
		if config.DatabaseDSN != "" {
			archive = db.NewPostgresStore(config.DatabaseDSN)
			services.NewArchiver(handle, archive, instance, config.SnapshotInterval, lg.Named("archiver")).Run(ctx, runner)
		}
		if config.RemoteWriteURL != "" {
			writer := remotewrite.New(config.RemoteWriteURL, nil)
			services.NewArchiver(handle, writer, instance, config.SnapshotInterval, lg.Named("remotewrite")).Run(ctx, runner)
		}
	}

	runner.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown(context.WithoutCancel(ctx))
	})

	if err := runner.Wait(); err != nil {
		logger.Log.Error().Err(err).Msg("server stopped with error")
	}

	if archive != nil {
		if err := archive.Close(); err != nil {
			logger.Log.Error().Err(err).Msg("close snapshot archive")
		}
	}
	if handle != nil {
		if err := handle.Close(); err != nil {
			logger.Log.Error().Err(err).Msg("detach metrics store")
		}
	}
}
