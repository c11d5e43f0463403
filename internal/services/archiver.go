package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Heidric/shmbridge/internal/model"
)

// Snapshotter reads the whole record at once.
type Snapshotter interface {
	Snapshot() (model.Snapshot, error)
}

// SnapshotSaver persists snapshots.
type SnapshotSaver interface {
	SaveSnapshot(ctx context.Context, s model.Snapshot) error
}

// Archiver copies the shared record into durable storage on a fixed
// interval. A failed tick is logged and the next one tries again.
type Archiver struct {
	source   Snapshotter
	saver    SnapshotSaver
	instance string
	interval time.Duration
	logger   *zerolog.Logger
}

// NewArchiver builds an archiver whose snapshots are stamped with instance.
func NewArchiver(source Snapshotter, saver SnapshotSaver, instance string, interval time.Duration, logger *zerolog.Logger) *Archiver {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Archiver{source: source, saver: saver, instance: instance, interval: interval, logger: logger}
}

// Archive takes and saves one snapshot.
func (a *Archiver) Archive(ctx context.Context) error {
	s, err := a.source.Snapshot()
	if err != nil {
		return errors.Wrap(err, "take snapshot")
	}
	s.Instance = a.instance
	if err := a.saver.SaveSnapshot(ctx, s); err != nil {
		return err
	}
	a.logger.Debug().Time("taken_at", s.TakenAt).Int64("uptime_s", s.UptimeSeconds).Msg("snapshot archived")
	return nil
}

// Run archives every interval until ctx is done, then writes a final
// snapshot on the way out.
func (a *Archiver) Run(ctx context.Context, runner *errgroup.Group) {
	a.logger.Info().Dur("interval", a.interval).Msg("Snapshot archiver started.")

	runner.Go(func() error {
		a.loop(ctx)
		return nil
	})
}

func (a *Archiver) loop(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.Archive(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("snapshot not archived")
			}
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := a.Archive(final); err != nil {
				a.logger.Warn().Err(err).Msg("final snapshot not archived")
			}
			cancel()
			a.logger.Info().Msg("Snapshot archiver stopped.")
			return
		}
	}
}
