package db

import (
	"context"
	"database/sql"
	"strconv"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"

	"github.com/Heidric/shmbridge/internal/customerrors"
	"github.com/Heidric/shmbridge/internal/logger"
	"github.com/Heidric/shmbridge/internal/model"
)

// SnapshotStorage is where the archiver keeps periodic copies of the
// shared record.
type SnapshotStorage interface {
	SaveSnapshot(ctx context.Context, s model.Snapshot) error
	LatestSnapshot(ctx context.Context) (model.Snapshot, error)
	Ping(ctx context.Context) error
	Close() error
}

const createTableQuery = `
        CREATE TABLE IF NOT EXISTS metric_snapshots (
            id SERIAL PRIMARY KEY,
            instance TEXT NOT NULL DEFAULT '',
            taken_at TIMESTAMPTZ NOT NULL,
            start_time TIMESTAMPTZ NOT NULL,
            bytes_received NUMERIC(20, 0) NOT NULL,
            bytes_sent NUMERIC(20, 0) NOT NULL,
            packets_lost NUMERIC(20, 0) NOT NULL,
            latency_us INTEGER NOT NULL,
            uptime_s BIGINT NOT NULL,
            cpu_usage VARCHAR(31) NOT NULL,
            memory_usage VARCHAR(31) NOT NULL,
            active_connections BIGINT NOT NULL,
            total_connections NUMERIC(20, 0) NOT NULL
        )
    `

const insertSnapshotQuery = `
        INSERT INTO metric_snapshots (instance, taken_at, start_time, bytes_received,
            bytes_sent, packets_lost, latency_us, uptime_s, cpu_usage, memory_usage,
            active_connections, total_connections)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `

const latestSnapshotQuery = `
        SELECT instance, taken_at, start_time, bytes_received::TEXT, bytes_sent::TEXT,
            packets_lost::TEXT, latency_us, uptime_s, cpu_usage, memory_usage,
            active_connections, total_connections::TEXT
        FROM metric_snapshots
        ORDER BY taken_at DESC
        LIMIT 1
    `

type PostgresStore struct {
	dsn       string
	db        *sql.DB
	mu        sync.Mutex
	connected bool
	closeOnce sync.Once
}

func NewPostgresStore(dsn string) *PostgresStore {
	return &PostgresStore{
		dsn: dsn,
	}
}

// newPostgresStoreWithDB wraps an already opened handle; the table is
// assumed to exist.
func newPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, connected: true}
}

func (p *PostgresStore) resetConnection() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db != nil {
		p.db.Close()
		p.db = nil
	}
	p.connected = false
}

func (p *PostgresStore) ensureConnected(ctx context.Context) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connected {
		return p.db, nil
	}
	if p.dsn == "" {
		return nil, customerrors.ErrNotConnected
	}

	db, err := sql.Open("pgx", p.dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	if _, err := db.ExecContext(ctx, createTableQuery); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create table")
	}

	logger.Log.Info().Msg("snapshot archive connected")
	p.db = db
	p.connected = true
	return db, nil
}

// exec runs fn against a live connection, retrying connection failures and
// dropping the connection so the next attempt reconnects.
func (p *PostgresStore) exec(ctx context.Context, fn func(db *sql.DB) error) error {
	return withPGRetry(ctx, func() error {
		db, err := p.ensureConnected(ctx)
		if err != nil {
			return err
		}
		err = fn(db)
		if isRetriable(err) {
			logger.Log.Warn().Err(err).Msg("snapshot archive connection lost")
			p.resetConnection()
		}
		return err
	})
}

func (p *PostgresStore) SaveSnapshot(ctx context.Context, s model.Snapshot) error {
	err := p.exec(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, insertSnapshotQuery,
			s.Instance,
			s.TakenAt,
			s.StartTime,
			strconv.FormatUint(s.BytesReceived, 10),
			strconv.FormatUint(s.BytesSent, 10),
			strconv.FormatUint(s.PacketsLost, 10),
			s.LatencyMicros,
			s.UptimeSeconds,
			s.CPUUsage,
			s.MemoryUsage,
			int64(s.ActiveConnections),
			strconv.FormatUint(s.TotalConnections, 10),
		)
		return err
	})
	return errors.Wrap(err, "save snapshot")
}

func (p *PostgresStore) LatestSnapshot(ctx context.Context) (model.Snapshot, error) {
	var (
		s                           model.Snapshot
		received, sent, lost, total string
		active                      int64
	)
	err := p.exec(ctx, func(db *sql.DB) error {
		return db.QueryRowContext(ctx, latestSnapshotQuery).Scan(
			&s.Instance, &s.TakenAt, &s.StartTime, &received, &sent, &lost,
			&s.LatencyMicros, &s.UptimeSeconds, &s.CPUUsage, &s.MemoryUsage,
			&active, &total,
		)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return model.Snapshot{}, errors.Wrap(customerrors.ErrKeyNotFound, "no snapshots")
	}
	if err != nil {
		return model.Snapshot{}, errors.Wrap(err, "latest snapshot")
	}

	for _, f := range []struct {
		dst *uint64
		src string
	}{{&s.BytesReceived, received}, {&s.BytesSent, sent}, {&s.PacketsLost, lost}, {&s.TotalConnections, total}} {
		if *f.dst, err = strconv.ParseUint(f.src, 10, 64); err != nil {
			return model.Snapshot{}, errors.Wrapf(err, "parse counter %q", f.src)
		}
	}
	s.ActiveConnections = uint32(active)
	return s, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	db, err := p.ensureConnected(ctx)
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (p *PostgresStore) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.db != nil {
			err = p.db.Close()
			p.db = nil
		}
		p.connected = false
	})
	return err
}
