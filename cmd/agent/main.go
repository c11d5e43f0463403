package main

import (
	"context"
	"flag"
	"fmt"
	stdnet "net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"golang.org/x/sync/errgroup"

	"github.com/Heidric/shmbridge/internal/cfg"
	"github.com/Heidric/shmbridge/internal/logger"
	"github.com/Heidric/shmbridge/internal/shm"
	"github.com/Heidric/shmbridge/internal/store"
)

// Producer is the instrumentation side of the metrics store.
type Producer interface {
	SetCounter(f store.CounterField, v uint64) error
	AddCounter(f store.CounterField, delta uint64) error
	SetLatency(d time.Duration) error
	SetActiveConnections(n uint32) error
	SetCPUUsage(s string) error
	SetMemoryUsage(s string) error
}

// Sources are the host probes the agent samples. Any of them may be nil.
type Sources struct {
	CPUPercent  func(ctx context.Context) (float64, error)
	MemoryUsed  func(ctx context.Context) (uint64, error)
	NetIO       func(ctx context.Context) (net.IOCountersStat, error)
	Connections func(ctx context.Context) ([]net.ConnectionStat, error)
	Probe       func(ctx context.Context) (time.Duration, error)
}

// HostSources samples the local host through gopsutil. A non-empty probe
// address adds a TCP connect-time latency probe.
func HostSources(probe string) Sources {
	s := Sources{
		CPUPercent: func(ctx context.Context) (float64, error) {
			pct, err := cpu.PercentWithContext(ctx, 0, false)
			if err != nil {
				return 0, err
			}
			if len(pct) == 0 {
				return 0, errors.New("no cpu sample")
			}
			return pct[0], nil
		},
		MemoryUsed: func(ctx context.Context) (uint64, error) {
			vm, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return 0, err
			}
			return vm.Used, nil
		},
		NetIO: func(ctx context.Context) (net.IOCountersStat, error) {
			counters, err := net.IOCountersWithContext(ctx, false)
			if err != nil {
				return net.IOCountersStat{}, err
			}
			if len(counters) == 0 {
				return net.IOCountersStat{}, errors.New("no network counters")
			}
			return counters[0], nil
		},
		Connections: func(ctx context.Context) ([]net.ConnectionStat, error) {
			return net.ConnectionsWithContext(ctx, "tcp")
		},
	}
	if probe != "" {
		s.Probe = func(ctx context.Context) (time.Duration, error) {
			var d stdnet.Dialer
			start := time.Now()
			conn, err := d.DialContext(ctx, "tcp", probe)
			if err != nil {
				return 0, err
			}
			elapsed := time.Since(start)
			conn.Close()
			return elapsed, nil
		}
	}
	return s
}

type Agent struct {
	producer     Producer
	sources      Sources
	pollInterval time.Duration
	logger       *zerolog.Logger

	// established connections seen on the previous poll
	seen map[string]struct{}
}

func NewAgent(producer Producer, sources Sources, pollInterval time.Duration, logger *zerolog.Logger) *Agent {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Agent{
		producer:     producer,
		sources:      sources,
		pollInterval: pollInterval,
		logger:       logger,
		seen:         make(map[string]struct{}),
	}
}

func (a *Agent) Run(ctx context.Context, runner *errgroup.Group) {
	a.logger.Info().Dur("interval", a.pollInterval).Msg("Agent started.")

	runner.Go(func() error {
		ticker := time.NewTicker(a.pollInterval)
		defer ticker.Stop()

		a.Poll(ctx)
		for {
			select {
			case <-ticker.C:
				a.Poll(ctx)
			case <-ctx.Done():
				a.logger.Info().Msg("Agent stopped.")
				return nil
			}
		}
	})
}

// Poll samples every source once and writes what it got. A failing source
// is logged and leaves its fields at their last value.
func (a *Agent) Poll(ctx context.Context) {
	for name, fn := range map[string]func(context.Context) error{
		"cpu":         a.pollCPU,
		"memory":      a.pollMemory,
		"network":     a.pollNetwork,
		"connections": a.pollConnections,
		"latency":     a.pollLatency,
	} {
		if err := fn(ctx); err != nil {
			a.logger.Warn().Err(err).Str("source", name).Msg("sample failed")
		}
	}
}

func (a *Agent) pollCPU(ctx context.Context) error {
	if a.sources.CPUPercent == nil {
		return nil
	}
	pct, err := a.sources.CPUPercent(ctx)
	if err != nil {
		return err
	}
	return a.producer.SetCPUUsage(formatPercent(pct))
}

func (a *Agent) pollMemory(ctx context.Context) error {
	if a.sources.MemoryUsed == nil {
		return nil
	}
	used, err := a.sources.MemoryUsed(ctx)
	if err != nil {
		return err
	}
	return a.producer.SetMemoryUsage(formatMegabytes(used))
}

func (a *Agent) pollNetwork(ctx context.Context) error {
	if a.sources.NetIO == nil {
		return nil
	}
	io, err := a.sources.NetIO(ctx)
	if err != nil {
		return err
	}
	if err := a.producer.SetCounter(store.BytesReceived, io.BytesRecv); err != nil {
		return err
	}
	if err := a.producer.SetCounter(store.BytesSent, io.BytesSent); err != nil {
		return err
	}
	return a.producer.SetCounter(store.PacketsLost, io.Dropin+io.Dropout)
}

// pollConnections publishes the established count as the active gauge and
// adds connections not present on the previous poll to the total.
func (a *Agent) pollConnections(ctx context.Context) error {
	if a.sources.Connections == nil {
		return nil
	}
	conns, err := a.sources.Connections(ctx)
	if err != nil {
		return err
	}

	current := make(map[string]struct{}, len(conns))
	var fresh uint64
	for _, c := range conns {
		if c.Status != "ESTABLISHED" {
			continue
		}
		key := fmt.Sprintf("%s:%d-%s:%d", c.Laddr.IP, c.Laddr.Port, c.Raddr.IP, c.Raddr.Port)
		current[key] = struct{}{}
		if _, ok := a.seen[key]; !ok {
			fresh++
		}
	}
	a.seen = current

	if err := a.producer.SetActiveConnections(uint32(len(current))); err != nil {
		return err
	}
	return a.producer.AddCounter(store.TotalConnections, fresh)
}

func (a *Agent) pollLatency(ctx context.Context) error {
	if a.sources.Probe == nil {
		return nil
	}
	d, err := a.sources.Probe(ctx)
	if err != nil {
		return err
	}
	return a.producer.SetLatency(d)
}

func formatPercent(pct float64) string {
	return fmt.Sprintf("%.0f%%", pct)
}

func formatMegabytes(b uint64) string {
	return fmt.Sprintf("%dMB", b>>20)
}

func parseFlags() (*cfg.Config, error) {
	config, err := cfg.NewConfig()
	if err != nil {
		return nil, err
	}

	backend := flag.String("b", config.ShmBackend, "Shared memory backend (sysv, file)")
	pollInterval := flag.Duration("p", config.PollInterval, "Poll interval")
	probe := flag.String("l", config.LatencyProbe, "host:port to measure TCP connect latency against")

	flag.Parse()

	config.ShmBackend = strings.ToLower(*backend)
	config.PollInterval = *pollInterval
	config.LatencyProbe = *probe
	if config.PollInterval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}
	return config, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	config, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	config.Logger.Component = "agent"
	log, err := logger.Initialize(config.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	ctx = log.Zerolog().WithContext(ctx)

	key, err := config.SegmentKey()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("shared memory key")
	}
	seg, err := shm.Open(config.ShmBackend, key, config.ShmPath, store.RecordSize)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("open shared memory")
	}
	handle, err := store.CreateOrAttach(seg, store.WithAttachWait(config.AttachTimeout))
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("attach metrics store")
	}
	logger.Log.Info().Bool("created", seg.Created()).Str("backend", config.ShmBackend).Msg("metrics store ready")

	runner, ctx := errgroup.WithContext(ctx)
	agent := NewAgent(handle, HostSources(config.LatencyProbe), config.PollInterval, logger.Log)
	agent.Run(ctx, runner)

	if err := runner.Wait(); err != nil {
		logger.Log.Error().Err(err).Msg("agent failed")
	}
	if err := handle.Close(); err != nil {
		logger.Log.Error().Err(err).Msg("detach metrics store")
	}
}
