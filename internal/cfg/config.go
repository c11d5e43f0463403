package cfg

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/vrischmann/envconfig"

	"github.com/Heidric/shmbridge/pkg/log"
)

type Config struct {
	Logger           *log.Config
	ServerAddress    string        `envconfig:"ADDRESS"`
	ShmBackend       string        `envconfig:"SHM_BACKEND"`
	ShmKey           string        `envconfig:"SHM_KEY"`
	ShmPath          string        `envconfig:"SHM_PATH"`
	AttachTimeout    time.Duration `envconfig:"ATTACH_TIMEOUT"`
	PollInterval     time.Duration `envconfig:"POLL_INTERVAL"`
	SnapshotInterval time.Duration `envconfig:"SNAPSHOT_INTERVAL"`
	DatabaseDSN      string        `envconfig:"DATABASE_DSN,optional"`
	Key              string        `envconfig:"KEY,optional"`
	LatencyProbe     string        `envconfig:"LATENCY_PROBE,optional"`
	RemoteWriteURL   string        `envconfig:"REMOTE_WRITE_URL,optional"`
	Instance         string        `envconfig:"INSTANCE,optional"`
}

var defaults = map[string]string{
	"ADDRESS":           "localhost:8080",
	"SHM_BACKEND":       "sysv",
	"SHM_KEY":           "0x534E4D50",
	"SHM_PATH":          "/dev/shm/shmbridge",
	"ATTACH_TIMEOUT":    "100ms",
	"POLL_INTERVAL":     "2s",
	"SNAPSHOT_INTERVAL": "60s",
}

func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		Logger: &log.Config{},
	}

	for key, value := range defaults {
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}

	// Bare integers are seconds, as operators tend to write them.
	for _, key := range []string{"POLL_INTERVAL", "SNAPSHOT_INTERVAL"} {
		if sec, err := strconv.Atoi(os.Getenv(key)); err == nil {
			os.Setenv(key, strconv.Itoa(sec)+"s")
		}
	}

	if err := envconfig.Init(config); err != nil {
		return nil, errors.Wrap(err, "read environment")
	}

	if _, err := config.SegmentKey(); err != nil {
		return nil, err
	}
	if config.PollInterval <= 0 || config.SnapshotInterval <= 0 {
		return nil, errors.New("POLL_INTERVAL and SNAPSHOT_INTERVAL must be positive")
	}

	config.Logger.SetDefault()

	return config, nil
}

// SegmentKey parses SHM_KEY, accepting decimal, 0x hex and 0 octal.
func (c *Config) SegmentKey() (int, error) {
	key, err := strconv.ParseUint(c.ShmKey, 0, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "SHM_KEY %q", c.ShmKey)
	}
	return int(int32(uint32(key))), nil
}
