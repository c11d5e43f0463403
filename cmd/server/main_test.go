package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Heidric/shmbridge/internal/store"
)

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name        string
		env         string
		args        []string
		wantAddress string
	}{
		{name: "default address", args: []string{"cmd"}, wantAddress: "localhost:8080"},
		{name: "env address", env: "env:8081", args: []string{"cmd"}, wantAddress: "env:8081"},
		{name: "flag address", args: []string{"cmd", "-a=flag:8082"}, wantAddress: "flag:8082"},
		{name: "flag overrides env", env: "env:8083", args: []string{"cmd", "-a=flag:8084"}, wantAddress: "flag:8084"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			oldFlags := flag.CommandLine
			defer func() {
				os.Args = oldArgs
				flag.CommandLine = oldFlags
			}()

			t.Setenv("ADDRESS", tt.env)
			os.Args = tt.args
			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

			config, err := loadConfig()
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddress, config.ServerAddress)
		})
	}
}

func TestOpenStore(t *testing.T) {
	oldArgs := os.Args
	oldFlags := flag.CommandLine
	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldFlags
	}()
	os.Args = []string{"cmd"}
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	t.Setenv("SHM_BACKEND", "file")
	t.Setenv("SHM_PATH", filepath.Join(t.TempDir(), "bridge"))

	config, err := loadConfig()
	require.NoError(t, err)

	producer, err := openStore(config)
	require.NoError(t, err)
	defer producer.Close()
	require.NoError(t, producer.SetCounter(store.BytesReceived, 22598313))

	reader, err := openStore(config)
	require.NoError(t, err)
	defer reader.Close()

	v, err := reader.Counter(store.BytesReceived)
	require.NoError(t, err)
	assert.Equal(t, uint64(22598313), v)
}

func TestOpenStoreBadBackend(t *testing.T) {
	oldArgs := os.Args
	oldFlags := flag.CommandLine
	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldFlags
	}()
	os.Args = []string{"cmd"}
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	t.Setenv("SHM_BACKEND", "carrier-pigeon")

	config, err := loadConfig()
	require.NoError(t, err)

	_, err = openStore(config)
	assert.Error(t, err)
}
