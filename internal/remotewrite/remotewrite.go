// Package remotewrite pushes snapshots of the shared record to a Prometheus
// remote-write endpoint.
package remotewrite

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/eryajf/promwrite"
	"github.com/pkg/errors"

	"github.com/Heidric/shmbridge/internal/model"
)

const (
	namespace    = "shmbridge"
	writeTimeout = 15 * time.Second
)

type Writer struct {
	client *promwrite.Client
	labels map[string]string
}

// New returns a writer for url. labels are attached to every series. Labels
// go out sorted by name, as remote-write receivers require.
func New(url string, labels map[string]string) *Writer {
	return &Writer{client: promwrite.NewClient(url), labels: labels}
}

// SaveSnapshot sends one sample per numeric field. Display strings are sent
// only when they parse as a number with a known unit suffix.
func (w *Writer) SaveSnapshot(ctx context.Context, s model.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	req := &promwrite.WriteRequest{TimeSeries: w.series(s)}
	if _, err := w.client.Write(ctx, req); err != nil {
		return errors.Wrap(err, "remote write")
	}
	return nil
}

type field struct {
	name  string
	value float64
}

func (w *Writer) series(s model.Snapshot) []promwrite.TimeSeries {
	values := []field{
		{"bytes_received_total", float64(s.BytesReceived)},
		{"bytes_sent_total", float64(s.BytesSent)},
		{"packets_lost_total", float64(s.PacketsLost)},
		{"latency_microseconds", float64(s.LatencyMicros)},
		{"uptime_seconds", float64(s.UptimeSeconds)},
		{"active_connections", float64(s.ActiveConnections)},
		{"connections_total", float64(s.TotalConnections)},
	}
	if v, ok := parseUnit(s.CPUUsage, "%"); ok {
		values = append(values, field{"cpu_usage_percent", v})
	}
	if v, ok := parseUnit(s.MemoryUsage, "MB"); ok {
		values = append(values, field{"memory_usage_megabytes", v})
	}

	out := make([]promwrite.TimeSeries, 0, len(values))
	for _, v := range values {
		labels := make([]promwrite.Label, 0, 2+len(w.labels))
		labels = append(labels, promwrite.Label{Name: "__name__", Value: namespace + "_" + v.name})
		if s.Instance != "" {
			labels = append(labels, promwrite.Label{Name: "instance", Value: s.Instance})
		}
		for k, lv := range w.labels {
			labels = append(labels, promwrite.Label{Name: k, Value: lv})
		}
		sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
		out = append(out, promwrite.TimeSeries{
			Labels: labels,
			Sample: promwrite.Sample{Time: s.TakenAt, Value: v.value},
		})
	}
	return out
}

func parseUnit(s, unit string) (float64, bool) {
	trimmed, ok := strings.CutSuffix(strings.TrimSpace(s), unit)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(trimmed), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
