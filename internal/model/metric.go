package model

import "time"

// Metric is one point read rendered for the inspection API.
// Value always carries the decimal or text form; High and Low are set only
// for wide counters, as the protocol transmits them.
type Metric struct {
	OID   string  `json:"oid"`
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	Unit  string  `json:"unit,omitempty"`
	Value string  `json:"value"`
	High  *uint32 `json:"high,omitempty"`
	Low   *uint32 `json:"low,omitempty"`
	Error string  `json:"error,omitempty"`
}

// ValueRequest is the body of POST /value/.
type ValueRequest struct {
	OID  string `json:"oid"`
	Mode string `json:"mode,omitempty"`
}

// Snapshot is every stored field read at one moment, plus derived uptime.
type Snapshot struct {
	Instance          string    `json:"instance,omitempty"`
	TakenAt           time.Time `json:"taken_at"`
	BytesReceived     uint64    `json:"bytes_received"`
	BytesSent         uint64    `json:"bytes_sent"`
	PacketsLost       uint64    `json:"packets_lost"`
	LatencyMicros     int32     `json:"latency_us"`
	UptimeSeconds     int64     `json:"uptime_s"`
	CPUUsage          string    `json:"cpu_usage"`
	MemoryUsage       string    `json:"memory_usage"`
	ActiveConnections uint32    `json:"active_connections"`
	TotalConnections  uint64    `json:"total_connections"`
	StartTime         time.Time `json:"start_time"`
}
