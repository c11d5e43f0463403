// Package registry maps the fixed identifier tree onto metric descriptors.
// The set of metrics is closed: Metric is an enum and every descriptor names
// exactly one of its values, so the dispatcher switches over a known set
// instead of calling loosely typed handlers.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/Heidric/shmbridge/internal/codec"
	"github.com/Heidric/shmbridge/internal/customerrors"
)

// Metric identifies one scalar served by the bridge.
type Metric int

const (
	BytesReceived Metric = iota + 1
	BytesSent
	PacketsLost
	Latency
	Uptime
	CPUUsage
	MemoryUsage
	ActiveConnections
	TotalConnections
)

var metricNames = map[Metric]string{
	BytesReceived:     "bytesReceived",
	BytesSent:         "bytesSent",
	PacketsLost:       "packetsLost",
	Latency:           "latency",
	Uptime:            "uptime",
	CPUUsage:          "cpuUsage",
	MemoryUsage:       "memoryUsage",
	ActiveConnections: "activeConnections",
	TotalConnections:  "totalConnections",
}

func (m Metric) String() string {
	if name, ok := metricNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Metric(%d)", int(m))
}

// Valid reports whether m is one of the declared metrics.
func (m Metric) Valid() bool {
	_, ok := metricNames[m]
	return ok
}

// StatsOID is the parent node of the nine leaves (enterprises.2021.10.1.3).
var StatsOID = MustParseOID("1.3.6.1.4.1.2021.10.1.3")

// Descriptor is an immutable registry entry.
type Descriptor struct {
	OID         OID
	Name        string
	Description string
	Type        codec.WireType
	Unit        string
	Metric      Metric
}

// Registry is written once at startup and read concurrently afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Descriptor
	ordered []Descriptor
	sealed  bool
}

func New() *Registry {
	return &Registry{entries: make(map[string]Descriptor)}
}

// Register adds d under oid. It fails once the registry is sealed, when the
// identifier is taken, or when the descriptor does not name a known metric.
func (r *Registry) Register(oid OID, d Descriptor) error {
	if len(oid) == 0 {
		return errors.Wrap(customerrors.ErrInvalidValue, "empty identifier")
	}
	if !d.Metric.Valid() {
		return errors.Wrapf(customerrors.ErrInvalidValue, "descriptor %q names no metric", d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return errors.Wrapf(customerrors.ErrUnsupportedOperation, "registry sealed, cannot add %s", oid)
	}
	key := oid.String()
	if _, ok := r.entries[key]; ok {
		return errors.Wrapf(customerrors.ErrInvalidValue, "identifier %s already registered", key)
	}

	d.OID = append(OID(nil), oid...)
	r.entries[key] = d

	i := sort.Search(len(r.ordered), func(i int) bool { return r.ordered[i].OID.Compare(oid) >= 0 })
	r.ordered = append(r.ordered, Descriptor{})
	copy(r.ordered[i+1:], r.ordered[i:])
	r.ordered[i] = d
	return nil
}

// Seal closes the registry; Register fails from then on.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Lookup resolves oid. Unknown identifiers yield ErrUnknownIdentifier.
// The returned descriptor owns its OID.
func (r *Registry) Lookup(oid OID) (Descriptor, error) {
	r.mu.RLock()
	d, ok := r.entries[oid.String()]
	r.mu.RUnlock()

	if !ok {
		return Descriptor{}, errors.Wrapf(customerrors.ErrUnknownIdentifier, "%s", oid)
	}
	d.OID = append(OID(nil), d.OID...)
	return d, nil
}

// LookupString parses and resolves a dotted identifier.
func (r *Registry) LookupString(s string) (Descriptor, error) {
	oid, err := ParseOID(s)
	if err != nil {
		return Descriptor{}, err
	}
	return r.Lookup(oid)
}

// Descriptors returns every entry in identifier order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, len(r.ordered))
	for i, d := range r.ordered {
		d.OID = append(OID(nil), d.OID...)
		out[i] = d
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

var defaultDescriptors = []Descriptor{
	{Name: "bytesReceived", Description: "Total bytes received", Type: codec.WideCounter, Unit: "bytes", Metric: BytesReceived},
	{Name: "bytesSent", Description: "Total bytes sent", Type: codec.WideCounter, Unit: "bytes", Metric: BytesSent},
	{Name: "packetsLost", Description: "Total packets lost", Type: codec.WideCounter, Unit: "count", Metric: PacketsLost},
	{Name: "latency", Description: "Last sampled latency", Type: codec.SignedInteger, Unit: "microseconds", Metric: Latency},
	{Name: "uptime", Description: "Time since the store was created", Type: codec.SignedInteger, Unit: "seconds", Metric: Uptime},
	{Name: "cpuUsage", Description: "CPU usage display string", Type: codec.BoundedText, Unit: "display", Metric: CPUUsage},
	{Name: "memoryUsage", Description: "Memory usage display string", Type: codec.BoundedText, Unit: "display", Metric: MemoryUsage},
	{Name: "activeConnections", Description: "Currently open connections", Type: codec.Gauge, Unit: "count", Metric: ActiveConnections},
	{Name: "totalConnections", Description: "Connections accepted since start", Type: codec.WideCounter, Unit: "count", Metric: TotalConnections},
}

// Default builds the sealed nine-leaf registry: StatsOID.<n>.0 for n = 1..9.
func Default() *Registry {
	r := New()
	for i, d := range defaultDescriptors {
		if err := r.Register(StatsOID.Append(uint32(i+1), 0), d); err != nil {
			panic(err)
		}
	}
	r.Seal()
	return r
}
