package shmcache

// Metrics exposes cache-level observability hooks. Counters are per handle:
// each process reports the operations it performed itself.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	// Evict is called once per entry removed to make room for another.
	Evict()
	// Reset is called when a segment left dirty by a crashed writer is
	// reformatted.
	Reset()
	// Size reports occupancy after every mutation.
	Size(entries int, blocksUsed int64)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Hit()            {}
func (NoopMetrics) Miss()           {}
func (NoopMetrics) Evict()          {}
func (NoopMetrics) Reset()          {}
func (NoopMetrics) Size(int, int64) {}

var _ Metrics = NoopMetrics{}
