package lib

import "sync"

const (
	MetricClansFounded      = "clans_founded_total"
	MetricClansDisbanded    = "clans_disbanded_total"
	MetricMembersJoined     = "members_joined_total"
	MetricMembersLeft       = "members_left_total"
	MetricHitsRegistered    = "hits_registered_total"
	MetricHitsDropped       = "hits_dropped_total"
	MetricDeathsAttributed  = "deaths_attributed_total"
	MetricBetrayals         = "betrayals_total"
	MetricMutinies          = "mutinies_total"
	MetricNoticesDropped    = "notices_dropped_total"
	MetricStoreErrors       = "store_errors_total"
	MetricFeedEventsPublish = "feed_events_published_total"
	MetricFeedEventsPruned  = "feed_events_pruned_total"
)

// Metrics is a tiny in-memory counter store for instrumentation hooks.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	mu       sync.RWMutex
	counters map[string]uint64
}

func NewMetrics() *Metrics {
	return &Metrics{counters: make(map[string]uint64)}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += n
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := make(map[string]uint64, len(m.counters))
	for k, v := range m.counters {
		cp[k] = v
	}
	return cp
}
