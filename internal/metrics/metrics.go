// Package metrics exports pipeline cache statistics in the Prometheus
// exposition format.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RunningShrimp/vm-sub001/internal/lru"
	"github.com/RunningShrimp/vm-sub001/internal/pipeline"
)

const namespace = "xlate"

// Source is anything that can report pipeline statistics
type Source interface {
	CacheStatistics() pipeline.Statistics
}

func desc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
}

// Collector reads a fresh snapshot from its source on every scrape
type Collector struct {
	src Source

	hits, misses, evictions, entries, capacity *prometheus.Desc
	archHits, archMisses, archEntries          *prometheus.Desc
	blocks, cached, instructions, failures     *prometheus.Desc
	seconds                                    *prometheus.Desc
	accesses, accessSizes                      *prometheus.Desc
}

func NewCollector(src Source) *Collector {
	layer := []string{"pipeline", "layer"}
	arch := []string{"pipeline", "layer", "arch"}
	return &Collector{
		src:          src,
		hits:         desc("cache_hits_total", "Cache lookups that found an entry.", layer...),
		misses:       desc("cache_misses_total", "Cache lookups that found no entry.", layer...),
		evictions:    desc("cache_evictions_total", "Entries dropped to make room.", layer...),
		entries:      desc("cache_entries", "Entries currently held.", layer...),
		capacity:     desc("cache_capacity", "Maximum number of entries.", layer...),
		archHits:     desc("cache_arch_hits_total", "Cache hits attributed to an architecture.", arch...),
		archMisses:   desc("cache_arch_misses_total", "Cache misses attributed to an architecture.", arch...),
		archEntries:  desc("cache_arch_entries", "Entries tagged with an architecture.", arch...),
		blocks:       desc("blocks_total", "Blocks translated or served from the result cache.", "pipeline"),
		cached:       desc("cached_blocks_total", "Blocks served from the result cache.", "pipeline"),
		instructions: desc("instructions_total", "Source instructions translated.", "pipeline"),
		failures:     desc("failures_total", "Failed translations.", "pipeline"),
		seconds:      desc("translate_seconds_total", "Time spent translating, cache hits excluded.", "pipeline"),
		accesses:     desc("memory_accesses_total", "Source memory accesses translated, by kind.", "pipeline", "kind"),
		accessSizes:  desc("memory_access_bytes_total", "Source memory accesses translated, by bytes touched.", "pipeline", "size"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.hits, c.misses, c.evictions, c.entries, c.capacity,
		c.archHits, c.archMisses, c.archEntries,
		c.blocks, c.cached, c.instructions, c.failures, c.seconds,
		c.accesses, c.accessSizes,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.CacheStatistics()
	c.layer(ch, s.ID, "pattern", s.Pattern)
	c.layer(ch, s.ID, "encoding", s.Encoding)
	c.layer(ch, s.ID, "result", s.Result)

	t := s.Totals
	ch <- prometheus.MustNewConstMetric(c.blocks, prometheus.CounterValue, float64(t.Blocks), s.ID)
	ch <- prometheus.MustNewConstMetric(c.cached, prometheus.CounterValue, float64(t.CachedBlocks), s.ID)
	ch <- prometheus.MustNewConstMetric(c.instructions, prometheus.CounterValue, float64(t.Instructions), s.ID)
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(t.Failures), s.ID)
	ch <- prometheus.MustNewConstMetric(c.seconds, prometheus.CounterValue, t.Time.Seconds(), s.ID)

	m := s.Memory
	for kind, n := range map[string]uint64{"all": m.Total, "unaligned": m.Unaligned, "atomic": m.Atomic, "vector": m.Vector} {
		ch <- prometheus.MustNewConstMetric(c.accesses, prometheus.CounterValue, float64(n), s.ID, kind)
	}
	for size, n := range m.Sizes {
		ch <- prometheus.MustNewConstMetric(c.accessSizes, prometheus.CounterValue, float64(n), s.ID, strconv.Itoa(size))
	}
}

func (c *Collector) layer(ch chan<- prometheus.Metric, id, name string, l lru.LayerStats) {
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(l.Hits), id, name)
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(l.Misses), id, name)
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(l.Evictions), id, name)
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(l.Entries), id, name)
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(l.Capacity), id, name)
	for a, as := range l.ByArch {
		ch <- prometheus.MustNewConstMetric(c.archHits, prometheus.CounterValue, float64(as.Hits), id, name, a.String())
		ch <- prometheus.MustNewConstMetric(c.archMisses, prometheus.CounterValue, float64(as.Misses), id, name, a.String())
		ch <- prometheus.MustNewConstMetric(c.archEntries, prometheus.GaugeValue, float64(as.Entries), id, name, a.String())
	}
}

// Handler serves the statistics of src on a private registry
func Handler(src Source) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(src)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
