package docdb

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes store activity to Prometheus. Register it with a
// prometheus.Registerer; collection reads the live counters and per-
// table row counts.
type Collector struct {
	db *DB

	queries     *prometheus.Desc
	writes      *prometheus.Desc
	cacheHits   *prometheus.Desc
	cacheMisses *prometheus.Desc
	cacheSize   *prometheus.Desc
	tableRows   *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(db *DB) *Collector {
	return &Collector{
		db: db,
		queries: prometheus.NewDesc("docdb_queries_total",
			"Queries executed.", nil, nil),
		writes: prometheus.NewDesc("docdb_writes_total",
			"Write operations executed.", []string{"op"}, nil),
		cacheHits: prometheus.NewDesc("docdb_cache_hits_total",
			"Query results served from the cache.", nil, nil),
		cacheMisses: prometheus.NewDesc("docdb_cache_misses_total",
			"Query cache misses.", nil, nil),
		cacheSize: prometheus.NewDesc("docdb_cache_entries",
			"Resident query cache entries.", nil, nil),
		tableRows: prometheus.NewDesc("docdb_table_rows",
			"Documents per table.", []string{"table"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queries
	ch <- c.writes
	ch <- c.cacheHits
	ch <- c.cacheMisses
	ch <- c.cacheSize
	ch <- c.tableRows
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	db := c.db
	ch <- prometheus.MustNewConstMetric(c.queries, prometheus.CounterValue,
		float64(db.stats.queries.Load()))
	ch <- prometheus.MustNewConstMetric(c.writes, prometheus.CounterValue,
		float64(db.stats.creates.Load()), string(OpCreate))
	ch <- prometheus.MustNewConstMetric(c.writes, prometheus.CounterValue,
		float64(db.stats.updates.Load()), string(OpUpdate))
	ch <- prometheus.MustNewConstMetric(c.writes, prometheus.CounterValue,
		float64(db.stats.deletes.Load()), string(OpDelete))
	ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue,
		float64(db.cache.hits.Load()))
	ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue,
		float64(db.cache.misses.Load()))
	ch <- prometheus.MustNewConstMetric(c.cacheSize, prometheus.GaugeValue,
		float64(db.cache.size()))

	db.mu.RLock()
	states := make([]*tableState, 0, len(db.tables))
	for _, ts := range db.tables {
		states = append(states, ts)
	}
	db.mu.RUnlock()
	for _, ts := range states {
		snap, err := db.snapshotOf(context.Background(), ts)
		if err != nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.tableRows, prometheus.GaugeValue,
			float64(len(snap.docs)), ts.name)
	}
}
