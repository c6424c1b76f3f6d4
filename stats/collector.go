package stats

import "github.com/prometheus/client_golang/prometheus"

var (
	indicesDesc = prometheus.NewDesc(
		"esarchiver_indices_total",
		"Indices handled by the run, by action.",
		[]string{"action"}, nil,
	)
	documentsDesc = prometheus.NewDesc(
		"esarchiver_documents_total",
		"Documents handled by the run, by action.",
		[]string{"action"}, nil,
	)
)

// Describe implements prometheus.Collector.
func (s *Stats) Describe(ch chan<- *prometheus.Desc) {
	ch <- indicesDesc
	ch <- documentsDesc
}

// Collect implements prometheus.Collector.
func (s *Stats) Collect(ch chan<- prometheus.Metric) {
	t := s.Totals()
	for action, v := range map[string]int{
		"archived": t.ArchivedIndex,
		"created":  t.CreatedIndex,
		"deleted":  t.DeletedIndex,
		"skipped":  t.SkippedIndex,
	} {
		ch <- prometheus.MustNewConstMetric(indicesDesc, prometheus.CounterValue, float64(v), action)
	}
	for action, v := range map[string]int{
		"archived": t.ArchivedDoc,
		"indexed":  t.IndexedDoc,
		"rejected": t.RejectedDoc,
	} {
		ch <- prometheus.MustNewConstMetric(documentsDesc, prometheus.CounterValue, float64(v), action)
	}
}

var _ prometheus.Collector = (*Stats)(nil)
