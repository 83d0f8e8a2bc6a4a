package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lifod"

// StackGauges reads live stack state at scrape time.
type StackGauges interface {
	Len() int
	Cap() int
	Waiting() int
}

// Register exports the collector's counters, plus the stack's depth,
// capacity and waiter gauges, to reg.  Values are read at scrape time
// so the data path never touches Prometheus.
func (c *Collector) Register(reg prometheus.Registerer, st StackGauges) error {
	counter := func(name, help string, v func() int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v()) })
	}
	gauge := func(name, help string, v func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, v)
	}

	cs := []prometheus.Collector{
		counter("writes_total", "Writes that committed at least one byte.", c.writes.Load),
		counter("reads_total", "Read requests served, empty ones included.", c.reads.Load),
		counter("empty_reads_total", "Reads that returned no data.", c.emptyReads.Load),
		counter("bytes_pushed_total", "Bytes committed to the stack.", c.bytesPushed.Load),
		counter("bytes_popped_total", "Bytes delivered to readers.", c.bytesPopped.Load),
		counter("no_space_total", "Writes rejected at capacity.", c.noSpace.Load),
		counter("out_of_memory_total", "Writes that could not allocate a unit.", c.outOfMemory.Load),
		counter("interrupted_total", "Blocking reads ended by cancel or shutdown.", c.interrupted.Load),
		counter("rate_limited_total", "Requests refused by the write limiter.", c.rateLimited.Load),
		counter("connections_total", "Connections accepted.", c.connectionsTotal.Load),
		counter("connections_refused_total", "Connections dropped at max-conns.", c.connectionsRefused.Load),
		counter("errors_total", "Connection and protocol errors.", c.errorsTotal.Load),
		gauge("connections_active", "Open connections.", func() float64 {
			return float64(c.connectionsActive.Load())
		}),
	}
	if st != nil {
		cs = append(cs,
			gauge("stack_bytes", "Bytes currently held.", func() float64 { return float64(st.Len()) }),
			gauge("stack_capacity_bytes", "Stack capacity.", func() float64 { return float64(st.Cap()) }),
			gauge("stack_waiting_readers", "Readers blocked on an empty stack.", func() float64 {
				return float64(st.Waiting())
			}),
		)
	}

	for _, col := range cs {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves /stats (JSON snapshot) and /metrics (Prometheus text)
// from the given registry.
func (c *Collector) Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(c.JSON())) //nolint:errcheck
	})
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}
