// Package adapter exposes rings to Prometheus and to HTTP health probes.
package adapter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/shmring/pkg/shm"
)

const namespace = "shmring"

// RingCollector is a prometheus.Collector reporting one ring's cursors and
// the counters of the handle it was built from.
type RingCollector struct {
	ring *shm.Ring

	size        *prometheus.Desc
	capacity    *prometheus.Desc
	bufferBytes *prometheus.Desc
	readIndex   *prometheus.Desc
	writeIndex  *prometheus.Desc
	enqueued    *prometheus.Desc
	dequeued    *prometheus.Desc
	rejected    *prometheus.Desc
}

var _ prometheus.Collector = (*RingCollector)(nil)

// NewRingCollector returns a collector for ring. Every metric carries a
// "ring" label with the ring name plus constLabels.
func NewRingCollector(ring *shm.Ring, constLabels prometheus.Labels) *RingCollector {
	labels := prometheus.Labels{"ring": ring.Name()}
	for k, v := range constLabels {
		labels[k] = v
	}
	desc := func(name, help string, variableLabels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "ring", name), help, variableLabels, labels)
	}
	return &RingCollector{
		ring:        ring,
		size:        desc("size", "Messages in flight."),
		capacity:    desc("capacity", "Maximum messages in flight."),
		bufferBytes: desc("buffer_bytes", "Size of the payload arena in bytes."),
		readIndex:   desc("read_index", "Consumer cursor."),
		writeIndex:  desc("write_index", "Producer cursor."),
		enqueued:    desc("enqueued_total", "Messages accepted by Enqueue on this handle."),
		dequeued:    desc("dequeued_total", "Messages returned by Dequeue on this handle."),
		rejected:    desc("rejected_total", "Enqueue calls on this handle that returned false.", "reason"),
	}
}

// Describe implements prometheus.Collector.
func (c *RingCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.capacity
	ch <- c.bufferBytes
	ch <- c.readIndex
	ch <- c.writeIndex
	ch <- c.enqueued
	ch <- c.dequeued
	ch <- c.rejected
}

// Collect implements prometheus.Collector.
func (c *RingCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.ring.Stats()
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(st.Size))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(st.Capacity))
	ch <- prometheus.MustNewConstMetric(c.bufferBytes, prometheus.GaugeValue, float64(st.BufferSize))
	ch <- prometheus.MustNewConstMetric(c.readIndex, prometheus.GaugeValue, float64(st.ReadIndex))
	ch <- prometheus.MustNewConstMetric(c.writeIndex, prometheus.GaugeValue, float64(st.WriteIndex))
	ch <- prometheus.MustNewConstMetric(c.enqueued, prometheus.CounterValue, float64(st.Enqueued))
	ch <- prometheus.MustNewConstMetric(c.dequeued, prometheus.CounterValue, float64(st.Dequeued))
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(st.RejectedFull), "full")
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(st.RejectedArena), "arena")
}
