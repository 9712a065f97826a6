// Package metrics tracks per-process transfer counters and exposes them
// both as a point-in-time snapshot and as a Prometheus collector.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Transfer accumulates the counters a single run of Send/Receive produces.
// Every field is updated with the atomic package so the pipeline's ingress,
// egress and timer tasks can all touch it without a lock.
type Transfer struct {
	BytesSent        uint64
	BytesReceived    uint64
	PacketsSent      uint64
	PacketsReceived  uint64
	PacketsDropped   uint64 // failed CRC, ignored by the ingress task
	Retransmissions  uint64
	AcksSent         uint64
	StartTime        time.Time
}

// NewTransfer starts a fresh counter set.
func NewTransfer() *Transfer {
	return &Transfer{StartTime: time.Now()}
}

func (t *Transfer) AddBytesSent(n uint64)       { atomic.AddUint64(&t.BytesSent, n) }
func (t *Transfer) AddBytesReceived(n uint64)   { atomic.AddUint64(&t.BytesReceived, n) }
func (t *Transfer) AddPacketSent()              { atomic.AddUint64(&t.PacketsSent, 1) }
func (t *Transfer) AddPacketReceived()          { atomic.AddUint64(&t.PacketsReceived, 1) }
func (t *Transfer) AddPacketDropped()           { atomic.AddUint64(&t.PacketsDropped, 1) }
func (t *Transfer) AddRetransmission()          { atomic.AddUint64(&t.Retransmissions, 1) }
func (t *Transfer) AddAckSent()                 { atomic.AddUint64(&t.AcksSent, 1) }

// Throughput returns bytes/second of BytesReceived since StartTime.
func (t *Transfer) Throughput() float64 {
	elapsed := time.Since(t.StartTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&t.BytesReceived)) / elapsed
}

// Collector exposes a Transfer's counters to Prometheus as const metrics,
// read fresh from the underlying atomics on every scrape.
type Collector struct {
	t *Transfer

	bytesSent       *prometheus.Desc
	bytesReceived   *prometheus.Desc
	packetsSent     *prometheus.Desc
	packetsReceived *prometheus.Desc
	packetsDropped  *prometheus.Desc
	retransmissions *prometheus.Desc
	acksSent        *prometheus.Desc
	throughput      *prometheus.Desc
}

// NewCollector wraps t for Prometheus registration.
func NewCollector(t *Transfer) *Collector {
	return &Collector{
		t:               t,
		bytesSent:       prometheus.NewDesc("udpflow_bytes_sent_total", "Payload bytes sent.", nil, nil),
		bytesReceived:   prometheus.NewDesc("udpflow_bytes_received_total", "Payload bytes received.", nil, nil),
		packetsSent:     prometheus.NewDesc("udpflow_packets_sent_total", "Datagrams sent, including retransmissions.", nil, nil),
		packetsReceived: prometheus.NewDesc("udpflow_packets_received_total", "Datagrams accepted with a valid CRC.", nil, nil),
		packetsDropped:  prometheus.NewDesc("udpflow_packets_dropped_total", "Datagrams discarded for a CRC mismatch.", nil, nil),
		retransmissions: prometheus.NewDesc("udpflow_retransmissions_total", "Messages resent after an RTO.", nil, nil),
		acksSent:        prometheus.NewDesc("udpflow_acks_sent_total", "Acknowledgement datagrams sent.", nil, nil),
		throughput:      prometheus.NewDesc("udpflow_throughput_bytes_per_second", "BytesReceived divided by elapsed seconds.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytesSent
	ch <- c.bytesReceived
	ch <- c.packetsSent
	ch <- c.packetsReceived
	ch <- c.packetsDropped
	ch <- c.retransmissions
	ch <- c.acksSent
	ch <- c.throughput
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(atomic.LoadUint64(&c.t.BytesSent)))
	ch <- prometheus.MustNewConstMetric(c.bytesReceived, prometheus.CounterValue, float64(atomic.LoadUint64(&c.t.BytesReceived)))
	ch <- prometheus.MustNewConstMetric(c.packetsSent, prometheus.CounterValue, float64(atomic.LoadUint64(&c.t.PacketsSent)))
	ch <- prometheus.MustNewConstMetric(c.packetsReceived, prometheus.CounterValue, float64(atomic.LoadUint64(&c.t.PacketsReceived)))
	ch <- prometheus.MustNewConstMetric(c.packetsDropped, prometheus.CounterValue, float64(atomic.LoadUint64(&c.t.PacketsDropped)))
	ch <- prometheus.MustNewConstMetric(c.retransmissions, prometheus.CounterValue, float64(atomic.LoadUint64(&c.t.Retransmissions)))
	ch <- prometheus.MustNewConstMetric(c.acksSent, prometheus.CounterValue, float64(atomic.LoadUint64(&c.t.AcksSent)))
	ch <- prometheus.MustNewConstMetric(c.throughput, prometheus.GaugeValue, c.t.Throughput())
}
