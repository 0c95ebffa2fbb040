package hub

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wanhive/hub/internal/protocol"
)

// TrafficCount is one direction of the traffic tally.
type TrafficCount struct {
	Units uint64 `json:"units"`
	Bytes uint64 `json:"bytes"`
}

// PoolInfo describes one object pool.
type PoolInfo struct {
	Size      int `json:"size"`
	Allocated int `json:"allocated"`
}

// Info is a point-in-time snapshot of the hub's health surface. It is
// safe to collect from outside the reactor goroutine.
type Info struct {
	UID           uint64       `json:"uid"`
	UptimeSeconds float64      `json:"uptimeSeconds"`
	Received      TrafficCount `json:"received"`
	Dropped       TrafficCount `json:"dropped"`
	Connections   PoolInfo     `json:"connections"`
	Messages      PoolInfo     `json:"messages"`
	MTU           int          `json:"mtu"`
}

// traffic holds the monotonic counters. Atomics, so the admin surface
// can snapshot them while the reactor goroutine counts.
type traffic struct {
	receivedUnits atomic.Uint64
	receivedBytes atomic.Uint64
	droppedUnits  atomic.Uint64
	droppedBytes  atomic.Uint64
}

// metrics is the Prometheus face of the counters, registered on a
// per-hub registry so that multiple hubs can coexist in one process.
type metrics struct {
	registry *prometheus.Registry

	received      prometheus.Counter
	receivedBytes prometheus.Counter
	dropped       prometheus.Counter
	droppedBytes  prometheus.Counter

	connectionsAllocated prometheus.Gauge
	messagesAllocated    prometheus.Gauge
}

func newMetrics(uptimeSeconds func() float64) *metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	m := &metrics{
		registry: registry,
		received: factory.NewCounter(prometheus.CounterOpts{
			Name: "hub_messages_received_total",
			Help: "Messages ingested from all connections.",
		}),
		receivedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "hub_bytes_received_total",
			Help: "Bytes ingested from all connections.",
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "hub_messages_dropped_total",
			Help: "Messages dropped by the admission controller.",
		}),
		droppedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "hub_bytes_dropped_total",
			Help: "Bytes dropped by the admission controller.",
		}),
		connectionsAllocated: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hub_connections_allocated",
			Help: "Connection pool objects in use.",
		}),
		messagesAllocated: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hub_messages_allocated",
			Help: "Message pool objects in use.",
		}),
	}
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "hub_uptime_seconds",
		Help: "Seconds since the hub was configured.",
	}, uptimeSeconds)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "hub_frame_mtu_bytes",
		Help: "Maximum frame length supported by the message pool.",
	}, func() float64 {
		return float64(protocol.MTU)
	})
	return m
}

// Registry exposes the hub's Prometheus registry for the admin surface.
func (h *Hub) Registry() *prometheus.Registry {
	if h.metrics == nil {
		return nil
	}
	return h.metrics.registry
}

func (h *Hub) countReceived(bytes uint16) {
	h.traffic.receivedUnits.Add(1)
	h.traffic.receivedBytes.Add(uint64(bytes))
	if h.metrics != nil {
		h.metrics.received.Inc()
		h.metrics.receivedBytes.Add(float64(bytes))
	}
}

func (h *Hub) countDropped(bytes uint16) {
	h.traffic.droppedUnits.Add(1)
	h.traffic.droppedBytes.Add(uint64(bytes))
	if h.metrics != nil {
		h.metrics.dropped.Inc()
		h.metrics.droppedBytes.Add(float64(bytes))
	}
}

// syncMetrics mirrors the pool accounting into atomics and gauges once
// per loop iteration; the pools themselves are reactor-goroutine-only.
func (h *Hub) syncMetrics() {
	conn, msg := 0, 0
	if h.sockets != nil {
		conn = h.sockets.Allocated()
	}
	if h.messages != nil {
		msg = h.messages.Allocated()
	}
	h.connAllocated.Store(int64(conn))
	h.msgAllocated.Store(int64(msg))
	if h.metrics != nil {
		h.metrics.connectionsAllocated.Set(float64(conn))
		h.metrics.messagesAllocated.Set(float64(msg))
	}
}

// Metrics returns the health snapshot.
func (h *Hub) Metrics() Info {
	info := Info{
		UID:           h.uid,
		UptimeSeconds: h.uptimeSeconds(),
		Received: TrafficCount{
			Units: h.traffic.receivedUnits.Load(),
			Bytes: h.traffic.receivedBytes.Load(),
		},
		Dropped: TrafficCount{
			Units: h.traffic.droppedUnits.Load(),
			Bytes: h.traffic.droppedBytes.Load(),
		},
		MTU: protocol.MTU,
	}
	info.Connections = PoolInfo{
		Size:      int(h.connPoolSize.Load()),
		Allocated: int(h.connAllocated.Load()),
	}
	info.Messages = PoolInfo{
		Size:      int(h.msgPoolSize.Load()),
		Allocated: int(h.msgAllocated.Load()),
	}
	return info
}
