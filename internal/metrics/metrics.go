// Package metrics reports adapter traffic counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reporter receives adapter events.
type Reporter interface {
	PacketReceived(slot string, bytes int)
	ReceiveError(slot string)
	PacketSent(cast string)
	SendFailed(reason string)
	InterfaceEvent(status string)
	QueueDepth(depth int)
}

var (
	packetsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coapip_packets_received_total",
		Help: "Total number of datagrams received per socket slot",
	}, []string{"slot"})

	bytesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coapip_bytes_received_total",
		Help: "Total number of payload bytes received per socket slot",
	}, []string{"slot"})

	receiveErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coapip_receive_errors_total",
		Help: "Total number of failed socket reads per socket slot",
	}, []string{"slot"})

	packetsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coapip_packets_sent_total",
		Help: "Total number of datagrams sent",
	}, []string{"cast"}) // cast: unicast, multicast

	sendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coapip_send_failures_total",
		Help: "Total number of failed sends",
	}, []string{"reason"})

	interfaceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coapip_interface_events_total",
		Help: "Total number of interface state transitions",
	}, []string{"status"}) // status: up, down

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coapip_send_queue_depth",
		Help: "Number of datagrams waiting in the send queue",
	})
)

// Prometheus implements Reporter using the default Prometheus registry.
type Prometheus struct{}

// NewPrometheus creates a Prometheus reporter.
func NewPrometheus() Reporter {
	return &Prometheus{}
}

// PacketReceived records a received datagram.
func (p *Prometheus) PacketReceived(slot string, bytes int) {
	packetsReceived.WithLabelValues(slot).Inc()
	bytesReceived.WithLabelValues(slot).Add(float64(bytes))
}

// ReceiveError records a failed read.
func (p *Prometheus) ReceiveError(slot string) {
	receiveErrors.WithLabelValues(slot).Inc()
}

// PacketSent records a transmitted datagram.
func (p *Prometheus) PacketSent(cast string) {
	packetsSent.WithLabelValues(cast).Inc()
}

// SendFailed records a failed send.
func (p *Prometheus) SendFailed(reason string) {
	sendFailures.WithLabelValues(reason).Inc()
}

// InterfaceEvent records an interface transition.
func (p *Prometheus) InterfaceEvent(status string) {
	interfaceEvents.WithLabelValues(status).Inc()
}

// QueueDepth sets the current queue depth.
func (p *Prometheus) QueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

// Noop discards every event.
type Noop struct{}

func (Noop) PacketReceived(string, int) {}
func (Noop) ReceiveError(string) {}
func (Noop) PacketSent(string) {}
func (Noop) SendFailed(string) {}
func (Noop) InterfaceEvent(string) {}
func (Noop) QueueDepth(int) {}
