package main

import (
	"fusionchat/internal/ports"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	MessagesSent        prometheus.Counter
	SendFailures        prometheus.Counter
	EventsTotal         *prometheus.CounterVec
	DecryptFailures     prometheus.Counter
	Reconnects          prometheus.Counter
	ActiveSubscriptions prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages successfully written to the data service",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_send_failures_total",
			Help: "Message writes that failed and were flagged for resend",
		}),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_realtime_events_total",
				Help: "Realtime events dispatched, by topic and event type",
			},
			[]string{"topic", "event"},
		),
		DecryptFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_decrypt_failures_total",
			Help: "Message bodies rendered as a placeholder after decryption failure",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_realtime_reconnects_total",
			Help: "Realtime connection reconnect attempts",
		}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_active_subscriptions",
			Help: "Currently registered realtime subscriptions",
		}),
	}

	prometheus.MustRegister(
		m.MessagesSent,
		m.SendFailures,
		m.EventsTotal,
		m.DecryptFailures,
		m.Reconnects,
		m.ActiveSubscriptions,
	)

	return m
}

func (m *Metrics) ObserveEvent(topic string, event ports.EventType) {
	m.EventsTotal.WithLabelValues(topic, string(event)).Inc()
}
