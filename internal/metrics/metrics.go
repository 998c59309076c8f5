// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics bundles the counters the auth flows and the dispatch queue
// report into. A nil *Metrics is valid and records nothing, so components
// can run without a registry in tests.
type Metrics struct {
	Registry *prometheus.Registry

	LoginSuccess prometheus.Counter
	LoginFailure prometheus.Counter
	LoginBlocked prometheus.Counter

	NotificationsEnqueued  prometheus.Counter
	NotificationsDelivered prometheus.Counter
	NotificationsRetried   prometheus.Counter
	NotificationsFailed    prometheus.Counter
	NotificationsDropped   prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		Registry: reg,
		LoginSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_login_success_total",
			Help: "Successful logins.",
		}),
		LoginFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_login_failure_total",
			Help: "Failed login attempts (bad credentials or unknown user).",
		}),
		LoginBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_login_blocked_total",
			Help: "Login attempts rejected by the brute-force guard.",
		}),
		NotificationsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_notifications_enqueued_total",
			Help: "Notification jobs accepted by the dispatch queue.",
		}),
		NotificationsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_notifications_delivered_total",
			Help: "Notification jobs delivered to the mail transport.",
		}),
		NotificationsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_notifications_retried_total",
			Help: "Delivery attempts retried after a transport failure.",
		}),
		NotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_notifications_failed_total",
			Help: "Notification jobs that exhausted all delivery attempts.",
		}),
		NotificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_notifications_dropped_total",
			Help: "Notification jobs dropped because the queue buffer was full.",
		}),
	}

	reg.MustRegister(
		m.LoginSuccess, m.LoginFailure, m.LoginBlocked,
		m.NotificationsEnqueued, m.NotificationsDelivered, m.NotificationsRetried,
		m.NotificationsFailed, m.NotificationsDropped,
	)

	return m
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

func (m *Metrics) IncLoginSuccess() {
	if m != nil {
		inc(m.LoginSuccess)
	}
}

func (m *Metrics) IncLoginFailure() {
	if m != nil {
		inc(m.LoginFailure)
	}
}

func (m *Metrics) IncLoginBlocked() {
	if m != nil {
		inc(m.LoginBlocked)
	}
}

func (m *Metrics) IncNotificationsEnqueued() {
	if m != nil {
		inc(m.NotificationsEnqueued)
	}
}

func (m *Metrics) IncNotificationsDelivered() {
	if m != nil {
		inc(m.NotificationsDelivered)
	}
}

func (m *Metrics) IncNotificationsRetried() {
	if m != nil {
		inc(m.NotificationsRetried)
	}
}

func (m *Metrics) IncNotificationsFailed() {
	if m != nil {
		inc(m.NotificationsFailed)
	}
}

func (m *Metrics) IncNotificationsDropped() {
	if m != nil {
		inc(m.NotificationsDropped)
	}
}
