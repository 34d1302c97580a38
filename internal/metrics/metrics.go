// Package metrics holds the Prometheus collectors of the gym services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use as a nil pointer, in which case nothing is recorded.
type Metrics struct {
	enrollments *prometheus.CounterVec
	renewals    *prometheus.CounterVec
	payments    *prometheus.CounterVec
	collected   prometheus.Counter
	reminders   *prometheus.CounterVec
	leads       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		enrollments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gym",
			Name:      "enrollments_total",
			Help:      "Members enrolled, by membership type.",
		}, []string{"membership_type"}),
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gym",
			Name:      "renewals_total",
			Help:      "Memberships renewed, by membership type.",
		}, []string{"membership_type"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gym",
			Name:      "payments_total",
			Help:      "Ledger entries recorded, by payment method.",
		}, []string{"method"}),
		collected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gym",
			Name:      "collected_amount_total",
			Help:      "Sum of all recorded payments.",
		}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gym",
			Name:      "reminders_total",
			Help:      "Reminder dispatch outcomes, by reason.",
		}, []string{"reason", "outcome"}),
		leads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gym",
			Name:      "leads_total",
			Help:      "Lead pipeline transitions.",
		}, []string{"event"}),
	}
	reg.MustRegister(m.enrollments, m.renewals, m.payments, m.collected, m.reminders, m.leads)
	return m
}

func (m *Metrics) Enrolled(membershipType string) {
	if m == nil {
		return
	}
	m.enrollments.WithLabelValues(membershipType).Inc()
}

func (m *Metrics) Renewed(membershipType string) {
	if m == nil {
		return
	}
	m.renewals.WithLabelValues(membershipType).Inc()
}

func (m *Metrics) PaymentRecorded(method string, amount float64) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(method).Inc()
	m.collected.Add(amount)
}

// Reminder counts a dispatch outcome: sent, failed or skipped.
func (m *Metrics) Reminder(reason, outcome string) {
	if m == nil {
		return
	}
	m.reminders.WithLabelValues(reason, outcome).Inc()
}

// Lead counts a lead event: captured or converted.
func (m *Metrics) Lead(event string) {
	if m == nil {
		return
	}
	m.leads.WithLabelValues(event).Inc()
}
