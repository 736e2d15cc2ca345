// Package observability registers the service's Prometheus metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activitiesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "clubactivities",
		Subsystem: "scheduling",
		Name:      "activities_created_total",
		Help:      "Number of activity instances created, series generation included.",
	})
	joinsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "clubactivities",
		Subsystem: "participation",
		Name:      "joins_total",
		Help:      "Number of successful registrations.",
	})
	leavesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "clubactivities",
		Subsystem: "participation",
		Name:      "leaves_total",
		Help:      "Number of registrations cancelled by their user.",
	})
	capacityRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "clubactivities",
		Subsystem: "participation",
		Name:      "capacity_rejections_total",
		Help:      "Joins or approvals refused because the activity was full.",
	})
	reconcileRollbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "clubactivities",
		Subsystem: "reconcile",
		Name:      "rollbacks_total",
		Help:      "Optimistic mutations rolled back after an authoritative failure.",
	})
	notifyFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "clubactivities",
		Subsystem: "notify",
		Name:      "dispatch_failures_total",
		Help:      "Notification dispatches that failed and were dropped.",
	})
	deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clubactivities",
		Subsystem: "notify",
		Name:      "deliveries_total",
		Help:      "Notification events consumed and fanned out, by kind.",
	}, []string{"kind"})
	deliveryDecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "clubactivities",
		Subsystem: "notify",
		Name:      "decode_errors_total",
		Help:      "Notification records skipped because they could not be decoded.",
	})
	sweepGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "clubactivities",
		Subsystem: "sweeper",
		Name:      "last_sweep_timestamp_seconds",
		Help:      "Unix timestamp of the most recent attendance sweep.",
	})
)

func init() {
	prometheus.MustRegister(
		activitiesCreated,
		joinsTotal,
		leavesTotal,
		capacityRejections,
		reconcileRollbacks,
		notifyFailures,
		deliveriesTotal,
		deliveryDecodeErrors,
		sweepGauge,
	)
}

// RecordActivityCreated counts newly persisted instances.
func RecordActivityCreated(count int) {
	activitiesCreated.Add(float64(count))
}

// RecordJoin counts a successful registration.
func RecordJoin() { joinsTotal.Inc() }

// RecordLeave counts a user-initiated cancellation.
func RecordLeave() { leavesTotal.Inc() }

// RecordCapacityRejection counts a join refused at capacity.
func RecordCapacityRejection() { capacityRejections.Inc() }

// RecordReconcileRollback counts a rolled-back optimistic mutation.
func RecordReconcileRollback() { reconcileRollbacks.Inc() }

// RecordNotifyFailure counts a dropped notification dispatch.
func RecordNotifyFailure() { notifyFailures.Inc() }

// RecordDelivery counts a consumed notification event by kind.
func RecordDelivery(kind string) { deliveriesTotal.WithLabelValues(kind).Inc() }

// RecordDeliveryDecodeError counts a skipped malformed notification record.
func RecordDeliveryDecodeError() { deliveryDecodeErrors.Inc() }

// RecordSweep updates the sweep watermark gauge.
func RecordSweep(ts time.Time) {
	if ts.IsZero() {
		return
	}
	sweepGauge.Set(float64(ts.Unix()))
}
