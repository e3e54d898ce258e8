package metrics

import (
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the identity core's metric instruments.
type AppMetrics struct {
	StatusTransitionsTotal    metric.Int64Counter
	IllegalTransitionsTotal   metric.Int64Counter
	MembershipMutationsTotal  metric.Int64Counter
	AuditEntriesTotal         metric.Int64Counter
	OperationDurationSeconds  metric.Float64Histogram
	DbQueryDurationSeconds    metric.Float64Histogram
	NotificationFailuresTotal metric.Int64Counter
}

var (
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics initializes the global metric instruments once, from the
// globally configured MeterProvider.
func InitAppMetrics() {
	once.Do(func() {
		meter := otel.GetMeterProvider().Meter("identity-core")
		var err error
		m := &AppMetrics{}

		m.StatusTransitionsTotal, err = meter.Int64Counter(
			"status_transitions_total",
			metric.WithDescription("Total number of applied global status transitions"),
			metric.WithUnit("{transition}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create status_transitions_total: %v", err)
		}

		m.IllegalTransitionsTotal, err = meter.Int64Counter(
			"illegal_transitions_total",
			metric.WithDescription("Total number of rejected status transitions"),
			metric.WithUnit("{transition}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create illegal_transitions_total: %v", err)
		}

		m.MembershipMutationsTotal, err = meter.Int64Counter(
			"membership_mutations_total",
			metric.WithDescription("Total number of membership add/remove/change operations"),
			metric.WithUnit("{operation}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create membership_mutations_total: %v", err)
		}

		m.AuditEntriesTotal, err = meter.Int64Counter(
			"audit_entries_total",
			metric.WithDescription("Total number of audit entries appended"),
			metric.WithUnit("{entry}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create audit_entries_total: %v", err)
		}

		m.OperationDurationSeconds, err = meter.Float64Histogram(
			"operation_duration_seconds",
			metric.WithDescription("Duration of identity core operations in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create operation_duration_seconds: %v", err)
		}

		m.DbQueryDurationSeconds, err = meter.Float64Histogram(
			"db_query_duration_seconds",
			metric.WithDescription("Duration of database queries in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create db_query_duration_seconds: %v", err)
		}

		m.NotificationFailuresTotal, err = meter.Int64Counter(
			"notification_failures_total",
			metric.WithDescription("Total number of failed best-effort notification dispatches"),
			metric.WithUnit("{dispatch}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create notification_failures_total: %v", err)
		}

		appMetrics = m
	})
}

// Get returns the initialized instruments; InitAppMetrics must run first.
func Get() *AppMetrics {
	return appMetrics
}
