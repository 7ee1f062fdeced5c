package core

import "context"

const (
	MetricInboundTotal   = "billing_webhooks.inbound.total"
	MetricAttemptTotal   = "billing_webhooks.attempt.total"
	MetricEventDuration  = "billing_webhooks.event.duration_ms"
	MetricQueueRejected  = "billing_webhooks.queue.rejected"
	MetricClaimsReleased = "billing_webhooks.claims.released"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}
