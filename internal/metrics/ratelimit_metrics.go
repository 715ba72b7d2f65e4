package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RateLimitMetrics covers the publish path: traffic admitted, throttles by
// gate, and read resumes.
//
// ALERTING:
//
//	# A topic throttled more than once per second for 10 minutes
//	rate(topicgate_ratelimit_publish_throttled_total[10m]) > 1
type RateLimitMetrics struct {
	MessagesIn *prometheus.CounterVec
	BytesIn    *prometheus.CounterVec

	// PublishThrottled counts batches refused by the cascade.
	// Labels: topic, gate (topic, broker, resource_group)
	PublishThrottled *prometheus.CounterVec

	// ReadsResumed counts how often paused producer reads were re-enabled.
	ReadsResumed *prometheus.CounterVec

	// TopicRate is the effective publish ceiling of each topic.
	// Labels: topic, unit (msgs, bytes)
	TopicRate *prometheus.GaugeVec

	ResourceGroups prometheus.Gauge
}

func newRateLimitMetrics(r *Registry) *RateLimitMetrics {
	m := &RateLimitMetrics{}

	m.MessagesIn = r.newCounterVec(
		prometheus.CounterOpts{
			Subsystem: "ratelimit",
			Name:      "messages_in_total",
			Help:      "Total number of messages accepted on the publish path",
		},
		[]string{"topic"},
	)

	m.BytesIn = r.newCounterVec(
		prometheus.CounterOpts{
			Subsystem: "ratelimit",
			Name:      "bytes_in_total",
			Help:      "Total number of bytes accepted on the publish path",
		},
		[]string{"topic"},
	)

	m.PublishThrottled = r.newCounterVec(
		prometheus.CounterOpts{
			Subsystem: "ratelimit",
			Name:      "publish_throttled_total",
			Help:      "Total number of batches refused by a publish rate gate",
		},
		[]string{"topic", "gate"},
	)

	m.ReadsResumed = r.newCounterVec(
		prometheus.CounterOpts{
			Subsystem: "ratelimit",
			Name:      "reads_resumed_total",
			Help:      "Total number of times producer reads were re-enabled",
		},
		[]string{"topic"},
	)

	m.TopicRate = r.newGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: "ratelimit",
			Name:      "topic_rate",
			Help:      "Effective publish ceiling per second of a topic (0 = unlimited)",
		},
		[]string{"topic", "unit"},
	)

	m.ResourceGroups = r.newGauge(prometheus.GaugeOpts{
		Subsystem: "ratelimit",
		Name:      "resource_groups",
		Help:      "Number of configured resource groups",
	})

	return m
}

func (m *RateLimitMetrics) RecordPublish(topic string, msgs int, bytes int64) {
	m.MessagesIn.WithLabelValues(topic).Add(float64(msgs))
	m.BytesIn.WithLabelValues(topic).Add(float64(bytes))
}

func (m *RateLimitMetrics) RecordThrottle(topic, gate string) {
	m.PublishThrottled.WithLabelValues(topic, gate).Inc()
}

func (m *RateLimitMetrics) RecordResume(topic string) {
	m.ReadsResumed.WithLabelValues(topic).Inc()
}

// SetTopicRate publishes the effective ceiling. Non-positive values are
// reported as 0.
func (m *RateLimitMetrics) SetTopicRate(topic string, msgs int, bytes int64) {
	m.TopicRate.WithLabelValues(topic, "msgs").Set(float64(max(msgs, 0)))
	m.TopicRate.WithLabelValues(topic, "bytes").Set(float64(max(bytes, 0)))
}

func (m *RateLimitMetrics) DeleteTopic(topic string) {
	labels := prometheus.Labels{"topic": topic}
	m.MessagesIn.DeletePartialMatch(labels)
	m.BytesIn.DeletePartialMatch(labels)
	m.PublishThrottled.DeletePartialMatch(labels)
	m.ReadsResumed.DeletePartialMatch(labels)
	m.TopicRate.DeletePartialMatch(labels)
}
