package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AdmissionMetrics covers producer and consumer admission on each topic.
//
// PROMQL EXAMPLES:
//
//	# Producers refused per second, by reason
//	sum by (reason) (rate(topicgate_admission_producers_rejected_total[5m]))
//
//	# Topics with producers queued for exclusivity
//	topicgate_admission_waiting_producers > 0
type AdmissionMetrics struct {
	// ProducersAdmitted counts producers attached to a topic.
	// Labels: topic, access_mode
	ProducersAdmitted *prometheus.CounterVec

	// ProducersRejected counts refused producers.
	// Labels: topic, reason (ProducerBusy, ProducerFenced, ...)
	ProducersRejected *prometheus.CounterVec

	// ProducersRemoved counts producers detached from a topic.
	ProducersRemoved *prometheus.CounterVec

	// ConsumersRejected counts refused consumers.
	// Labels: topic, reason
	ConsumersRejected *prometheus.CounterVec

	ActiveProducers  *prometheus.GaugeVec
	WaitingProducers *prometheus.GaugeVec

	// TopicEpoch is the current fencing epoch of each topic.
	TopicEpoch *prometheus.GaugeVec

	// UsageCount is the number of attached producers and consumers.
	UsageCount *prometheus.GaugeVec

	// AdmissionLatency measures AddProducer end to end, including time spent
	// queued for exclusivity.
	// Labels: access_mode
	AdmissionLatency *prometheus.HistogramVec

	TopicCount prometheus.Gauge
}

func newAdmissionMetrics(r *Registry) *AdmissionMetrics {
	m := &AdmissionMetrics{}

	m.ProducersAdmitted = r.newCounterVec(
		prometheus.CounterOpts{
			Subsystem: "admission",
			Name:      "producers_admitted_total",
			Help:      "Total number of producers admitted to a topic",
		},
		[]string{"topic", "access_mode"},
	)

	m.ProducersRejected = r.newCounterVec(
		prometheus.CounterOpts{
			Subsystem: "admission",
			Name:      "producers_rejected_total",
			Help:      "Total number of producers refused by a topic",
		},
		[]string{"topic", "reason"},
	)

	m.ProducersRemoved = r.newCounterVec(
		prometheus.CounterOpts{
			Subsystem: "admission",
			Name:      "producers_removed_total",
			Help:      "Total number of producers detached from a topic",
		},
		[]string{"topic"},
	)

	m.ConsumersRejected = r.newCounterVec(
		prometheus.CounterOpts{
			Subsystem: "admission",
			Name:      "consumers_rejected_total",
			Help:      "Total number of consumers refused by a topic",
		},
		[]string{"topic", "reason"},
	)

	m.ActiveProducers = r.newGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: "admission",
			Name:      "active_producers",
			Help:      "Number of producers currently attached to a topic",
		},
		[]string{"topic"},
	)

	m.WaitingProducers = r.newGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: "admission",
			Name:      "waiting_producers",
			Help:      "Number of producers queued for exclusive access",
		},
		[]string{"topic"},
	)

	m.TopicEpoch = r.newGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: "admission",
			Name:      "topic_epoch",
			Help:      "Current producer fencing epoch of a topic",
		},
		[]string{"topic"},
	)

	m.UsageCount = r.newGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: "admission",
			Name:      "usage_count",
			Help:      "Attached producers plus consumers of a topic",
		},
		[]string{"topic"},
	)

	m.AdmissionLatency = r.newHistogramVec(
		prometheus.HistogramOpts{
			Subsystem: "admission",
			Name:      "latency_seconds",
			Help:      "Time to admit a producer, including queueing",
		},
		[]string{"access_mode"},
	)

	m.TopicCount = r.newGauge(prometheus.GaugeOpts{
		Subsystem: "admission",
		Name:      "topics",
		Help:      "Number of topics loaded on this broker",
	})

	return m
}

// RecordAdmitted records one successful producer admission.
func (m *AdmissionMetrics) RecordAdmitted(topic, accessMode string, latencySeconds float64) {
	m.ProducersAdmitted.WithLabelValues(topic, accessMode).Inc()
	m.AdmissionLatency.WithLabelValues(accessMode).Observe(latencySeconds)
}

func (m *AdmissionMetrics) RecordRejected(topic, reason string) {
	m.ProducersRejected.WithLabelValues(topic, reason).Inc()
}

func (m *AdmissionMetrics) RecordRemoved(topic string) {
	m.ProducersRemoved.WithLabelValues(topic).Inc()
}

func (m *AdmissionMetrics) RecordConsumerRejected(topic, reason string) {
	m.ConsumersRejected.WithLabelValues(topic, reason).Inc()
}

// SetTopicState publishes the point-in-time gauges of one topic.
func (m *AdmissionMetrics) SetTopicState(topic string, producers, waiting, usage int) {
	m.ActiveProducers.WithLabelValues(topic).Set(float64(producers))
	m.WaitingProducers.WithLabelValues(topic).Set(float64(waiting))
	m.UsageCount.WithLabelValues(topic).Set(float64(usage))
}

func (m *AdmissionMetrics) SetEpoch(topic string, epoch uint64) {
	m.TopicEpoch.WithLabelValues(topic).Set(float64(epoch))
}

// DeleteTopic drops every series labelled with topic.
func (m *AdmissionMetrics) DeleteTopic(topic string) {
	labels := prometheus.Labels{"topic": topic}
	m.ProducersAdmitted.DeletePartialMatch(labels)
	m.ProducersRejected.DeletePartialMatch(labels)
	m.ProducersRemoved.DeletePartialMatch(labels)
	m.ConsumersRejected.DeletePartialMatch(labels)
	m.ActiveProducers.DeletePartialMatch(labels)
	m.WaitingProducers.DeletePartialMatch(labels)
	m.TopicEpoch.DeletePartialMatch(labels)
	m.UsageCount.DeletePartialMatch(labels)
}
