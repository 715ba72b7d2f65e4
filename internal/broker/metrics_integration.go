// =============================================================================
// METRICS INTEGRATION FOR THE ADMISSION CORE
// =============================================================================
//
// Bridge between the broker and the metrics package. Every helper is a no-op
// until metrics.Init has been called, so tests and embedded uses of Topic
// need no registry.
//
//   Topic.AddProducer      → instrumentAdmitted / instrumentRejected
//   Topic.RemoveProducer   → instrumentRemoved
//   Topic.AdmitPublish     → instrumentPublish / instrumentThrottle
//   resume callback        → instrumentResume
//   policy refresh         → instrumentTopicRate
//
// =============================================================================

package broker

import (
	"errors"
	"time"

	"topicgate/internal/metrics"
	"topicgate/internal/policy"
	"topicgate/internal/ratelimit"
)

func instrumentAdmitted(topic string, mode AccessMode, startTime time.Time) {
	m := metrics.Get()
	if m == nil || m.Admission == nil {
		return
	}
	m.Admission.RecordAdmitted(topic, mode.String(), time.Since(startTime).Seconds())
}

func instrumentRejected(topic string, err error) {
	m := metrics.Get()
	if m == nil || m.Admission == nil {
		return
	}
	m.Admission.RecordRejected(topic, ErrorCode(err).String())
}

func instrumentRemoved(topic string) {
	m := metrics.Get()
	if m == nil || m.Admission == nil {
		return
	}
	m.Admission.RecordRemoved(topic)
}

func instrumentConsumerRejected(topic string, err error) {
	m := metrics.Get()
	if m == nil || m.Admission == nil {
		return
	}
	m.Admission.RecordConsumerRejected(topic, ErrorCode(err).String())
}

func instrumentTopicState(t *Topic) {
	m := metrics.Get()
	if m == nil || m.Admission == nil {
		return
	}
	m.Admission.SetTopicState(t.id, t.producers.Len(), t.admission.Waiting(), int(t.usage.Current()))
	if e, ok := t.admission.Epoch(); ok {
		m.Admission.SetEpoch(t.id, e)
	}
}

func instrumentTopicCount(n int) {
	m := metrics.Get()
	if m == nil || m.Admission == nil {
		return
	}
	m.Admission.TopicCount.Set(float64(n))
}

func instrumentTopicDeleted(topic string) {
	m := metrics.Get()
	if m == nil || m.Admission == nil {
		return
	}
	m.Admission.DeleteTopic(topic)
	m.RateLimit.DeleteTopic(topic)
}

func instrumentPublish(topic string, msgs int, bytes int64) {
	m := metrics.Get()
	if m == nil || m.RateLimit == nil {
		return
	}
	m.RateLimit.RecordPublish(topic, msgs, bytes)
}

// instrumentThrottle records one throttle per refusing gate in err.
func instrumentThrottle(topic string, err error) {
	m := metrics.Get()
	if m == nil || m.RateLimit == nil {
		return
	}
	gates := []struct {
		err  error
		gate ratelimit.Gate
	}{
		{ratelimit.ErrTopicRateExceeded, ratelimit.GateTopic},
		{ratelimit.ErrBrokerRateExceeded, ratelimit.GateBroker},
		{ratelimit.ErrResourceGroupRateExceeded, ratelimit.GateResourceGroup},
	}
	for _, g := range gates {
		if errors.Is(err, g.err) {
			m.RateLimit.RecordThrottle(topic, string(g.gate))
		}
	}
}

func instrumentResume(topic string) {
	m := metrics.Get()
	if m == nil || m.RateLimit == nil {
		return
	}
	m.RateLimit.RecordResume(topic)
}

func instrumentTopicRate(topic string, rate policy.PublishRate) {
	m := metrics.Get()
	if m == nil || m.RateLimit == nil {
		return
	}
	m.RateLimit.SetTopicRate(topic, rate.MessagesPerSecond, rate.BytesPerSecond)
}

func instrumentResourceGroups(n int) {
	m := metrics.Get()
	if m == nil || m.RateLimit == nil {
		return
	}
	m.RateLimit.ResourceGroups.Set(float64(n))
}
