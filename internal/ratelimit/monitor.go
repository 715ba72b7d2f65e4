package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// WindowResetter is implemented by every topic that owns a Cascade.
type WindowResetter interface {
	ResetTopicWindow() bool
	ResetBrokerWindow(doneBrokerReset bool) bool
}

// Monitor drives the two independent window-reset timers of the windowed
// limiters: one for topic windows, one for the broker-wide window.
//
//	cron "@every <topic interval>"  → ResetTopics  → each topic: ResetTopicWindow()
//	cron "@every <broker interval>" → ResetBroker  → broker.ResetPublishCount(),
//	                                                 each topic: ResetBrokerWindow(done)
type Monitor struct {
	cron   *cron.Cron
	broker PublishRateLimiter
	logger *slog.Logger

	mu     sync.RWMutex
	topics map[string]WindowResetter

	topicInterval  time.Duration
	brokerInterval time.Duration
}

// MonitorConfig holds the reset intervals. cron schedules have one second
// resolution; shorter intervals are rounded up.
type MonitorConfig struct {
	TopicInterval  time.Duration
	BrokerInterval time.Duration
}

// DefaultMonitorConfig resets both windows every second, matching the
// per-second ceilings.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		TopicInterval:  time.Second,
		BrokerInterval: time.Second,
	}
}

// NewMonitor creates a stopped monitor.
func NewMonitor(broker PublishRateLimiter, config MonitorConfig, logger *slog.Logger) (*Monitor, error) {
	if broker == nil {
		broker = Disabled
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ratelimit-monitor")

	m := &Monitor{
		broker:         broker,
		logger:         logger,
		topics:         make(map[string]WindowResetter),
		topicInterval:  max(config.TopicInterval, time.Second),
		brokerInterval: max(config.BrokerInterval, time.Second),
	}
	cl := cronLogger{logger: logger}
	m.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", m.topicInterval), m.ResetTopics); err != nil {
		return nil, fmt.Errorf("schedule topic window reset: %w", err)
	}
	if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", m.brokerInterval), m.ResetBroker); err != nil {
		return nil, fmt.Errorf("schedule broker window reset: %w", err)
	}
	return m, nil
}

// Register adds a topic to both reset loops.
func (m *Monitor) Register(id string, r WindowResetter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics[id] = r
}

// Unregister removes a topic. Unknown ids are ignored.
func (m *Monitor) Unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.topics, id)
}

func (m *Monitor) snapshot() []WindowResetter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]WindowResetter, 0, len(m.topics))
	for _, r := range m.topics {
		out = append(out, r)
	}
	return out
}

// ResetTopics runs one topic window reset over every registered topic.
func (m *Monitor) ResetTopics() {
	resumed := 0
	for _, r := range m.snapshot() {
		if r.ResetTopicWindow() {
			resumed++
		}
	}
	if resumed > 0 {
		m.logger.Debug("topic windows reset", "resumed", resumed)
	}
}

// ResetBroker resets the broker window, then lets every topic resume reads
// if its own window is clear.
func (m *Monitor) ResetBroker() {
	done := m.broker.ResetPublishCount()
	for _, r := range m.snapshot() {
		r.ResetBrokerWindow(done)
	}
}

// Schedule adds a housekeeping job that runs on the monitor's cron every
// interval (at least one second).
func (m *Monitor) Schedule(name string, interval time.Duration, fn func()) error {
	interval = max(interval, time.Second)
	if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", interval), fn); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	m.logger.Debug("job scheduled", "job", name, "interval", interval)
	return nil
}

// Start begins the reset loops in the background.
func (m *Monitor) Start() {
	m.cron.Start()
	m.logger.Info("rate limit monitor started",
		"topicInterval", m.topicInterval,
		"brokerInterval", m.brokerInterval)
}

// Stop halts the loops and returns a context that is done when running
// resets have finished.
func (m *Monitor) Stop() context.Context {
	return m.cron.Stop()
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
