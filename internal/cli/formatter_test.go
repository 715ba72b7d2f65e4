package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"topicgate/internal/broker"
	"topicgate/internal/policy"
	"topicgate/internal/ratelimit"
)

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputTable, false},
		{"table", OutputTable, false},
		{"JSON", OutputJSON, false},
		{"yml", OutputYAML, false},
		{"yaml", OutputYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseOutputFormat(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func newTestFormatter(format OutputFormat) (*Formatter, *bytes.Buffer) {
	var buf bytes.Buffer
	f := NewFormatter(format)
	f.SetWriter(&buf)
	return f, &buf
}

func sampleStats() *broker.TopicStats {
	epoch := uint64(3)
	return &broker.TopicStats{
		Name:              "persistent://acme/orders/created",
		TopicEpoch:        &epoch,
		ExclusiveProducer: "writer-1",
		WaitingProducers:  []string{"writer-2"},
		UsageCount:        1,
		Producers: []broker.ProducerInfo{
			{Name: "writer-1", ID: 7, AccessMode: "Exclusive", TopicEpoch: &epoch},
		},
		PublishRate: policy.PublishRate{MessagesPerSecond: 100},
		RateLimiter: "token-bucket",
	}
}

func TestFormatTopicStats_Table(t *testing.T) {
	f, buf := newTestFormatter(OutputTable)
	if err := f.FormatTopicStats(sampleStats()); err != nil {
		t.Fatalf("FormatTopicStats failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"persistent://acme/orders/created",
		"Epoch:          3",
		"Exclusive:      writer-1",
		"Waiting:        writer-2",
		"100 msg/s, unlimited",
		"PRODUCERS:",
		"Exclusive",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "SUBSCRIPTIONS:") {
		t.Error("no subscriptions section expected without subscriptions")
	}
}

func TestFormatTopicStats_JSON(t *testing.T) {
	f, buf := newTestFormatter(OutputJSON)
	if err := f.FormatTopicStats(sampleStats()); err != nil {
		t.Fatalf("FormatTopicStats failed: %v", err)
	}
	var decoded broker.TopicStats
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if decoded.TopicEpoch == nil || *decoded.TopicEpoch != 3 {
		t.Errorf("epoch lost in JSON output: %+v", decoded.TopicEpoch)
	}
}

func TestFormatTopics_YAML(t *testing.T) {
	f, buf := newTestFormatter(OutputYAML)
	if err := f.FormatTopics([]string{"persistent://a/b/c"}); err != nil {
		t.Fatalf("FormatTopics failed: %v", err)
	}
	var decoded []string
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not YAML: %v", err)
	}
	if len(decoded) != 1 || decoded[0] != "persistent://a/b/c" {
		t.Errorf("decoded = %v", decoded)
	}
}

func TestFormatResourceGroups_Table(t *testing.T) {
	f, buf := newTestFormatter(OutputTable)
	err := f.FormatResourceGroups([]ratelimit.ResourceGroupInfo{
		{Name: "billing", PublishRate: policy.PublishRate{BytesPerSecond: 2048}, Topics: []string{"x", "y"}},
	})
	if err != nil {
		t.Fatalf("FormatResourceGroups failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "billing") || !strings.Contains(out, "unlimited, 2.0 KB/s") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestFormatRate(t *testing.T) {
	tests := []struct {
		rate policy.PublishRate
		want string
	}{
		{policy.PublishRate{}, "unlimited"},
		{policy.PublishRate{MessagesPerSecond: 10}, "10 msg/s, unlimited"},
		{policy.PublishRate{MessagesPerSecond: 10, BytesPerSecond: 512}, "10 msg/s, 512 B/s"},
	}
	for _, tt := range tests {
		if got := formatRate(tt.rate); got != tt.want {
			t.Errorf("formatRate(%+v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:           "0 B",
		1023:        "1023 B",
		1024:        "1.0 KB",
		1536:        "1.5 KB",
		1024 * 1024: "1.0 MB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestFormat_TableNeedsSpecificMethod(t *testing.T) {
	f, _ := newTestFormatter(OutputTable)
	if err := f.Format(struct{}{}); err == nil {
		t.Error("generic Format should refuse table output")
	}
}
