// =============================================================================
// CLI OUTPUT FORMATTER - TABLE, JSON, YAML OUTPUT SUPPORT
// =============================================================================
//
// WHAT IS THIS?
// Output formatting utilities for the CLI, supporting multiple output formats:
//   - Table (default): Human-readable ASCII tables
//   - JSON: Machine-readable, for scripting with jq
//   - YAML: Machine-readable, configuration-friendly
//
// WHY MULTIPLE FORMATS?
//
//   ┌─────────────────────────────────────────────────────────────────────────┐
//   │  DIFFERENT USERS, DIFFERENT NEEDS                                       │
//   │                                                                         │
//   │  Human (Terminal):                                                      │
//   │    $ topicgate-admin topics get acme/orders/created                     │
//   │    Name:       persistent://acme/orders/created                         │
//   │    Epoch:      3                                                        │
//   │    Exclusive:  billing-writer                                           │
//   │                                                                         │
//   │  Script (JSON + jq):                                                    │
//   │    $ topicgate-admin topics list -o json | jq '.[]'                     │
//   │                                                                         │
//   │  Config (YAML):                                                         │
//   │    $ topicgate-admin policies get acme/orders/created -o yaml \         │
//   │        > created.yaml     # edit, then: policies set -f created.yaml    │
//   └─────────────────────────────────────────────────────────────────────────┘
//
// =============================================================================

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"topicgate/internal/api"
	"topicgate/internal/broker"
	"topicgate/internal/policy"
	"topicgate/internal/ratelimit"
)

// =============================================================================
// OUTPUT FORMAT
// =============================================================================

// OutputFormat represents the output format type.
type OutputFormat string

// Supported output formats
const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
	OutputYAML  OutputFormat = "yaml"
)

// ParseOutputFormat parses an output format string.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "table", "":
		return OutputTable, nil
	case "json":
		return OutputJSON, nil
	case "yaml", "yml":
		return OutputYAML, nil
	default:
		return "", fmt.Errorf("unknown output format: %s (supported: table, json, yaml)", s)
	}
}

// =============================================================================
// FORMATTER
// =============================================================================

// Formatter handles output formatting for CLI commands.
type Formatter struct {
	format OutputFormat
	writer io.Writer
}

// NewFormatter creates a new formatter with the specified format.
func NewFormatter(format OutputFormat) *Formatter {
	return &Formatter{
		format: format,
		writer: os.Stdout,
	}
}

// SetWriter sets the output writer (for testing).
func (f *Formatter) SetWriter(w io.Writer) {
	f.writer = w
}

// Format outputs data in the configured format.
func (f *Formatter) Format(data interface{}) error {
	switch f.format {
	case OutputJSON:
		return f.formatJSON(data)
	case OutputYAML:
		return f.formatYAML(data)
	default:
		// Table format requires specific handling per data type
		return fmt.Errorf("use specific table method for data type")
	}
}

// Machine reports whether output is meant for scripts rather than people.
func (f *Formatter) Machine() bool {
	return f.format == OutputJSON || f.format == OutputYAML
}

// formatJSON outputs data as JSON.
func (f *Formatter) formatJSON(data interface{}) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// formatYAML outputs data as YAML.
func (f *Formatter) formatYAML(data interface{}) error {
	encoder := yaml.NewEncoder(f.writer)
	encoder.SetIndent(2)
	return encoder.Encode(data)
}

// =============================================================================
// TABLE FORMATTING
// =============================================================================

// Table creates a new table writer.
func (f *Formatter) Table() *TableWriter {
	return &TableWriter{
		tw:      tabwriter.NewWriter(f.writer, 0, 0, 2, ' ', 0),
		headers: nil,
	}
}

// TableWriter wraps tabwriter for convenient table output.
type TableWriter struct {
	tw      *tabwriter.Writer
	headers []string
}

// SetHeaders sets the table headers.
func (t *TableWriter) SetHeaders(headers ...string) {
	t.headers = headers
}

// WriteHeaders writes the headers row.
func (t *TableWriter) WriteHeaders() {
	if len(t.headers) == 0 {
		return
	}
	// Convert to uppercase for visual distinction
	upper := make([]string, len(t.headers))
	for i, h := range t.headers {
		upper[i] = strings.ToUpper(h)
	}
	fmt.Fprintln(t.tw, strings.Join(upper, "\t"))
}

// WriteRow writes a single row.
func (t *TableWriter) WriteRow(values ...interface{}) {
	strs := make([]string, len(values))
	for i, v := range values {
		strs[i] = fmt.Sprint(v)
	}
	fmt.Fprintln(t.tw, strings.Join(strs, "\t"))
}

// Flush flushes the table writer.
func (t *TableWriter) Flush() error {
	return t.tw.Flush()
}

// =============================================================================
// SPECIFIC DATA TYPE FORMATTERS
// =============================================================================

// FormatTopics outputs a list of topics.
func (f *Formatter) FormatTopics(topics []string) error {
	if f.Machine() {
		return f.Format(topics)
	}

	table := f.Table()
	table.SetHeaders("NAME")
	table.WriteHeaders()
	for _, topic := range topics {
		table.WriteRow(topic)
	}
	return table.Flush()
}

// FormatTopicStats outputs one topic's admission state.
func (f *Formatter) FormatTopicStats(stats *broker.TopicStats) error {
	if f.Machine() {
		return f.Format(stats)
	}

	epoch := "-"
	if stats.TopicEpoch != nil {
		epoch = fmt.Sprint(*stats.TopicEpoch)
	}
	fmt.Fprintf(f.writer, "Name:           %s\n", stats.Name)
	fmt.Fprintf(f.writer, "Epoch:          %s\n", epoch)
	fmt.Fprintf(f.writer, "Exclusive:      %s\n", orDash(stats.ExclusiveProducer))
	fmt.Fprintf(f.writer, "Waiting:        %s\n", orDash(strings.Join(stats.WaitingProducers, ", ")))
	fmt.Fprintf(f.writer, "Fenced:         %t\n", stats.Fenced)
	fmt.Fprintf(f.writer, "Terminated:     %t\n", stats.Terminated)
	fmt.Fprintf(f.writer, "Usage:          %d\n", stats.UsageCount)
	fmt.Fprintf(f.writer, "Messages In:    %d\n", stats.MsgInCounter)
	fmt.Fprintf(f.writer, "Bytes In:       %s\n", formatBytes(stats.BytesInCounter))
	fmt.Fprintf(f.writer, "Publish Rate:   %s\n", formatRate(stats.PublishRate))
	fmt.Fprintf(f.writer, "Rate Limiter:   %s\n", stats.RateLimiter)
	fmt.Fprintf(f.writer, "Throttled:      %t\n", stats.PublishRateExceeded)
	fmt.Fprintf(f.writer, "Resource Group: %s\n", orDash(stats.ResourceGroup))
	fmt.Fprintln(f.writer)
	fmt.Fprintln(f.writer, "PRODUCERS:")

	table := f.Table()
	table.SetHeaders("ID", "NAME", "ACCESS MODE", "EPOCH", "ADDRESS")
	table.WriteHeaders()
	for _, p := range stats.Producers {
		pe := "-"
		if p.TopicEpoch != nil {
			pe = fmt.Sprint(*p.TopicEpoch)
		}
		table.WriteRow(p.ID, p.Name, p.AccessMode, pe, orDash(p.ClientAddress))
	}
	if err := table.Flush(); err != nil {
		return err
	}

	if len(stats.Subscriptions) == 0 {
		return nil
	}
	fmt.Fprintln(f.writer)
	fmt.Fprintln(f.writer, "SUBSCRIPTIONS:")
	table = f.Table()
	table.SetHeaders("NAME", "TYPE", "CONSUMERS")
	table.WriteHeaders()
	for _, s := range stats.Subscriptions {
		table.WriteRow(s.Name, s.Type, len(s.Consumers))
	}
	return table.Flush()
}

// FormatTopicPolicies outputs the stored topic tier. Documents have no
// natural table shape, so table output falls back to YAML.
func (f *Formatter) FormatTopicPolicies(resp *api.TopicPoliciesResponse) error {
	if f.Machine() {
		return f.Format(resp)
	}
	fmt.Fprintf(f.writer, "Topic: %s\n\n", resp.Topic)
	return f.formatYAML(resp)
}

// FormatEffectivePolicy outputs one resolved item.
func (f *Formatter) FormatEffectivePolicy(resp *api.EffectivePolicyResponse) error {
	if f.Machine() {
		return f.Format(resp)
	}

	table := f.Table()
	table.SetHeaders("ITEM", "VALUE", "SOURCE")
	table.WriteHeaders()
	table.WriteRow(resp.Item, fmt.Sprint(resp.Value), orDash(resp.Source))
	return table.Flush()
}

// FormatNamespacePolicies outputs a namespace tier document.
func (f *Formatter) FormatNamespacePolicies(doc *policy.NamespacePolicies) error {
	if f.Machine() {
		return f.Format(doc)
	}
	return f.formatYAML(doc)
}

// FormatResourceGroups outputs every resource group.
func (f *Formatter) FormatResourceGroups(groups []ratelimit.ResourceGroupInfo) error {
	if f.Machine() {
		return f.Format(groups)
	}

	table := f.Table()
	table.SetHeaders("NAME", "RATE", "TOPICS")
	table.WriteHeaders()
	for _, g := range groups {
		table.WriteRow(g.Name, formatRate(g.PublishRate), len(g.Topics))
	}
	return table.Flush()
}

// FormatBrokerStats outputs broker statistics.
func (f *Formatter) FormatBrokerStats(stats *broker.BrokerStats) error {
	if f.Machine() {
		return f.Format(stats)
	}

	fmt.Fprintf(f.writer, "Node ID:        %s\n", stats.NodeID)
	fmt.Fprintf(f.writer, "Cluster:        %s\n", stats.Cluster)
	fmt.Fprintf(f.writer, "Uptime:         %s\n", stats.Uptime)
	fmt.Fprintf(f.writer, "Topics:         %d\n", stats.TopicCount)
	fmt.Fprintf(f.writer, "Producers:      %d\n", stats.Producers)
	fmt.Fprintf(f.writer, "Usage:          %d\n", stats.UsageCount)
	fmt.Fprintf(f.writer, "Broker Rate:    %s\n", formatRate(stats.BrokerPublishRate))
	fmt.Fprintf(f.writer, "Throttled:      %t\n", stats.BrokerRateExceeded)
	fmt.Fprintf(f.writer, "Precise:        %t\n", stats.PreciseRateLimiting)
	return nil
}

// FormatHealth outputs health status.
func (f *Formatter) FormatHealth(health *HealthResponse) error {
	if f.Machine() {
		return f.Format(health)
	}

	fmt.Fprintf(f.writer, "Status:    %s\n", health.Status)
	fmt.Fprintf(f.writer, "Node:      %s\n", health.NodeID)
	fmt.Fprintf(f.writer, "Timestamp: %s\n", health.Timestamp)
	return nil
}

// FormatVersion outputs version information.
func (f *Formatter) FormatVersion(info *VersionInfo) error {
	if f.Machine() {
		return f.Format(info)
	}

	fmt.Fprintf(f.writer, "Client Version: %s\n", info.ClientVersion)
	if info.ServerVersion != "" {
		fmt.Fprintf(f.writer, "Server Version: %s (%s)\n", info.ServerVersion, info.GitCommit)
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// formatBytes formats a byte count as human-readable.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// formatRate renders a publish ceiling, "unlimited" for a zero dimension.
func formatRate(rate policy.PublishRate) string {
	if !rate.Enabled() {
		return "unlimited"
	}
	msgs, bytes := "unlimited", "unlimited"
	if rate.MessagesPerSecond > 0 {
		msgs = fmt.Sprintf("%d msg/s", rate.MessagesPerSecond)
	}
	if rate.BytesPerSecond > 0 {
		bytes = formatBytes(rate.BytesPerSecond) + "/s"
	}
	return msgs + ", " + bytes
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// PrintSuccess prints a success message.
func (f *Formatter) PrintSuccess(format string, args ...interface{}) {
	fmt.Fprintf(f.writer, "✓ "+format+"\n", args...)
}
