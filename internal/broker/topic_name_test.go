package broker

import (
	"errors"
	"testing"
)

func TestParseTopicName(t *testing.T) {
	tests := []struct {
		input      string
		want       string
		namespace  string
		persistent bool
		system     bool
		wantErr    bool
	}{
		{input: "persistent://public/default/orders", want: "persistent://public/default/orders", namespace: "public/default", persistent: true},
		{input: "non-persistent://public/default/ticks", want: "non-persistent://public/default/ticks", namespace: "public/default"},
		{input: "acme/payments/invoices", want: "persistent://acme/payments/invoices", namespace: "acme/payments", persistent: true},
		{input: "public/default/a/b", want: "persistent://public/default/a/b", namespace: "public/default", persistent: true},
		{input: "pulsar/system/__change_events", want: "persistent://pulsar/system/__change_events", namespace: "pulsar/system", persistent: true, system: true},
		{input: "acme/payments/__transaction_log", want: "persistent://acme/payments/__transaction_log", namespace: "acme/payments", persistent: true, system: true},
		{input: "kafka://public/default/x", wantErr: true},
		{input: "public/default", wantErr: true},
		{input: "public//orders", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			name, err := ParseTopicName(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRequest) {
					t.Fatalf("err = %v, want ErrInvalidRequest", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTopicName failed: %v", err)
			}
			if got := name.String(); got != tt.want {
				t.Errorf("String() = %s, want %s", got, tt.want)
			}
			if got := name.NamespaceName(); got != tt.namespace {
				t.Errorf("NamespaceName() = %s, want %s", got, tt.namespace)
			}
			if got := name.IsPersistent(); got != tt.persistent {
				t.Errorf("IsPersistent() = %v, want %v", got, tt.persistent)
			}
			if got := name.IsSystem(); got != tt.system {
				t.Errorf("IsSystem() = %v, want %v", got, tt.system)
			}
		})
	}
}
