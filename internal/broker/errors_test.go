package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"topicgate/internal/policy"
	"topicgate/internal/ratelimit"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ServerError
	}{
		{"nil", nil, UnknownError},
		{"unrelated", errors.New("boom"), UnknownError},
		{"producer busy", fmt.Errorf("%w: limit 2", ErrProducerBusy), ProducerBusy},
		{"producer fenced", ErrProducerFenced, ProducerFenced},
		{"topic fenced", ErrTopicFenced, TopicFenced},
		{"topic terminated", ErrTopicTerminated, TopicTerminated},
		{"naming conflict", ErrNamingConflict, NamingConflict},
		{"replace race", ErrProducerReplaceRace, NamingConflict},
		{"invalid request", ErrInvalidRequest, InvalidRequest},
		{"invalid policy value", policy.ErrInvalidValue, InvalidRequest},
		{"tier mismatch", policy.ErrTierMismatch, InvalidRequest},
		{"policy unavailable", ErrPolicyUnavailable, PolicyUnavailable},
		{"topic unavailable", ErrTopicUnavailable, ServiceNotReady},
		{"not owned", ErrNotOwned, ServiceNotReady},
		{"broker closed", ErrBrokerClosed, ServiceNotReady},
		{"topic not found", ErrTopicNotFound, TopicNotFound},
		{"consumer busy", ErrConsumerBusy, ConsumerBusy},
		{"message too large", ErrMessageTooLarge, MessageTooLarge},
		{"rate limited", ratelimit.ErrResourceGroupRateExceeded, RateLimited},
		{"joined gates", errors.Join(ratelimit.ErrTopicRateExceeded, ratelimit.ErrBrokerRateExceeded), RateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.want {
				t.Errorf("ErrorCode(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestServerErrorString(t *testing.T) {
	if got := ProducerFenced.String(); got != "ProducerFenced" {
		t.Errorf("String() = %s, want ProducerFenced", got)
	}
	if got := ServerError(99).String(); got != "ServerError(99)" {
		t.Errorf("String() = %s, want ServerError(99)", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrProducerReplaceRace, true},
		{ErrNamingConflict, false},
		{ErrNotOwned, true},
		{ErrTopicFenced, true},
		{ratelimit.ErrTopicRateExceeded, true},
		{ErrProducerFenced, false},
		{ErrTopicTerminated, false},
		{context.Canceled, false},
	}

	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
