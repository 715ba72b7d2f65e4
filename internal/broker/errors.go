package broker

import (
	"errors"
	"fmt"

	"topicgate/internal/policy"
	"topicgate/internal/ratelimit"
)

// =============================================================================
// ERROR DEFINITIONS
// =============================================================================
//
// Every admission failure wraps exactly one of these sentinels. The
// connection layer relays them to the remote client through ErrorCode, so
// each kind must stay distinguishable with errors.Is.
//
// =============================================================================

var (
	// ErrProducerBusy means a producer ceiling was hit, or a shared producer
	// tried to attach while exclusive intent exists
	ErrProducerBusy = errors.New("producer busy")

	// ErrProducerFenced means an exclusive conflict, or a carried topic
	// epoch older than the current one
	ErrProducerFenced = errors.New("producer fenced")

	// ErrTopicFenced means the topic is administratively fenced
	ErrTopicFenced = errors.New("topic fenced")

	// ErrTopicTerminated means the topic accepts no new producers
	ErrTopicTerminated = errors.New("topic terminated")

	// ErrNamingConflict means a producer name is taken by a producer that
	// this one does not legitimately succeed
	ErrNamingConflict = errors.New("producer naming conflict")

	// ErrProducerReplaceRace means the registry slot changed between the
	// successor check and the swap. Clients may retry.
	ErrProducerReplaceRace = fmt.Errorf("%w: concurrent producer replacement", ErrNamingConflict)

	// ErrInvalidRequest means malformed input or an unknown access mode
	ErrInvalidRequest = errors.New("invalid request")

	// ErrPolicyUnavailable means the policy source could not be read
	ErrPolicyUnavailable = errors.New("policy unavailable")

	// ErrTopicUnavailable means the topic is torn down or not served here
	ErrTopicUnavailable = errors.New("topic unavailable")

	// ErrNotOwned means the ownership check failed for this broker
	ErrNotOwned = fmt.Errorf("%w: topic not owned by this broker", ErrTopicUnavailable)

	// ErrConsumerBusy means a consumer or subscription ceiling was hit
	ErrConsumerBusy = errors.New("consumer busy")

	// ErrMessageTooLarge means a publish exceeded the max message size
	ErrMessageTooLarge = errors.New("message too large")

	// ErrTopicNotFound means no topic with that name is loaded
	ErrTopicNotFound = errors.New("topic not found")

	// ErrTopicInUse means the topic still has producers or consumers attached
	ErrTopicInUse = errors.New("topic in use")

	// ErrBrokerClosed means the broker is shutting down
	ErrBrokerClosed = fmt.Errorf("%w: broker closed", ErrTopicUnavailable)
)

// =============================================================================
// PROTOCOL ERROR CODES
// =============================================================================

// ServerError is the protocol-level code relayed to remote clients.
type ServerError int

const (
	UnknownError ServerError = iota
	ProducerBusy
	ProducerFenced
	TopicFenced
	TopicTerminated
	NamingConflict
	InvalidRequest
	PolicyUnavailable
	ServiceNotReady
	ConsumerBusy
	RateLimited
	MessageTooLarge
	TopicNotFound
)

var serverErrorNames = map[ServerError]string{
	UnknownError:      "UnknownError",
	ProducerBusy:      "ProducerBusy",
	ProducerFenced:    "ProducerFenced",
	TopicFenced:       "TopicFenced",
	TopicTerminated:   "TopicTerminated",
	NamingConflict:    "NamingConflict",
	InvalidRequest:    "InvalidRequest",
	PolicyUnavailable: "PolicyUnavailable",
	ServiceNotReady:   "ServiceNotReady",
	ConsumerBusy:      "ConsumerBusy",
	RateLimited:       "RateLimited",
	MessageTooLarge:   "MessageTooLarge",
	TopicNotFound:     "TopicNotFound",
}

func (e ServerError) String() string {
	if s, ok := serverErrorNames[e]; ok {
		return s
	}
	return fmt.Sprintf("ServerError(%d)", int(e))
}

// errorCodes is checked in order. More specific sentinels come before the
// ones they wrap.
var errorCodes = []struct {
	err  error
	code ServerError
}{
	{ErrProducerBusy, ProducerBusy},
	{ErrProducerFenced, ProducerFenced},
	{ErrTopicFenced, TopicFenced},
	{ErrTopicTerminated, TopicTerminated},
	{ErrNamingConflict, NamingConflict},
	{ErrInvalidRequest, InvalidRequest},
	{policy.ErrInvalidValue, InvalidRequest},
	{policy.ErrUnknownItem, InvalidRequest},
	{policy.ErrTierMismatch, InvalidRequest},
	{ErrPolicyUnavailable, PolicyUnavailable},
	{ErrTopicNotFound, TopicNotFound},
	{ErrTopicUnavailable, ServiceNotReady},
	{ErrConsumerBusy, ConsumerBusy},
	{ErrMessageTooLarge, MessageTooLarge},
	{ratelimit.ErrRateExceeded, RateLimited},
}

// ErrorCode maps err to the code relayed to the client. nil maps to
// UnknownError; callers only ask for failures.
func ErrorCode(err error) ServerError {
	if err == nil {
		return UnknownError
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return UnknownError
}

// IsRetryable reports whether a client may retry the same request unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProducerReplaceRace) ||
		errors.Is(err, ErrTopicUnavailable) ||
		errors.Is(err, ErrTopicFenced) ||
		errors.Is(err, ratelimit.ErrRateExceeded)
}
