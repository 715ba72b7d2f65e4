package grpc

import (
	"context"
	"errors"
	"strconv"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"topicgate/internal/broker"
)

// =============================================================================
// ERROR → STATUS MAPPING
// =============================================================================
//
//   ┌────────────────────┬────────────────────┐
//   │ ServerError        │ codes.Code         │
//   ├────────────────────┼────────────────────┤
//   │ ProducerBusy       │ ResourceExhausted  │
//   │ ConsumerBusy       │ ResourceExhausted  │
//   │ RateLimited        │ ResourceExhausted  │
//   │ ProducerFenced     │ FailedPrecondition │
//   │ TopicFenced        │ Unavailable        │
//   │ ServiceNotReady    │ Unavailable        │
//   │ TopicTerminated    │ OutOfRange         │
//   │ NamingConflict     │ AlreadyExists      │
//   │ InvalidRequest     │ InvalidArgument    │
//   │ MessageTooLarge    │ InvalidArgument    │
//   │ TopicNotFound      │ NotFound           │
//   │ PolicyUnavailable  │ Internal           │
//   │ UnknownError       │ Unknown            │
//   └────────────────────┴────────────────────┘
//
// The code alone is ambiguous, so every status carries an ErrorInfo whose
// Reason is the ServerError name and whose metadata says whether the client
// may retry unchanged.
//
// =============================================================================

// ErrorDomain is the ErrorInfo domain of every status built here.
const ErrorDomain = "topicgate"

var grpcCodes = map[broker.ServerError]codes.Code{
	broker.UnknownError:      codes.Unknown,
	broker.ProducerBusy:      codes.ResourceExhausted,
	broker.ConsumerBusy:      codes.ResourceExhausted,
	broker.RateLimited:       codes.ResourceExhausted,
	broker.ProducerFenced:    codes.FailedPrecondition,
	broker.TopicFenced:       codes.Unavailable,
	broker.ServiceNotReady:   codes.Unavailable,
	broker.TopicTerminated:   codes.OutOfRange,
	broker.NamingConflict:    codes.AlreadyExists,
	broker.InvalidRequest:    codes.InvalidArgument,
	broker.MessageTooLarge:   codes.InvalidArgument,
	broker.TopicNotFound:     codes.NotFound,
	broker.PolicyUnavailable: codes.Internal,
}

// Code returns the gRPC code for a protocol error code.
func Code(e broker.ServerError) codes.Code {
	if c, ok := grpcCodes[e]; ok {
		return c
	}
	return codes.Unknown
}

// ToStatus converts err into a gRPC status error. Errors that already carry
// a status pass through, context errors map to Canceled and
// DeadlineExceeded, and nil stays nil.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	se := broker.ErrorCode(err)
	st := status.New(Code(se), err.Error())
	detailed, derr := st.WithDetails(&errdetails.ErrorInfo{
		Reason: se.String(),
		Domain: ErrorDomain,
		Metadata: map[string]string{
			"retryable": strconv.FormatBool(broker.IsRetryable(err)),
		},
	})
	if derr != nil {
		return st.Err()
	}
	return detailed.Err()
}

// ServerErrorFromStatus recovers the protocol error code from a status
// built by ToStatus. Statuses from elsewhere yield UnknownError.
func ServerErrorFromStatus(err error) (broker.ServerError, bool) {
	st, ok := status.FromError(err)
	if !ok || st == nil {
		return broker.UnknownError, false
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != ErrorDomain {
			continue
		}
		for code := range grpcCodes {
			if code.String() == info.GetReason() {
				return code, true
			}
		}
	}
	return broker.UnknownError, false
}
