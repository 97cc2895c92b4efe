package vitalerr

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"
	"google.golang.org/protobuf/types/known/durationpb"
)

// DefaultLocale is the locale attached to localized messages.
const DefaultLocale = "en-US"

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - rejected input or configuration
	case CodeInvalidSampleRate,
		CodeInvalidTraceShape,
		CodeUnknownMethod,
		CodeInvalidConfig:
		return codes.InvalidArgument

	// FailedPrecondition - session state or data does not allow the operation yet
	case CodeSignalTooShort,
		CodeInsufficientSamples,
		CodeNoFrequencyInRange,
		CodeNoActiveProtocol,
		CodeInvalidStateTransition:
		return codes.FailedPrecondition

	// NotFound - named resource doesn't exist
	case CodeUnknownProtocol,
		CodeNoRegionDetected:
		return codes.NotFound

	case CodeMissingDependency:
		return codes.Unimplemented

	default:
		return codes.Internal
	}
}

// ToGRPCStatus converts err to a gRPC status error carrying ErrorInfo, a
// LocalizedMessage with the user guidance and, for retryable errors, RetryInfo.
func ToGRPCStatus(err error, locale string) error {
	if err == nil {
		return nil
	}
	if locale == "" {
		locale = DefaultLocale
	}

	cl := Classify(err)
	grpcCode := cl.Code.GRPCCode()
	switch {
	case errors.Is(err, context.Canceled):
		grpcCode = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		grpcCode = codes.DeadlineExceeded
	}

	meta := map[string]string{
		"severity": string(cl.Severity),
		"category": string(cl.Category),
	}
	for k, v := range GetMetadata(err) {
		meta[k] = v
	}

	details := []protoadapt.MessageV1{
		&errdetails.ErrorInfo{
			Reason:   string(cl.Code),
			Domain:   Domain,
			Metadata: meta,
		},
		&errdetails.LocalizedMessage{
			Locale:  locale,
			Message: cl.UserMessage,
		},
	}
	if cl.Retryable && cl.RetryAfter > 0 {
		details = append(details, &errdetails.RetryInfo{
			RetryDelay: durationpb.New(cl.RetryAfter),
		})
	}

	st := status.New(grpcCode, err.Error())
	withDetails, detailErr := st.WithDetails(details...)
	if detailErr != nil {
		// If we can't attach details, return the basic status
		return st.Err()
	}
	return withDetails.Err()
}
