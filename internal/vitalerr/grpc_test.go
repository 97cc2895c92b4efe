package vitalerr

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToGRPCStatus(t *testing.T) {
	err := ToGRPCStatus(SignalTooShort(10, 64), "")
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected a status error, got %v", err)
	}
	if st.Code() != codes.FailedPrecondition {
		t.Errorf("code = %v, want FailedPrecondition", st.Code())
	}

	var info *errdetails.ErrorInfo
	var localized *errdetails.LocalizedMessage
	var retry *errdetails.RetryInfo
	for _, d := range st.Details() {
		switch v := d.(type) {
		case *errdetails.ErrorInfo:
			info = v
		case *errdetails.LocalizedMessage:
			localized = v
		case *errdetails.RetryInfo:
			retry = v
		}
	}

	if info == nil || info.Reason != string(CodeSignalTooShort) || info.Domain != Domain {
		t.Fatalf("unexpected ErrorInfo: %+v", info)
	}
	if info.Metadata["samples"] != "10" || info.Metadata["severity"] != string(SeverityMedium) {
		t.Errorf("unexpected metadata: %v", info.Metadata)
	}
	if localized == nil || localized.Locale != DefaultLocale || localized.Message == "" {
		t.Errorf("unexpected LocalizedMessage: %+v", localized)
	}
	if retry == nil || retry.RetryDelay.AsDuration() <= 0 {
		t.Errorf("expected RetryInfo for retryable error, got %+v", retry)
	}
}

func TestToGRPCStatus_Codes(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"unknown_protocol", UnknownProtocol("x"), codes.NotFound},
		{"bad_rate", InvalidSampleRate(0), codes.InvalidArgument},
		{"missing_dep", MissingDependency("ica", "decomposition"), codes.Unimplemented},
		{"cancelled", context.Canceled, codes.Canceled},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"foreign", errors.New("boom"), codes.Internal},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := status.Code(ToGRPCStatus(tc.err, "en-GB")); got != tc.want {
				t.Errorf("code = %v, want %v", got, tc.want)
			}
		})
	}

	if ToGRPCStatus(nil, "") != nil {
		t.Error("nil error should map to nil")
	}
}
