package errors

import (
	goerrors "errors"
	"fmt"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsCodeTraversesWrappedChain(t *testing.T) {
	t.Parallel()

	base := New(CodeShareExpired, "share link has expired")
	wrapped := fmt.Errorf("resolve share: %w", base)

	if !IsCode(wrapped, CodeShareExpired) {
		t.Fatal("expected wrapped error to match its code")
	}
	if IsCode(wrapped, CodeShareConsentMissing) {
		t.Fatal("unexpected match for unrelated code")
	}
	if IsCode(goerrors.New("plain"), CodeShareExpired) {
		t.Fatal("plain errors must not match domain codes")
	}
}

func TestToGRPCStatusCarriesErrorInfo(t *testing.T) {
	t.Parallel()

	err := WithMetadata(CodeAckSummaryStale, "summary fingerprint is stale", map[string]string{
		"token_id": "token-1",
	}).ToGRPCStatus()

	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected grpc status, got %v", err)
	}
	if st.Code() != codes.FailedPrecondition {
		t.Fatalf("code = %v, want FailedPrecondition", st.Code())
	}

	var info *errdetails.ErrorInfo
	for _, detail := range st.Details() {
		if d, match := detail.(*errdetails.ErrorInfo); match {
			info = d
		}
	}
	if info == nil {
		t.Fatal("expected ErrorInfo detail")
	}
	if info.GetReason() != string(CodeAckSummaryStale) {
		t.Fatalf("reason = %q, want stale code", info.GetReason())
	}
	if info.GetMetadata()["token_id"] != "token-1" {
		t.Fatalf("metadata = %v, want token_id", info.GetMetadata())
	}
}

func TestConsentStatusListsEveryViolation(t *testing.T) {
	t.Parallel()

	err := ConsentStatus("consent missing for full visibility", []ConsentViolation{
		{UserID: "user-1", Reason: "consent grant missing"},
		{UserID: "user-2", Reason: "member has opted out"},
	})

	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected grpc status, got %v", err)
	}
	if st.Code() != codes.FailedPrecondition {
		t.Fatalf("code = %v, want FailedPrecondition", st.Code())
	}

	var failure *errdetails.PreconditionFailure
	for _, detail := range st.Details() {
		if d, match := detail.(*errdetails.PreconditionFailure); match {
			failure = d
		}
	}
	if failure == nil {
		t.Fatal("expected PreconditionFailure detail")
	}
	if len(failure.GetViolations()) != 2 {
		t.Fatalf("violations = %d, want the complete list", len(failure.GetViolations()))
	}
	if failure.GetViolations()[1].GetSubject() != "user-2" {
		t.Fatalf("subject = %q, want user-2", failure.GetViolations()[1].GetSubject())
	}
}
