// Package errors provides structured error handling with transport mapping.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Share link errors
	CodeShareGroupIDEmpty      Code = "SHARE_GROUP_ID_EMPTY"
	CodeShareCreatorEmpty      Code = "SHARE_CREATOR_EMPTY"
	CodeShareInvalidVisibility Code = "SHARE_INVALID_VISIBILITY"
	CodeShareConsentMissing    Code = "SHARE_CONSENT_MISSING"
	CodeShareExpired           Code = "SHARE_EXPIRED"
	CodeShareInvalidPreset     Code = "SHARE_INVALID_EXTENSION_PRESET"

	// Acknowledgement errors
	CodeAckMapEmpty       Code = "ACK_MAP_EMPTY"
	CodeAckTokenEmpty     Code = "ACK_TOKEN_EMPTY"
	CodeAckConditionEmpty Code = "ACK_CONDITION_EMPTY"
	CodeAckActorEmpty     Code = "ACK_ACTOR_EMPTY"
	CodeAckSummaryStale   Code = "ACK_SUMMARY_STALE"

	// Write-guard policy codes
	CodeWriteThrottled   Code = "WRITE_THROTTLED"
	CodeWriteLockedOut   Code = "WRITE_LOCKED_OUT"
	CodeWriteCircuitOpen Code = "WRITE_CIRCUIT_OPEN"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeShareGroupIDEmpty,
		CodeShareCreatorEmpty,
		CodeShareInvalidVisibility,
		CodeShareInvalidPreset,
		CodeAckMapEmpty,
		CodeAckTokenEmpty,
		CodeAckConditionEmpty,
		CodeAckActorEmpty:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeShareConsentMissing,
		CodeShareExpired,
		CodeAckSummaryStale:
		return codes.FailedPrecondition

	// ResourceExhausted - rate limiting policy decisions
	case CodeWriteThrottled,
		CodeWriteLockedOut:
		return codes.ResourceExhausted

	// Unavailable - breaker shedding load, retry later
	case CodeWriteCircuitOpen:
		return codes.Unavailable

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return codes.NotFound

	default:
		return codes.Internal
	}
}
