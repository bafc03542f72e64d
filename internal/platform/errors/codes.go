// Package errors provides structured error handling with i18n support.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Rule catalog errors
	CodeConfigValidation Code = "CONFIG_VALIDATION"

	// Intake errors
	CodeNoActiveBatch     Code = "NO_ACTIVE_BATCH"
	CodeIntentInvalid     Code = "INTENT_INVALID"
	CodeBatchNotAbortable Code = "BATCH_NOT_ABORTABLE"

	// Resolution errors
	CodeUnknownConflict     Code = "UNKNOWN_CONFLICT"
	CodeManualOptionInvalid Code = "MANUAL_OPTION_INVALID"

	// Dice/mechanics errors
	CodeDiceInvalidFormula Code = "DICE_INVALID_FORMULA"

	// Lifecycle errors
	CodeInvalidStateTransition Code = "INVALID_STATE_TRANSITION"
	CodeReloadDuringTurn       Code = "RELOAD_DURING_TURN"
	CodeTurnFailed             Code = "TURN_FAILED"

	// Storage errors
	CodeNotFound           Code = "NOT_FOUND"
	CodePersistenceFailure Code = "PERSISTENCE_FAILURE"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeConfigValidation,
		CodeIntentInvalid,
		CodeManualOptionInvalid,
		CodeDiceInvalidFormula:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeNoActiveBatch,
		CodeBatchNotAbortable,
		CodeInvalidStateTransition,
		CodeReloadDuringTurn,
		CodeTurnFailed:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeUnknownConflict:
		return codes.NotFound

	// Unavailable - durable store is unreachable after retries
	case CodePersistenceFailure:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}
