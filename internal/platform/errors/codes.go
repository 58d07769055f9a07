// Package errors provides structured error handling for the game engine.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Validation errors
	CodeInsufficientFunds   Code = "INSUFFICIENT_FUNDS"
	CodeEmptyDrawPile       Code = "EMPTY_DRAW_PILE"
	CodeInvalidChoiceOption Code = "INVALID_CHOICE_OPTION"
	CodeUnknownManualAction Code = "UNKNOWN_MANUAL_ACTION"
	CodeInvalidDestination  Code = "INVALID_DESTINATION"
	CodeCardNotInHand       Code = "CARD_NOT_IN_HAND"
	CodeInvalidAmount       Code = "INVALID_AMOUNT"

	// Turn state errors
	CodeNotCurrentPlayer     Code = "NOT_CURRENT_PLAYER"
	CodeActionsIncomplete    Code = "ACTIONS_INCOMPLETE"
	CodeGameNotActive        Code = "GAME_NOT_ACTIVE"
	CodeNoSnapshot           Code = "NO_SNAPSHOT"
	CodeTurnPhaseDisallowsOp Code = "TURN_PHASE_DISALLOWS_ACTION"
	CodeDiceAlreadyRolled    Code = "DICE_ALREADY_ROLLED"
	CodeReRollUnavailable    Code = "REROLL_UNAVAILABLE"
	CodeActionInProgress     Code = "ACTION_IN_PROGRESS"

	// Choice errors
	CodeChoicePending         Code = "CHOICE_PENDING"
	CodeChoiceNotFound        Code = "CHOICE_NOT_FOUND"
	CodeChoiceAlreadyResolved Code = "CHOICE_ALREADY_RESOLVED"

	// Negotiation errors
	CodeNegotiationNotFound  Code = "NEGOTIATION_NOT_FOUND"
	CodeNegotiationNotActive Code = "NEGOTIATION_NOT_ACTIVE"

	// Lookup errors
	CodePlayerNotFound Code = "PLAYER_NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeInvalidChoiceOption,
		CodeUnknownManualAction,
		CodeInvalidDestination,
		CodeCardNotInHand,
		CodeInvalidAmount:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeInsufficientFunds,
		CodeEmptyDrawPile,
		CodeActionsIncomplete,
		CodeGameNotActive,
		CodeNoSnapshot,
		CodeTurnPhaseDisallowsOp,
		CodeDiceAlreadyRolled,
		CodeReRollUnavailable,
		CodeChoicePending,
		CodeChoiceAlreadyResolved,
		CodeNegotiationNotActive:
		return codes.FailedPrecondition

	// PermissionDenied - acting out of turn
	case CodeNotCurrentPlayer:
		return codes.PermissionDenied

	// Aborted - another action holds the turn
	case CodeActionInProgress:
		return codes.Aborted

	// NotFound - resource doesn't exist
	case CodePlayerNotFound,
		CodeChoiceNotFound,
		CodeNegotiationNotFound:
		return codes.NotFound

	default:
		return codes.Internal
	}
}

// Category groups codes into the three failure families the engine reports.
type Category string

const (
	CategoryValidation     Category = "validation"
	CategoryStateInvariant Category = "state_invariant"
	CategoryInternal       Category = "internal"
)

// Category reports which failure family the code belongs to.
func (c Code) Category() Category {
	switch c.GRPCCode() {
	case codes.InvalidArgument:
		return CategoryValidation
	case codes.FailedPrecondition, codes.PermissionDenied, codes.Aborted, codes.NotFound:
		if c == CodeInsufficientFunds || c == CodeEmptyDrawPile {
			return CategoryValidation
		}
		return CategoryStateInvariant
	default:
		return CategoryInternal
	}
}
