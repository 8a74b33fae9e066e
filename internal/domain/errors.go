package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an Error so callers can react to a family of failures
// without matching individual codes.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindStateConflict  Kind = "state_conflict"
	KindAuthorization  Kind = "authorization"
	KindExternalCall   Kind = "external_call"
	KindInfrastructure Kind = "infrastructure"
)

// Error is a classified failure raised by a state transition. Two Errors are
// considered equal by errors.Is when their codes match, so sentinels below can
// be compared against errors carrying extra detail.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code
	}
	return e.Code + ": " + e.Msg
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// With returns a copy of e carrying a formatted detail message.
func (e *Error) With(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Msg: fmt.Sprintf(format, args...)}
}

func newErr(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

var (
	// Validation.
	ErrInvalidAmount   = newErr(KindValidation, "InvalidAmount")
	ErrInvalidDuration = newErr(KindValidation, "InvalidDuration")
	ErrInvalidQuantity = newErr(KindValidation, "InvalidQuantity")
	ErrFeeAboveCap     = newErr(KindValidation, "FeeAboveCap")
	ErrInvalidParam    = newErr(KindValidation, "InvalidParam")
	ErrUnknownOp       = newErr(KindValidation, "UnknownOp")

	// Lookups.
	ErrNotFound            = newErr(KindNotFound, "NotFound")
	ErrBondNotFound        = newErr(KindNotFound, "BondNotFound")
	ErrPostedBondNotFound  = newErr(KindNotFound, "PostedBondNotFound")
	ErrProposalNotFound    = newErr(KindNotFound, "ProposalNotFound")
	ErrNoStakeFound        = newErr(KindNotFound, "NoStakeFound")
	ErrCertificateNotFound = newErr(KindNotFound, "CertificateNotFound")

	// State conflicts.
	ErrBondUnavailable    = newErr(KindStateConflict, "BondUnavailable")
	ErrAlreadySettled     = newErr(KindStateConflict, "AlreadySettled")
	ErrNotYetExpired      = newErr(KindStateConflict, "NotYetExpired")
	ErrAlreadyVoted       = newErr(KindStateConflict, "AlreadyVoted")
	ErrAlreadyExecuted    = newErr(KindStateConflict, "AlreadyExecuted")
	ErrVotingClosed       = newErr(KindStateConflict, "VotingClosed")
	ErrVotingOpen         = newErr(KindStateConflict, "VotingOpen")
	ErrInsufficientVotes  = newErr(KindStateConflict, "InsufficientVotes")
	ErrProposalRejected   = newErr(KindStateConflict, "ProposalRejected")
	ErrProposalApproved   = newErr(KindStateConflict, "ProposalApproved")
	ErrReentrancy         = newErr(KindStateConflict, "Reentrancy")
	ErrCertificateRevoked = newErr(KindStateConflict, "CertificateInactive")
	ErrAlreadyExists      = newErr(KindStateConflict, "AlreadyExists")

	// Authorization.
	ErrUnauthorized     = newErr(KindAuthorization, "Unauthorized")
	ErrNotTrustedCaller = newErr(KindAuthorization, "NotTrustedCaller")

	// External calls.
	ErrTransferFailed        = newErr(KindExternalCall, "TransferFailed")
	ErrInsufficientFunds     = newErr(KindExternalCall, "InsufficientFunds")
	ErrInsufficientAllowance = newErr(KindExternalCall, "InsufficientAllowance")

	// Infrastructure (never raised by a state transition).
	ErrLockHeld    = newErr(KindInfrastructure, "LockHeld")
	ErrRateLimited = newErr(KindInfrastructure, "RateLimited")
	ErrReplayed    = newErr(KindInfrastructure, "RequestReplayed")
)

// KindOf returns the Kind of the outermost *Error in err's chain, or
// KindInfrastructure for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

// CodeOf returns the code of the outermost *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
