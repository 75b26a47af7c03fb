package model

import "errors"

// Kind классифицирует доменные ошибки.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindState
	KindResource
	KindArithmetic
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindResource:
		return "resource"
	case KindArithmetic:
		return "arithmetic"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error описывает доменную ошибку с кодом и классом.
type Error struct {
	Code string
	Kind Kind
	msg  string
}

func (e *Error) Error() string {
	return e.msg
}

func newError(code string, kind Kind, msg string) *Error {
	return &Error{Code: code, Kind: kind, msg: msg}
}

var (
	ErrInvalidCommissionRate = newError("InvalidCommissionRate", KindValidation, "invalid commission rate (must be <= 10000 basis points)")
	ErrInvalidAmount         = newError("InvalidAmount", KindValidation, "amount must be greater than 0")
	ErrInvalidPoolID         = newError("InvalidPoolId", KindValidation, "pool id must be between 1-32 bytes")
	ErrInvalidRefID          = newError("InvalidRefId", KindValidation, "reference id must be between 1-32 bytes")
	ErrCommissionTooSmall    = newError("CommissionTooSmall", KindValidation, "calculated commission is too small")
	ErrInvalidAddress        = newError("InvalidAddress", KindValidation, "address must not be empty")

	ErrUnauthorized     = newError("Unauthorized", KindAuthorization, "unauthorized: only merchant can perform this action")
	ErrInvalidAffiliate = newError("InvalidAffiliate", KindAuthorization, "invalid affiliate account")

	ErrPoolInactive      = newError("PoolInactive", KindState, "pool is not active")
	ErrAffiliateInactive = newError("AffiliateInactive", KindState, "affiliate is not active")

	ErrInsufficientEscrowBalance = newError("InsufficientEscrowBalance", KindResource, "insufficient balance in escrow")

	ErrArithmeticOverflow = newError("ArithmeticOverflow", KindArithmetic, "arithmetic overflow occurred")

	ErrPoolNotFound      = newError("PoolNotFound", KindNotFound, "pool not found")
	ErrAffiliateNotFound = newError("AffiliateNotFound", KindNotFound, "affiliate not found")
	ErrPoolExists        = newError("PoolExists", KindConflict, "pool already exists")
	ErrAffiliateExists   = newError("AffiliateExists", KindConflict, "affiliate already exists")
)

// KindOf возвращает класс доменной ошибки из цепочки err.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf возвращает код доменной ошибки или пустую строку.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
