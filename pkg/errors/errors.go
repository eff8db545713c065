package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeInternal     Code = "INTERNAL_ERROR"
	CodeDependency   Code = "DEPENDENCY_ERROR"
	CodeRateLimit    Code = "RATE_LIMITED"

	// capacity
	CodeNotEnoughSpots   Code = "NOT_ENOUGH_SPOTS"
	CodeClassFull        Code = "CLASS_FULL"
	CodeCapacityTooSmall Code = "CAPACITY_TOO_SMALL"

	// credits
	CodeInsufficientTokens Code = "INSUFFICIENT_TOKENS"
	CodeNoCreditsAvailable Code = "NO_CREDITS_AVAILABLE"

	// timing
	CodeWindowClosed Code = "WINDOW_CLOSED"
	CodeClassInPast  Code = "CLASS_IN_PAST"

	// state
	CodeClassCanceled    Code = "CLASS_CANCELED"
	CodeAlreadyEnrolled  Code = "ALREADY_ENROLLED"
	CodeAlreadyCanceled  Code = "ALREADY_CANCELED"
	CodeBookingNotActive Code = "BOOKING_NOT_ACTIVE"
	CodePackUnavailable  Code = "PACK_UNAVAILABLE"
	CodePackLimitReached Code = "PACK_LIMIT_REACHED"

	// reconciliation
	CodeInvalidSignature     Code = "INVALID_SIGNATURE"
	CodeLocalPaymentNotFound Code = "LOCAL_PAYMENT_NOT_FOUND"
	CodeAlreadyCredited      Code = "ALREADY_CREDITED"
	CodeNoBeneficiaryUser    Code = "NO_BENEFICIARY_USER"
	CodeAmountMismatch       Code = "AMOUNT_MISMATCH"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		HTTPStatus:     http.StatusBadRequest,
		PublicMessage:  "validation failed",
		DetailsAllowed: true,
	},
	CodeUnauthorized: {
		HTTPStatus:    http.StatusUnauthorized,
		PublicMessage: "authentication required",
	},
	CodeForbidden: {
		HTTPStatus:    http.StatusForbidden,
		PublicMessage: "access denied",
	},
	CodeNotFound: {
		HTTPStatus:    http.StatusNotFound,
		PublicMessage: "resource not found",
	},
	CodeConflict: {
		HTTPStatus:    http.StatusConflict,
		PublicMessage: "conflict detected",
	},
	CodeInternal: {
		HTTPStatus:    http.StatusInternalServerError,
		Retryable:     true,
		PublicMessage: "internal server error",
	},
	CodeDependency: {
		HTTPStatus:     http.StatusServiceUnavailable,
		Retryable:      true,
		PublicMessage:  "dependency unavailable",
		DetailsAllowed: true,
	},
	CodeRateLimit: {
		HTTPStatus:    http.StatusTooManyRequests,
		Retryable:     true,
		PublicMessage: "too many requests",
	},
	CodeNotEnoughSpots: {
		HTTPStatus:     http.StatusConflict,
		PublicMessage:  "not enough spots left in this class",
		DetailsAllowed: true,
	},
	CodeClassFull: {
		HTTPStatus:     http.StatusConflict,
		PublicMessage:  "class is full",
		DetailsAllowed: true,
	},
	CodeCapacityTooSmall: {
		HTTPStatus:     http.StatusConflict,
		PublicMessage:  "capacity is below booked spots",
		DetailsAllowed: true,
	},
	CodeInsufficientTokens: {
		HTTPStatus:     http.StatusPaymentRequired,
		PublicMessage:  "not enough credits",
		DetailsAllowed: true,
	},
	CodeNoCreditsAvailable: {
		HTTPStatus:     http.StatusPaymentRequired,
		PublicMessage:  "no credits available to fund this booking",
		DetailsAllowed: true,
	},
	CodeWindowClosed: {
		HTTPStatus:     http.StatusConflict,
		PublicMessage:  "cancellation window has closed",
		DetailsAllowed: true,
	},
	CodeClassInPast: {
		HTTPStatus:    http.StatusBadRequest,
		PublicMessage: "class already started",
	},
	CodeClassCanceled: {
		HTTPStatus:    http.StatusConflict,
		PublicMessage: "class was canceled",
	},
	CodeAlreadyEnrolled: {
		HTTPStatus:    http.StatusConflict,
		PublicMessage: "already booked into this class",
	},
	CodeAlreadyCanceled: {
		HTTPStatus:    http.StatusOK,
		PublicMessage: "booking already canceled",
	},
	CodeBookingNotActive: {
		HTTPStatus:    http.StatusConflict,
		PublicMessage: "booking is not active",
	},
	CodePackUnavailable: {
		HTTPStatus:    http.StatusConflict,
		PublicMessage: "pack is not available",
	},
	CodePackLimitReached: {
		HTTPStatus:    http.StatusConflict,
		PublicMessage: "pack can only be purchased once",
	},
	CodeInvalidSignature: {
		HTTPStatus:    http.StatusUnauthorized,
		PublicMessage: "invalid signature",
	},
	CodeLocalPaymentNotFound: {
		HTTPStatus:    http.StatusNotFound,
		PublicMessage: "payment not found",
	},
	CodeAlreadyCredited: {
		HTTPStatus:    http.StatusOK,
		PublicMessage: "payment already credited",
	},
	CodeNoBeneficiaryUser: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "payment has no beneficiary",
	},
	CodeAmountMismatch: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "payment amount mismatch",
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the typed code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}
