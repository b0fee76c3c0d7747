package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrDuplicateStepOrder  = errors.New("step order already used in this journey")
	ErrAlreadyEnrolled     = errors.New("user already has an active enrollment in this journey")
	ErrMalformedPayload    = errors.New("malformed event payload")
	ErrUnknownActionType   = errors.New("unknown action type")
	ErrInvalidActionConfig = errors.New("invalid action config")
)
