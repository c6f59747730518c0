package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by repositories when a lookup matches nothing
	ErrNotFound = errors.New("not found")
	// ErrIllegalState marks configuration or data errors that must abort an emission
	ErrIllegalState = errors.New("illegal state")
)

// Error is a business rule violation carrying a message key for operators
type Error struct {
	Key     string
	Message string
}

func NewError(key, format string, args ...any) *Error {
	return &Error{Key: key, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) MessageKey() string {
	return e.Key
}

const (
	KeyRequisitionInvalidStatus = "siglusapi.error.requisition.status.invalid"
	KeyRequisitionNotFound      = "siglusapi.error.requisition.notFound"
	KeyPodInvalidStatus         = "siglusapi.error.pod.status.invalid"
)
