package fpa

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownDevice matches NotFoundError.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrClosed is returned by operations on a closed Client.
	ErrClosed = errors.New("fpa client closed")
)

// APIError is a non-200 response from the FPA API.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// MalformedShadowError reports a shadow document lacking required structure.
type MalformedShadowError struct {
	Path   string
	Reason string
}

func (e *MalformedShadowError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("malformed shadow: missing %s", e.Path)
	}
	return fmt.Sprintf("malformed shadow: %s: %s", e.Path, e.Reason)
}

// TransportError wraps any failure on the streaming session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NotFoundError is a registry lookup miss.
type NotFoundError struct {
	DeviceID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("device %q not found", e.DeviceID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrUnknownDevice
}

func apiErrorFromBody(status int, body []byte) *APIError {
	var payload struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(body, &payload); err == nil && payload.Message != "" {
		return &APIError{Code: status, Message: payload.Message}
	}
	return &APIError{Code: status, Message: strings.TrimSpace(string(body))}
}

func isMalformedShadow(err error) bool {
	var malformed *MalformedShadowError
	return errors.As(err, &malformed)
}
