package core

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
)

// RemoteAccessError reports a failed call to a remote collaborator. Err holds
// ErrUnauthorized, ErrNotFound, ErrRateLimited or the transport error.
type RemoteAccessError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *RemoteAccessError) Error() string {
	msg := e.Op
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (%d)", e.StatusCode)
	}
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteAccessError) Unwrap() error { return e.Err }

// MalformedRecordError is returned when a record cannot be mapped to a Row.
type MalformedRecordError struct {
	RecordID string
	Property string
	Reason   string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record %s: property %q %s", e.RecordID, e.Property, e.Reason)
}

// ConfigurationError reports missing or invalid settings. Field may list
// several settings when produced by a validation pass.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: %s %s", e.Field, e.Reason)
}
