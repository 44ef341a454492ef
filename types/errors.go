// types/errors.go
package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates a configuration error
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrBridgeInit indicates bridge initialization failed
	ErrBridgeInit = errors.New("bridge initialization failed")

	// ErrLLMResponse indicates the completion endpoint could not be reached
	ErrLLMResponse = errors.New("completion request failed")

	// ErrToolExecution indicates a tool execution failure
	ErrToolExecution = errors.New("tool execution failed")

	// ErrStorage indicates a history store failure
	ErrStorage = errors.New("storage operation failed")

	// ErrConflict indicates a turn is already in flight
	ErrConflict = errors.New("a request is already in progress")

	// ErrInvalidContent indicates a message part that cannot be sent
	ErrInvalidContent = errors.New("invalid content")

	// ErrTurnCancelled signals that a turn stopped because it was cancelled
	ErrTurnCancelled = errors.New("turn cancelled")
)

// ConfigError wraps configuration-related errors
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error in %s: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("configuration error in %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// BridgeError wraps errors from wiring external tool servers
type BridgeError struct {
	Operation string
	Message   string
	Err       error
}

func (e *BridgeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bridge error during %s: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("bridge error during %s: %s", e.Operation, e.Message)
}

func (e *BridgeError) Unwrap() error {
	return ErrBridgeInit
}

// LLMError wraps transport failures talking to the completion endpoint
type LLMError struct {
	Operation string
	Message   string
	Err       error
}

func (e *LLMError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("LLM error during %s: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("LLM error during %s: %s", e.Operation, e.Message)
}

func (e *LLMError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrLLMResponse, e.Err}
	}
	return []error{ErrLLMResponse}
}

// ToolError wraps tool-related errors. Its message is what the model sees
// as the tool response, so it is kept short.
type ToolError struct {
	Tool    string
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool error in %s: %s: %v", e.Tool, e.Message, e.Err)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

func (e *ToolError) Unwrap() error {
	return ErrToolExecution
}

// StoreError wraps history store errors
type StoreError struct {
	Operation string
	Message   string
	Err       error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store error during %s: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("store error during %s: %s", e.Operation, e.Message)
}

func (e *StoreError) Unwrap() error {
	return ErrStorage
}

// ConflictError is returned when a turn is requested while another is running
type ConflictError struct {
	Operation string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot %s: %v", e.Operation, ErrConflict)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// ContentError reports the first unusable part of a message
type ContentError struct {
	Index   int
	Message string
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("content part %d: %s", e.Index, e.Message)
}

func (e *ContentError) Unwrap() error {
	return ErrInvalidContent
}
