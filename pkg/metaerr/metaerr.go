// Package metaerr is the error taxonomy shared by every engine component.
//
// Each error carries a stable code and enough structured detail for a caller to
// render a useful message. Anything that is not one of these types is wrapped
// as InternalError before it leaves the engine.
package metaerr

import (
	"errors"
	"fmt"
	"strings"
)

const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeVersionMismatch  = "VERSION_MISMATCH"
	CodeBlockingRule     = "BLOCKING_RULE_VIOLATION"
	CodeInternal         = "INTERNAL_ERROR"
	internalPublicDetail = "internal error"
)

// Coded is implemented by every taxonomy member.
type Coded interface {
	error
	Code() string
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Code() string { return CodeValidation }

func NewValidation(field string, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }

func (e *NotFoundError) Code() string { return CodeNotFound }

func NewNotFound(kind string, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

type ConflictError struct {
	Kind string
	Key  string
}

func (e *ConflictError) Error() string { return fmt.Sprintf("%s %q already exists", e.Kind, e.Key) }

func (e *ConflictError) Code() string { return CodeConflict }

func NewConflict(kind string, key string) error {
	return &ConflictError{Kind: kind, Key: key}
}

type VersionMismatchError struct {
	CallerVersion string
	EngineVersion string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("caller version %q is not compatible with engine version %q", e.CallerVersion, e.EngineVersion)
}

func (e *VersionMismatchError) Code() string { return CodeVersionMismatch }

// RuleViolation is the minimal view of a violated rule carried by BlockingRuleViolation.
type RuleViolation struct {
	RuleCode string `json:"rule_code"`
	Message  string `json:"message"`
	TargetID string `json:"target_id"`
}

type BlockingRuleViolation struct {
	Violations []RuleViolation
}

func (e *BlockingRuleViolation) Error() string {
	codes := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		codes = append(codes, v.RuleCode)
	}
	return "blocked by rule(s): " + strings.Join(codes, ", ")
}

func (e *BlockingRuleViolation) Code() string { return CodeBlockingRule }

type InternalError struct {
	cause error
}

func (e *InternalError) Error() string { return internalPublicDetail }

func (e *InternalError) Code() string { return CodeInternal }

func (e *InternalError) Unwrap() error { return e.cause }

// Cause returns the wrapped failure for server-side logging only.
func (e *InternalError) Cause() error { return e.cause }

// Wrap returns err unchanged when it already belongs to the taxonomy and wraps it
// as InternalError otherwise.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.AsType[Coded](err); ok {
		return err
	}
	return &InternalError{cause: err}
}

// CodeOf reports the taxonomy code of err, CodeInternal for foreign errors.
func CodeOf(err error) string {
	if c, ok := errors.AsType[Coded](err); ok {
		return c.Code()
	}
	return CodeInternal
}

func IsValidation(err error) bool {
	_, ok := errors.AsType[*ValidationError](err)
	return ok
}

func IsNotFound(err error) bool {
	_, ok := errors.AsType[*NotFoundError](err)
	return ok
}

func IsConflict(err error) bool {
	_, ok := errors.AsType[*ConflictError](err)
	return ok
}

func IsVersionMismatch(err error) bool {
	_, ok := errors.AsType[*VersionMismatchError](err)
	return ok
}

func IsBlockingRule(err error) bool {
	_, ok := errors.AsType[*BlockingRuleViolation](err)
	return ok
}
