// Package errors provides structured error types for tusk.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for tusk.
const (
	// Initialization errors
	CodeNotInitialized     Code = "TUSK_NOT_INITIALIZED"
	CodeAlreadyInitialized Code = "TUSK_ALREADY_INITIALIZED"

	// Input errors
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeInvalidEnum  Code = "INVALID_ENUM"
	CodeNotFound     Code = "NOT_FOUND"

	// Policy gates
	CodeRefused        Code = "POLICY_REFUSED"
	CodeForceRequired  Code = "FORCE_REQUIRED"
	CodeDuplicate      Code = "DUPLICATE_TASK"
	CodeNoReadyTasks   Code = "NO_READY_TASKS"
	CodeDependencyLoop Code = "DEPENDENCY_CYCLE"

	// External subsystems
	CodeGitFailed   Code = "GIT_FAILED"
	CodeAgentFailed Code = "AGENT_FAILED"
	CodeFetchFailed Code = "FETCH_FAILED"

	// Store
	CodeIntegrity Code = "DATA_INTEGRITY"
	CodeStoreBusy Code = "STORE_BUSY"
)

// Exit codes per the CLI contract.
const (
	ExitOK       = 0 // success
	ExitNegative = 1 // caller-visible negative outcome (duplicate found, no ready tasks)
	ExitError    = 2 // validation or system error
	ExitForce    = 3 // proceed only with --force
)

// codeExits maps error codes to process exit codes.
var codeExits = map[Code]int{
	CodeNotInitialized:     ExitError,
	CodeAlreadyInitialized: ExitError,
	CodeInvalidInput:       ExitError,
	CodeInvalidEnum:        ExitError,
	CodeNotFound:           ExitError,
	CodeRefused:            ExitError,
	CodeForceRequired:      ExitForce,
	CodeDuplicate:          ExitNegative,
	CodeNoReadyTasks:       ExitNegative,
	CodeDependencyLoop:     ExitError,
	CodeGitFailed:          ExitError,
	CodeAgentFailed:        ExitError,
	CodeFetchFailed:        ExitError,
	CodeIntegrity:          ExitError,
	CodeStoreBusy:          ExitError,
}

// TuskError is the structured error type for tusk. Details carries
// machine-readable fields for negative outcomes that downstream
// consumers parse, such as the matched task of a duplicate refusal.
type TuskError struct {
	Code    Code           `json:"code"`
	What    string         `json:"what"`
	Why     string         `json:"why,omitempty"`
	Fix     string         `json:"fix,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

// Error implements the error interface.
func (e *TuskError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *TuskError) Unwrap() error {
	return e.Cause
}

// ExitCode returns the process exit code for this error.
func (e *TuskError) ExitCode() int {
	if code, ok := codeExits[e.Code]; ok {
		return code
	}
	return ExitError
}

// UserMessage returns a user-friendly message for CLI output.
func (e *TuskError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// MarshalJSON implements json.Marshaler.
func (e *TuskError) MarshalJSON() ([]byte, error) {
	type alias TuskError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is a TuskError with the same code.
func (e *TuskError) Is(target error) bool {
	t, ok := target.(*TuskError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *TuskError) WithCause(err error) *TuskError {
	return &TuskError{
		Code:    e.Code,
		What:    e.What,
		Why:     e.Why,
		Fix:     e.Fix,
		Details: e.Details,
		Cause:   err,
	}
}

// --- Error constructors ---

// ErrNotInitialized returns an error for an uninitialized project.
func ErrNotInitialized() *TuskError {
	return &TuskError{
		Code: CodeNotInitialized,
		What: "tusk is not initialized in this directory",
		Why:  "No .tusk/ directory found in the current path or its parents",
		Fix:  "Run 'tusk init' to initialize tusk in this project",
	}
}

// ErrAlreadyInitialized returns an error when tusk is already initialized.
func ErrAlreadyInitialized(path string) *TuskError {
	return &TuskError{
		Code: CodeAlreadyInitialized,
		What: "tusk is already initialized",
		Why:  fmt.Sprintf("Found existing .tusk/ directory at %s", path),
		Fix:  "Remove .tusk/ manually if you want to start over",
	}
}

// ErrInvalidInput returns a generic input validation error.
func ErrInvalidInput(what, why string) *TuskError {
	return &TuskError{Code: CodeInvalidInput, What: what, Why: why}
}

// ErrInvalidEnum returns an error for a value outside a configured enum.
func ErrInvalidEnum(field, value string, valid []string) *TuskError {
	return &TuskError{
		Code: CodeInvalidEnum,
		What: fmt.Sprintf("invalid %s %q", field, value),
		Why:  fmt.Sprintf("valid values are %s", strings.Join(valid, ", ")),
	}
}

// ErrTaskNotFound returns an error when a task doesn't exist.
func ErrTaskNotFound(id int64) *TuskError {
	return &TuskError{
		Code: CodeNotFound,
		What: fmt.Sprintf("task %d not found", id),
		Fix:  "Run 'tusk task-list' to list tasks",
	}
}

// ErrNotFound returns an error for a missing entity.
func ErrNotFound(kind string, id int64) *TuskError {
	return &TuskError{
		Code: CodeNotFound,
		What: fmt.Sprintf("%s %d not found", kind, id),
	}
}

// ErrForceRequired returns a policy-gated refusal that --force overrides.
func ErrForceRequired(what, why string) *TuskError {
	return &TuskError{
		Code: CodeForceRequired,
		What: what,
		Why:  why,
		Fix:  "Re-run with --force to override",
	}
}

// ErrRefused returns a policy-gated refusal with no override.
func ErrRefused(what, why string) *TuskError {
	return &TuskError{Code: CodeRefused, What: what, Why: why}
}

// ErrDuplicate returns the duplicate-task outcome. The details map is
// the structured JSON a caller consumes alongside exit code 1.
func ErrDuplicate(matchedID int64, summary string, similarity float64) *TuskError {
	return &TuskError{
		Code: CodeDuplicate,
		What: fmt.Sprintf("duplicate of task %d (%.0f%% similar)", matchedID, similarity*100),
		Why:  fmt.Sprintf("open task %d: %s", matchedID, summary),
		Fix:  "Update the existing task, or rephrase the summary if this is genuinely new work",
		Details: map[string]any{
			"duplicate":       true,
			"matched_task_id": matchedID,
			"matched_summary": summary,
			"similarity":      similarity,
		},
	}
}

// ErrNoReadyTasks returns the empty-ready-queue outcome.
func ErrNoReadyTasks() *TuskError {
	return &TuskError{
		Code: CodeNoReadyTasks,
		What: "no ready tasks",
		Why:  "Every open task is blocked, deferred, or already terminal",
	}
}

// ErrDependencyCycle returns an error for an edge that would close a cycle.
func ErrDependencyCycle(path []int64) *TuskError {
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return &TuskError{
		Code: CodeDependencyLoop,
		What: "dependency would create a cycle",
		Why:  "cycle: " + strings.Join(parts, " -> "),
	}
}

// ErrGit wraps a failed git invocation, preserving the tool's stderr.
func ErrGit(op string, cause error) *TuskError {
	return &TuskError{
		Code:  CodeGitFailed,
		What:  fmt.Sprintf("git %s failed", op),
		Cause: cause,
	}
}

// ErrIntegrity wraps a foreign-key or trigger violation.
func ErrIntegrity(what string, cause error) *TuskError {
	return &TuskError{Code: CodeIntegrity, What: what, Cause: cause}
}

// AsTuskError attempts to convert an error to a TuskError.
// Returns nil if the error is not a TuskError.
func AsTuskError(err error) *TuskError {
	for err != nil {
		if te, ok := err.(*TuskError); ok {
			return te
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		err = u.Unwrap()
	}
	return nil
}

// Wrap wraps a generic error into a TuskError with unknown code.
func Wrap(err error, what string) *TuskError {
	return &TuskError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
