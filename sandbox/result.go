package sandbox

import (
	"errors"
	"fmt"
)

// Outcome discriminates the variants of a Result.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeCompileFailure Outcome = "compile_failure"
	OutcomeRuntimeFailure Outcome = "runtime_failure"
)

// FailureKind classifies a runtime failure.
type FailureKind string

const (
	KindTypeMismatch    FailureKind = "type_mismatch"
	KindEmptyInput      FailureKind = "empty_input"
	KindNullDereference FailureKind = "null_dereference"
	KindUnclassified    FailureKind = "unclassified"
)

// ErrToolchainUnavailable is wrapped when the compiler or runtime binary
// cannot be found. It is reported through a Result, never returned raw.
var ErrToolchainUnavailable = errors.New("toolchain unavailable")

// Result is the classified outcome of one sandbox invocation.
//
// Exactly one group of fields is meaningful for a given Outcome:
// Stdout for success, Diagnostic for compile failures, Kind and Detail for
// runtime failures.
type Result struct {
	Outcome     Outcome     `json:"outcome"`
	Stdout      string      `json:"stdout,omitempty"`
	Diagnostic  string      `json:"diagnostic,omitempty"`
	Kind        FailureKind `json:"kind,omitempty"`
	Detail      string      `json:"detail,omitempty"`
	Stderr      string      `json:"stderr,omitempty"`
	ExitCode    int         `json:"exit_code"`
	TimedOut    bool        `json:"timed_out,omitempty"`
	Unavailable bool        `json:"unavailable,omitempty"`
	DurationMs  int64       `json:"duration_ms"`
}

// Succeeded reports whether the program compiled and exited zero.
func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

func (r Result) String() string {
	switch r.Outcome {
	case OutcomeSuccess:
		return fmt.Sprintf("success (%d bytes of output)", len(r.Stdout))
	case OutcomeCompileFailure:
		return "compile failure"
	default:
		return fmt.Sprintf("runtime failure (%s)", r.Kind)
	}
}

// Success builds a successful Result.
func Success(stdout string) Result {
	return Result{Outcome: OutcomeSuccess, Stdout: stdout}
}

// CompileFailure builds a compile-failure Result.
func CompileFailure(diagnostic string) Result {
	return Result{Outcome: OutcomeCompileFailure, Diagnostic: diagnostic, ExitCode: 1}
}

// RuntimeFailure builds a runtime-failure Result.
func RuntimeFailure(kind FailureKind, detail string) Result {
	return Result{Outcome: OutcomeRuntimeFailure, Kind: kind, Detail: detail}
}

// CompileError carries the compiler diagnostic verbatim.
type CompileError struct {
	Diagnostic string
	Cause      error
}

func (e *CompileError) Error() string {
	return "compilation failed: " + e.Diagnostic
}

func (e *CompileError) Unwrap() error {
	return e.Cause
}
