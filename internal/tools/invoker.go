// Package tools runs coding tools against a workspace: external agent CLIs
// driven through a command template, or an in-process direct LLM editor.
package tools

import (
	"context"
	"fmt"
)

// Invocation is one request to a tool
type Invocation struct {
	Model   string
	Prompt  string
	Workdir string
}

// Invoker runs a tool and returns its transcript text
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (string, error)
}

// Preflighter is implemented by invokers that must verify prerequisites
// before the run starts iterating.
type Preflighter interface {
	Preflight(ctx context.Context) error
}

// CredentialSource looks up stored secrets. It returns "" with a nil error
// when the credential is not configured.
type CredentialSource interface {
	GetCredential(ctx context.Context, keyName, provider string) (string, error)
}

// InvocationError reports a tool that raised instead of returning output.
// The run records it in the transcript and carries on to the test step.
type InvocationError struct {
	Tool string
	Err  error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// ExecutionErrorText is the transcript text recorded for a failed invocation
func ExecutionErrorText(err error) string {
	return fmt.Sprintf("[Tool execution error: %v]", err)
}
