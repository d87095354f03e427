// Package pipeline runs a login attempt through an ordered list of stages.
// Each stage sees the outcome produced so far and may replace it, or attach
// further failure reasons to it.
package pipeline

import (
	"context"

	"ipauth/internal/core/errors"
	"ipauth/internal/store"
)

// Attempt is one login request.
type Attempt struct {
	Login    string
	Password string
	ClientIP string
}

// Outcome is either an authenticated account or an authentication error.
// Account may be set alongside Err when the login resolved to a known
// account but a stage rejected it; callers must check Err first.
type Outcome struct {
	Account *store.Account
	Err     *errors.AuthError
}

// OK reports whether the attempt is authenticated.
func (o Outcome) OK() bool {
	return o.Err == nil && o.Account != nil
}

// Success builds an authenticated outcome
func Success(account *store.Account) Outcome {
	return Outcome{Account: account}
}

// Failure builds a rejected outcome
func Failure(account *store.Account, err *errors.AuthError) Outcome {
	return Outcome{Account: account, Err: err}
}

// Fail attaches code to the outcome's error, creating it when absent.
func (o Outcome) Fail(code, message string) Outcome {
	if o.Err == nil {
		o.Err = errors.NewAuthError(code, message)
	} else {
		o.Err.Add(code, message)
	}
	return o
}

// Stage is one step of authentication
type Stage interface {
	Name() string
	Authenticate(ctx context.Context, attempt Attempt, prior Outcome) Outcome
}

// StageFunc adapts a function to Stage
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, attempt Attempt, prior Outcome) Outcome
}

func (s StageFunc) Name() string { return s.StageName }

func (s StageFunc) Authenticate(ctx context.Context, attempt Attempt, prior Outcome) Outcome {
	return s.Fn(ctx, attempt, prior)
}

// Pipeline holds stages in execution order. It is built once at startup.
type Pipeline struct {
	stages []Stage
}

// New creates a pipeline running stages in the given order
func New(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Stages returns the stage names in order
func (p *Pipeline) Stages() []string {
	names := make([]string, 0, len(p.stages))
	for _, s := range p.stages {
		names = append(names, s.Name())
	}
	return names
}

// Run feeds attempt through every stage. The starting outcome is empty:
// no account and no error.
func (p *Pipeline) Run(ctx context.Context, attempt Attempt) Outcome {
	var out Outcome
	for _, s := range p.stages {
		out = s.Authenticate(ctx, attempt, out)
	}
	if out.Err == nil && out.Account == nil {
		// No stage vouched for anybody.
		out = out.Fail(errors.CodeInvalidUsername, errors.MessageInvalidUsername)
	}
	return out
}
