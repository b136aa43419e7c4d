package process

import (
	"context"
	"sync"
)

// Call records one invocation seen by a FakeRunner.
type Call struct {
	Name string
	Args []string
}

// FakeRunner is a Runner that returns scripted results and records calls.
type FakeRunner struct {
	mu     sync.Mutex
	calls  []Call
	result Result
	err    error
}

// NewFakeRunner returns a FakeRunner that answers every call with result.
func NewFakeRunner(result Result) *FakeRunner {
	return &FakeRunner{result: result}
}

// NewFailingRunner returns a FakeRunner whose every call fails with err.
func NewFailingRunner(err error) *FakeRunner {
	return &FakeRunner{err: err}
}

// Run implements Runner.
func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Name: name, Args: append([]string(nil), args...)})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}

	result := f.result
	return &result, nil
}

// Calls returns a copy of the recorded invocations.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}
