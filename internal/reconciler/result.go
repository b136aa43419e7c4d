package reconciler

import (
	"fmt"
	"strings"
	"time"
)

// ActionType is one step of a sync run.
type ActionType string

const (
	// ActionEnsureCLI checks the cached CLI against the deployment.
	ActionEnsureCLI ActionType = "ensure_cli"
	// ActionConfigSSH rewrites the managed SSH config block.
	ActionConfigSSH ActionType = "config_ssh"
)

// ActionStatus represents the outcome of an action.
type ActionStatus string

const (
	// StatusSuccess indicates the action completed and changed something.
	StatusSuccess ActionStatus = "success"
	// StatusUnchanged indicates the action completed with nothing to do.
	StatusUnchanged ActionStatus = "unchanged"
	// StatusFailed indicates the action failed.
	StatusFailed ActionStatus = "failed"
	// StatusSkipped indicates the action was not attempted.
	StatusSkipped ActionStatus = "skipped"
)

// Action records one step of a sync run.
type Action struct {
	Type   ActionType
	Status ActionStatus

	// Detail is a short human-readable description of what happened.
	Detail string

	// Error contains the error message if Status is StatusFailed.
	Error string
}

// String returns a human-readable representation of the action.
func (a Action) String() string {
	if a.Error != "" {
		return fmt.Sprintf("[%s] %s: %s", a.Status, a.Type, a.Error)
	}
	if a.Detail != "" {
		return fmt.Sprintf("[%s] %s: %s", a.Status, a.Type, a.Detail)
	}
	return fmt.Sprintf("[%s] %s", a.Status, a.Type)
}

// Result holds the outcome of one sync run.
type Result struct {
	StartTime time.Time
	EndTime   time.Time

	// Hosts is the number of workspace hosts written to the SSH config.
	Hosts int

	Actions []Action
}

// NewResult creates a new Result with the start time set to now.
func NewResult() *Result {
	return &Result{StartTime: time.Now()}
}

// Complete marks the result as complete with the end time set to now.
func (r *Result) Complete() {
	r.EndTime = time.Now()
}

// Duration returns the total run duration.
func (r *Result) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}

// AddAction appends an action.
func (r *Result) AddAction(a Action) {
	r.Actions = append(r.Actions, a)
}

// Action returns the action of type t, if recorded.
func (r *Result) Action(t ActionType) (Action, bool) {
	for _, a := range r.Actions {
		if a.Type == t {
			return a, true
		}
	}
	return Action{}, false
}

// Downloaded reports whether a new CLI binary was written.
func (r *Result) Downloaded() bool {
	a, ok := r.Action(ActionEnsureCLI)
	return ok && a.Status == StatusSuccess
}

// Failed returns all failed actions.
func (r *Result) Failed() []Action {
	var failed []Action
	for _, a := range r.Actions {
		if a.Status == StatusFailed {
			failed = append(failed, a)
		}
	}
	return failed
}

// HasErrors returns true if any action failed.
func (r *Result) HasErrors() bool {
	return len(r.Failed()) > 0
}

// Summary returns a human-readable summary of the run.
func (r *Result) Summary() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Sync complete in %s\n", r.Duration().Round(time.Millisecond))
	fmt.Fprintf(&sb, "  Hosts: %d\n", r.Hosts)
	for _, a := range r.Actions {
		fmt.Fprintf(&sb, "  %s\n", a.String())
	}

	return sb.String()
}
