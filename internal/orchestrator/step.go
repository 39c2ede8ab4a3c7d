package orchestrator

import (
	"errors"
	"time"

	"github.com/opentalon/agentrouter/internal/failover"
	"github.com/opentalon/agentrouter/internal/provider"
)

var (
	// ErrSkip is returned by a step's Input to skip the step.
	ErrSkip = errors.New("step skipped")
	// ErrGraphTimeout is the cause attached to the overall run deadline.
	ErrGraphTimeout = errors.New("graph deadline exceeded")
	ErrCycle        = errors.New("graph cycle")
	ErrUnknownStep  = errors.New("unknown step")
)

type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepResult is the outcome of one executed step.
type StepResult struct {
	Step       string
	Capability provider.Capability
	Status     StepStatus
	Provider   string
	Response   *provider.Response
	Attempts   []failover.Attempt
	Fallbacks  []failover.Fallback
	Err        error
	Duration   time.Duration
}

type transitionKind int

const (
	toGoto transitionKind = iota
	toDone
	toDegrade
	toFail
)

// Transition tells the graph what to do after a step.
type Transition struct {
	kind transitionKind
	next string
}

func Goto(step string) Transition { return Transition{kind: toGoto, next: step} }

var (
	Done    = Transition{kind: toDone}
	Degrade = Transition{kind: toDegrade}
	Fail    = Transition{kind: toFail}
)

func (t Transition) String() string {
	switch t.kind {
	case toGoto:
		return "goto " + t.next
	case toDone:
		return "done"
	case toDegrade:
		return "degrade"
	default:
		return "fail"
	}
}

// InputFunc builds a step's request from the query and earlier results.
type InputFunc func(q Query, tr *Trace) (*provider.Request, error)

// RouteFunc maps a step's result to the next transition.
type RouteFunc func(tr *Trace, r *StepResult) Transition

type Step struct {
	Name       string
	Capability provider.Capability
	Input      InputFunc
	// Route defaults to Done on success and Fail otherwise.
	Route RouteFunc
}

func defaultRoute(_ *Trace, r *StepResult) Transition {
	if r.Status == StepFailed {
		return Fail
	}
	return Done
}

type Terminal string

const (
	TerminalDone     Terminal = "done"
	TerminalDegraded Terminal = "degraded"
	TerminalFailed   Terminal = "failed"
)

// Trace is the ordered record of one graph run.
type Trace struct {
	Query    Query
	Steps    []StepResult
	Terminal Terminal
	// Degraded lists capabilities whose step failed without failing the
	// run, in the order they failed.
	Degraded []provider.Capability
	// Err is set when the run failed, or degraded because it was cut
	// short by the deadline.
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Step returns the result of the named step, if it ran.
func (tr *Trace) Step(name string) (*StepResult, bool) {
	for i := len(tr.Steps) - 1; i >= 0; i-- {
		if tr.Steps[i].Step == name {
			return &tr.Steps[i], true
		}
	}
	return nil, false
}

// Succeeded returns the response of the named step when it ran and
// succeeded.
func (tr *Trace) Succeeded(name string) (*provider.Response, bool) {
	r, ok := tr.Step(name)
	if !ok || r.Status != StepOK || r.Response == nil {
		return nil, false
	}
	return r.Response, true
}

func (tr *Trace) hasPayload() bool {
	for _, s := range tr.Steps {
		if s.Status == StepOK && s.Response != nil {
			return true
		}
	}
	return false
}

func (tr *Trace) markDegraded(c provider.Capability) {
	for _, d := range tr.Degraded {
		if d == c {
			return
		}
	}
	tr.Degraded = append(tr.Degraded, c)
}
