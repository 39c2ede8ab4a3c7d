package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opentalon/agentrouter/internal/correlation"
	"github.com/opentalon/agentrouter/internal/failover"
	"github.com/opentalon/agentrouter/internal/provider"
)

var tracer = otel.Tracer("github.com/opentalon/agentrouter/internal/orchestrator")

// Executor runs one capability call with retry and fallback.
// *failover.Controller implements it.
type Executor interface {
	Execute(ctx context.Context, c provider.Capability, req *provider.Request, opts failover.ExecOptions) (*failover.Execution, error)
}

// Coverage is an optional Executor extension reporting whether a
// capability has any provider configured at all.
type Coverage interface {
	Serves(c provider.Capability) bool
}

// DegradeMode selects when a failing capability is given up on.
type DegradeMode string

const (
	// DegradeExhaustion falls back through every candidate of the
	// capability before the step counts as failed.
	DegradeExhaustion DegradeMode = "exhaustion"
	// DegradeFirstFailure fails the step as soon as one provider fails.
	DegradeFirstFailure DegradeMode = "first_failure"
)

func ParseDegradeMode(s string) (DegradeMode, error) {
	switch m := DegradeMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return DegradeExhaustion, nil
	case DegradeExhaustion, DegradeFirstFailure:
		return m, nil
	default:
		return "", fmt.Errorf("unknown degrade mode %q (supported: %s, %s)", s, DegradeExhaustion, DegradeFirstFailure)
	}
}

type Options struct {
	// Deadline bounds a whole run. Zero means no deadline beyond the
	// caller's context.
	Deadline time.Duration
	Degrade  DegradeMode
	Logger   *slog.Logger
}

// Graph is a fixed set of named steps executed one at a time from start.
// A Graph is safe for concurrent runs.
type Graph struct {
	exec   Executor
	start  string
	steps  map[string]Step
	opts   Options
	logger *slog.Logger
}

func NewGraph(exec Executor, opts Options, start string, steps ...Step) (*Graph, error) {
	if exec == nil {
		return nil, errors.New("graph: nil executor")
	}
	g := &Graph{exec: exec, start: start, steps: make(map[string]Step, len(steps)), opts: opts, logger: opts.Logger}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.opts.Degrade == "" {
		g.opts.Degrade = DegradeExhaustion
	}
	for _, s := range steps {
		if s.Name == "" {
			return nil, errors.New("graph: step without a name")
		}
		if _, dup := g.steps[s.Name]; dup {
			return nil, fmt.Errorf("graph: duplicate step %q", s.Name)
		}
		if s.Input == nil {
			return nil, fmt.Errorf("graph: step %q has no input", s.Name)
		}
		if s.Route == nil {
			s.Route = defaultRoute
		}
		g.steps[s.Name] = s
	}
	if _, ok := g.steps[start]; !ok {
		return nil, fmt.Errorf("graph: start step %q: %w", start, ErrUnknownStep)
	}
	return g, nil
}

// Run executes the graph for q. It always returns a trace with a terminal
// state; failures are reported in the trace, never as a panic.
func (g *Graph) Run(ctx context.Context, q Query) *Trace {
	q = q.normalized()
	tr := &Trace{Query: q, Started: time.Now()}
	defer func() { tr.Duration = time.Since(tr.Started) }()

	ctx = correlation.WithQueryID(ctx, q.ID)
	ctx, span := tracer.Start(ctx, "graph.run", trace.WithAttributes(attribute.String("query.id", q.ID)))
	defer func() {
		span.SetAttributes(attribute.String("terminal", string(tr.Terminal)))
		if tr.Err != nil {
			span.SetStatus(codes.Error, tr.Err.Error())
		}
		span.End()
	}()

	if err := q.Validate(); err != nil {
		tr.finish(TerminalFailed, err)
		return tr
	}
	if g.opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, g.opts.Deadline, ErrGraphTimeout)
		defer cancel()
	}

	visited := make(map[string]bool, len(g.steps))
	name := g.start
	for {
		if err := interrupted(ctx); err != nil {
			g.stop(tr, err)
			return tr
		}
		if visited[name] {
			tr.finish(TerminalFailed, fmt.Errorf("%w: step %q revisited", ErrCycle, name))
			return tr
		}
		visited[name] = true
		step := g.steps[name]

		res := g.runStep(ctx, step, q, tr)
		if err := interrupted(ctx); err != nil {
			if res.Status == StepFailed {
				res.Err = err
				tr.markDegraded(step.Capability)
			}
			tr.Steps = append(tr.Steps, res)
			g.stop(tr, err)
			return tr
		}
		tr.Steps = append(tr.Steps, res)

		next := step.Route(tr, &tr.Steps[len(tr.Steps)-1])
		if res.Status == StepFailed && next.kind != toFail {
			tr.markDegraded(step.Capability)
		}
		g.logger.Debug("step finished",
			slog.String("query_id", q.ID),
			slog.String("step", step.Name),
			slog.String("status", string(res.Status)),
			slog.String("provider", res.Provider),
			slog.String("next", next.String()),
		)

		switch next.kind {
		case toGoto:
			if _, ok := g.steps[next.next]; !ok {
				tr.finish(TerminalFailed, fmt.Errorf("step %q routes to %q: %w", step.Name, next.next, ErrUnknownStep))
				return tr
			}
			name = next.next
		case toDone:
			if len(tr.Degraded) > 0 {
				tr.finish(TerminalDegraded, nil)
			} else {
				tr.finish(TerminalDone, nil)
			}
			return tr
		case toDegrade:
			tr.finish(TerminalDegraded, nil)
			return tr
		default:
			err := res.Err
			if err == nil {
				err = fmt.Errorf("step %q ended the run", step.Name)
			}
			tr.finish(TerminalFailed, err)
			return tr
		}
	}
}

func (g *Graph) runStep(ctx context.Context, step Step, q Query, tr *Trace) StepResult {
	res := StepResult{Step: step.Name, Capability: step.Capability}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	ctx, span := tracer.Start(ctx, "graph.step", trace.WithAttributes(attribute.String("step", step.Name)))
	defer span.End()

	req, err := step.Input(q, tr)
	if errors.Is(err, ErrSkip) {
		res.Status = StepSkipped
		return res
	}
	if err != nil {
		res.Status = StepFailed
		res.Err = fmt.Errorf("step %s input: %w", step.Name, err)
		return res
	}

	exec, err := g.exec.Execute(ctx, step.Capability, req, failover.ExecOptions{
		Preferred:          q.PreferredFor(step.Capability),
		StopOnFirstFailure: g.opts.Degrade == DegradeFirstFailure,
	})
	if exec != nil {
		res.Provider = exec.Provider
		res.Response = exec.Response
		res.Attempts = exec.Attempts
		res.Fallbacks = exec.Fallbacks
	}
	if err != nil {
		res.Status = StepFailed
		res.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res
	}
	res.Status = StepOK
	span.SetAttributes(attribute.String("provider", res.Provider))
	return res
}

// stop ends a run whose context is done. A run cut short by its deadline
// keeps whatever earlier steps produced.
func (g *Graph) stop(tr *Trace, err error) {
	if errors.Is(err, ErrGraphTimeout) && tr.hasPayload() {
		tr.finish(TerminalDegraded, err)
		return
	}
	tr.finish(TerminalFailed, err)
}

func (tr *Trace) finish(t Terminal, err error) {
	tr.Terminal = t
	tr.Err = err
}

// interrupted returns the reason ctx is done, or nil.
func interrupted(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}
