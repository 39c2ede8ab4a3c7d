package failover

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opentalon/agentrouter/internal/provider"
)

type harness struct {
	clock    *ManualClock
	breakers *Breakers
	registry *provider.Registry
	ctrl     *Controller
}

func newHarness(t *testing.T, adapters ...*scriptedAdapter) *harness {
	t.Helper()
	clock := NewManualClock(epoch)
	set := NewBreakers(clock, nil, nil)
	reg := provider.NewRegistry(set)
	for i, a := range adapters {
		cfg := provider.Config{
			ID:               a.id,
			Capability:       a.cap,
			Priority:         i + 1,
			MaxRetries:       1,
			FailureThreshold: 2,
			Cooldown:         time.Minute,
		}
		if err := reg.Register(a, cfg); err != nil {
			t.Fatal(err)
		}
		set.For(cfg)
	}
	pol := NewPolicy(set, Backoff{Base: 10 * time.Millisecond, Max: time.Second}, WithClock(clock))
	return &harness{clock: clock, breakers: set, registry: reg, ctrl: NewController(reg, pol, nil)}
}

func TestExecuteSuccess(t *testing.T) {
	a := &scriptedAdapter{id: "brave", cap: provider.CapabilitySearch}
	h := newHarness(t, a)

	exec, err := h.ctrl.Execute(context.Background(), provider.CapabilitySearch, searchReq(), ExecOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if exec.Provider != "brave" || exec.Response.Snippets[0].Title != "ok from brave" {
		t.Errorf("unexpected execution: %+v", exec)
	}
	if len(exec.Attempts) != 1 || len(exec.Fallbacks) != 0 {
		t.Errorf("attempts = %d, fallbacks = %d", len(exec.Attempts), len(exec.Fallbacks))
	}
}

func TestExecuteFallsBack(t *testing.T) {
	primary := &scriptedAdapter{id: "brave", cap: provider.CapabilitySearch, errs: always(transientErr("brave"), 5)}
	secondary := &scriptedAdapter{id: "tavily", cap: provider.CapabilitySearch}
	h := newHarness(t, primary, secondary)

	exec, err := h.ctrl.Execute(context.Background(), provider.CapabilitySearch, searchReq(), ExecOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if exec.Provider != "tavily" {
		t.Errorf("provider = %s, want tavily", exec.Provider)
	}
	if len(exec.Attempts) != 3 {
		t.Errorf("attempts = %d, want 2 on brave + 1 on tavily", len(exec.Attempts))
	}
	want := Fallback{Capability: provider.CapabilitySearch, From: "brave", To: "tavily", Reason: "transient"}
	if len(exec.Fallbacks) != 1 || exec.Fallbacks[0] != want {
		t.Errorf("fallbacks = %+v", exec.Fallbacks)
	}
}

func TestExecutePreferred(t *testing.T) {
	a := &scriptedAdapter{id: "brave", cap: provider.CapabilitySearch}
	b := &scriptedAdapter{id: "tavily", cap: provider.CapabilitySearch}
	h := newHarness(t, a, b)

	exec, err := h.ctrl.Execute(context.Background(), provider.CapabilitySearch, searchReq(), ExecOptions{Preferred: "tavily"})
	if err != nil {
		t.Fatal(err)
	}
	if exec.Provider != "tavily" || a.Calls() != 0 {
		t.Errorf("preferred not used first: provider=%s brave calls=%d", exec.Provider, a.Calls())
	}
}

func TestExecuteNoCandidates(t *testing.T) {
	h := newHarness(t, &scriptedAdapter{id: "brave", cap: provider.CapabilitySearch})

	exec, err := h.ctrl.Execute(context.Background(), provider.CapabilityCompletion,
		&provider.Request{Messages: []provider.Message{{Role: provider.RoleUser, Content: "hi"}}}, ExecOptions{})
	var npe *NoProviderError
	if !errors.As(err, &npe) {
		t.Fatalf("err = %v, want NoProviderError", err)
	}
	if len(npe.Attempted) != 0 || exec == nil || len(exec.Attempts) != 0 {
		t.Errorf("unexpected: %+v %+v", npe, exec)
	}
}

func TestExecuteAllFail(t *testing.T) {
	a := &scriptedAdapter{id: "brave", cap: provider.CapabilitySearch,
		errs: []error{&provider.Error{Kind: provider.KindPermanent, StatusCode: 401}}}
	b := &scriptedAdapter{id: "tavily", cap: provider.CapabilitySearch,
		errs: []error{&provider.Error{Kind: provider.KindQuota, StatusCode: 402}}}
	h := newHarness(t, a, b)

	_, err := h.ctrl.Execute(context.Background(), provider.CapabilitySearch, searchReq(), ExecOptions{})
	var npe *NoProviderError
	if !errors.As(err, &npe) {
		t.Fatalf("err = %v, want NoProviderError", err)
	}
	if len(npe.Attempted) != 2 || npe.Attempted[0] != "brave" || npe.Attempted[1] != "tavily" {
		t.Errorf("attempted = %v", npe.Attempted)
	}
	if provider.Classify(err) != provider.KindQuota {
		t.Errorf("last error kind = %v, want quota", provider.Classify(err))
	}
}

func TestExecuteStopOnFirstFailure(t *testing.T) {
	a := &scriptedAdapter{id: "brave", cap: provider.CapabilitySearch,
		errs: []error{&provider.Error{Kind: provider.KindPermanent}}}
	b := &scriptedAdapter{id: "tavily", cap: provider.CapabilitySearch}
	h := newHarness(t, a, b)

	_, err := h.ctrl.Execute(context.Background(), provider.CapabilitySearch, searchReq(), ExecOptions{StopOnFirstFailure: true})
	var npe *NoProviderError
	if !errors.As(err, &npe) {
		t.Fatalf("err = %v, want NoProviderError", err)
	}
	if b.Calls() != 0 {
		t.Error("fell back despite StopOnFirstFailure")
	}
}

func TestExecuteValidationFailsFast(t *testing.T) {
	a := &scriptedAdapter{id: "brave", cap: provider.CapabilitySearch}
	h := newHarness(t, a)

	exec, err := h.ctrl.Execute(context.Background(), provider.CapabilitySearch, &provider.Request{}, ExecOptions{})
	if provider.Classify(err) != provider.KindValidation {
		t.Fatalf("err = %v, want validation", err)
	}
	if a.Calls() != 0 || len(exec.Attempts) != 0 {
		t.Error("adapter invoked for invalid input")
	}
}

func TestExecuteExcludesOpenCircuitUntilCooldown(t *testing.T) {
	a := &scriptedAdapter{id: "brave", cap: provider.CapabilitySearch, errs: always(transientErr("brave"), 4)}
	b := &scriptedAdapter{id: "tavily", cap: provider.CapabilitySearch}
	h := newHarness(t, a, b)
	ctx := context.Background()

	// Two failed calls (two attempts each) reach the threshold of 2.
	for i := 0; i < 2; i++ {
		if _, err := h.ctrl.Execute(ctx, provider.CapabilitySearch, searchReq(), ExecOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	if a.Calls() != 4 {
		t.Fatalf("brave calls = %d, want 4", a.Calls())
	}
	cands := h.registry.Candidates(provider.CapabilitySearch, "")
	if len(cands) != 1 || cands[0].Config.ID != "tavily" {
		t.Fatalf("candidates = %d, want only tavily", len(cands))
	}

	if _, err := h.ctrl.Execute(ctx, provider.CapabilitySearch, searchReq(), ExecOptions{Preferred: "brave"}); err != nil {
		t.Fatal(err)
	}
	if a.Calls() != 4 {
		t.Error("open circuit was called")
	}

	h.clock.Advance(time.Minute)
	exec, err := h.ctrl.Execute(ctx, provider.CapabilitySearch, searchReq(), ExecOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if exec.Provider != "brave" {
		t.Errorf("provider after cool-down = %s, want brave", exec.Provider)
	}
	st, _ := h.breakers.Get("brave")
	if st.State().Status != StatusClosed {
		t.Errorf("status = %s, want closed after trial success", st.State().Status)
	}
}

func TestExecuteCanceled(t *testing.T) {
	h := newHarness(t, &scriptedAdapter{id: "brave", cap: provider.CapabilitySearch})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.ctrl.Execute(ctx, provider.CapabilitySearch, searchReq(), ExecOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
