package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/taskbridge/taskbridge/pkg/api"
)

// memLedger is an in-memory LedgerStore for executor tests.
type memLedger struct {
	mu        sync.Mutex
	status    map[string]*api.FlowStatusRecord
	summaries []*api.SyncOperationSummary
}

func newMemLedger() *memLedger {
	return &memLedger{status: make(map[string]*api.FlowStatusRecord)}
}

func (l *memLedger) SaveFlowStatus(_ context.Context, rec *api.FlowStatusRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *rec
	l.status[rec.FlowID] = &cp
	return nil
}

func (l *memLedger) GetFlowStatus(_ context.Context, flowID string) (*api.FlowStatusRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.status[flowID]
	if !ok {
		return nil, errors.New("flow status not found")
	}
	cp := *rec
	return &cp, nil
}

func (l *memLedger) SaveSyncSummary(_ context.Context, s *api.SyncOperationSummary) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summaries = append(l.summaries, s)
	return nil
}

func (l *memLedger) ListSyncSummaries(context.Context, int) ([]*api.SyncOperationSummary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*api.SyncOperationSummary(nil), l.summaries...), nil
}

// scriptedCapability runs canned method funcs and counts invocations.
type scriptedCapability struct {
	name    string
	mu      sync.Mutex
	calls   map[string]int
	methods map[string]api.MethodFunc
}

func newScripted(name string) *scriptedCapability {
	return &scriptedCapability{
		name:    name,
		calls:   make(map[string]int),
		methods: make(map[string]api.MethodFunc),
	}
}

func (c *scriptedCapability) on(method string, fn func(calls int) (any, error)) *scriptedCapability {
	c.methods[method] = func(context.Context, *api.ExecutionContext) (any, error) {
		c.mu.Lock()
		c.calls[method]++
		n := c.calls[method]
		c.mu.Unlock()
		return fn(n)
	}
	return c
}

func (c *scriptedCapability) onCtx(method string, fn api.MethodFunc) *scriptedCapability {
	c.methods[method] = func(ctx context.Context, ec *api.ExecutionContext) (any, error) {
		c.mu.Lock()
		c.calls[method]++
		c.mu.Unlock()
		return fn(ctx, ec)
	}
	return c
}

func (c *scriptedCapability) count(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *scriptedCapability) Name() string                       { return c.name }
func (c *scriptedCapability) Methods() map[string]api.MethodFunc { return c.methods }
func (c *scriptedCapability) HealthCheck(context.Context) error  { return nil }

func newTestExecutor(t *testing.T, caps ...api.Capability) (*Executor, *memLedger) {
	t.Helper()
	reg := api.NewRegistry()
	for _, c := range caps {
		if err := reg.Register(c); err != nil {
			t.Fatalf("registering capability: %v", err)
		}
	}
	ledger := newMemLedger()
	exec := NewExecutor(reg, ledger, nil, WithBackoff(time.Millisecond, 2*time.Millisecond))
	return exec, ledger
}

func TestExecuteFlowRunsStepsInOrder(t *testing.T) {
	var order []string
	cap := newScripted("work")
	cap.on("first", func(int) (any, error) { order = append(order, "first"); return "a", nil })
	cap.on("second", func(int) (any, error) { order = append(order, "second"); return "b", nil })

	exec, ledger := newTestExecutor(t, cap)
	def := api.FlowDefinition{Name: "two-step", Steps: []api.FlowStep{
		{Capability: "work", Method: "first"},
		{Capability: "work", Method: "second"},
	}}
	if err := exec.RegisterFlow(def); err != nil {
		t.Fatalf("RegisterFlow: %v", err)
	}

	res, err := exec.ExecuteFlow(context.Background(), "two-step", api.Request{})
	if err != nil {
		t.Fatalf("ExecuteFlow: %v", err)
	}
	if !res.Success {
		t.Fatalf("Success = false, error %q", res.Error)
	}
	if len(res.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(res.Results))
	}
	if order[0] != "first" || order[1] != "second" {
		t.Fatalf("steps ran out of order: %v", order)
	}
	if res.Results[0].Output != "a" || res.Results[1].Output != "b" {
		t.Fatalf("unexpected outputs: %+v", res.Results)
	}

	rec, err := ledger.GetFlowStatus(context.Background(), res.FlowID)
	if err != nil {
		t.Fatalf("GetFlowStatus: %v", err)
	}
	if rec.State != api.StatusCompleted {
		t.Fatalf("ledger state = %s, want completed", rec.State)
	}
}

func TestExecuteFlowAbortsOnFirstFailure(t *testing.T) {
	cap := newScripted("work")
	cap.on("ok", func(int) (any, error) { return "done", nil })
	cap.on("boom", func(int) (any, error) { return nil, errors.New("exploded") })
	cap.on("never", func(int) (any, error) { return nil, nil })

	exec, ledger := newTestExecutor(t, cap)
	def := api.FlowDefinition{Name: "abort", Steps: []api.FlowStep{
		{Capability: "work", Method: "ok"},
		{Capability: "work", Method: "boom"},
		{Capability: "work", Method: "never"},
	}}
	if err := exec.RegisterFlow(def); err != nil {
		t.Fatalf("RegisterFlow: %v", err)
	}

	res, err := exec.ExecuteFlow(context.Background(), "abort", api.Request{})
	if err != nil {
		t.Fatalf("ExecuteFlow: %v", err)
	}
	if res.Success {
		t.Fatal("Success = true for failed flow")
	}
	// Only the step that completed before the failure is preserved.
	if len(res.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(res.Results))
	}
	if res.Results[0].Step != "work.ok" {
		t.Fatalf("preserved step = %s, want work.ok", res.Results[0].Step)
	}
	if cap.count("never") != 0 {
		t.Fatal("step after the failure still ran")
	}

	rec, err := ledger.GetFlowStatus(context.Background(), res.FlowID)
	if err != nil {
		t.Fatalf("GetFlowStatus: %v", err)
	}
	if rec.State != api.StatusFailed {
		t.Fatalf("ledger state = %s, want failed", rec.State)
	}
	if rec.CurrentStep != "work.boom" {
		t.Fatalf("ledger current step = %s, want work.boom", rec.CurrentStep)
	}
}

func TestRetriesExhaustBudget(t *testing.T) {
	cap := newScripted("flaky")
	cap.on("always_fails", func(int) (any, error) { return nil, errors.New("nope") })

	exec, _ := newTestExecutor(t, cap)
	def := api.FlowDefinition{Name: "retrying", Steps: []api.FlowStep{
		{Capability: "flaky", Method: "always_fails", Retries: 2},
	}}
	if err := exec.RegisterFlow(def); err != nil {
		t.Fatalf("RegisterFlow: %v", err)
	}

	res, err := exec.ExecuteFlow(context.Background(), "retrying", api.Request{})
	if err != nil {
		t.Fatalf("ExecuteFlow: %v", err)
	}
	if res.Success {
		t.Fatal("Success = true, want failure")
	}
	// Retries: 2 means one initial attempt plus two retries.
	if got := cap.count("always_fails"); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestRetrySucceedsMidBudget(t *testing.T) {
	cap := newScripted("flaky")
	cap.on("third_time", func(calls int) (any, error) {
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return "finally", nil
	})

	exec, _ := newTestExecutor(t, cap)
	def := api.FlowDefinition{Name: "recovers", Steps: []api.FlowStep{
		{Capability: "flaky", Method: "third_time", Retries: 3},
	}}
	if err := exec.RegisterFlow(def); err != nil {
		t.Fatalf("RegisterFlow: %v", err)
	}

	res, err := exec.ExecuteFlow(context.Background(), "recovers", api.Request{})
	if err != nil {
		t.Fatalf("ExecuteFlow: %v", err)
	}
	if !res.Success {
		t.Fatalf("Success = false, error %q", res.Error)
	}
	if got := cap.count("third_time"); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	if res.Results[0].Output != "finally" {
		t.Fatalf("output = %v, want finally", res.Results[0].Output)
	}
}

func TestFatalErrorSkipsRetries(t *testing.T) {
	cap := newScripted("strict")
	cap.on("misconfigured", func(int) (any, error) {
		return nil, api.NewConfigurationError("bad setup")
	})

	exec, _ := newTestExecutor(t, cap)
	def := api.FlowDefinition{Name: "fatal", Steps: []api.FlowStep{
		{Capability: "strict", Method: "misconfigured", Retries: 5},
	}}
	if err := exec.RegisterFlow(def); err != nil {
		t.Fatalf("RegisterFlow: %v", err)
	}

	res, err := exec.ExecuteFlow(context.Background(), "fatal", api.Request{})
	if err != nil {
		t.Fatalf("ExecuteFlow: %v", err)
	}
	if res.Success {
		t.Fatal("Success = true, want failure")
	}
	if got := cap.count("misconfigured"); got != 1 {
		t.Fatalf("attempts = %d, want 1 (configuration errors are not retried)", got)
	}
}

func TestStepTimeoutCountsAsAttempt(t *testing.T) {
	cap := newScripted("slow")
	cap.onCtx("hang", func(ctx context.Context, _ *api.ExecutionContext) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return "too late", nil
		}
	})

	exec, _ := newTestExecutor(t, cap)
	def := api.FlowDefinition{Name: "timeouts", Steps: []api.FlowStep{
		{Capability: "slow", Method: "hang", Retries: 1, Timeout: 10 * time.Millisecond},
	}}
	if err := exec.RegisterFlow(def); err != nil {
		t.Fatalf("RegisterFlow: %v", err)
	}

	res, err := exec.ExecuteFlow(context.Background(), "timeouts", api.Request{})
	if err != nil {
		t.Fatalf("ExecuteFlow: %v", err)
	}
	if res.Success {
		t.Fatal("Success = true, want timeout failure")
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Fatalf("error = %q, want a timeout", res.Error)
	}
	// Initial attempt plus one retry, both timing out.
	if got := cap.count("hang"); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
}

func TestExecuteUnknownFlow(t *testing.T) {
	exec, _ := newTestExecutor(t)

	_, err := exec.ExecuteFlow(context.Background(), "ghost", api.Request{})
	var nf *api.FlowNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want FlowNotFoundError", err)
	}
}

func TestRegisterFlowValidation(t *testing.T) {
	cap := newScripted("work")
	cap.on("ok", func(int) (any, error) { return nil, nil })
	exec, _ := newTestExecutor(t, cap)

	cases := []struct {
		name string
		def  api.FlowDefinition
	}{
		{"unknown capability", api.FlowDefinition{Name: "a", Steps: []api.FlowStep{
			{Capability: "nope", Method: "ok"},
		}}},
		{"unknown method", api.FlowDefinition{Name: "b", Steps: []api.FlowStep{
			{Capability: "work", Method: "nope"},
		}}},
		{"negative retries", api.FlowDefinition{Name: "c", Steps: []api.FlowStep{
			{Capability: "work", Method: "ok", Retries: -1},
		}}},
		{"no steps", api.FlowDefinition{Name: "d"}},
		{"no name", api.FlowDefinition{Steps: []api.FlowStep{
			{Capability: "work", Method: "ok"},
		}}},
	}
	for _, c := range cases {
		if err := exec.RegisterFlow(c.def); err == nil {
			t.Errorf("%s: RegisterFlow succeeded, want error", c.name)
		}
	}

	good := api.FlowDefinition{Name: "good", Steps: []api.FlowStep{{Capability: "work", Method: "ok"}}}
	if err := exec.RegisterFlow(good); err != nil {
		t.Fatalf("valid flow rejected: %v", err)
	}
	if err := exec.RegisterFlow(good); err == nil {
		t.Fatal("duplicate flow name accepted")
	}
}
