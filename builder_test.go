package taskbridge

import (
	"testing"
	"time"

	"github.com/taskbridge/taskbridge/pkg/api"
)

type captureRegistrar struct {
	defs []api.FlowDefinition
}

func (c *captureRegistrar) RegisterFlow(def api.FlowDefinition) error {
	c.defs = append(c.defs, def)
	return nil
}

type noopConfig struct{}

func (noopConfig) Validate() error { return nil }

func TestFlowBuilderBuildsDefinition(t *testing.T) {
	flow := NewFlow("nightly").
		Step("sync", "sync_all", noopConfig{}, Retry(2).WithTimeout(time.Minute)).
		Step("staging", "review_batch", nil, Timeout(30*time.Second)).
		Step("staging", "list_pending", nil)

	def := flow.Definition()
	if def.Name != "nightly" {
		t.Fatalf("name = %q", def.Name)
	}
	if len(def.Steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(def.Steps))
	}

	first := def.Steps[0]
	if first.Capability != "sync" || first.Method != "sync_all" {
		t.Fatalf("first step = %s.%s", first.Capability, first.Method)
	}
	if first.Retries != 2 || first.Timeout != time.Minute {
		t.Fatalf("first step policy = %d retries, %v timeout", first.Retries, first.Timeout)
	}

	second := def.Steps[1]
	if second.Retries != 0 || second.Timeout != 30*time.Second {
		t.Fatalf("second step policy = %d retries, %v timeout", second.Retries, second.Timeout)
	}

	third := def.Steps[2]
	if third.Retries != 0 || third.Timeout != 0 {
		t.Fatalf("third step policy = %d retries, %v timeout", third.Retries, third.Timeout)
	}
}

func TestFlowBuilderRegister(t *testing.T) {
	reg := &captureRegistrar{}
	err := NewFlow("demo").
		Step("sync", "pull", nil).
		Register(reg)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(reg.defs) != 1 || reg.defs[0].Name != "demo" {
		t.Fatalf("registered defs = %+v", reg.defs)
	}
}

func TestFlowBuilderPanicsOnBadStep(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("empty capability did not panic")
		}
	}()
	NewFlow("bad").Step("", "method", nil)
}

func TestRetryClampsNegative(t *testing.T) {
	var step api.FlowStep
	Retry(-3).applyStep(&step)
	if step.Retries != 0 {
		t.Fatalf("retries = %d, want 0", step.Retries)
	}
}

func TestRegisterBuiltinFlows(t *testing.T) {
	reg := &captureRegistrar{}
	if err := RegisterBuiltinFlows(reg, "bidirectional", 25); err != nil {
		t.Fatalf("RegisterBuiltinFlows: %v", err)
	}

	want := map[string]bool{
		FlowFullSync:    true,
		FlowPullSync:    true,
		FlowReviewBatch: true,
		FlowPromoteTask: true,
	}
	for _, def := range reg.defs {
		if !want[def.Name] {
			t.Errorf("unexpected flow %q", def.Name)
		}
		delete(want, def.Name)
		if len(def.Steps) == 0 {
			t.Errorf("flow %q has no steps", def.Name)
		}
	}
	if len(want) != 0 {
		t.Fatalf("missing flows: %v", want)
	}
}
