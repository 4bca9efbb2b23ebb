package api

import (
	"context"
	"errors"
	"testing"
)

type fakeCapability struct {
	name      string
	methods   map[string]MethodFunc
	healthErr error
	panics    bool
}

func (f *fakeCapability) Name() string                   { return f.name }
func (f *fakeCapability) Methods() map[string]MethodFunc { return f.methods }

func (f *fakeCapability) HealthCheck(context.Context) error {
	if f.panics {
		panic("health check blew up")
	}
	return f.healthErr
}

func TestRegistryInvoke(t *testing.T) {
	reg := NewRegistry()
	cap := &fakeCapability{
		name: "echo",
		methods: map[string]MethodFunc{
			"say": func(ctx context.Context, ec *ExecutionContext) (any, error) {
				return ec.Request.TaskID, nil
			},
		},
	}
	if err := reg.Register(cap); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ec := &ExecutionContext{Request: Request{TaskID: "42"}}
	out, err := reg.Invoke(context.Background(), "echo", "say", ec)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "42" {
		t.Fatalf("Invoke output = %v, want 42", out)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	cap := &fakeCapability{name: "dup"}
	if err := reg.Register(cap); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := reg.Register(cap); err == nil {
		t.Fatal("second Register succeeded, want error")
	}
}

func TestRegistryUnknownCapability(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Invoke(context.Background(), "nope", "anything", &ExecutionContext{})

	var cnf *CapabilityNotFoundError
	if !errors.As(err, &cnf) {
		t.Fatalf("err = %v, want CapabilityNotFoundError", err)
	}
	if !Fatal(err) {
		t.Fatal("capability-not-found must be fatal")
	}
}

func TestRegistryUnknownMethod(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&fakeCapability{name: "echo", methods: map[string]MethodFunc{}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := reg.Invoke(context.Background(), "echo", "missing", &ExecutionContext{})

	var mnf *MethodNotFoundError
	if !errors.As(err, &mnf) {
		t.Fatalf("err = %v, want MethodNotFoundError", err)
	}
	if !Fatal(err) {
		t.Fatal("method-not-found must be fatal")
	}
}

type rejectAllConfig struct{}

func (rejectAllConfig) Validate() error { return errors.New("never valid") }

func TestRegistryValidateStep(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(&fakeCapability{
		name: "echo",
		methods: map[string]MethodFunc{
			"say": func(context.Context, *ExecutionContext) (any, error) { return nil, nil },
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := reg.ValidateStep(FlowStep{Capability: "echo", Method: "say"}); err != nil {
		t.Fatalf("valid step rejected: %v", err)
	}
	if err := reg.ValidateStep(FlowStep{Capability: "echo", Method: "shout"}); err == nil {
		t.Fatal("unknown method accepted")
	}

	err = reg.ValidateStep(FlowStep{Capability: "echo", Method: "say", Config: rejectAllConfig{}})
	if !IsConfigurationError(err) {
		t.Fatalf("invalid config: err = %v, want ConfigurationError", err)
	}
}

func TestRegistryHealthCheck(t *testing.T) {
	reg := NewRegistry()
	for _, cap := range []*fakeCapability{
		{name: "healthy"},
		{name: "sick", healthErr: errors.New("down")},
		{name: "panicky", panics: true},
	} {
		if err := reg.Register(cap); err != nil {
			t.Fatalf("Register(%s): %v", cap.name, err)
		}
	}

	got := reg.HealthCheck(context.Background())
	want := map[string]bool{"healthy": true, "sick": false, "panicky": false}
	for name, ok := range want {
		if got[name] != ok {
			t.Errorf("HealthCheck[%s] = %v, want %v", name, got[name], ok)
		}
	}
}
