package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/taskbridge/taskbridge/pkg/api"
)

// flowTable holds registered flow definitions by name. Definitions are
// loaded once at startup and immutable afterwards.
type flowTable struct {
	mu     sync.RWMutex
	byName map[string]api.FlowDefinition
}

func newFlowTable() *flowTable {
	return &flowTable{
		byName: make(map[string]api.FlowDefinition),
	}
}

func (t *flowTable) Register(def api.FlowDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("flow name is required")
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("flow %q must have at least one step", def.Name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byName[def.Name]; exists {
		return fmt.Errorf("flow already registered: %s", def.Name)
	}

	t.byName[def.Name] = def
	return nil
}

func (t *flowTable) Get(name string) (api.FlowDefinition, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	def, ok := t.byName[name]
	if !ok {
		return api.FlowDefinition{}, &api.FlowNotFoundError{Flow: name}
	}
	return def, nil
}

func (t *flowTable) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
