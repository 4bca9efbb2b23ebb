package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/taskbridge/taskbridge/pkg/api"
)

func TestObserverCountsFlows(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewObserver(reg)
	ctx := context.Background()

	ec := &api.ExecutionContext{FlowName: "full-sync", FlowID: "f-1"}
	obs.OnFlowStart(ctx, ec)
	obs.OnFlowCompleted(ctx, ec)

	failedEC := &api.ExecutionContext{FlowName: "pull-sync", FlowID: "f-2"}
	obs.OnFlowStart(ctx, failedEC)
	obs.OnFlowFailed(ctx, failedEC, errors.New("boom"))

	require.Equal(t, 1.0, testutil.ToFloat64(obs.flowsStarted.WithLabelValues("full-sync")))
	require.Equal(t, 1.0, testutil.ToFloat64(obs.flowsCompleted.WithLabelValues("full-sync")))
	require.Equal(t, 0.0, testutil.ToFloat64(obs.flowsFailed.WithLabelValues("full-sync")))
	require.Equal(t, 1.0, testutil.ToFloat64(obs.flowsFailed.WithLabelValues("pull-sync")))
}

func TestObserverRecordsStepOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewObserver(reg)
	ctx := context.Background()

	ec := &api.ExecutionContext{FlowName: "full-sync", FlowID: "f-1"}
	step := api.FlowStep{Capability: "sync", Method: "sync_all"}

	obs.OnStepCompleted(ctx, ec, step, 1, nil, 120*time.Millisecond)
	obs.OnStepCompleted(ctx, ec, step, 3, errors.New("gave up"), 900*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]bool{}
	for _, f := range families {
		byName[f.GetName()] = true
	}
	require.True(t, byName["taskbridge_step_duration_seconds"])
	require.True(t, byName["taskbridge_step_attempts"])

	// One success and one failure series under distinct outcome labels.
	count := testutil.CollectAndCount(obs.stepDuration, "taskbridge_step_duration_seconds")
	require.Equal(t, 2, count)
}

func TestObserverRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewObserver(reg)

	require.Panics(t, func() { NewObserver(reg) })
}
