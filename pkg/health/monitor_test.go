package health

import (
	"context"
	"sync"
	"testing"

	"github.com/cuemby/replicator/pkg/topology"
	"github.com/cuemby/replicator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedChecker returns the queued outcomes in order, then repeats the last
type scriptedChecker struct {
	mu       sync.Mutex
	outcomes []bool
}

func (c *scriptedChecker) Check(ctx context.Context) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	healthy := c.outcomes[0]
	if len(c.outcomes) > 1 {
		c.outcomes = c.outcomes[1:]
	}
	return Result{Healthy: healthy, Message: "scripted"}
}

func (c *scriptedChecker) Type() CheckType { return CheckTypeTCP }

func TestStatusUpdate(t *testing.T) {
	cfg := Config{Retries: 2}
	s := NewStatus()

	assert.False(t, s.Update(Result{Healthy: false}, cfg))
	assert.True(t, s.Healthy)
	assert.True(t, s.Update(Result{Healthy: false}, cfg))
	assert.False(t, s.Healthy)
	assert.False(t, s.Update(Result{Healthy: false}, cfg))
	assert.Equal(t, 3, s.ConsecutiveFailures)

	assert.True(t, s.Update(Result{Healthy: true}, cfg))
	assert.True(t, s.Healthy)
	assert.Equal(t, 0, s.ConsecutiveFailures)
	assert.Equal(t, 1, s.ConsecutiveSuccesses)
}

func TestStatusUpdate_ZeroRetriesBansOnFirstFailure(t *testing.T) {
	s := NewStatus()
	assert.True(t, s.Update(Result{Healthy: false}, Config{}))
	assert.False(t, s.Healthy)
}

func TestMonitor_BansAndRestores(t *testing.T) {
	ctx := context.Background()
	topo := topology.New([]topology.StorageElement{
		{Name: "CERN-disk", Sites: []string{"LCG.CERN.ch"}, WriteStatus: types.SEStatusBad},
		{Name: "RAL-disk", Sites: []string{"LCG.RAL.uk"}},
	})
	cern := &scriptedChecker{outcomes: []bool{false, false, true}}
	ral := &scriptedChecker{outcomes: []bool{true}}

	m := NewMonitor(topo, Config{Retries: 2}, []Target{
		{SE: "CERN-disk", Checker: cern},
		{SE: "RAL-disk", Checker: ral},
	})

	status := func(se string, mode types.AccessMode) types.SEStatus {
		s, err := topo.GetStorageElementStatus(ctx, se, mode)
		require.NoError(t, err)
		return s
	}

	m.CheckAll(ctx)
	assert.True(t, m.Healthy("CERN-disk"))
	assert.Equal(t, types.SEStatusActive, status("CERN-disk", types.AccessRead))

	m.CheckAll(ctx)
	assert.False(t, m.Healthy("CERN-disk"))
	assert.Equal(t, types.SEStatusBanned, status("CERN-disk", types.AccessRead))
	assert.Equal(t, types.SEStatusBanned, status("CERN-disk", types.AccessWrite))
	assert.Equal(t, types.SEStatusActive, status("RAL-disk", types.AccessWrite))

	m.CheckAll(ctx)
	assert.True(t, m.Healthy("CERN-disk"))
	assert.Equal(t, types.SEStatusActive, status("CERN-disk", types.AccessRead))
	assert.Equal(t, types.SEStatusBad, status("CERN-disk", types.AccessWrite))

	assert.True(t, m.Healthy("unknown"))
}

func TestMonitor_StartStop(t *testing.T) {
	topo := topology.New([]topology.StorageElement{{Name: "CERN-disk", Sites: []string{"LCG.CERN.ch"}}})
	m := NewMonitor(topo, DefaultConfig(), []Target{
		{SE: "CERN-disk", Checker: &scriptedChecker{outcomes: []bool{true}}},
	})
	m.Start()
	m.Stop()
	m.Stop()
}

func TestMonitor_StopWithoutStart(t *testing.T) {
	m := NewMonitor(topology.New(nil), DefaultConfig(), nil)
	m.Stop()
}
