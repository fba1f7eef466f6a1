package strategy

import (
	"testing"

	"github.com/containerd/errdefs"
	"github.com/cuemby/replicator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw       string
		name      Name
		sigma     *float64
		expectErr bool
	}{
		{raw: "Simple", name: Simple},
		{raw: "Swarm", name: Swarm},
		{raw: " DynamicThroughput ", name: DynamicThroughput},
		{raw: "MinimiseTotalWait", name: MinimiseTotalWait},
		{raw: "MinimiseTotalWait_2.5", name: MinimiseTotalWait, sigma: ptr(2.5)},
		{raw: "DynamicThroughput_0", name: DynamicThroughput, sigma: ptr(0)},
		{raw: "MinimiseTotalWait_fast", expectErr: true},
		{raw: "MinimiseTotalWait_-1", expectErr: true},
		{raw: "Swarm_1", expectErr: true},
		{raw: "ReplicateAndRegister", expectErr: true},
		{raw: "", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			spec, err := Parse(tt.raw)
			if tt.expectErr {
				require.Error(t, err)
				assert.True(t, types.IsKind(err, types.KindConfiguration))
				assert.True(t, errdefs.IsInvalidArgument(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, spec.Name)
			assert.Equal(t, tt.sigma, spec.SigmaOverride)
		})
	}
}

func TestSpecString(t *testing.T) {
	assert.Equal(t, "Simple", Spec{Name: Simple}.String())
	assert.Equal(t, "MinimiseTotalWait_2.5", MustParse("MinimiseTotalWait_2.5").String())
	assert.Equal(t, 2.5, MustParse("MinimiseTotalWait_2.5").Sigma(7))
	assert.Equal(t, 7.0, MustParse("MinimiseTotalWait").Sigma(7))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.SchedulingType = "Bandwidth"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ActiveStrategies = nil
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.AcceptableFailureRate = 120
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.HopSigma = -1
	assert.Error(t, cfg.Validate())

	_, err := NewHandler(cfg, nil)
	assert.True(t, types.IsKind(err, types.KindConfiguration))
}

func ptr(f float64) *float64 {
	return &f
}
