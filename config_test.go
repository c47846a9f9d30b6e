package qrnes

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPlanConfig() PlanConfig {
	cfg := DefaultPlanConfig()
	cfg.NetSize = 20
	cfg.Seed = 1
	cfg.Groups = 4
	cfg.MemoSize = 2
	cfg.QCLength = 1
	cfg.QCAtten = 0.0002
	cfg.CCDelay = 1
	return cfg
}

func TestPlanConfigValidate(t *testing.T) {
	cfg := validPlanConfig()
	require.NoError(t, cfg.Validate())

	cfg.Groups = 21
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = validPlanConfig()
	cfg.Alpha = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = validPlanConfig()
	cfg.NetSize = 1
	cfg.Groups = 1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = validPlanConfig()
	cfg.Output = ""
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "Output")
}

func TestParallelConfigValidate(t *testing.T) {
	cfg := validPlanConfig()
	cfg.Parallel = &ParallelCfg{IP: "127.0.0.1", Port: 6789, ProcNum: 4, Sync: true, Lookahead: 10}
	require.NoError(t, cfg.Validate())

	cfg.Parallel.IP = "localhost"
	require.NoError(t, cfg.Validate())

	cfg.Parallel.ProcNum = 3
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrProcCountMismatch)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg.Parallel.ProcNum = 4
	cfg.Parallel.Port = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg.Parallel.Port = 6789
	cfg.Parallel.IP = "not a host!"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestPlanConfigAnneal(t *testing.T) {
	cfg := validPlanConfig()
	opts := cfg.PartitionOpts()
	assert.Nil(t, opts.Schedule)
	assert.Equal(t, DefaultAnnealBudget, opts.Budget)

	cfg.AnnealSteps = 500
	opts = cfg.PartitionOpts()
	require.NotNil(t, opts.Schedule)
	assert.Equal(t, AnnealSchedule{Tmax: DefaultAnnealTmax, Tmin: DefaultAnnealTmin, Steps: 500}, *opts.Schedule)

	cfg.AnnealTmax = 1
	cfg.AnnealTmin = 2
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestPlanConfigDerived(t *testing.T) {
	cfg := validPlanConfig()
	assert.True(t, math.IsInf(cfg.StopSeconds(), 1))
	cfg.Stop = 3
	assert.Equal(t, 3.0, cfg.StopSeconds())

	assert.Equal(t, 20, cfg.FlowCount())
	cfg.TotalFlows = 7
	assert.Equal(t, 7, cfg.FlowCount())
}

func TestReadPlanConfig(t *testing.T) {
	dict := []byte("net_size: 50\nseed: 9\ngroup_n: 5\nalpha: 0.5\nmemo_size: 3\n")
	cfg, err := ReadPlanConfig("inline.yaml", true, dict)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.NetSize)
	assert.Equal(t, int64(9), cfg.Seed)
	assert.Equal(t, 5, cfg.Groups)
	assert.Equal(t, 0.5, cfg.Alpha)
	assert.Equal(t, "out.json", cfg.Output)
	assert.Equal(t, DefaultAttach, cfg.Attach)
	require.NoError(t, cfg.Validate())

	for _, name := range []string{"plan.json", "plan.yaml"} {
		filename := filepath.Join(t.TempDir(), name)
		require.NoError(t, cfg.WriteToFile(filename))
		back, err := ReadPlanConfig(filename, isYAMLFile(filename), nil)
		require.NoError(t, err)
		assert.Equal(t, cfg, back)
	}

	_, err = ReadPlanConfig(filepath.Join(t.TempDir(), "missing.json"), false, nil)
	assert.Error(t, err)
	_, err = ReadPlanConfig("bad.json", false, []byte("{"))
	assert.Error(t, err)
}

func TestSimConfigValidate(t *testing.T) {
	cfg := DefaultSimConfig()
	require.NoError(t, cfg.Validate())
	cfg.LinkProb = 1.5
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	cfg = DefaultSimConfig()
	cfg.MaxHops = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}
