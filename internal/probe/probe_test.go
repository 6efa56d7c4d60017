package probe

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"sessiond/internal/engine"
	"sessiond/pkg/types"
)

func fixed(avail bool) Detector {
	return func(context.Context) types.BackendInfo { return types.BackendInfo{Available: avail} }
}

func newTest(cuda, vulkan bool, mem uint64) *Prober {
	return New(Config{
		EngineBuilt: true,
		Detectors: map[engine.Backend]Detector{
			engine.BackendCPU:    fixed(true),
			engine.BackendCUDA:   fixed(cuda),
			engine.BackendVulkan: fixed(vulkan),
			engine.BackendMetal:  fixed(false),
		},
		AvailableMemory: func() (uint64, error) { return mem, nil },
	})
}

func TestSupportedBackendsOrder(t *testing.T) {
	p := newTest(true, true, 1<<34)
	require.Equal(t, []engine.Backend{engine.BackendCUDA, engine.BackendVulkan, engine.BackendCPU}, p.SupportedBackends(context.Background()))
	infos := p.Probe(context.Background())
	require.Len(t, infos, 4)
	require.Equal(t, "metal", infos[1].Kind)
}

func TestProbeCached(t *testing.T) {
	var calls atomic.Int32
	p := New(Config{EngineBuilt: true, Detectors: map[engine.Backend]Detector{
		engine.BackendCPU: func(context.Context) types.BackendInfo {
			calls.Add(1)
			return types.BackendInfo{Available: true}
		},
	}})
	p.Probe(context.Background())
	p.Probe(context.Background())
	require.EqualValues(t, 1, calls.Load())
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	p := newTest(false, true, 1<<34)
	b, err := p.Resolve(ctx, engine.BackendAuto)
	require.NoError(t, err)
	require.Equal(t, engine.BackendVulkan, b)

	b, err = p.Resolve(ctx, engine.BackendCPU)
	require.NoError(t, err)
	require.Equal(t, engine.BackendCPU, b)

	_, err = p.Resolve(ctx, engine.BackendCUDA)
	require.True(t, errors.Is(err, ErrUnsupportedBackend))
}

func TestEngineNotBuilt(t *testing.T) {
	p := New(Config{EngineBuilt: false})
	require.Empty(t, p.SupportedBackends(context.Background()))
	for _, in := range p.Probe(context.Background()) {
		require.False(t, in.Available)
		require.NotEmpty(t, in.Reason)
	}
	_, err := p.Resolve(context.Background(), engine.BackendAuto)
	require.ErrorIs(t, err, ErrUnsupportedBackend)
	require.Zero(t, p.Score(context.Background(), ScoreInput{ModelBytes: 1}))
}

func TestNewDefault(t *testing.T) {
	p := NewDefault(1<<30, nil)
	require.Equal(t, engine.LlamaBuilt, p.cfg.EngineBuilt)
	require.Equal(t, uint64(1<<30), p.cfg.VRAMBudgetBytes)
	require.Len(t, p.Probe(context.Background()), 4)
}

func TestScore(t *testing.T) {
	ctx := context.Background()
	const gib = 1 << 30
	p := newTest(false, false, 16*gib)

	small := ScoreInput{ModelBytes: 1 * gib, ContextSize: 2048}
	require.Equal(t, 1.0, p.Score(ctx, small))

	huge := ScoreInput{ModelBytes: 40 * gib, ContextSize: 2048}
	require.Equal(t, 0.0, p.Score(ctx, huge))

	mid := ScoreInput{ModelBytes: 14 * gib, ContextSize: 4096}
	s := p.Score(ctx, mid)
	require.Greater(t, s, 0.0)
	require.Less(t, s, 1.0)

	mid.FlashAttention = true
	require.GreaterOrEqual(t, p.Score(ctx, mid), s, "flash attention never hurts the fit")

	mid.Backend = engine.BackendCUDA
	require.Zero(t, p.Score(ctx, mid), "unavailable backend scores 0")
}

func TestScoreUsesVRAMBudget(t *testing.T) {
	const gib = 1 << 30
	p := newTest(true, false, 64*gib)
	p.cfg.VRAMBudgetBytes = 2 * gib
	in := ScoreInput{ModelBytes: 8 * gib, ContextSize: 2048, Backend: engine.BackendCUDA}
	require.Zero(t, p.Score(context.Background(), in))
	in.Backend = engine.BackendCPU
	require.Equal(t, 1.0, p.Score(context.Background(), in))
}

func TestEstimateDefaultsContextFromManifest(t *testing.T) {
	m := types.Manifest{Config: types.ModelConfig{ContextSize: types.ParamRange{Min: 1, Default: 1024, Max: 4096}}}
	a := Estimate(ScoreInput{ModelBytes: 1 << 30, Manifest: m})
	b := Estimate(ScoreInput{ModelBytes: 1 << 30, Manifest: m, ContextSize: 1024})
	require.Equal(t, a, b)
	c := Estimate(ScoreInput{ModelBytes: 1 << 30, Manifest: m, ContextSize: 1024, FlashAttention: true})
	require.Less(t, c, b)
}
