package probe

import (
	"context"

	"sessiond/internal/engine"
	"sessiond/pkg/types"
)

const (
	// kvBytesPerTokenDivisor approximates f16 KV cache bytes per token from
	// the weight file size (about 512 KiB/token for a 4 GiB 7B model).
	kvBytesPerTokenDivisor = 8000
	minKVBytesPerToken     = 16 << 10
	runtimeOverheadBytes   = 256 << 20

	// Below comfortRatio a configuration scores 1; at overRatio it scores 0.
	comfortRatio = 0.8
	overRatio    = 2.0
)

// ScoreInput describes a candidate model configuration.
type ScoreInput struct {
	ModelBytes     int64
	Manifest       types.Manifest
	Backend        engine.Backend
	FlashAttention bool
	ContextSize    int
}

// Estimate returns the expected resident bytes of a configuration.
func Estimate(in ScoreInput) uint64 {
	weights := uint64(max(in.ModelBytes, 0))
	perToken := max(weights/kvBytesPerTokenDivisor, minKVBytesPerToken)
	ctx := in.ContextSize
	if ctx <= 0 {
		ctx = int(in.Manifest.Config.ContextSize.Default)
	}
	kv := perToken * uint64(max(ctx, 0))
	if in.FlashAttention {
		kv /= 2
	}
	return weights + weights/10 + kv + runtimeOverheadBytes
}

// Score rates in [0, 1] how well in fits the memory of its backend.
// 1 fits with margin, 0 is unusable or needs at least twice the budget.
func (p *Prober) Score(ctx context.Context, in ScoreInput) float64 {
	backend, err := p.Resolve(ctx, in.Backend)
	if err != nil {
		return 0
	}
	in.Backend = backend
	var budget uint64
	if backend != engine.BackendCPU && p.cfg.VRAMBudgetBytes > 0 {
		budget = p.cfg.VRAMBudgetBytes
	} else {
		budget, err = p.cfg.AvailableMemory()
		if err != nil || budget == 0 {
			p.log.Debug().Err(err).Msg("available memory unknown; neutral score")
			return 0.5
		}
	}
	ratio := float64(Estimate(in)) / float64(budget)
	switch {
	case ratio <= comfortRatio:
		return 1
	case ratio >= overRatio:
		return 0
	default:
		return (overRatio - ratio) / (overRatio - comfortRatio)
	}
}
