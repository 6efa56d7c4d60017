package api

import (
	"encoding/json"
	"math"

	"sessiond/internal/engine"
	"sessiond/internal/manager"
	"sessiond/pkg/types"
)

// Params are caller tunables after clamping to the manifest.
type Params struct {
	Load        manager.ModelLoadOptions
	Context     manager.ContextOptions
	Temperature float64
	TopK        int
	TopP        float64
	MaxTokens   int
	Seed        int
}

// Clamp resolves v against r. Numbers are limited to [Min, Max]; missing
// values and values of the wrong type take the default. An unset range passes
// numbers through and yields 0 otherwise.
func Clamp(r types.ParamRange, v any) float64 {
	f, ok := toFloat(v)
	if !r.IsSet() {
		if !ok {
			return 0
		}
		return f
	}
	if !ok {
		return r.Default
	}
	return r.Clamp(f)
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// resolveParams validates the backend hint and clamps every numeric tunable.
func (s *Service) resolveParams(mf types.Manifest, p types.ModelProps) (Params, error) {
	hint := p.Backend
	if hint == "" {
		hint = s.cfg.DefaultBackend
	}
	backend, ok := engine.ParseBackend(hint)
	if !ok {
		return Params{}, ErrInvalid("unknown backend " + hint)
	}
	mmap := s.cfg.DefaultUseMMap
	if p.UseMMap != nil {
		mmap = *p.UseMMap
	}
	c := mf.Config
	ctxSize := int(math.Round(Clamp(c.ContextSize, p.ContextSize)))
	if lim := mf.Limits.ContextSize; lim > 0 && ctxSize > lim {
		ctxSize = lim
	}
	return Params{
		Load: manager.ModelLoadOptions{Backend: backend, UseMMap: mmap},
		Context: manager.ContextOptions{
			ContextSize:    ctxSize,
			Threads:        s.cfg.Threads,
			FlashAttention: p.FlashAttention,
		},
		Temperature: Clamp(c.Temperature, p.Temperature),
		TopK:        int(math.Round(Clamp(c.TopK, p.TopK))),
		TopP:        Clamp(c.TopP, p.TopP),
		MaxTokens:   int(math.Round(Clamp(c.MaxTokens, p.MaxTokens))),
		Seed:        p.Seed,
	}, nil
}

// generateOptions builds engine options from clamped params.
func (p Params) generateOptions(mf types.Manifest) engine.GenerateOptions {
	return engine.GenerateOptions{
		Temperature: p.Temperature,
		TopK:        p.TopK,
		TopP:        p.TopP,
		MaxTokens:   p.MaxTokens,
		Seed:        p.Seed,
		Stop:        mf.Stop,
	}
}
