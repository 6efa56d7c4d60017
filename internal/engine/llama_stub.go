//go:build !llama

package engine

// This file provides a no-CGO stub for the llama engine. It is compiled when
// the 'llama' build tag is NOT set, keeping default builds and CI CGO-free.
// The real binding lives in llama.go (tagged 'llama').

import (
	"context"
	"fmt"
)

// LlamaBuilt indicates this binary was compiled with real llama support.
const LlamaBuilt = false

type stubEngine struct{}

// New returns an engine that refuses to load models in this build.
func New(threads int) Engine { return stubEngine{} }

func (stubEngine) LoadModel(ctx context.Context, p LoadParams) (Model, error) {
	return nil, fmt.Errorf("%w: llama support not built (missing 'llama' build tag)", ErrUnavailable)
}

func (stubEngine) Close() error { return nil }
