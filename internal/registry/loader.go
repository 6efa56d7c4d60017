package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sessiond/internal/common/fsutil"
	"sessiond/internal/config"
	"sessiond/pkg/types"
)

// DefaultConfig is the tuning envelope given to models without a manifest
// and to manifests that leave a range out.
var DefaultConfig = types.ModelConfig{
	Temperature: types.ParamRange{Min: 0, Default: 0.8, Max: 2},
	TopK:        types.ParamRange{Min: 1, Default: 40, Max: 200},
	TopP:        types.ParamRange{Min: 0, Default: 0.95, Max: 1},
	ContextSize: types.ParamRange{Min: 128, Default: 2048, Max: 32768},
	MaxTokens:   types.ParamRange{Min: 1, Default: 512, Max: 8192},
}

// AllOperations is assumed when a manifest does not list its operations.
var AllOperations = []types.Operation{types.OpPrompt, types.OpChat, types.OpEmbed, types.OpTokenize}

// Scan reads every manifest (*.yaml, *.yml, *.json, *.toml) in dir and
// synthesizes a manifest for each *.gguf file no manifest references.
// The synthesized ID is the full filename. Manifests that fail to decode are
// skipped and reported in the joined error alongside the successful results.
func Scan(dir string) ([]types.Manifest, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var (
		out      []types.Manifest
		ggufs    []string
		problems []error
		claimed  = map[string]bool{}
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		switch {
		case strings.EqualFold(ext, ".gguf"):
			ggufs = append(ggufs, name)
		case config.Supported(ext):
			m, err := readManifestFile(filepath.Join(abs, name))
			if err != nil {
				problems = append(problems, err)
				continue
			}
			claimed[filepath.Clean(m.Assets.Model)] = true
			out = append(out, m)
		}
	}
	for _, name := range ggufs {
		if claimed[name] {
			continue
		}
		out = append(out, synthesize(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, errors.Join(problems...)
}

func readManifestFile(path string) (types.Manifest, error) {
	var m types.Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := config.Unmarshal(filepath.Ext(path), b, &m); err != nil {
		return m, fmt.Errorf("manifest %s: %w", filepath.Base(path), err)
	}
	if m.ID == "" {
		return m, fmt.Errorf("manifest %s: missing id", filepath.Base(path))
	}
	if m.Assets.Model == "" {
		return m, fmt.Errorf("manifest %s: missing assets.model", filepath.Base(path))
	}
	applyDefaults(&m)
	return m, nil
}

func synthesize(file string) types.Manifest {
	m := types.Manifest{ID: file, Name: file, Assets: types.ManifestAssets{Model: file}}
	applyDefaults(&m)
	return m
}

func applyDefaults(m *types.Manifest) {
	if m.Name == "" {
		m.Name = m.ID
	}
	if m.Format == "" {
		m.Format = "gguf"
	}
	if len(m.Operations) == 0 {
		m.Operations = append([]types.Operation(nil), AllOperations...)
	}
	fill := func(r *types.ParamRange, def types.ParamRange) {
		if !r.IsSet() {
			*r = def
		}
	}
	fill(&m.Config.Temperature, DefaultConfig.Temperature)
	fill(&m.Config.TopK, DefaultConfig.TopK)
	fill(&m.Config.TopP, DefaultConfig.TopP)
	fill(&m.Config.ContextSize, DefaultConfig.ContextSize)
	fill(&m.Config.MaxTokens, DefaultConfig.MaxTokens)
	if m.Limits.ContextSize == 0 {
		m.Limits.ContextSize = int(m.Config.ContextSize.Max)
	}
}
