// Package probe reports which acceleration backends this machine can use
// and estimates how well a model configuration fits in memory.
package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"sessiond/internal/engine"
	"sessiond/pkg/types"
)

// ErrUnsupportedBackend is returned when the requested backend is not usable here.
var ErrUnsupportedBackend = errors.New("unsupported backend")

// Detector inspects the machine for one backend.
type Detector func(ctx context.Context) types.BackendInfo

// order is both the report order and the auto-resolution preference.
var order = []engine.Backend{engine.BackendCUDA, engine.BackendMetal, engine.BackendVulkan, engine.BackendCPU}

// Config tunes a Prober. Zero values use the machine probes.
type Config struct {
	// EngineBuilt is false when the binary carries no inference engine;
	// every backend is then reported unavailable.
	EngineBuilt bool
	Detectors   map[engine.Backend]Detector
	// AvailableMemory reports usable system memory in bytes.
	AvailableMemory func() (uint64, error)
	// VRAMBudgetBytes is used instead of system memory for GPU backends when set.
	VRAMBudgetBytes uint64
	Logger          *zerolog.Logger
}

// Prober probes once and caches the result.
type Prober struct {
	cfg Config
	log zerolog.Logger

	mu    sync.Mutex
	infos []types.BackendInfo
}

// New constructs a Prober.
func New(cfg Config) *Prober {
	if cfg.Detectors == nil {
		cfg.Detectors = map[engine.Backend]Detector{
			engine.BackendCPU:    detectCPU,
			engine.BackendCUDA:   detectCUDA,
			engine.BackendVulkan: detectVulkan,
			engine.BackendMetal:  detectMetal,
		}
	}
	if cfg.AvailableMemory == nil {
		cfg.AvailableMemory = availableMemory
	}
	p := &Prober{cfg: cfg, log: zerolog.Nop()}
	if cfg.Logger != nil {
		p.log = cfg.Logger.With().Str("component", "probe").Logger()
	}
	return p
}

// NewDefault probes the real machine for the engine compiled into this binary.
// vramBudget caps GPU memory for scoring; 0 falls back to system memory.
func NewDefault(vramBudget uint64, logger *zerolog.Logger) *Prober {
	return New(Config{EngineBuilt: engine.LlamaBuilt, VRAMBudgetBytes: vramBudget, Logger: logger})
}

// Probe returns the availability of every known backend.
func (p *Prober) Probe(ctx context.Context) []types.BackendInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.infos != nil {
		return append([]types.BackendInfo(nil), p.infos...)
	}
	infos := make([]types.BackendInfo, len(order))
	if !p.cfg.EngineBuilt {
		for i, b := range order {
			infos[i] = types.BackendInfo{Kind: string(b), Reason: "inference engine not compiled in (build with -tags llama)"}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for i, b := range order {
			i, b := i, b
			det := p.cfg.Detectors[b]
			if det == nil {
				infos[i] = types.BackendInfo{Kind: string(b), Reason: "no detector"}
				continue
			}
			g.Go(func() error {
				info := det(gctx)
				info.Kind = string(b)
				infos[i] = info
				return nil
			})
		}
		_ = g.Wait()
	}
	if ctx.Err() != nil {
		// partial results are not cached
		return infos
	}
	p.infos = infos
	for _, in := range infos {
		p.log.Debug().Str("backend", in.Kind).Bool("available", in.Available).Str("device", in.Device).Str("reason", in.Reason).Msg("probed backend")
	}
	return append([]types.BackendInfo(nil), infos...)
}

// SupportedBackends lists the usable backends in preference order.
func (p *Prober) SupportedBackends(ctx context.Context) []engine.Backend {
	var out []engine.Backend
	for _, in := range p.Probe(ctx) {
		if in.Available {
			out = append(out, engine.Backend(in.Kind))
		}
	}
	return out
}

// Resolve maps requested to a concrete usable backend. Auto picks the most
// preferred available one.
func (p *Prober) Resolve(ctx context.Context, requested engine.Backend) (engine.Backend, error) {
	supported := p.SupportedBackends(ctx)
	if requested == "" || requested == engine.BackendAuto {
		if len(supported) == 0 {
			return "", fmt.Errorf("%w: no backend available", ErrUnsupportedBackend)
		}
		return supported[0], nil
	}
	for _, b := range supported {
		if b == requested {
			return b, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedBackend, requested)
}

func detectCPU(context.Context) types.BackendInfo {
	return types.BackendInfo{Available: true, Device: fmt.Sprintf("%s/%s, %d threads", runtime.GOOS, runtime.GOARCH, runtime.NumCPU())}
}

func detectCUDA(ctx context.Context) types.BackendInfo {
	if runtime.GOOS == "darwin" {
		return types.BackendInfo{Reason: "not supported on darwin"}
	}
	_, devErr := os.Stat("/dev/nvidia0")
	smi, smiErr := exec.LookPath("nvidia-smi")
	if devErr != nil && smiErr != nil {
		return types.BackendInfo{Reason: "no NVIDIA device found"}
	}
	info := types.BackendInfo{Available: true}
	if smiErr == nil {
		cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		out, err := exec.CommandContext(cctx, smi, "--query-gpu=name", "--format=csv,noheader").Output()
		if err == nil {
			info.Device = strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
		}
	}
	return info
}

var vulkanLibs = []string{
	"/usr/lib/x86_64-linux-gnu/libvulkan.so.1",
	"/usr/lib/aarch64-linux-gnu/libvulkan.so.1",
	"/usr/lib64/libvulkan.so.1",
	"/usr/lib/libvulkan.so.1",
	`C:\Windows\System32\vulkan-1.dll`,
}

func detectVulkan(context.Context) types.BackendInfo {
	if _, err := exec.LookPath("vulkaninfo"); err == nil {
		return types.BackendInfo{Available: true}
	}
	for _, lib := range vulkanLibs {
		if _, err := os.Stat(lib); err == nil {
			return types.BackendInfo{Available: true, Device: lib}
		}
	}
	return types.BackendInfo{Reason: "vulkan loader not found"}
}

func detectMetal(context.Context) types.BackendInfo {
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return types.BackendInfo{Available: true, Device: "Apple Silicon"}
	}
	return types.BackendInfo{Reason: "requires Apple Silicon"}
}
