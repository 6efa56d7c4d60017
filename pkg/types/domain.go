package types

// Operation names a kind of work a model can perform.
type Operation string

const (
	OpPrompt   Operation = "prompt"
	OpChat     Operation = "chat"
	OpEmbed    Operation = "embed"
	OpTokenize Operation = "tokenize"
)

// ParamRange declares the accepted [min, default, max] for a tunable parameter.
// The zero value means the manifest does not constrain the parameter.
type ParamRange struct {
	Min     float64 `json:"min" yaml:"min" toml:"min"`
	Default float64 `json:"default" yaml:"default" toml:"default"`
	Max     float64 `json:"max" yaml:"max" toml:"max"`
}

// IsSet reports whether the range carries any bound.
func (r ParamRange) IsSet() bool { return r != ParamRange{} }

// Clamp limits v to [Min, Max].
func (r ParamRange) Clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// ModelConfig holds the tunable parameter ranges of a model.
type ModelConfig struct {
	Temperature ParamRange `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopK        ParamRange `json:"top_k" yaml:"top_k" toml:"top_k"`
	TopP        ParamRange `json:"top_p" yaml:"top_p" toml:"top_p"`
	ContextSize ParamRange `json:"context_size" yaml:"context_size" toml:"context_size"`
	MaxTokens   ParamRange `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
}

// TokenLimits are hard token bounds declared by the model.
type TokenLimits struct {
	MaxInputTokens int `json:"max_input_tokens" yaml:"max_input_tokens" toml:"max_input_tokens"`
	ContextSize    int `json:"context_size" yaml:"context_size" toml:"context_size"`
}

// ManifestAssets lists asset paths relative to the models directory.
type ManifestAssets struct {
	Model    string   `json:"model" yaml:"model" toml:"model"`
	Adapters []string `json:"adapters,omitempty" yaml:"adapters,omitempty" toml:"adapters,omitempty"`
}

// Manifest describes a catalog entry: what it can do, how it may be tuned and where its files live.
type Manifest struct {
	// Stable identifier, typically owner/repo/format.
	// example: acme/tiny-chat/gguf
	ID           string         `json:"id" yaml:"id" toml:"id" example:"acme/tiny-chat/gguf"`
	Name         string         `json:"name" yaml:"name" toml:"name" example:"Tiny Chat"`
	Format       string         `json:"format" yaml:"format" toml:"format" example:"gguf"`
	Assets       ManifestAssets `json:"assets" yaml:"assets" toml:"assets"`
	Config       ModelConfig    `json:"config" yaml:"config" toml:"config"`
	Limits       TokenLimits    `json:"limits" yaml:"limits" toml:"limits"`
	Stop         []string       `json:"stop,omitempty" yaml:"stop,omitempty" toml:"stop,omitempty"`
	Operations   []Operation    `json:"operations" yaml:"operations" toml:"operations"`
	ChatTemplate string         `json:"chat_template,omitempty" yaml:"chat_template,omitempty" toml:"chat_template,omitempty"`
}

// Supports reports whether the manifest declares op.
func (m *Manifest) Supports(op Operation) bool {
	for _, o := range m.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// Model is the listing view of a catalog entry returned by GET /models.
type Model struct {
	// Stable identifier for the model.
	// example: acme/tiny-chat/gguf
	ID string `json:"id" example:"acme/tiny-chat/gguf"`
	// Human-friendly name.
	// example: Tiny Chat
	Name string `json:"name" example:"Tiny Chat"`
	// Absolute path to the model weights on disk.
	// example: /home/user/models/tiny-chat.Q4_K_M.gguf
	Path string `json:"path" example:"/home/user/models/tiny-chat.Q4_K_M.gguf"`
	// Model file format.
	// example: gguf
	Format string `json:"format" example:"gguf"`
	// Operations the model supports.
	Operations []Operation `json:"operations"`
}
