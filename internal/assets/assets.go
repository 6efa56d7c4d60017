// Package assets resolves model files and keeps the small amount of state
// the daemon persists: model usage bookkeeping and chat-history blobs.
package assets

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"sessiond/internal/common/fsutil"
)

// Store types accepted by NewStore.
const (
	TypeMemory = "memory"
	TypeSQLite = "sqlite"
	TypeRedis  = "redis"
)

// ErrPathEscape is returned for asset paths that leave the models directory.
var ErrPathEscape = errors.New("asset path escapes models dir")

// Usage is the bookkeeping kept per model reference.
type Usage struct {
	Count    int64     `json:"count"`
	LastUsed time.Time `json:"last_used"`
}

// Store is the asset collaborator used by the session manager.
// Chat histories are keyed by (trackingID, modelID); only the most recent
// blob per key is kept, together with its fingerprint.
type Store interface {
	AssetPath(rel string) (string, error)
	MarkModelUsed(ctx context.Context, ref string) error
	Usage(ctx context.Context, ref string) (Usage, error)
	LoadChatHistory(ctx context.Context, trackingID, modelID, fingerprint string) ([]byte, bool, error)
	SaveChatHistory(ctx context.Context, trackingID, modelID, fingerprint string, blob []byte) error
	RemoveChatHistory(ctx context.Context, trackingID string) error
	Close() error
}

// Config selects and configures a Store backend.
type Config struct {
	Type      string
	ModelsDir string
	// Path is the sqlite database file.
	Path        string
	RedisAddr   string
	RedisDB     int
	RedisPrefix string
}

// NewStore builds the backend named by cfg.Type; empty means memory.
func NewStore(cfg Config) (Store, error) {
	root, err := newRoot(cfg.ModelsDir)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Type) {
	case "", TypeMemory:
		return NewMemory(root), nil
	case TypeSQLite:
		return NewSQLite(root, cfg.Path)
	case TypeRedis:
		return NewRedis(root, RedisOptions{Addr: cfg.RedisAddr, DB: cfg.RedisDB, Prefix: cfg.RedisPrefix})
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// Root resolves asset paths below a models directory.
type Root struct {
	dir string
}

func newRoot(dir string) (Root, error) {
	if dir == "" {
		return Root{}, nil
	}
	p, err := fsutil.ExpandHome(dir)
	if err != nil {
		return Root{}, err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return Root{}, fmt.Errorf("abs path: %w", err)
	}
	return Root{dir: abs}, nil
}

// NewRoot returns a Root for dir, expanding a leading '~'.
func NewRoot(dir string) (Root, error) { return newRoot(dir) }

// AssetPath joins rel onto the models directory.
func (r Root) AssetPath(rel string) (string, error) {
	if r.dir == "" {
		return "", errors.New("models dir not configured")
	}
	if rel == "" || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, rel)
	}
	p := filepath.Join(r.dir, filepath.FromSlash(rel))
	if !fsutil.Within(r.dir, p) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, rel)
	}
	return p, nil
}
