package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperifyio/eventcollector/internal/atomicfile"
)

// LLMCache stores raw model output keyed by model and prompt inputs.
type LLMCache struct {
	Dir         string
	StrictPerms bool
}

func (c *LLMCache) ensureDir() error {
	if c == nil || c.Dir == "" {
		return errors.New("cache dir not configured")
	}
	return ensureDir(c.Dir, c.StrictPerms)
}

// KeyFrom digests the model name and the inputs that determine a response.
func KeyFrom(model string, parts ...string) string {
	h := sha256.Sum256([]byte(model + "\n\n" + strings.Join(parts, "\n\n")))
	return hex.EncodeToString(h[:])
}

func (c *LLMCache) pathFor(key string) string {
	return filepath.Join(c.Dir, key+llmSuffix)
}

// Get returns cached bytes if present. A miss is not an error.
func (c *LLMCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := c.ensureDir(); err != nil {
		return nil, false, err
	}
	p := c.pathFor(key)
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, false, nil
	}
	// touch so age-based purge keeps entries that are still in use
	now := time.Now()
	_ = os.Chtimes(p, now, now)
	return b, true, nil
}

// Save writes data under key.
func (c *LLMCache) Save(_ context.Context, key string, data []byte) error {
	if err := c.ensureDir(); err != nil {
		return err
	}
	return atomicfile.Writer{Perm: filePerm(c.StrictPerms)}.WriteFile(c.pathFor(key), data)
}
