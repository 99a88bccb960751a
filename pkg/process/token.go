package process

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/multiformats/go-base32"
)

// Tokens tracks which process each outstanding token is bound to, per
// spec.md §4.6: "Tokens are 128-bit base-32 strings; each outstanding
// token increments token_count." A map of token to metadata guarded
// by a mutex, narrowed to the one thing a token needs here: the
// process id it pins against eviction.
type Tokens struct {
	mu   sync.RWMutex
	byID map[string]string
}

// NewTokens constructs an empty token registry.
func NewTokens() *Tokens {
	return &Tokens{byID: make(map[string]string)}
}

// Create mints a new random 128-bit token; Bind associates it with a
// process.
func Create() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate process token: %w", err)
	}
	return base32.RawStdEncoding.EncodeToString(buf), nil
}

// Bind records that token is bound to process, for in-memory lookup
// without a database round trip (the database's process_tokens table
// is the durable record; this registry is a fast path).
func (t *Tokens) Bind(token, process string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[token] = process
}

// Resolve returns the process a token is bound to, if any.
func (t *Tokens) Resolve(token string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	process, ok := t.byID[token]
	return process, ok
}

// Forget drops token from the registry once it is revoked.
func (t *Tokens) Forget(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, token)
}
