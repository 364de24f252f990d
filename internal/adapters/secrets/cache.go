package secrets

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kevin07696/payment-reconciler/internal/domain/ports"
)

// secretCache implements a simple in-memory TTL cache for secrets
type secretCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	enabled bool
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	secret    *ports.Secret
	expiresAt time.Time
}

func newSecretCache(enabled bool, ttl time.Duration) *secretCache {
	return &secretCache{
		entries: make(map[string]*cacheEntry),
		enabled: enabled && ttl > 0,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *secretCache) get(key string) *ports.Secret {
	if !c.enabled {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil
	}
	return entry.secret
}

func (c *secretCache) set(key string, secret *ports.Secret) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &cacheEntry{
		secret:    secret,
		expiresAt: c.now().Add(c.ttl),
	}
}

// splitField separates "name#field" into its parts
func splitField(path string) (string, string) {
	name, field, _ := strings.Cut(path, "#")
	return name, field
}

// selectField narrows secret to one key of its JSON value. An empty field
// returns secret unchanged.
func selectField(secret *ports.Secret, field string) (*ports.Secret, error) {
	if field == "" {
		return secret, nil
	}

	var values map[string]interface{}
	if err := json.Unmarshal([]byte(secret.Value), &values); err != nil {
		return nil, fmt.Errorf("secret is not a JSON object, cannot select %q: %w", field, err)
	}
	raw, ok := values[field]
	if !ok {
		return nil, fmt.Errorf("secret has no field %q", field)
	}

	narrowed := *secret
	switch v := raw.(type) {
	case string:
		narrowed.Value = v
	default:
		narrowed.Value = fmt.Sprint(v)
	}
	return &narrowed, nil
}
