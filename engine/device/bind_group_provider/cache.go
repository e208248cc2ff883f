package bind_group_provider

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-flock/engine/device/buffer"
)

// MaxBindings is the number of binding indices a cached provider may use, 0..MaxBindings-1.
const MaxBindings = 10

// cacheKey identifies a provider by its role and the exact buffers it binds.
type cacheKey struct {
	role    string
	buffers [MaxBindings]buffer.Buffer
}

// Cache hands out one BindGroupProvider per distinct (role, buffers) combination, so stages
// that alternate between buffer sets reuse their bind groups instead of rebuilding them on
// every dispatch. Entries whose buffers have been released are dropped on the next miss.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]BindGroupProvider
}

// NewCache creates an empty provider cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]BindGroupProvider)}
}

// Provider returns the cached provider binding buffers for role, creating it on first use.
//
// Parameters:
//   - role: names the stage the provider serves, used as its label
//   - buffers: buffers keyed by binding index, each index below MaxBindings
//
// Returns:
//   - BindGroupProvider: the provider
func (c *Cache) Provider(role string, buffers map[int]buffer.Buffer) BindGroupProvider {
	key := cacheKey{role: role}
	for binding, buf := range buffers {
		if binding < 0 || binding >= MaxBindings {
			panic(fmt.Sprintf("bind_group_provider: binding %d of %s out of range", binding, role))
		}
		key.buffers[binding] = buf
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.entries[key]; ok {
		return p
	}
	c.sweep()
	p := NewBindGroupProvider(role, WithBuffers(buffers))
	c.entries[key] = p
	return p
}

// sweep drops entries that bind a released buffer.
func (c *Cache) sweep() {
	for key, p := range c.entries {
		for _, buf := range key.buffers {
			if buf != nil && buf.Released() {
				p.Release()
				delete(c.entries, key)
				break
			}
		}
	}
}

// Len returns the number of cached providers.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Release releases the bind groups of every cached provider and empties the cache.
func (c *Cache) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, p := range c.entries {
		p.Release()
		delete(c.entries, key)
	}
}
