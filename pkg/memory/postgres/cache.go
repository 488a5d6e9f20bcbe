package postgres

import (
	"container/list"
	"sync"
	"time"

	"github.com/professorai/tutorcore/pkg/memory"
)

// messageCacheCapacity bounds the number of distinct sessions cached at once.
// Evicting the least-recently-used entry keeps memory bounded under a large
// number of concurrent sessions without needing an external cache service.
const messageCacheCapacity = 4096

// messageCacheTTL is how long a cached entry remains valid after its last
// write, per the C4 cache policy (24h).
const messageCacheTTL = 24 * time.Hour

// messageCacheLimit is the number of most-recent messages retained per
// session in the cache.
const messageCacheLimit = 50

// messageCache is an in-process, read-through LRU+TTL cache mapping a session
// ID to its most recent messages. It exists so C4 can satisfy its read-through
// cache contract without requiring a remote cache service (see DESIGN.md).
//
// Safe for concurrent use.
type messageCache struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	order    *list.List // front = most recently used
	capacity int
}

type cacheEntry struct {
	sessionID string
	messages  []memory.Message
	expiresAt time.Time
}

func newMessageCache() *messageCache {
	return &messageCache{
		items:    make(map[string]*list.Element),
		order:    list.New(),
		capacity: messageCacheCapacity,
	}
}

// get returns the cached messages for sessionID, or (nil, false) on a miss or
// expired entry.
func (c *messageCache) get(sessionID string) ([]memory.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[sessionID]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.order.Remove(el)
		delete(c.items, sessionID)
		return nil, false
	}
	c.order.MoveToFront(el)
	return entry.messages, true
}

// set replaces the cached messages for sessionID, trimmed to the last
// messageCacheLimit entries, and refreshes its TTL.
func (c *messageCache) set(sessionID string, messages []memory.Message) {
	if len(messages) > messageCacheLimit {
		messages = messages[len(messages)-messageCacheLimit:]
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &cacheEntry{sessionID: sessionID, messages: messages, expiresAt: time.Now().Add(messageCacheTTL)}
	if el, ok := c.items[sessionID]; ok {
		el.Value = entry
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(entry)
	c.items[sessionID] = el

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).sessionID)
		}
	}
}

// append adds a single message to the cached list for sessionID, trimming to
// messageCacheLimit. No-op on a cache miss — the next read repopulates from
// the durable store.
func (c *messageCache) append(sessionID string, msg memory.Message) {
	c.mu.Lock()
	el, ok := c.items[sessionID]
	c.mu.Unlock()
	if !ok {
		return
	}
	entry := el.Value.(*cacheEntry)
	messages := append(append([]memory.Message{}, entry.messages...), msg)
	c.set(sessionID, messages)
}

// invalidate deletes the cache entry for sessionID, called from EndSession.
func (c *messageCache) invalidate(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[sessionID]; ok {
		c.order.Remove(el)
		delete(c.items, sessionID)
	}
}
