// ABOUTME: Time-windowed record of client message ids already accepted per sender
// ABOUTME: Lets the router drop client retries of a send it already delivered

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults used when a non-positive window or capacity is given.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 10000
)

// key identifies one client send. Ids are only unique per sender.
type key struct {
	sender string
	id     string
}

type entry struct {
	key    key
	seenAt time.Time
}

// Cache remembers (sender, client message id) pairs for a TTL window, holding
// at most maxSize of them. The oldest pair is forgotten first when full.
type Cache struct {
	mu      sync.Mutex
	index   map[key]*list.Element
	order   *list.List // front is oldest
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a Cache and starts its background sweeper. Call Close to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	c := newCache(ttl, maxSize, time.Now)
	go c.sweepEvery(c.ttl / 2)
	return c
}

func newCache(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{
		index:   make(map[key]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		stop:    make(chan struct{}),
	}
}

// Seen records the pair and reports whether it was already recorded within
// the window. An empty id is never considered seen.
func (c *Cache) Seen(sender, clientMsgID string) bool {
	if clientMsgID == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{sender: sender, id: clientMsgID}
	now := c.now()

	if el, ok := c.index[k]; ok {
		if now.Sub(el.Value.(*entry).seenAt) < c.ttl {
			return true
		}
		c.removeLocked(el)
	}

	for len(c.index) >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.index[k] = c.order.PushBack(&entry{key: k, seenAt: now})
	return false
}

// Len returns how many pairs are currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Sweep drops every expired pair.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.ttl)
	for el := c.order.Front(); el != nil; {
		e := el.Value.(*entry)
		if e.seenAt.After(cutoff) {
			// entries are in insertion order, so the rest are newer
			return
		}
		next := el.Next()
		c.removeLocked(el)
		el = next
	}
}

// Close stops the background sweeper. It is safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) sweepEvery(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}

// removeLocked must be called with mu held.
func (c *Cache) removeLocked(el *list.Element) {
	e := c.order.Remove(el).(*entry)
	delete(c.index, e.key)
}
