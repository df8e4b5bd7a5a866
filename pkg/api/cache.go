package api

import (
	"errors"
	"time"
)

var errCacheClosed = errors.New("response cache closed")

// lookup asks the owning goroutine for one key, loading it on a miss.
type lookup struct {
	key   string
	load  func() ([]byte, error)
	reply chan result
}

type result struct {
	data []byte
	err  error
}

type entry struct {
	data    []byte
	expires time.Time
}

// ResponseCache keeps already-encoded API responses for a short TTL so
// the dashboard's polling does not re-read the same flat files on every
// request. One goroutine owns the map; lookups travel over a channel, so
// no mutex guards the entries. Loader errors are never cached.
type ResponseCache struct {
	ttl     time.Duration
	lookups chan lookup
	quit    chan struct{}
	now     func() time.Time // injectable for tests
}

// NewResponseCache starts the owning goroutine. A non-positive TTL
// disables caching: Get then calls the loader directly, which keeps the
// call sites free of nil checks.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	c := &ResponseCache{
		ttl:     ttl,
		lookups: make(chan lookup),
		quit:    make(chan struct{}),
		now:     time.Now,
	}
	if ttl > 0 {
		go c.run()
	}
	return c
}

// Get returns the cached bytes for key, invoking load on a miss or after
// expiry. Entries are trimmed lazily when touched; the cache carries a
// handful of keys, so no sweeper is needed.
func (c *ResponseCache) Get(key string, load func() ([]byte, error)) ([]byte, error) {
	if c == nil || c.ttl <= 0 {
		return load()
	}
	req := lookup{key: key, load: load, reply: make(chan result, 1)}
	select {
	case c.lookups <- req:
	case <-c.quit:
		return nil, errCacheClosed
	}
	res := <-req.reply
	return res.data, res.err
}

// Close stops the owning goroutine. Idempotent.
func (c *ResponseCache) Close() {
	if c == nil || c.ttl <= 0 {
		return
	}
	select {
	case <-c.quit:
	default:
		close(c.quit)
	}
}

func (c *ResponseCache) run() {
	entries := make(map[string]entry)
	for {
		select {
		case <-c.quit:
			return
		case req := <-c.lookups:
			now := c.now()
			if e, ok := entries[req.key]; ok && now.Before(e.expires) {
				req.reply <- result{data: e.data}
				continue
			}
			data, err := req.load()
			if err == nil {
				entries[req.key] = entry{data: data, expires: now.Add(c.ttl)}
			} else {
				delete(entries, req.key)
			}
			req.reply <- result{data: data, err: err}
		}
	}
}
