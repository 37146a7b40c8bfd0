/*
Package cache implements the cache_lookup/cache_insert collaborator pair the forwarding core calls
around dispatch: a lookup before fan-out that can short-circuit a client query entirely, and an
insert on every successful upstream reply. It is a thin adapter over github.com/patrickmn/go-cache,
the same in-process expiring map the retrieval pack reaches for elsewhere for exactly this kind of
duty (there it backs per-IP rate-limit buckets; here it backs answers).

Keys are the question name, qtype and qclass decoded from the wire buffer - the QID and every other
header field are deliberately excluded, since two client queries for the same question should share
one cache entry regardless of which QID either of them happened to pick.
*/
package cache

import (
	"errors"
	"strconv"
	"time"

	"github.com/miekg/dns"
	gocache "github.com/patrickmn/go-cache"
)

// errBadQuestionCount is returned internally when a buffer's question section can't be turned into
// a cache key.
var errBadQuestionCount = errors.New("cache: QDCOUNT != 1")

// Cache answers cache_lookup/cache_insert for the forwarding core. A nil *Cache is not valid; use
// New.
type Cache struct {
	store *gocache.Cache

	hits, misses, inserts int
}

// New returns a Cache whose entries expire after ttl and are swept for expiry every cleanupInterval.
// A ttl of zero disables expiry (entries live until evicted by a fresh insert of the same key).
func New(ttl, cleanupInterval time.Duration) *Cache {
	return &Cache{store: gocache.New(ttl, cleanupInterval)}
}

// Lookup returns the cached reply buffer for the query in buf, if any, and whether it was found. A
// hit lets the dispatcher bypass fan-out entirely. Callers must never call Insert for a probe's
// reply, so probe traffic can neither populate nor be served from the cache.
func (c *Cache) Lookup(buf []byte) ([]byte, bool) {
	key, err := questionKey(buf)
	if err != nil {
		return nil, false
	}

	v, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}

	return v.([]byte), true
}

// Insert caches reply as the answer for the question it carries, keyed independently of the query
// buffer that prompted it so future queries of any QID hit this entry.
func (c *Cache) Insert(reply []byte) {
	key, err := questionKey(reply)
	if err != nil {
		return
	}

	cp := make([]byte, len(reply))
	copy(cp, reply)
	c.store.SetDefault(key, cp)
}

func questionKey(buf []byte) (string, error) {
	var m dns.Msg
	if err := m.Unpack(buf); err != nil {
		return "", err
	}
	if len(m.Question) != 1 {
		return "", errBadQuestionCount
	}

	q := m.Question[0]

	return q.Name + "/" + strconv.Itoa(int(q.Qtype)) + "/" + strconv.Itoa(int(q.Qclass)), nil
}
