package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "wx:"

// DefaultRetention is how long shared backends keep an entry before the server evicts it.
// It bounds how old a stale fallback can get, not how long an entry is fresh.
const DefaultRetention = 24 * time.Hour

// maxRelativeExp is memcached's limit for relative expirations (30 days).
const maxRelativeExp = 30 * 24 * 60 * 60

// MemcachedStore implements Store using memcached.
type MemcachedStore struct {
	client    *memcache.Client
	retention time.Duration
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout, maxIdleConns and
// retention use package defaults if zero.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int, retention time.Duration) *MemcachedStore {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemcachedStore{client: client, retention: retention}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (s *MemcachedStore) key(k Key) string {
	return keyPrefix + k.String()
}

// Get implements Store.Get. Returns false, nil on miss; false, err on error.
func (s *MemcachedStore) Get(ctx context.Context, key Key) (Entry, bool, error) {
	if ctx.Err() != nil {
		return Entry{}, false, ctx.Err()
	}
	item, err := s.client.Get(s.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(item.Value, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return e, true, nil
}

// Put implements Store.Put.
func (s *MemcachedStore) Put(ctx context.Context, entry Entry) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	key := entry.Key()
	entry.Station = key.Station
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.Set(&memcache.Item{
		Key:        s.key(key),
		Value:      raw,
		Expiration: expirationSeconds(s.retention),
	})
}

// Clear flushes every item on the configured servers.
func (s *MemcachedStore) Clear(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return s.client.DeleteAll()
}

// Ping checks if memcached is reachable.
func (s *MemcachedStore) Ping(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return s.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (s *MemcachedStore) Close() error {
	return s.client.Close()
}

func expirationSeconds(d time.Duration) int32 {
	sec := int64(d.Seconds())
	if sec <= 0 || sec > maxRelativeExp {
		return maxRelativeExp
	}
	return int32(sec)
}
