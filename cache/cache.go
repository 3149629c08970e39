// Copyright 2025 EntoMLgist Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// FetchFunc produces the payload for a key on a cache miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

// call is the shared outcome of one key's in-flight resolution.
type call struct {
	done    chan struct{}
	payload []byte
	err     error
}

// Cache memoizes responses by request identity.
//
// Concurrent callers of the same key collapse onto one resolution: they wait
// on the first caller's result and share it, including a failure. Once a call
// completes it is forgotten, so later lookups go back through the durable
// tier, whose TTL check decides whether the stored payload still answers or a
// refetch is due. A failed fetch is therefore retried on the next call rather
// than pinned for the life of the process.
type Cache struct {
	backend *Backend
	ttl     time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	calls map[string]*call
}

// New creates a Cache over backend with the given entry TTL.
func New(backend *Backend, ttl time.Duration, logger *slog.Logger) (*Cache, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		backend: backend,
		ttl:     ttl,
		logger:  logger,
		calls:   make(map[string]*call),
	}, nil
}

// GetOrFetch returns the payload for key, consulting any in-flight call for
// the same key, then the durable tier, then fetch. A fetch failure propagates
// to every caller sharing the call and is not stored durably, so the next
// lookup of the key tries again.
func (c *Cache) GetOrFetch(ctx context.Context, key string, fetch FetchFunc) ([]byte, error) {
	c.mu.Lock()
	if existing, ok := c.calls[key]; ok {
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-existing.done:
		}
		return existing.payload, existing.err
	}
	cl := &call{done: make(chan struct{})}
	c.calls[key] = cl
	c.mu.Unlock()

	cl.payload, cl.err = c.resolve(ctx, key, fetch)
	close(cl.done)

	// Forget the finished call: the durable tier owns completed results and
	// its TTL check must decide their fate on the next lookup.
	c.mu.Lock()
	delete(c.calls, key)
	c.mu.Unlock()

	return cl.payload, cl.err
}

func (c *Cache) resolve(ctx context.Context, key string, fetch FetchFunc) ([]byte, error) {
	if payload, ok := c.lookup(key); ok {
		c.logger.Debug("cache hit", "key", key)
		return payload, nil
	}

	c.logger.Debug("cache miss", "key", key)
	payload, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	// Persisting is best effort: the cache is not a source of truth, so a
	// write failure degrades to a refetch next run instead of failing the call.
	if err := c.persist(key, payload); err != nil {
		c.logger.Warn("failed to persist cache entry", "key", key, "err", err)
	}
	return payload, nil
}

// lookup reads the durable tier. Entries older than the TTL count as misses.
// The entry's own timestamp decides freshness, not badger's expiry, so a TTL
// lowered between runs takes effect immediately.
func (c *Cache) lookup(key string) ([]byte, bool) {
	var payload []byte
	err := c.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeResponseKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			entry, err := UnmarshalEntry(val)
			if err != nil {
				return err
			}
			if time.Since(entry.FetchedAt) > c.ttl {
				return badger.ErrKeyNotFound
			}
			payload = entry.Payload
			return nil
		})
	}, false)

	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn("cache lookup failed", "key", key, "err", err)
		}
		return nil, false
	}
	return payload, true
}

// persist writes the entry with badger's own TTL as a garbage-collection
// backstop; correctness comes from the explicit timestamp check in lookup.
func (c *Cache) persist(key string, payload []byte) error {
	entry := &Entry{FetchedAt: time.Now().UTC(), Payload: payload}
	data := MarshalEntry(entry)

	return c.backend.WithTx(func(tx *badger.Txn) error {
		// Keep the badger TTL a little longer than ours so an entry near the
		// boundary expires by the timestamp check, not by the store.
		e := badger.NewEntry(makeResponseKey(key), data).WithTTL(c.ttl + time.Minute)
		if err := tx.SetEntry(e); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}
