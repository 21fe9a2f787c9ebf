/*
Maddy Mail Server - Composable all-in-one email server.
Copyright © 2019-2020 Max Mazurov <fox.cpp@disroot.org>, Maddy Mail Server contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package cache implements the in-memory TTL cache shared by the verifiers.
//
// Keys are distributed over a fixed number of shards, each protected by its
// own lock, so lookups for unrelated keys do not contend.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type shard[V any] struct {
	mu sync.RWMutex
	m  map[string]entry[V]
}

// Cache maps string keys to values of type V, each entry has its own
// expiration time. Expired entries are removed lazily on access or by Prune.
//
// Cache is safe for concurrent use. The zero value is not usable, use New.
type Cache[V any] struct {
	shards      [shardCount]shard[V]
	maxPerShard int

	// Now is used to get the current time. It is time.Now by default and
	// must not be changed after the Cache is in use.
	Now func() time.Time
}

// New creates the Cache that holds at most maxSize entries (approximately,
// the limit is enforced per shard). maxSize <= 0 means no limit.
func New[V any](maxSize int) *Cache[V] {
	c := &Cache[V]{Now: time.Now}
	if maxSize > 0 {
		c.maxPerShard = maxSize / shardCount
		if c.maxPerShard == 0 {
			c.maxPerShard = 1
		}
	}
	for i := range c.shards {
		c.shards[i].m = make(map[string]entry[V])
	}
	return c
}

func (c *Cache[V]) shard(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &c.shards[h.Sum32()%shardCount]
}

// Get returns the value stored for the key if it is not expired yet.
func (c *Cache[V]) Get(key string) (V, bool) {
	s := c.shard(key)
	now := c.Now()

	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()

	if !ok {
		var zero V
		return zero, false
	}
	if !now.Before(e.expiresAt) {
		s.mu.Lock()
		// Recheck, entry might have been replaced meanwhile.
		if e, ok := s.m[key]; ok && !now.Before(e.expiresAt) {
			delete(s.m, key)
		}
		s.mu.Unlock()

		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores the value for the key replacing any existing entry. The entry
// expires after ttl. Non-positive ttl removes the entry.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		c.Delete(key)
		return
	}

	s := c.shard(key)
	now := c.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.m[key]; !exists && c.maxPerShard > 0 && len(s.m) >= c.maxPerShard {
		s.evict(now)
	}
	s.m[key] = entry[V]{value: value, expiresAt: now.Add(ttl)}
}

// evict removes expired entries and, if there are none, the entry that
// expires first. s.mu must be held.
func (s *shard[V]) evict(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
		removed   bool
	)
	for k, e := range s.m {
		if !now.Before(e.expiresAt) {
			delete(s.m, k)
			removed = true
			continue
		}
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey = k
			oldest = e.expiresAt
		}
	}
	if !removed && oldestKey != "" {
		delete(s.m, oldestKey)
	}
}

func (c *Cache[V]) Delete(key string) {
	s := c.shard(key)
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

// Len returns the amount of stored entries, including expired ones not
// removed yet.
func (c *Cache[V]) Len() int {
	total := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		total += len(s.m)
		s.mu.RUnlock()
	}
	return total
}

// Prune removes all expired entries and returns the amount of removed ones.
func (c *Cache[V]) Prune() int {
	now := c.Now()
	removed := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for k, e := range s.m {
			if !now.Before(e.expiresAt) {
				delete(s.m, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
