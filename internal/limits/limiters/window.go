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

// Package limiters provides a set of wrappers intended to restrict the amount
// of resources consumed by the verifiers.
package limiters

import (
	"hash/fnv"
	"sync"
	"time"
)

const windowShards = 16

type windowState struct {
	count int
	start time.Time
}

type windowShard struct {
	mu sync.Mutex
	m  map[string]*windowState
}

// WindowSet counts attempts per key in fixed time windows. Each unique key
// gets its own counter, started by the first attempt. The main use case for
// WindowSet is to cap re-fetch attempts for a resource, e.g. per-domain
// policy lookups.
//
// Amount of tracked keys is limited to approximately MaxKeys. When a shard
// is full, keys with an elapsed window are removed. If all windows are still
// active, the key with the oldest window is dropped.
type WindowSet struct {
	// Maximum amount of attempts per Interval.
	Limit    int
	Interval time.Duration
	MaxKeys  int

	// Now is used to get the current time, time.Now by default.
	Now func() time.Time

	shards [windowShards]windowShard
}

func NewWindowSet(limit int, interval time.Duration, maxKeys int) *WindowSet {
	ws := &WindowSet{
		Limit:    limit,
		Interval: interval,
		MaxKeys:  maxKeys,
		Now:      time.Now,
	}
	for i := range ws.shards {
		ws.shards[i].m = make(map[string]*windowState)
	}
	return ws
}

func (ws *WindowSet) shard(key string) *windowShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &ws.shards[h.Sum32()%windowShards]
}

// reap removes keys with the elapsed window and, if there are none, the key
// whose window started first. s.mu must be held.
func (ws *WindowSet) reap(s *windowShard, now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
		removed   bool
	)
	for k, v := range s.m {
		if now.Sub(v.start) >= ws.Interval {
			delete(s.m, k)
			removed = true
			continue
		}
		if oldestKey == "" || v.start.Before(oldest) {
			oldestKey = k
			oldest = v.start
		}
	}
	if !removed && oldestKey != "" {
		delete(s.m, oldestKey)
	}
}

// Take records the attempt for the key. If the limit for the current window
// is reached, Take returns false and the time left until the window ends.
// Rejected attempts are not counted.
//
// WindowSet with non-positive Limit allows everything.
func (ws *WindowSet) Take(key string) (ok bool, retryAfter time.Duration) {
	if ws.Limit <= 0 {
		return true, 0
	}

	now := ws.Now()
	s := ws.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.m[key]
	if !ok {
		if ws.MaxKeys > 0 && len(s.m) >= ws.MaxKeys/windowShards+1 {
			ws.reap(s, now)
		}
		s.m[key] = &windowState{count: 1, start: now}
		return true, 0
	}

	elapsed := now.Sub(state.start)
	if elapsed >= ws.Interval {
		state.count = 1
		state.start = now
		return true, 0
	}

	if state.count >= ws.Limit {
		return false, ws.Interval - elapsed
	}
	state.count++
	return true, 0
}

// Reset forgets the counter for the key.
func (ws *WindowSet) Reset(key string) {
	s := ws.shard(key)
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}
