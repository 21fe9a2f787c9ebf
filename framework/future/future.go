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

// Package future implements a container for a (value, error) pair that is
// populated later, e.g. by a lookup started before its result is needed.
package future

import (
	"context"
	"sync"

	"github.com/foxcpp/mxtrust/framework/log"
)

// Future allows multiple users to wait for the value to be set.
//
// It should not be copied after first use.
type Future[T any] struct {
	mu  sync.RWMutex
	set bool
	val T
	err error

	notify chan struct{}
}

func New[T any]() *Future[T] {
	return &Future[T]{notify: make(chan struct{})}
}

// Go runs f in a separate goroutine and sets the Future to its result.
func Go[T any](f func() (T, error)) *Future[T] {
	fut := New[T]()
	go func() {
		fut.Set(f())
	}()
	return fut
}

// Set sets the Future (value, error) pair. All currently blocked and future
// Get calls will return it. Only the first Set call has effect.
func (f *Future[T]) Set(val T, err error) {
	if f == nil {
		panic("nil future used")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.set {
		log.Println("Future.Set called multiple times, value=", val, "err=", err)
		return
	}

	f.set = true
	f.val = val
	f.err = err

	close(f.notify)
}

func (f *Future[T]) Get() (T, error) {
	return f.GetContext(context.Background())
}

// GetContext waits for the value to be set or for ctx to be done.
func (f *Future[T]) GetContext(ctx context.Context) (T, error) {
	if f == nil {
		panic("nil future used")
	}

	select {
	case <-f.notify:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.val, f.err
}
