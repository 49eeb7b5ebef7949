// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package co

import (
	"runtime"
	"sync"
)

// Goes tracks goroutines so they can be waited for.
type Goes struct {
	wg sync.WaitGroup
}

// Go runs f in a new goroutine.
func (g *Goes) Go(f func()) {
	g.wg.Go(f)
}

// Wait blocks until every f passed to Go returned.
func (g *Goes) Wait() { g.wg.Wait() }

// Done returns a channel closed once Wait would return.
func (g *Goes) Done() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()
	return done
}

// Parallel to run a batch of work using as many CPU as it can.
// The returned channel is closed once all queued works are done.
func Parallel(cb func(chan<- func())) <-chan struct{} {
	return ParallelN(runtime.NumCPU(), cb)
}

// ParallelN is like Parallel, but with at most n concurrent workers.
func ParallelN(n int, cb func(chan<- func())) <-chan struct{} {
	if n < 1 {
		n = 1
	}
	var goes Goes
	queue := make(chan func(), n*2)
	for range n {
		goes.Go(func() {
			for work := range queue {
				work()
			}
		})
	}
	cb(queue)
	close(queue)
	return goes.Done()
}
