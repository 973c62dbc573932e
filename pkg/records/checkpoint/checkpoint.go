// Copyright 2018-2019 The tlog Authors
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

// checkpoint package contains the durability boundary trackers for the
// transaction log. A checkpoint keeps two positions - the tentative one,
// which the writer moves on every write, and the flushed one, which is
// published by an explicit Flush() call and defines how far the log may
// safely be read. The package provides the in-memory tracker and the
// file-backed one, which survives the process restarts.
package checkpoint

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

type (
	// Checkpoint interface provides an access to a named durability
	// boundary of the log.
	//
	// Write(), Read() and ReadTentative() are lock-free and may be called
	// with any frequency by concurrent goroutines. Only the rare
	// Flush()/WaitFlush() handshake synchronizes on a lock.
	Checkpoint interface {
		io.Closer

		// Name returns the checkpoint name
		Name() string

		// Write unconditionally moves the tentative position to pos. The
		// call gives no durability guarantee until the following Flush().
		// It is intended to be driven by a single logical writer.
		Write(pos int64)

		// Read returns the flushed position - the upper bound the readers
		// may trust
		Read() int64

		// ReadTentative returns the tentative position. The value is for
		// the bookkeeping only, it is not a durability guarantee.
		ReadTentative() int64

		// Flush publishes the tentative position as the flushed one and
		// wakes up all goroutines blocked in WaitFlush(). When nothing was
		// written since the previous Flush() the call is a no-op and
		// nobody is woken up.
		Flush() error

		// WaitFlush blocks the calling goroutine until the next Flush()
		// broadcast, or until the timeout elapses. It returns true when
		// woken by a flush and false on the timeout.
		//
		// A flush which happens between the caller's last Read() and the
		// WaitFlush() call is not detected, so the wait may time out even
		// though the boundary has already moved. Callers must re-check the
		// boundary via Read() after waking regardless of the result.
		WaitFlush(timeout time.Duration) bool
	}

	// MemCheckpoint is the in-memory Checkpoint implementation. Close() is
	// a no-op for it, the positions don't outlive the process.
	MemCheckpoint struct {
		name      string
		tentative int64
		flushed   int64

		// lock guards flushCh only, the positions are accessed via atomics
		lock    sync.Mutex
		flushCh chan struct{}
	}
)

// NewMemCheckpoint creates the new in-memory checkpoint with the initial
// position provided
func NewMemCheckpoint(name string, initPos int64) *MemCheckpoint {
	mc := new(MemCheckpoint)
	mc.name = name
	mc.tentative = initPos
	mc.flushed = initPos
	mc.flushCh = make(chan struct{})
	return mc
}

// Name is part of Checkpoint
func (mc *MemCheckpoint) Name() string {
	return mc.name
}

// Write is part of Checkpoint
func (mc *MemCheckpoint) Write(pos int64) {
	atomic.StoreInt64(&mc.tentative, pos)
}

// Read is part of Checkpoint
func (mc *MemCheckpoint) Read() int64 {
	return atomic.LoadInt64(&mc.flushed)
}

// ReadTentative is part of Checkpoint
func (mc *MemCheckpoint) ReadTentative() int64 {
	return atomic.LoadInt64(&mc.tentative)
}

// Flush is part of Checkpoint
func (mc *MemCheckpoint) Flush() error {
	t := atomic.LoadInt64(&mc.tentative)
	if t == atomic.LoadInt64(&mc.flushed) {
		return nil
	}
	mc.publish(t)
	return nil
}

// WaitFlush is part of Checkpoint
func (mc *MemCheckpoint) WaitFlush(timeout time.Duration) bool {
	mc.lock.Lock()
	ch := mc.flushCh
	mc.lock.Unlock()

	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close is part of Checkpoint, a no-op for the in-memory variant
func (mc *MemCheckpoint) Close() error {
	return nil
}

func (mc *MemCheckpoint) String() string {
	return fmt.Sprintf("{name=%s, flushed=%d, tentative=%d}", mc.name, mc.Read(), mc.ReadTentative())
}

// publish moves the flushed position to pos and wakes up all the WaitFlush
// waiters. The broadcast is made by closing the current flush channel and
// replacing it by a new one, so every waiter is woken, not just one.
func (mc *MemCheckpoint) publish(pos int64) {
	mc.lock.Lock()
	atomic.StoreInt64(&mc.flushed, pos)
	ch := mc.flushCh
	mc.flushCh = make(chan struct{})
	mc.lock.Unlock()
	close(ch)
}
