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

package tlog

import (
	"fmt"
	"sync/atomic"

	"github.com/tlog-io/tlog/pkg/records/chunk"
)

type (
	// ReadCounters counts the chunk accesses made by the readers, split by
	// the chunk residency - whether the accessed chunk data was memory
	// resident or not. The counters are operational metrics only, they
	// don't affect the traversal.
	//
	// One ReadCounters instance is normally shared by all the readers of
	// one log, so several independent logs in a process don't mix their
	// numbers. The zero value is ready to use.
	ReadCounters struct {
		cached   int64
		uncached int64
	}
)

// Cached returns the number of reads served by memory-resident chunks
func (rc *ReadCounters) Cached() int64 {
	return atomic.LoadInt64(&rc.cached)
}

// Uncached returns the number of reads served by non-resident chunks
func (rc *ReadCounters) Uncached() int64 {
	return atomic.LoadInt64(&rc.uncached)
}

func (rc *ReadCounters) String() string {
	return fmt.Sprintf("{cached=%d, uncached=%d}", rc.Cached(), rc.Uncached())
}

func (rc *ReadCounters) onChunkRead(c chunk.Chunk) {
	if c.IsCached() {
		atomic.AddInt64(&rc.cached, 1)
	} else {
		atomic.AddInt64(&rc.uncached, 1)
	}
}
