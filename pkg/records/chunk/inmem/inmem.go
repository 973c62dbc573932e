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

// inmem package provides the in-memory implementation of the chunk.Chunk
// and chunk.Manager interfaces. The implementation keeps the whole chunk
// set in memory and is used by embedders which don't need the data to
// survive the process, and by the package tests around the log readers.
package inmem

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jrivets/log4g"
	"github.com/pkg/errors"
	"github.com/tlog-io/tlog/pkg/records"
	"github.com/tlog-io/tlog/pkg/records/chunk"
)

type (
	// Chunk is the in-memory chunk.Chunk implementation. It keeps its
	// records ordered by their positions. The zero value is not usable,
	// the chunks must be created by NewChunk() or BuildChunk().
	Chunk struct {
		start  int64
		end    int64
		recs   []*records.Record
		cached bool

		// deleted is set when the chunk is reclaimed by the manager. All
		// read operations of the marked chunk fail with chunk.ErrDeleted.
		deleted int32
	}

	// Chunks is a slice of chunks ordered by their start positions
	Chunks []*Chunk

	// Manager is the in-memory chunk.Manager implementation. It keeps the
	// sorted chunk set behind an atomic value, so position resolutions
	// don't acquire the lock, which is needed for the set modifications
	// only.
	Manager struct {
		logger log4g.Logger
		lock   sync.Mutex
		chunks atomic.Value
	}
)

// NewChunk creates a new chunk covering [start..end) with the records
// provided. The records must be ordered by their positions and must lie
// within the chunk range together with their framing markers.
func NewChunk(start, end int64, recs []*records.Record, cached bool) (*Chunk, error) {
	if start < 0 || end <= start {
		return nil, errors.Errorf("wrong chunk range [%d..%d)", start, end)
	}
	prev := start
	for _, r := range recs {
		if r.LogPos < prev || r.PostPos() > end {
			return nil, errors.Errorf("record at pos=%d (post=%d) doesn't fit the chunk [%d..%d)",
				r.LogPos, r.PostPos(), start, end)
		}
		prev = r.PostPos()
	}
	return &Chunk{start: start, end: end, recs: recs, cached: cached}, nil
}

// BuildChunk creates a new chunk which covers [start..end) and lays the
// payloads provided out back-to-back from the chunk start, the same way
// the chunk writer does. It panics if the payloads don't fit the range,
// so it is intended for tests and wiring code with known data.
func BuildChunk(start, end int64, cached bool, payloads ...[]byte) *Chunk {
	recs := make([]*records.Record, len(payloads))
	pos := start
	for i, p := range payloads {
		recs[i] = &records.Record{LogPos: pos, Data: p}
		pos = recs[i].PostPos()
	}
	c, err := NewChunk(start, end, recs, cached)
	if err != nil {
		panic(fmt.Sprint("could not build the chunk: ", err))
	}
	return c
}

// DataStart is part of chunk.Chunk
func (c *Chunk) DataStart() int64 {
	return c.start
}

// DataEnd is part of chunk.Chunk
func (c *Chunk) DataEnd() int64 {
	return c.end
}

// IsCached is part of chunk.Chunk
func (c *Chunk) IsCached() bool {
	return c.cached
}

// LocalOffs is part of chunk.Chunk
func (c *Chunk) LocalOffs(pos int64) int64 {
	return pos - c.start
}

// Size returns the size of the log address range the chunk covers
func (c *Chunk) Size() int64 {
	return c.end - c.start
}

// MarkDeleted marks the chunk as being reclaimed. All following read
// operations will fail with chunk.ErrDeleted.
func (c *Chunk) MarkDeleted() {
	atomic.StoreInt32(&c.deleted, 1)
}

// ReadClosestForward is part of chunk.Chunk
func (c *Chunk) ReadClosestForward(offs int64) (chunk.ReadResult, error) {
	if atomic.LoadInt32(&c.deleted) != 0 {
		return chunk.ReadResult{}, chunk.ErrDeleted
	}

	pos := c.start + offs
	idx := sort.Search(len(c.recs), func(i int) bool { return c.recs[i].LogPos >= pos })
	if idx == len(c.recs) {
		return chunk.ReadResult{}, nil
	}
	return c.result(c.recs[idx], c.recs[idx].PostPos()), nil
}

// ReadClosestBackward is part of chunk.Chunk
func (c *Chunk) ReadClosestBackward(offs int64) (chunk.ReadResult, error) {
	if atomic.LoadInt32(&c.deleted) != 0 {
		return chunk.ReadResult{}, chunk.ErrDeleted
	}

	pos := c.start + offs
	// idx is the first record which ends behind pos, so the needed one is
	// right before it
	idx := sort.Search(len(c.recs), func(i int) bool { return c.recs[i].PostPos() > pos })
	if idx == 0 {
		return chunk.ReadResult{}, nil
	}
	r := c.recs[idx-1]
	return c.result(r, r.LogPos), nil
}

// ReadLast is part of chunk.Chunk
func (c *Chunk) ReadLast() (chunk.ReadResult, error) {
	if atomic.LoadInt32(&c.deleted) != 0 {
		return chunk.ReadResult{}, chunk.ErrDeleted
	}

	if len(c.recs) == 0 {
		return chunk.ReadResult{}, nil
	}
	r := c.recs[len(c.recs)-1]
	return c.result(r, r.LogPos), nil
}

// ReadAt is part of chunk.Chunk
func (c *Chunk) ReadAt(offs int64) (chunk.ReadResult, error) {
	if atomic.LoadInt32(&c.deleted) != 0 {
		return chunk.ReadResult{}, chunk.ErrDeleted
	}

	r := c.coveringRec(offs)
	if r == nil {
		return chunk.ReadResult{}, nil
	}
	return c.result(r, r.PostPos()), nil
}

// ExistsAt is part of chunk.Chunk
func (c *Chunk) ExistsAt(offs int64) (bool, error) {
	if atomic.LoadInt32(&c.deleted) != 0 {
		return false, chunk.ErrDeleted
	}
	return c.coveringRec(offs) != nil, nil
}

func (c *Chunk) String() string {
	return fmt.Sprintf("{start=%d, end=%d, recs=%d, cached=%t}", c.start, c.end, len(c.recs), c.cached)
}

// coveringRec returns the record which covers the chunk-local offset offs,
// together with its framing markers, or nil if there is no such record
func (c *Chunk) coveringRec(offs int64) *records.Record {
	pos := c.start + offs
	idx := sort.Search(len(c.recs), func(i int) bool { return c.recs[i].PostPos() > pos })
	if idx == len(c.recs) || c.recs[idx].LogPos > pos {
		return nil
	}
	return c.recs[idx]
}

func (c *Chunk) result(r *records.Record, nextPos int64) chunk.ReadResult {
	return chunk.ReadResult{Found: true, Rec: r, RecLen: r.Len(), NextOffs: nextPos - c.start}
}

// ----------------------------- Manager -------------------------------------

// NewManager creates the new empty chunk manager
func NewManager() *Manager {
	m := new(Manager)
	m.logger = log4g.GetLogger("tlog.chunk.inmem")
	m.chunks.Store(make(Chunks, 0, 0))
	return m
}

// ResolveChunk is part of chunk.Manager
func (m *Manager) ResolveChunk(pos int64) (chunk.Chunk, error) {
	chunks := m.chunks.Load().(Chunks)
	idx := sort.Search(len(chunks), func(i int) bool { return chunks[i].end > pos })
	if idx == len(chunks) || chunks[idx].start > pos {
		return nil, errors.Wrapf(chunk.ErrNotFound, "pos=%d, chunks=%d", pos, len(chunks))
	}
	return chunks[idx], nil
}

// AppendChunk adds the chunk c to the end of the set. The chunk must
// continue the covered range, so its start must be the current set end.
func (m *Manager) AppendChunk(c *Chunk) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	chunks := m.chunks.Load().(Chunks)
	if len(chunks) > 0 && chunks[len(chunks)-1].end != c.start {
		return errors.Errorf("the chunk %s doesn't continue the set, expecting start=%d",
			c, chunks[len(chunks)-1].end)
	}

	newChunks := make(Chunks, len(chunks)+1)
	copy(newChunks, chunks)
	newChunks[len(newChunks)-1] = c
	m.chunks.Store(newChunks)
	m.logger.Debug("New chunk is added ", c)
	return nil
}

// TruncateBefore drops the chunks which lie completely below the position
// pos. The dropped chunks are marked as deleted first, so their in-flight
// readers observe the transient deletion signal. It returns the number of
// chunks dropped.
func (m *Manager) TruncateBefore(pos int64) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	chunks := m.chunks.Load().(Chunks)
	idx := 0
	for idx < len(chunks) && chunks[idx].end <= pos {
		chunks[idx].MarkDeleted()
		idx++
	}
	if idx == 0 {
		return 0
	}

	newChunks := make(Chunks, len(chunks)-idx)
	copy(newChunks, chunks[idx:])
	m.chunks.Store(newChunks)
	m.logger.Info("Truncated ", idx, " chunk(s) below pos=", pos)
	return idx
}

// Size returns the summarized size of the log range the chunk set covers
func (m *Manager) Size() int64 {
	chunks := m.chunks.Load().(Chunks)
	var sz int64
	for _, c := range chunks {
		sz += c.Size()
	}
	return sz
}

// Count returns the number of chunks in the set
func (m *Manager) Count() int {
	return len(m.chunks.Load().(Chunks))
}
