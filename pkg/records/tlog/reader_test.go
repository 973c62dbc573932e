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
	"testing"

	"github.com/pkg/errors"
	"github.com/tlog-io/tlog/pkg/records"
	"github.com/tlog-io/tlog/pkg/records/checkpoint"
	"github.com/tlog-io/tlog/pkg/records/chunk"
	"github.com/tlog-io/tlog/pkg/records/chunk/inmem"
)

// testLog builds the log of two chunks [0..1000) and [1000..2000), every
// chunk carries 10 records of 92 bytes, so a record together with its
// markers occupies exactly 100 bytes. The first chunk is cached, the
// second one is not. The durability boundary is set to 1500.
func testLog(t *testing.T) (*checkpoint.MemCheckpoint, *inmem.Manager) {
	payloads := make([][]byte, 10)
	for i := range payloads {
		payloads[i] = make([]byte, 92)
	}

	m := inmem.NewManager()
	if err := m.AppendChunk(inmem.BuildChunk(0, 1000, true, payloads...)); err != nil {
		t.Fatal("err must be nil, but err=", err)
	}
	if err := m.AppendChunk(inmem.BuildChunk(1000, 2000, false, payloads...)); err != nil {
		t.Fatal("err must be nil, but err=", err)
	}

	mc := checkpoint.NewMemCheckpoint("writer", 0)
	mc.Write(1500)
	mc.Flush()
	return mc, m
}

func TestReadNextWalksForward(t *testing.T) {
	mc, m := testLog(t)
	sr := NewSeqReader(mc, m, nil, 0)

	prev := int64(-1)
	cnt := 0
	for {
		res, err := sr.ReadNext()
		if err != nil {
			t.Fatal("err must be nil, but err=", err)
		}
		if !res.Success {
			break
		}
		if res.RecPos <= prev {
			t.Fatal("the positions must strictly increase, but got ", res.RecPos, " after ", prev)
		}
		if res.NextPos > 1500 {
			t.Fatal("NextPos=", res.NextPos, " is beyond the boundary 1500")
		}
		if res.NextPos != res.RecPos+int64(res.RecLen)+2*records.MarkerSize {
			t.Fatal("wrong framing arithmetic in ", res)
		}
		if (res.NextPos == 1500) != res.Eof {
			t.Fatal("Eof must be set on the last record below the boundary only, res=", res)
		}
		prev = res.RecPos
		cnt++
	}

	// 15 records of 100 bytes lie below the boundary 1500, the chunk
	// boundary at 1000 must be crossed transparently
	if cnt != 15 {
		t.Fatal("expecting 15 records, but got ", cnt)
	}
	if sr.Pos() != 1500 {
		t.Fatal("expecting the final cursor 1500, but got ", sr.Pos())
	}
}

func TestReadNextNoDataAtBoundary(t *testing.T) {
	mc, m := testLog(t)
	sr := NewSeqReader(mc, m, nil, 1500)

	res, err := sr.ReadNext()
	if err != nil || res.Success {
		t.Fatal("expecting the no-data result at the boundary, but res=", res, ", err=", err)
	}

	// the boundary moves and the same reader continues
	mc.Write(1600)
	mc.Flush()
	res, err = sr.ReadNext()
	if err != nil || !res.Success || res.RecPos != 1500 {
		t.Fatal("expecting the record at 1500 after the boundary moved, but res=", res, ", err=", err)
	}
}

func TestReadNextSkipsExhaustedChunk(t *testing.T) {
	// the first chunk carries one record only, the rest of its range is
	// empty, so the forward read from behind the record must transparently
	// go to the second chunk
	m := inmem.NewManager()
	m.AppendChunk(inmem.BuildChunk(0, 1000, true, make([]byte, 92)))
	m.AppendChunk(inmem.BuildChunk(1000, 2000, true, make([]byte, 92)))
	mc := checkpoint.NewMemCheckpoint("writer", 0)
	mc.Write(1100)
	mc.Flush()

	sr := NewSeqReader(mc, m, nil, 100)
	res, err := sr.ReadNext()
	if err != nil || !res.Success || res.RecPos != 1000 {
		t.Fatal("expecting the record at 1000, but res=", res, ", err=", err)
	}
}

func TestReadPrevWalksBackward(t *testing.T) {
	mc, m := testLog(t)
	sr := NewSeqReader(mc, m, nil, 1500)

	prev := int64(1500)
	cnt := 0
	for {
		res, err := sr.ReadPrev()
		if err != nil {
			t.Fatal("err must be nil, but err=", err)
		}
		if !res.Success {
			break
		}
		if res.RecPos >= prev {
			t.Fatal("the positions must strictly decrease, but got ", res.RecPos, " after ", prev)
		}
		prev = res.RecPos
		cnt++
	}

	if cnt != 15 {
		t.Fatal("expecting 15 records, but got ", cnt)
	}
	if sr.Pos() != 0 {
		t.Fatal("expecting the final cursor 0, but got ", sr.Pos())
	}
}

func TestReadPrevAtChunkStart(t *testing.T) {
	mc, m := testLog(t)
	// the cursor stays exactly at the second chunk start, so the previous
	// record is the last one of the first chunk
	sr := NewSeqReader(mc, m, nil, 1000)

	res, err := sr.ReadPrev()
	if err != nil || !res.Success {
		t.Fatal("expecting a successful read, but res=", res, ", err=", err)
	}
	if res.RecPos != 900 {
		t.Fatal("expecting the last record of the first chunk at 900, but res=", res)
	}
	if sr.Pos() != 900 {
		t.Fatal("expecting the cursor at 900, but got ", sr.Pos())
	}
}

func TestReadPrevBeyondBoundaryFails(t *testing.T) {
	mc, m := testLog(t)
	sr := NewSeqReader(mc, m, nil, 1600)

	_, err := sr.ReadPrev()
	if errors.Cause(err) != ErrWrongPos {
		t.Fatal("expecting ErrWrongPos, but err=", err)
	}
}

func TestReadPrevAtLogStart(t *testing.T) {
	mc, m := testLog(t)
	sr := NewSeqReader(mc, m, nil, 0)

	res, err := sr.ReadPrev()
	if err != nil || res.Success {
		t.Fatal("expecting the no-data result at the log start, but res=", res, ", err=", err)
	}
}

func TestReadNextPrevRoundTrip(t *testing.T) {
	mc, m := testLog(t)
	sr := NewSeqReader(mc, m, nil, 0)

	for i := 0; i < 15; i++ {
		fwd, err := sr.ReadNext()
		if err != nil || !fwd.Success {
			t.Fatal("expecting a successful forward read, but res=", fwd, ", err=", err)
		}

		bkwd, err := sr.ReadPrev()
		if err != nil || !bkwd.Success {
			t.Fatal("expecting a successful backward read, but res=", bkwd, ", err=", err)
		}
		if bkwd.RecPos != fwd.RecPos {
			t.Fatal("a backward read after a forward one must give the same record, fwd=", fwd, ", bkwd=", bkwd)
		}

		// restore the forward cursor
		sr.Reposition(fwd.NextPos)
	}
}

func TestReadAt(t *testing.T) {
	mc, m := testLog(t)
	sr := NewSeqReader(mc, m, nil, 0)

	// any position below the boundary is covered by a record
	for _, pos := range []int64{0, 99, 100, 955, 1000, 1499} {
		res, err := sr.ReadAt(pos)
		if err != nil || !res.Success {
			t.Fatal("expecting a successful read at pos=", pos, ", but res=", res, ", err=", err)
		}
		if res.RecPos > pos || pos >= res.NextPos {
			t.Fatal("the record must cover pos=", pos, ", but res=", res)
		}
	}

	// the cursor is not touched by the random access reads
	if sr.Pos() != 0 {
		t.Fatal("ReadAt() must not move the cursor, but Pos()=", sr.Pos())
	}

	// at and beyond the boundary nothing can be read, even though the
	// chunk data exists there
	for _, pos := range []int64{1500, 1777, 2000, 5000} {
		res, err := sr.ReadAt(pos)
		if err != nil || res.Success {
			t.Fatal("expecting the no-data result at pos=", pos, ", but res=", res, ", err=", err)
		}
	}
}

func TestExistsAt(t *testing.T) {
	mc, m := testLog(t)
	sr := NewSeqReader(mc, m, nil, 0)

	if ok, err := sr.ExistsAt(700); err != nil || !ok {
		t.Fatal("the record at 700 must exist, err=", err)
	}
	if ok, err := sr.ExistsAt(1500); err != nil || ok {
		t.Fatal("nothing must exist at the boundary, err=", err)
	}
}

func TestReadCounters(t *testing.T) {
	mc, m := testLog(t)
	var cnts ReadCounters
	sr := NewSeqReader(mc, m, &cnts, 0)

	for {
		res, err := sr.ReadNext()
		if err != nil {
			t.Fatal("err must be nil, but err=", err)
		}
		if !res.Success {
			break
		}
	}

	// 10 records live in the cached chunk, 5 in the uncached one
	if cnts.Cached() != 10 || cnts.Uncached() != 5 {
		t.Fatal("expecting 10 cached and 5 uncached reads, but cnts=", cnts.String())
	}
}

// deletedMgr always resolves to a chunk which keeps reporting the deletion
// signal, the way a buggy chunk lifecycle would behave
type deletedMgr struct {
	c *inmem.Chunk
}

func (dm *deletedMgr) ResolveChunk(pos int64) (chunk.Chunk, error) {
	return dm.c, nil
}

func TestRetriesExhausted(t *testing.T) {
	c := inmem.BuildChunk(0, 1000, true, make([]byte, 92))
	c.MarkDeleted()
	mc := checkpoint.NewMemCheckpoint("writer", 0)
	mc.Write(100)
	mc.Flush()

	sr := NewSeqReader(mc, &deletedMgr{c}, nil, 0)

	if _, err := sr.ReadNext(); errors.Cause(err) != ErrRetriesExhausted {
		t.Fatal("expecting ErrRetriesExhausted from ReadNext(), but err=", err)
	}
	// the cursor must be off the log start, otherwise the backward read
	// returns the no-data result without resolving any chunk
	sr.Reposition(50)
	if _, err := sr.ReadPrev(); errors.Cause(err) != ErrRetriesExhausted {
		t.Fatal("expecting ErrRetriesExhausted from ReadPrev(), but err=", err)
	}
	if _, err := sr.ReadAt(50); errors.Cause(err) != ErrRetriesExhausted {
		t.Fatal("expecting ErrRetriesExhausted from ReadAt(), but err=", err)
	}
	if _, err := sr.ExistsAt(50); errors.Cause(err) != ErrRetriesExhausted {
		t.Fatal("expecting ErrRetriesExhausted from ExistsAt(), but err=", err)
	}
}

// replacedMgr models a compaction which swaps a chunk by a new instance
// covering the same range: the first few resolutions give the old chunk,
// which is already marked as deleted, the following ones give the live
// replacement
type replacedMgr struct {
	old   *inmem.Chunk
	live  *inmem.Chunk
	calls int
}

func (rm *replacedMgr) ResolveChunk(pos int64) (chunk.Chunk, error) {
	rm.calls++
	if rm.calls <= 3 {
		return rm.old, nil
	}
	return rm.live, nil
}

func TestTransientDeletionIsRetried(t *testing.T) {
	old := inmem.BuildChunk(0, 1000, true, make([]byte, 92))
	old.MarkDeleted()
	live := inmem.BuildChunk(0, 1000, true, make([]byte, 92))
	mc := checkpoint.NewMemCheckpoint("writer", 0)
	mc.Write(100)
	mc.Flush()

	sr := NewSeqReader(mc, &replacedMgr{old: old, live: live}, nil, 0)
	res, err := sr.ReadNext()
	if err != nil || !res.Success || res.RecPos != 0 {
		t.Fatal("the read must survive the chunk replacement, but res=", res, ", err=", err)
	}
}
