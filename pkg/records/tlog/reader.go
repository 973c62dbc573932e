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

// tlog package contains the transaction log readers. The readers traverse
// the single logical address space of the log, which is physically cut into
// chunks, so the traversal crosses the chunk boundaries transparently and
// survives the races with the chunk reclamation which may run concurrently
// elsewhere. How far the log may be read is bounded by the durability
// boundary published via a checkpoint.
package tlog

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/tlog-io/tlog/pkg/records"
	"github.com/tlog-io/tlog/pkg/records/checkpoint"
	"github.com/tlog-io/tlog/pkg/records/chunk"
)

type (
	// Result describes an outcome of one traversal step made by a
	// SeqReader. The zero value of the struct means "no data available".
	Result struct {
		// Success indicates whether a record was read
		Success bool

		// Eof indicates that the record read is the last one below the
		// durability boundary observed at the call time
		Eof bool

		// Rec contains the record read
		Rec *records.Record

		// RecLen contains the record payload length
		RecLen int

		// RecPos contains the absolute position the record starts at
		RecPos int64

		// NextPos contains the absolute position right behind the record
		// and its framing markers
		NextPos int64
	}

	// SeqReader provides the forward, backward and random-access traversal
	// over the log records. The only persistent state of the reader is its
	// cursor - the absolute position the next traversal step starts from.
	//
	// A SeqReader instance is not internally synchronized and must be
	// driven by one logical consumer at a time. Many independent readers
	// may work concurrently over the same checkpoint and chunk set.
	SeqReader struct {
		pos  int64
		chkp checkpoint.Checkpoint
		cmgr chunk.Manager
		cnts *ReadCounters
	}
)

var (
	// ErrRetriesExhausted is returned when a chunk kept reporting the
	// transient deletion signal past the retry bound. The condition
	// indicates a chunk lifecycle bug upstream - a chunk which still backs
	// data below the durability boundary must not be reclaimed.
	ErrRetriesExhausted = fmt.Errorf("chunk deletion retries are exhausted")

	// ErrWrongPos is returned when the reader cursor is requested to go
	// backward from a position beyond the durability boundary. Reading
	// ahead of the boundary is never valid, so the condition is a caller
	// error and is not retried.
	ErrWrongPos = fmt.Errorf("the reader position is beyond the durability boundary")
)

// maxRetries bounds the transient chunk-deletion retries per one traversal
// operation
const maxRetries = 20

// NewSeqReader creates the new reader over the chunk set provided by cmgr,
// bounded by the chkp durability boundary. The initial cursor position is
// pos. cnts may be nil, the case the reader counts its chunk accesses into
// a private instance.
func NewSeqReader(chkp checkpoint.Checkpoint, cmgr chunk.Manager, cnts *ReadCounters, pos int64) *SeqReader {
	if cnts == nil {
		cnts = new(ReadCounters)
	}
	return &SeqReader{pos: pos, chkp: chkp, cmgr: cmgr, cnts: cnts}
}

// Pos returns the current cursor position
func (sr *SeqReader) Pos() int64 {
	return sr.pos
}

// Reposition moves the cursor to pos directly. The value is not validated,
// the caller is responsible for providing a sane position.
func (sr *SeqReader) Reposition(pos int64) {
	sr.pos = pos
}

// ReadNext returns the record which starts at, or closest after, the
// cursor and moves the cursor behind it. When the cursor has reached the
// durability boundary the zero Result is returned with the nil error -
// nothing new to read yet, which is an ordinary condition, not a failure.
//
// The chunks exhausted by the cursor are skipped transparently, so the
// caller never observes the physical chunk boundaries.
func (sr *SeqReader) ReadNext() (Result, error) {
	for retry := 0; ; {
		bnd := sr.chkp.Read()
		if sr.pos >= bnd {
			return Result{}, nil
		}

		c, err := sr.cmgr.ResolveChunk(sr.pos)
		if err != nil {
			return Result{}, errors.Wrapf(err, "ReadNext: could not resolve the chunk for pos=%d", sr.pos)
		}

		rr, err := c.ReadClosestForward(c.LocalOffs(sr.pos))
		if err != nil {
			if retry, err = sr.onReadErr("ReadNext", c, err, retry, bnd); err != nil {
				return Result{}, err
			}
			continue
		}
		sr.cnts.onChunkRead(c)

		if !rr.Found {
			// the cursor is past all the records of this chunk, the next
			// record lives in the following one
			sr.pos = c.DataEnd()
			continue
		}

		sr.pos = c.DataStart() + rr.NextOffs
		return sr.result(rr, bnd), nil
	}
}

// ReadPrev returns the record which ends at, or closest before, the cursor
// and moves the cursor to the record start. The zero Result with the nil
// error is returned when the start of the log is reached. A cursor beyond
// the durability boundary is a caller error - the call fails with
// ErrWrongPos and nothing is retried.
func (sr *SeqReader) ReadPrev() (Result, error) {
	for retry := 0; ; {
		bnd := sr.chkp.Read()
		if sr.pos > bnd {
			return Result{}, errors.Wrapf(ErrWrongPos, "ReadPrev: pos=%d, boundary=%d", sr.pos, bnd)
		}
		if sr.pos <= 0 {
			return Result{}, nil
		}

		c, err := sr.cmgr.ResolveChunk(sr.pos)
		if err != nil {
			return Result{}, errors.Wrapf(err, "ReadPrev: could not resolve the chunk for pos=%d", sr.pos)
		}

		var rr chunk.ReadResult
		if sr.pos == c.DataStart() {
			// the cursor stays at the chunk very beginning, so the previous
			// record is the last one of the prior chunk
			c, err = sr.cmgr.ResolveChunk(sr.pos - 1)
			if err != nil {
				return Result{}, errors.Wrapf(err, "ReadPrev: could not resolve the prior chunk for pos=%d", sr.pos)
			}
			rr, err = c.ReadLast()
		} else {
			rr, err = c.ReadClosestBackward(c.LocalOffs(sr.pos))
		}

		if err != nil {
			if retry, err = sr.onReadErr("ReadPrev", c, err, retry, bnd); err != nil {
				return Result{}, err
			}
			continue
		}
		sr.cnts.onChunkRead(c)

		if !rr.Found {
			// no records before the cursor within this chunk. Move the
			// cursor to the chunk start and go the next round, which will
			// switch to the prior chunk itself.
			sr.pos = c.DataStart()
			continue
		}

		sr.pos = c.DataStart() + rr.NextOffs
		return sr.result(rr, bnd), nil
	}
}

// ReadAt returns the record which covers the absolute position pos. The
// call doesn't touch the reader cursor. The zero Result with the nil error
// is returned when pos is at or beyond the durability boundary.
func (sr *SeqReader) ReadAt(pos int64) (Result, error) {
	for retry := 0; ; {
		bnd := sr.chkp.Read()
		if pos >= bnd {
			return Result{}, nil
		}

		c, err := sr.cmgr.ResolveChunk(pos)
		if err != nil {
			return Result{}, errors.Wrapf(err, "ReadAt: could not resolve the chunk for pos=%d", pos)
		}

		rr, err := c.ReadAt(c.LocalOffs(pos))
		if err != nil {
			if retry, err = sr.onReadErr("ReadAt", c, err, retry, bnd); err != nil {
				return Result{}, err
			}
			continue
		}
		sr.cnts.onChunkRead(c)

		if !rr.Found {
			return Result{}, nil
		}
		return sr.result(rr, bnd), nil
	}
}

// ExistsAt indicates whether a record covers the absolute position pos.
// The boundary and the retry semantic are same as for ReadAt().
func (sr *SeqReader) ExistsAt(pos int64) (bool, error) {
	for retry := 0; ; {
		bnd := sr.chkp.Read()
		if pos >= bnd {
			return false, nil
		}

		c, err := sr.cmgr.ResolveChunk(pos)
		if err != nil {
			return false, errors.Wrapf(err, "ExistsAt: could not resolve the chunk for pos=%d", pos)
		}

		res, err := c.ExistsAt(c.LocalOffs(pos))
		if err != nil {
			if retry, err = sr.onReadErr("ExistsAt", c, err, retry, bnd); err != nil {
				return false, err
			}
			continue
		}
		sr.cnts.onChunkRead(c)
		return res, nil
	}
}

func (sr *SeqReader) String() string {
	return fmt.Sprintf("{pos=%d, boundary=%d}", sr.pos, sr.chkp.Read())
}

// onReadErr handles an error got from a chunk read operation. For the
// transient deletion signal it bumps the retry counter, turning it to
// ErrRetriesExhausted when the bound is passed. Any other error is
// returned as is - the chunk layer must not produce them, so nothing to
// retry.
func (sr *SeqReader) onReadErr(op string, c chunk.Chunk, err error, retry int, bnd int64) (int, error) {
	if errors.Cause(err) != chunk.ErrDeleted {
		return retry, errors.Wrapf(err, "%s: unexpected error from the chunk %v read operation", op, c)
	}
	retry++
	if retry > maxRetries {
		return retry, errors.Wrapf(ErrRetriesExhausted,
			"%s: the chunk %v still backs data below the boundary %d, but keeps being deleted after %d attempts", op, c, bnd, maxRetries)
	}
	return retry, nil
}

func (sr *SeqReader) result(rr chunk.ReadResult, bnd int64) Result {
	nextPos := rr.Rec.PostPos()
	return Result{
		Success: true,
		Eof:     nextPos == bnd,
		Rec:     rr.Rec,
		RecLen:  rr.RecLen,
		RecPos:  rr.Rec.LogPos,
		NextPos: nextPos,
	}
}
