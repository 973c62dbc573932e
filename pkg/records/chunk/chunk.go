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

// chunk package describes the physical pieces the transaction log consists
// of. The log logical address space is cut into a sequence of chunks, every
// chunk covers a contiguous half-open sub-range [DataStart..DataEnd) of the
// space. The package defines the chunk capability set the log readers
// consume, but it doesn't define the chunk layout policy - how the chunks
// are written, compacted or retired is up to the chunk set owner.
package chunk

import (
	"fmt"

	"github.com/tlog-io/tlog/pkg/records"
)

type (
	// ReadResult describes an outcome of a single chunk-local read attempt.
	ReadResult struct {
		// Found indicates whether a record was found by the read operation
		Found bool

		// Rec contains the found record, if any
		Rec *records.Record

		// RecLen contains the found record payload length
		RecLen int

		// NextOffs contains the chunk-local offset the next read operation
		// in the same direction should be continued from
		NextOffs int64
	}

	// Chunk interface provides an access to one physical piece of the log.
	// A chunk is read-only from this interface perspective. Any read
	// operation may return ErrDeleted instead of a result, which indicates
	// that the chunk is being concurrently reclaimed and the caller should
	// re-resolve the chunk and repeat the attempt.
	Chunk interface {

		// DataStart returns the absolute position of the first byte of the
		// log address space the chunk covers
		DataStart() int64

		// DataEnd returns the absolute position right behind the last byte
		// the chunk covers, so the chunk range is [DataStart()..DataEnd())
		DataEnd() int64

		// IsCached indicates whether the chunk data is memory resident
		IsCached() bool

		// LocalOffs translates the absolute position pos to the chunk-local
		// offset. pos must lie in the chunk range
		LocalOffs(pos int64) int64

		// ReadClosestForward finds the record which starts at, or closest
		// after, the chunk-local offset offs
		ReadClosestForward(offs int64) (ReadResult, error)

		// ReadClosestBackward finds the record which ends at, or closest
		// before, the chunk-local offset offs. NextOffs of the result points
		// to the found record start, so the next backward read continues
		// from there
		ReadClosestBackward(offs int64) (ReadResult, error)

		// ReadLast returns the last record of the chunk
		ReadLast() (ReadResult, error)

		// ReadAt returns the record which covers the chunk-local offset offs
		ReadAt(offs int64) (ReadResult, error)

		// ExistsAt indicates whether a record covers the chunk-local offset
		ExistsAt(offs int64) (bool, error)
	}

	// Manager interface provides an access to the chunk set which backs the
	// log at the moment. It is safe for concurrent use, but the chunks it
	// returns may subsequently become subject to reclamation.
	Manager interface {

		// ResolveChunk returns the chunk covering the absolute position pos
		ResolveChunk(pos int64) (Chunk, error)
	}
)

var (
	// ErrDeleted is returned by the chunk read operations when the chunk is
	// being concurrently reclaimed. The condition is transient - the caller
	// should re-resolve the chunk and retry.
	ErrDeleted = fmt.Errorf("the chunk is being deleted")

	// ErrNotFound is returned by Manager.ResolveChunk when no chunk covers
	// the requested position
	ErrNotFound = fmt.Errorf("no chunk covers the requested position")
)
