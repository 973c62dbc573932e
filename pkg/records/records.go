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

// records package contains the main types used for the transaction log data
// manipulations. The log is a single, ever-growing logical address space
// populated by records. Every record knows its own absolute position within
// the space, so the package describes the record structure and the arithmetic
// around its on-disk framing, but it doesn't care about the record payload
// semantic.
package records

type (
	// Record is one appended log entry. It contains the absolute position
	// of the record in the log address space and the record payload.
	Record struct {
		// LogPos contains the absolute position of the record in the log
		LogPos int64

		// Data contains the record payload
		Data []byte
	}
)

// MarkerSize defines the size (in bytes) of the length marker which frames
// a record payload on disk. Every record is stored with two such markers -
// one before and one after the payload.
const MarkerSize = 4

// Len returns the record payload length in bytes
func (r *Record) Len() int {
	return len(r.Data)
}

// PostPos returns the absolute position right behind the record together
// with its framing markers. The value is the position where the next record
// starts, so the arithmetic must match the layout the chunk writer produces.
func (r *Record) PostPos() int64 {
	return r.LogPos + int64(r.Len()) + 2*MarkerSize
}
