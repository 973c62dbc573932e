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

package records

import (
	"testing"
)

func TestRecordPostPos(t *testing.T) {
	r := &Record{LogPos: 100, Data: make([]byte, 92)}
	if r.Len() != 92 {
		t.Fatal("expecting Len()=92, but got ", r.Len())
	}
	if r.PostPos() != 200 {
		t.Fatal("expecting PostPos()=200 (payload and two markers), but got ", r.PostPos())
	}

	r = &Record{LogPos: 0}
	if r.PostPos() != 2*MarkerSize {
		t.Fatal("an empty record must still occupy its markers, got PostPos()=", r.PostPos())
	}
}
