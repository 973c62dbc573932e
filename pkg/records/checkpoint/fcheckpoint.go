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

package checkpoint

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/jrivets/log4g"
	"github.com/pkg/errors"
)

type (
	// FileCheckpoint is the file-backed Checkpoint implementation. The
	// flushed position is persisted into a small file as 8 big-endian
	// bytes, so it survives the process restarts. The tentative position
	// and the flush signaling live in memory, only Flush() touches the
	// disk.
	//
	// The checkpoint file is protected by an OS-level lock, so two
	// processes cannot drive the same durability marker.
	FileCheckpoint struct {
		mem    *MemCheckpoint
		fn     string
		f      *os.File
		flck   *flock.Flock
		logger log4g.Logger

		// lock serializes the file writes made by Flush() and Close()
		lock   sync.Mutex
		closed bool
	}
)

const cChkptFileExt = ".chk"
const cChkptPosSize = 8

// NewFileCheckpoint opens, or creates if it doesn't exist, the checkpoint
// file for the name provided in the dir folder. The initial positions are
// read from the file, or set to 0 for a new one.
func NewFileCheckpoint(dir, name string) (*FileCheckpoint, error) {
	fc := new(FileCheckpoint)
	fc.fn = filepath.Join(dir, name+cChkptFileExt)
	fc.logger = log4g.GetLogger("tlog.checkpoint").WithId("{" + name + "}").(log4g.Logger)

	fc.flck = flock.New(fc.fn + ".lock")
	locked, err := fc.flck.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "could not acquire the lock for the checkpoint file %s", fc.fn)
	}
	if !locked {
		return nil, errors.Errorf("the checkpoint file %s is used by another process", fc.fn)
	}

	f, err := os.OpenFile(fc.fn, os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		fc.flck.Unlock()
		return nil, errors.Wrapf(err, "could not open the checkpoint file %s", fc.fn)
	}
	fc.f = f

	pos, err := fc.readStored()
	if err != nil {
		f.Close()
		fc.flck.Unlock()
		return nil, err
	}

	fc.mem = NewMemCheckpoint(name, pos)
	fc.logger.Info("Opened with pos=", pos)
	return fc, nil
}

// Name is part of Checkpoint
func (fc *FileCheckpoint) Name() string {
	return fc.mem.Name()
}

// Write is part of Checkpoint
func (fc *FileCheckpoint) Write(pos int64) {
	fc.mem.Write(pos)
}

// Read is part of Checkpoint
func (fc *FileCheckpoint) Read() int64 {
	return fc.mem.Read()
}

// ReadTentative is part of Checkpoint
func (fc *FileCheckpoint) ReadTentative() int64 {
	return fc.mem.ReadTentative()
}

// WaitFlush is part of Checkpoint
func (fc *FileCheckpoint) WaitFlush(timeout time.Duration) bool {
	return fc.mem.WaitFlush(timeout)
}

// Flush is part of Checkpoint. The tentative position is written to the
// file and synced to the stable storage first, the in-memory publish with
// the waiters broadcast happens after the data is known to be durable.
func (fc *FileCheckpoint) Flush() error {
	t := fc.mem.ReadTentative()
	if t == fc.mem.Read() {
		return nil
	}

	fc.lock.Lock()
	if fc.closed {
		fc.lock.Unlock()
		return errors.Errorf("could not flush the checkpoint %s, it is already closed", fc.fn)
	}
	err := fc.store(t)
	fc.lock.Unlock()

	if err != nil {
		return err
	}
	fc.mem.publish(t)
	return nil
}

// Close is part of Checkpoint. It makes the final flush and releases the
// file and its lock.
func (fc *FileCheckpoint) Close() error {
	err := fc.Flush()
	if err != nil {
		fc.logger.Error("Could not make the final flush, err=", err)
	}

	fc.lock.Lock()
	defer fc.lock.Unlock()

	if fc.closed {
		fc.logger.Warn("Checkpoint is already closed, ignoring this Close() call")
		return nil
	}
	fc.closed = true
	fc.logger.Info("Closing with pos=", fc.mem.Read())

	if err1 := fc.f.Close(); err == nil {
		err = err1
	}
	fc.flck.Unlock()
	return err
}

func (fc *FileCheckpoint) String() string {
	return fc.mem.String()
}

// readStored reads the persisted position from the checkpoint file. An
// empty (just created) file gives position 0.
func (fc *FileCheckpoint) readStored() (int64, error) {
	fi, err := fc.f.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "could not stat the checkpoint file %s", fc.fn)
	}
	if fi.Size() == 0 {
		return 0, nil
	}
	if fi.Size() < cChkptPosSize {
		return 0, errors.Errorf("the checkpoint file %s is corrupted, its size is %d, but at least %d bytes are expected",
			fc.fn, fi.Size(), cChkptPosSize)
	}

	var buf [cChkptPosSize]byte
	if _, err = fc.f.ReadAt(buf[:], 0); err != nil {
		return 0, errors.Wrapf(err, "could not read the checkpoint file %s", fc.fn)
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

func (fc *FileCheckpoint) store(pos int64) error {
	var buf [cChkptPosSize]byte
	binary.BigEndian.PutUint64(buf[:], uint64(pos))
	if _, err := fc.f.WriteAt(buf[:], 0); err != nil {
		return errors.Wrapf(err, "could not write pos=%d to the checkpoint file %s", pos, fc.fn)
	}
	if err := fc.f.Sync(); err != nil {
		return errors.Wrapf(err, "could not sync the checkpoint file %s", fc.fn)
	}
	return nil
}
