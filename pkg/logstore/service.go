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

// logstore package assembles the transaction log reading core - the named
// checkpoints and the chunk set - into one component with the managed
// lifecycle. The Service hands out the log readers, all of them share the
// same read counters, so the store numbers are not mixed with another
// store which may live in the same process.
package logstore

import (
	"context"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/jrivets/log4g"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/tlog-io/tlog/pkg/records/checkpoint"
	"github.com/tlog-io/tlog/pkg/records/chunk"
	"github.com/tlog-io/tlog/pkg/records/tlog"
)

type (
	// Service struct provides access to the log reading core components.
	// The fields are injected by the linker, the Service implements
	// linker.Initializer and linker.Shutdowner.
	Service struct {
		Config *Config       `inject:"tlogConfig"`
		Chunks chunk.Manager `inject:""`

		logger log4g.Logger
		lock   sync.Mutex
		chkpts map[string]checkpoint.Checkpoint
		cnts   tlog.ReadCounters
	}
)

// NewService creates the new log store service
func NewService() *Service {
	s := new(Service)
	s.logger = log4g.GetLogger("tlog.logstore.Service")
	return s
}

// Init is part of linker.Initializer
func (s *Service) Init(ctx context.Context) error {
	if err := s.Config.Check(); err != nil {
		return errors.Wrapf(err, "could not init the log store, the config check failed")
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	s.chkpts = make(map[string]checkpoint.Checkpoint, len(s.Config.Checkpoints))
	for _, cc := range s.Config.Checkpoints {
		cp, err := s.newCheckpoint(cc)
		if err != nil {
			s.closeCheckpoints()
			return err
		}
		s.chkpts[cc.Name] = cp
	}

	if szr, ok := s.Chunks.(interface{ Size() int64 }); ok {
		s.logger.Info("Initialized with ", len(s.chkpts), " checkpoint(s), the chunk set covers ",
			humanize.Bytes(uint64(szr.Size())), " of the log address space")
	} else {
		s.logger.Info("Initialized with ", len(s.chkpts), " checkpoint(s)")
	}
	return nil
}

// Shutdown is part of linker.Shutdowner
func (s *Service) Shutdown() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.logger.Info("Shutting down, counters=", s.cnts.String())
	s.closeCheckpoints()
}

// Checkpoint returns the named checkpoint
func (s *Service) Checkpoint(name string) (checkpoint.Checkpoint, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	cp, ok := s.chkpts[name]
	if !ok {
		return nil, errors.Errorf("unknown checkpoint name=%s", name)
	}
	return cp, nil
}

// NewReader creates the new log reader bounded by the named checkpoint,
// with the initial cursor position pos. The reader must be driven by one
// consumer, but many readers may be created and work concurrently.
func (s *Service) NewReader(chkptName string, pos int64) (*tlog.SeqReader, error) {
	cp, err := s.Checkpoint(chkptName)
	if err != nil {
		return nil, errors.Wrapf(err, "could not create a reader at pos=%d", pos)
	}
	return tlog.NewSeqReader(cp, s.Chunks, &s.cnts, pos), nil
}

// Counters returns the read counters shared by the service readers
func (s *Service) Counters() *tlog.ReadCounters {
	return &s.cnts
}

func (s *Service) newCheckpoint(cc *CheckpointConfig) (checkpoint.Checkpoint, error) {
	switch cc.Backend {
	case CBackendMem:
		return checkpoint.NewMemCheckpoint(cc.Name, 0), nil
	case CBackendFile:
		var fp fileChkptParams
		if err := mapstructure.Decode(cc.Params, &fp); err != nil {
			return nil, errors.Wrapf(err, "could not decode the file checkpoint params %v", cc.Params)
		}
		return checkpoint.NewFileCheckpoint(fp.Dir, cc.Name)
	}
	return nil, errors.Errorf("unknown checkpoint backend=%s", cc.Backend)
}

func (s *Service) closeCheckpoints() {
	for name, cp := range s.chkpts {
		if err := cp.Close(); err != nil {
			s.logger.Error("Could not close the checkpoint ", name, ", err=", err)
		}
	}
	s.chkpts = nil
}
