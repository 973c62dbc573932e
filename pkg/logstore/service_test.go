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

package logstore

import (
	"context"
	"io/ioutil"
	"os"
	"testing"

	"github.com/logrange/linker"
	"github.com/tlog-io/tlog/pkg/records/chunk/inmem"
)

func testService(t *testing.T, cfg *Config) (*Service, func()) {
	s := NewService()

	injector := linker.New()
	injector.Register(
		linker.Component{Name: "tlogConfig", Value: cfg},
		linker.Component{Name: "", Value: inmem.NewManager()},
		linker.Component{Name: "", Value: s},
	)
	injector.Init(context.Background())
	return s, injector.Shutdown
}

func TestServiceInitAndReaders(t *testing.T) {
	cfg := NewDefaultConfig()
	s, shutdown := testService(t, cfg)
	defer shutdown()

	cp, err := s.Checkpoint("writer")
	if err != nil {
		t.Fatal("err must be nil, but err=", err)
	}
	if cp.Name() != "writer" {
		t.Fatal("expecting the writer checkpoint, but got ", cp.Name())
	}

	if _, err = s.Checkpoint("unknown"); err == nil {
		t.Fatal("an unknown checkpoint name must not be resolved")
	}

	sr, err := s.NewReader("writer", 0)
	if err != nil {
		t.Fatal("err must be nil, but err=", err)
	}
	if res, err := sr.ReadNext(); err != nil || res.Success {
		t.Fatal("the empty log must give the no-data result, but res=", res, ", err=", err)
	}

	if _, err = s.NewReader("unknown", 0); err == nil {
		t.Fatal("a reader over an unknown checkpoint must not be created")
	}
}

func TestServiceFileCheckpoint(t *testing.T) {
	dir, err := ioutil.TempDir("", "logstoreTest")
	if err != nil {
		t.Fatal("could not create a temp dir, err=", err)
	}
	defer os.RemoveAll(dir)

	cfg := &Config{Checkpoints: []*CheckpointConfig{
		{Name: "writer", Backend: CBackendFile, Params: map[string]interface{}{"Dir": dir}},
	}}
	s, shutdown := testService(t, cfg)

	cp, err := s.Checkpoint("writer")
	if err != nil {
		t.Fatal("err must be nil, but err=", err)
	}
	cp.Write(300)
	shutdown()

	// the position must be flushed by the service shutdown
	s2, shutdown2 := testService(t, cfg)
	defer shutdown2()
	cp, err = s2.Checkpoint("writer")
	if err != nil {
		t.Fatal("err must be nil, but err=", err)
	}
	if cp.Read() != 300 {
		t.Fatal("the position must survive the restart, but Read()=", cp.Read())
	}
}

func TestServiceInitChecksConfig(t *testing.T) {
	s := NewService()
	s.Config = &Config{}
	s.Chunks = inmem.NewManager()
	if err := s.Init(context.Background()); err == nil {
		t.Fatal("the init must fail on an invalid config")
	}
}
