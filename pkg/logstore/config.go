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
	"fmt"
	"strings"

	"github.com/mohae/deepcopy"
	"github.com/tlog-io/tlog/pkg/util"
)

type (
	// Config describes the log store configuration - the set of named
	// checkpoints the store keeps. A log typically carries several
	// distinct durability markers (the writer one, the chaser one etc.),
	// every marker is described by its own CheckpointConfig.
	Config struct {
		Checkpoints []*CheckpointConfig
	}

	// CheckpointConfig describes one named checkpoint
	CheckpointConfig struct {
		// Name is the checkpoint unique name
		Name string

		// Backend selects the checkpoint implementation, one of
		// CBackendMem or CBackendFile
		Backend string

		// Params contains the backend specific parameters, see
		// fileChkptParams for the file backend
		Params map[string]interface{}
	}

	// fileChkptParams describes the file backend parameters, the Params
	// map of a CheckpointConfig is decoded into the struct
	fileChkptParams struct {
		// Dir is the folder where the checkpoint file is placed
		Dir string
	}
)

const (
	CBackendMem  = "mem"
	CBackendFile = "file"
)

// NewDefaultConfig creates the default store configuration - one in-memory
// writer checkpoint
func NewDefaultConfig() *Config {
	return &Config{
		Checkpoints: []*CheckpointConfig{
			{Name: "writer", Backend: CBackendMem},
		},
	}
}

// Apply merges the non-empty fields of other into c
func (c *Config) Apply(other *Config) {
	if other == nil {
		return
	}
	if len(other.Checkpoints) != 0 {
		c.Checkpoints = deepcopy.Copy(other.Checkpoints).([]*CheckpointConfig)
	}
}

// Check tests the configuration consistency
func (c *Config) Check() error {
	if len(c.Checkpoints) == 0 {
		return fmt.Errorf("invalid Checkpoints=%v, at least one checkpoint must be defined", c.Checkpoints)
	}

	names := make(map[string]bool)
	for _, cc := range c.Checkpoints {
		if _, ok := names[cc.Name]; ok {
			return fmt.Errorf("invalid Checkpoint=%v: duplicate Name, must be unique", cc)
		}
		names[cc.Name] = true
		if err := cc.Check(); err != nil {
			return fmt.Errorf("invalid Checkpoint=%v: %v", cc, err)
		}
	}
	return nil
}

func (c *Config) String() string {
	return util.ToJsonStr(c)
}

//===================== checkpointConfig =====================

func (cc *CheckpointConfig) Check() error {
	if strings.TrimSpace(cc.Name) == "" {
		return fmt.Errorf("invalid Name=%v, must be non-empty", cc.Name)
	}
	switch cc.Backend {
	case CBackendMem:
	case CBackendFile:
		if dir, ok := cc.Params["Dir"]; !ok || dir == "" {
			return fmt.Errorf("invalid Params=%v, the %s backend requires the Dir param", cc.Params, CBackendFile)
		}
	default:
		return fmt.Errorf("invalid Backend=%v, must be %q or %q", cc.Backend, CBackendMem, CBackendFile)
	}
	return nil
}

func (cc *CheckpointConfig) String() string {
	return util.ToJsonStr(cc)
}
