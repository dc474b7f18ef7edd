// Copyright 2023 QuarkDB
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"runtime"

	"github.com/BurntSushi/toml"

	"github.com/quarkdb/quark/pkg/common/qerr"
	"github.com/quarkdb/quark/pkg/logutil"
)

var numCPU = runtime.NumCPU

// PipelineConfig is the [pipeline] section of the node configuration.
type PipelineConfig struct {
	// DriverPoolSize is the number of workers stepping drivers. It must
	// cover every concurrent driver of the fragments admitted at once: a
	// driver blocked on a local exchange holds its worker. 0 means eight
	// per CPU.
	DriverPoolSize int `toml:"driver-pool-size"`
	// ChunkSize is the max rows per chunk produced by source operators.
	ChunkSize int `toml:"chunk-size"`
	// MorselRows is the rows covered by one morsel.
	MorselRows int `toml:"morsel-rows"`
	// RuntimeFilterNDVLimit: a build side whose estimated distinct count
	// exceeds this publishes its filter as always-pass.
	RuntimeFilterNDVLimit uint64 `toml:"runtime-filter-ndv-limit"`
}

type Config struct {
	Log      logutil.LogConfig `toml:"log"`
	Pipeline PipelineConfig    `toml:"pipeline"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, qerr.NewBadConfig(context.Background(), "decode %s: %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fills defaults and rejects values the engine cannot run with.
func (c *Config) Validate() error {
	logutil.Adjust(&c.Log)
	if c.Pipeline.DriverPoolSize == 0 {
		c.Pipeline.DriverPoolSize = numCPU() * 8
	}
	if c.Pipeline.DriverPoolSize < 0 {
		return qerr.NewBadConfig(context.Background(), "driver-pool-size %d", c.Pipeline.DriverPoolSize)
	}
	if c.Pipeline.ChunkSize == 0 {
		c.Pipeline.ChunkSize = 4096
	}
	if c.Pipeline.ChunkSize < 0 {
		return qerr.NewBadConfig(context.Background(), "chunk-size %d", c.Pipeline.ChunkSize)
	}
	if c.Pipeline.MorselRows == 0 {
		c.Pipeline.MorselRows = 16384
	}
	if c.Pipeline.MorselRows < 0 {
		return qerr.NewBadConfig(context.Background(), "morsel-rows %d", c.Pipeline.MorselRows)
	}
	if c.Pipeline.RuntimeFilterNDVLimit == 0 {
		c.Pipeline.RuntimeFilterNDVLimit = 1024 * 1024
	}
	return nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}
