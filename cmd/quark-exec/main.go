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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/quarkdb/quark/pkg/config"
	"github.com/quarkdb/quark/pkg/container/chunk"
	"github.com/quarkdb/quark/pkg/logutil"
	"github.com/quarkdb/quark/pkg/sql/compile"
	"github.com/quarkdb/quark/pkg/sql/plan"
	"github.com/quarkdb/quark/pkg/vm/engine/memengine"
	"github.com/quarkdb/quark/pkg/vm/execenv"
)

var (
	configFile  = flag.String("config", "", "path to the toml config file")
	demoRows    = flag.Int64("rows", 1<<20, "rows in the demo relation")
	parallelism = flag.Int("parallelism", 4, "fragment degree of parallelism")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logutil.SetupQuarkLogger(&cfg.Log)

	if err := run(cfg); err != nil {
		logutil.Errorf("demo fragment failed: %v", err)
		os.Exit(1)
	}
}

// run executes one fragment against an in-memory relation: parallel
// scan, build side publishing a runtime filter over even keys, probe
// side consuming it, results funneled to a single counter.
func run(cfg *config.Config) error {
	eng := memengine.New()
	fillDemoRelations(eng, *demoRows)

	env := execenv.New(cfg, eng)
	if err := env.Start(); err != nil {
		return err
	}
	defer env.Stop()

	var rows atomic.Int64
	req := &compile.FragmentRequest{
		QueryID:            uuid.New(),
		FragmentInstanceID: uuid.New(),
		Plan:               demoPlan(int32(*parallelism)),
		Parallelism:        int32(*parallelism),
		Deliver: func(bat *chunk.Chunk) error {
			rows.Add(int64(bat.NumRows()))
			return nil
		},
		OnStatusReport: func(id uuid.UUID, status error) {
			if status != nil {
				logutil.Errorf("fragment %s finished with error: %v", id, status)
				return
			}
			logutil.Infof("fragment %s finished ok", id)
		},
	}

	exec := compile.NewFragmentExecutor(env)
	fc, err := exec.Prepare(context.Background(), req)
	if err != nil {
		return err
	}
	future := fc.FinishFuture()
	exec.Execute(fc)
	if err := future.Wait(context.Background()); err != nil {
		return err
	}
	logutil.Infof("demo fragment delivered %d rows", rows.Load())
	return nil
}

func fillDemoRelations(eng *memengine.MemEngine, n int64) {
	fact := eng.Create("fact", []string{"k", "v"})
	dim := eng.Create("dim", []string{"k"})
	bat := chunk.New([]string{"k", "v"})
	for i := int64(0); i < n; i++ {
		bat.AppendRow(i%1024, i)
		if bat.NumRows() == 8192 {
			fact.Append(bat)
			bat = chunk.New([]string{"k", "v"})
		}
	}
	if !bat.IsEmpty() {
		fact.Append(bat)
	}
	dbat := chunk.New([]string{"k"})
	for i := int64(0); i < 1024; i += 2 {
		dbat.AppendRow(i)
	}
	dim.Append(dbat)
}

// demoPlan joins fact against dim reduced to a runtime filter: the dim
// scan feeds a filter-build publishing filter 1, the fact scan's filter
// consumes it.
func demoPlan(dop int32) *plan.Node {
	dimScan := &plan.Node{ID: 3, Kind: plan.Scan, Table: "dim", Attrs: []string{"k"}, Parallelism: 1}
	build := &plan.Node{
		ID: 2, Kind: plan.FilterBuild, Children: []*plan.Node{dimScan},
		PublishFilterID: 1, BuildKeyAttr: "k", Parallelism: 1,
	}
	factScan := &plan.Node{ID: 4, Kind: plan.Scan, Table: "fact", Attrs: []string{"k", "v"}, Parallelism: dop}
	filter := &plan.Node{
		ID: 1, Kind: plan.Filter, Children: []*plan.Node{factScan, build},
		FilterAttr: "k", ConsumeFilterID: 1,
	}
	return &plan.Node{ID: 0, Kind: plan.Result, Children: []*plan.Node{filter}, Parallelism: 1}
}
