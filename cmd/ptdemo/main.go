// Copyright 2018 The gVisor Authors.
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

// Command ptdemo exercises the page-table engine from the command
// line: it maps, protects, queries and unmaps a synthetic range
// against a bitmap-backed frame arena, printing the accounting after
// each step. It exists for manual inspection, not automated testing.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/zircon-go/pagetables/pkg/log"
	"github.com/zircon-go/pagetables/pkg/pagetables"
	"github.com/zircon-go/pagetables/pkg/pfalloc"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&mapCmd{}, "")
	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

type mapCmd struct {
	pages    uint
	logStyle string
	logFile  string
}

func (*mapCmd) Name() string     { return "map" }
func (*mapCmd) Synopsis() string { return "map, protect, query and unmap a synthetic range" }
func (*mapCmd) Usage() string {
	return "map [-pages N] [-log-style text|json|k8s-json] [-log-file path]\n"
}

func (c *mapCmd) SetFlags(f *flag.FlagSet) {
	f.UintVar(&c.pages, "pages", 512, "number of 4KiB pages to map contiguously")
	f.StringVar(&c.logStyle, "log-style", "text", "warning format: text, json or k8s-json")
	f.StringVar(&c.logFile, "log-file", "", "write log output to this path instead of stderr")
}

func (c *mapCmd) configureLogging() error {
	sink := os.Stderr
	if c.logFile != "" {
		f, err := log.CreateLogFile(c.logFile)
		if err != nil {
			return err
		}
		sink = f
	}

	format := log.TextFormat
	switch c.logStyle {
	case "json":
		format = log.JSONFormat
	case "k8s-json":
		format = log.K8sJSONFormat
	}
	log.SetTarget(&log.BasicLogger{Level: log.Info, Emitter: &log.Sink{
		Format: format,
		Out:    &log.Writer{Next: sink},
	}})
	return nil
}

func (c *mapCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.configureLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "configuring log sink: %v\n", err)
		return subcommands.ExitFailure
	}

	arena := pfalloc.NewArena(uint32(c.pages) + 16)
	pt := pagetables.New(arena.Allocator(), &pagetables.HostPolicy{})

	const va = uintptr(0x0000700000000000)
	const pa = uintptr(0x0000000010000000)

	n, err := pt.MapPagesContiguous(va, pa, uintptr(c.pages), pagetables.Read|pagetables.Write)
	if err != nil {
		log.Warningf("map failed: %v", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("mapped %d pages, pages=%d\n", n, pt.Pages())

	got, flags, err := pt.QueryVaddr(va)
	if err != nil {
		log.Warningf("query failed: %v", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("query(%#x) = %#x flags=%#x\n", va, got, flags)

	if err := pt.ProtectPages(va, uintptr(c.pages), pagetables.Read); err != nil {
		log.Warningf("protect failed: %v", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("protected, pages=%d\n", pt.Pages())

	if _, err := pt.UnmapPages(va, uintptr(c.pages)); err != nil {
		log.Warningf("unmap failed: %v", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("unmapped, pages=%d\n", pt.Pages())

	pt.Destroy(0, 0x0000800000000000)
	return subcommands.ExitSuccess
}
