package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"time"

	tdigest "github.com/caio/go-tdigest/v4"

	"github.com/INLOpen/diskbfs/config"
	"github.com/INLOpen/diskbfs/core"
	"github.com/INLOpen/diskbfs/maintenance"
	"github.com/INLOpen/diskbfs/mazeproblem"
	"github.com/INLOpen/diskbfs/workerpool"
)

// runMaintenance dispatches one of the maintenance package's offline
// verbs: a flat command name followed by positional arguments, no flag
// parsing beyond the shared -config. Every maintenance.* call below names its type
// parameters explicitly: Go cannot infer S/C/T from an argument whose
// static type merely implements problem.Problem[S, C, T].
//
// Range verbs follow the original convention: no arguments means every
// group with a matching file on disk, one argument is a single group, two
// arguments are the half-open range [a, b).
func runMaintenance(cmd string, args []string, cfg *config.Config, logger *slog.Logger) {
	prob := mazeProblem(cfg)
	dir := cfg.Engine.DataDir

	must := func(n int) {
		if len(args) < n {
			fmt.Fprintf(os.Stderr, "enginectl %s: expected %d argument(s), got %d\n", cmd, n, len(args))
			os.Exit(exitError)
		}
	}
	group := func(i int) core.FrameGroup {
		v, err := strconv.ParseUint(args[i], 10, 32)
		if err != nil {
			fmt.Fprintf(os.Stderr, "enginectl %s: invalid group %q: %v\n", cmd, args[i], err)
			os.Exit(exitError)
		}
		return core.FrameGroup(v)
	}
	// groupsFor resolves a range against groups that have a <prefix> file.
	groupsFor := func(prefix string) []core.FrameGroup {
		switch len(args) {
		case 0:
			gs, err := maintenance.Groups(dir, prefix)
			if err != nil {
				logger.Error("scanning groups", "prefix", prefix, "error", err)
				os.Exit(exitError)
			}
			return gs
		case 1:
			return []core.FrameGroup{group(0)}
		default:
			from, to := group(0), group(1)
			gs := make([]core.FrameGroup, 0)
			for g := from; g < to; g++ {
				gs = append(gs, g)
			}
			return gs
		}
	}
	// bounds resolves a range to inclusive [from, to] endpoints.
	bounds := func(prefix string) (from, to core.FrameGroup, ok bool) {
		switch len(args) {
		case 0:
			gs, err := maintenance.Groups(dir, prefix)
			if err != nil {
				logger.Error("scanning groups", "prefix", prefix, "error", err)
				os.Exit(exitError)
			}
			if len(gs) == 0 {
				return 0, 0, false
			}
			return gs[0], gs[len(gs)-1], true
		case 1:
			g := group(0)
			return g, g, true
		default:
			from, to := group(0), group(1)
			if to <= from {
				return 0, 0, false
			}
			return from, to - 1, true
		}
	}

	var err error
	switch cmd {
	case "sort-open":
		// Processed in reverse so a crash midway leaves the lowest (soonest
		// needed) groups untouched.
		gs := groupsFor("open")
		for i := len(gs) - 1; i >= 0; i-- {
			if err = maintenance.SortOpen[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, gs[i], prob); err != nil {
				break
			}
		}
	case "filter-open":
		err = maintenance.FilterOpen[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, prob)
	case "seq-filter-open":
		for _, g := range groupsFor("open") {
			if err = maintenance.SeqFilterOpen[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, g, prob); err != nil {
				break
			}
		}
	case "pack-open":
		for _, g := range groupsFor("open") {
			if err = maintenance.PackOpen[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, g, prob); err != nil {
				break
			}
		}
	case "unpack":
		for _, g := range groupsFor("openpacked") {
			if err = maintenance.Unpack(dir, g); err != nil {
				break
			}
		}
	case "regenerate-open":
		if from, to, ok := bounds("closed"); ok {
			pool := workerpool.New(cfg.Engine.Workers, cfg.Engine.RingCapacity, logger)
			err = maintenance.RegenerateOpen[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](context.Background(), dir, from, to, prob, pool)
		}
	case "create-all":
		err = maintenance.CreateAll[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, prob)
	case "dump":
		must(1)
		_, err = maintenance.Dump[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](args[0], prob, os.Stdout)
	case "sample":
		must(1)
		g := group(0)
		var s mazeproblem.State
		var frame core.Frame
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
		s, frame, err = maintenance.SampleRandom[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, g, prob, rnd)
		if err == nil {
			fmt.Printf("frame=%d state=%+v\n", frame, s)
			path := core.ClosedPath(dir, g)
			if _, serr := os.Stat(path); os.IsNotExist(serr) {
				path = core.OpenPath(dir, g)
			}
			var td *tdigest.TDigest
			td, err = maintenance.Sample[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](path, prob, func(st mazeproblem.State) float64 {
				return float64(prob.Compress(st).Subframe())
			})
			if err == nil && td.Count() > 0 {
				fmt.Printf("subframe p50=%.0f p90=%.0f p99=%.0f\n",
					td.Quantile(0.5), td.Quantile(0.9), td.Quantile(0.99))
			}
		}
	case "count":
		must(1)
		var counts map[core.FrameGroup]int64
		counts, err = maintenance.Count[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, args[0], prob)
		if err == nil {
			for g, n := range counts {
				fmt.Printf("%s-%d: %d\n", args[0], g, n)
			}
		}
	case "verify":
		must(1)
		var report maintenance.VerifyReport
		report, err = maintenance.Verify[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, group(0), prob)
		if err == nil {
			fmt.Printf("records=%d out_of_order=%d duplicates=%d bitmap=%v\n",
				report.Records, report.OutOfOrder, report.Duplicates, report.UsedBitmap)
		}
	case "compare":
		must(2)
		var report maintenance.CompareReport
		report, err = maintenance.Compare[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](args[0], args[1], prob)
		if err == nil {
			fmt.Printf("only_a=%d only_b=%d both=%d\n", report.OnlyA, report.OnlyB, report.Both)
		}
	case "convert":
		var gs []core.FrameGroup
		if len(args) == 0 {
			gs, err = maintenance.ChunkGroups(dir)
		} else {
			gs = groupsFor("open")
		}
		for _, g := range gs {
			if err != nil {
				break
			}
			err = maintenance.Convert[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, g, prob)
		}
	case "find-exit":
		from, to, ok := bounds("closed")
		if !ok {
			fmt.Println("found=false frame=0")
			os.Exit(exitNotFound)
		}
		var found bool
		var frame core.Frame
		found, _, frame, err = maintenance.FindExit[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, from, to, prob)
		if err == nil {
			fmt.Printf("found=%v frame=%d\n", found, frame)
			if !found {
				os.Exit(exitNotFound)
			}
		}
	case "write-partial-solution":
		err = maintenance.WritePartialSolution[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, prob)
	default:
		usage()
		os.Exit(exitError)
	}

	if err != nil {
		logger.Error("maintenance command failed", "command", cmd, "error", err)
		os.Exit(exitError)
	}
}
