// Command lexguard-perfcheck compares two `go test -bench` outputs and exits
// non-zero when a tracked benchmark got slower than the allowed ratio.
//
//	go test -run '^$' -bench . -count 5 . > new.txt
//	lexguard-perfcheck old.txt new.txt
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// series identifies one measured unit of one benchmark.
type series struct {
	bench string
	unit  string
}

func (s series) String() string { return s.bench + " " + s.unit }

// watched lists the hot paths guarded in CI.
var watched = []series{
	{"BenchmarkAllowRequestMemory", "allocs/op"},
	{"BenchmarkAllowRequestMemory", "ns/op"},
	{"BenchmarkAuthorizeStateless", "allocs/op"},
	{"BenchmarkAuthorizeStateless", "ns/op"},
	{"BenchmarkAuthorizeStrict", "allocs/op"},
	{"BenchmarkAuthorizeStrict", "ns/op"},
	{"BenchmarkHasPermission", "ns/op"},
}

type run map[series][]float64

type verdict struct {
	series
	base, cand float64
	change   float64
	problem  string
}

var errRegressed = errors.New("performance regressed")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var maxSlowdown float64
	cmd := &cobra.Command{
		Use:           "lexguard-perfcheck BASELINE CANDIDATE",
		Short:         "Fail when watched benchmarks regress",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxSlowdown < 0 {
				return errors.New("--max-slowdown must be >= 0")
			}
			before, err := load(args[0])
			if err != nil {
				return fmt.Errorf("baseline: %w", err)
			}
			after, err := load(args[1])
			if err != nil {
				return fmt.Errorf("candidate: %w", err)
			}
			verdicts := judge(before, after, maxSlowdown)
			if report(cmd.OutOrStdout(), verdicts) {
				return errRegressed
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&maxSlowdown, "max-slowdown", 0.30, "largest tolerated median increase as a ratio (0.30 = +30%)")
	return cmd
}

// judge compares medians. A unit whose baseline median is zero must stay at
// zero.
func judge(before, after run, maxSlowdown float64) []verdict {
	out := make([]verdict, 0, len(watched))
	for _, s := range watched {
		v := verdict{series: s}
		b, a := before[s], after[s]
		if len(b) == 0 || len(a) == 0 {
			v.problem = "no samples"
			out = append(out, v)
			continue
		}
		v.base, v.cand = median(b), median(a)
		switch {
		case v.base == 0:
			if v.cand > 0 {
				v.problem = fmt.Sprintf("was 0, now %.0f", v.cand)
			}
		default:
			v.change = v.cand/v.base - 1
			if v.change > maxSlowdown {
				v.problem = fmt.Sprintf("%+.1f%% exceeds %+.1f%%", v.change*100, maxSlowdown*100)
			}
		}
		out = append(out, v)
	}
	return out
}

// report prints a table and says whether any verdict failed.
func report(w io.Writer, verdicts []verdict) bool {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BENCHMARK\tUNIT\tBASELINE\tCANDIDATE\tCHANGE\tSTATUS")
	failed := false
	for _, v := range verdicts {
		status := "ok"
		if v.problem != "" {
			status, failed = "FAIL: "+v.problem, true
		}
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%.3f\t%+.1f%%\t%s\n", v.bench, v.unit, v.base, v.cand, v.change*100, status)
	}
	tw.Flush()
	return failed
}

func load(path string) (run, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parse(f)
}

// parse reads benchmark lines of the form
//
//	BenchmarkName-8   20000   50000 ns/op   4000 B/op   60 allocs/op
//
// keeping only watched series.
func parse(r io.Reader) (run, error) {
	out := run{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || !strings.HasPrefix(fields[0], "Benchmark") {
			continue
		}
		bench := stripProcs(fields[0])
		// fields[1] is the iteration count; value/unit pairs follow.
		rest := fields[2:]
		for pair := range slices.Chunk(rest[:len(rest)&^1], 2) {
			s := series{bench, pair[1]}
			if !slices.Contains(watched, s) {
				continue
			}
			if v, err := strconv.ParseFloat(pair[0], 64); err == nil {
				out[s] = append(out[s], v)
			}
		}
	}
	return out, sc.Err()
}

// stripProcs removes the -GOMAXPROCS suffix go test appends.
func stripProcs(name string) string {
	i := strings.LastIndexByte(name, '-')
	if i <= 0 {
		return name
	}
	if _, err := strconv.Atoi(name[i+1:]); err != nil {
		return name
	}
	return name[:i]
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := slices.Clone(xs)
	slices.Sort(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
