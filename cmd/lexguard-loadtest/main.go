// Command lexguard-loadtest drives the sliding-window limiter and the
// session store from many goroutines and prints latency quantiles. The
// limit run also fails when any identifier was admitted past its limit.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/MrEthical07/lexguard/permission"
	"github.com/MrEthical07/lexguard/ratelimit"
	"github.com/MrEthical07/lexguard/ratelimit/memstore"
	"github.com/MrEthical07/lexguard/ratelimit/redisstore"
	"github.com/MrEthical07/lexguard/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var errOverAdmitted = errors.New("identifiers admitted beyond their limit")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type globalOpts struct {
	redisAddr string
	workers   int
	ops       int
	asJSON    bool
}

func newRootCmd() *cobra.Command {
	g := &globalOpts{}
	root := &cobra.Command{
		Use:           "lexguard-loadtest",
		Short:         "Load the rate limiter and session store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.redisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "Redis address (default: embedded miniredis)")
	pf.IntVar(&g.workers, "workers", 256, "concurrent goroutines")
	pf.IntVar(&g.ops, "ops", 200_000, "operations per run")
	pf.BoolVar(&g.asJSON, "json", false, "print results as JSON")

	root.AddCommand(newLimitCmd(g), newResolveCmd(g))
	return root
}

func (g *globalOpts) check() error {
	if g.workers <= 0 || g.ops <= 0 {
		return errors.New("--workers and --ops must be > 0")
	}
	return nil
}

/*
====================================
LIMIT
====================================
*/

func newLimitCmd(g *globalOpts) *cobra.Command {
	var (
		backend string
		keys    int
		limit   int
		window  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "limit",
		Short: "Admit requests across many identifiers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.check(); err != nil {
				return err
			}
			if keys <= 0 || limit <= 0 || window <= 0 {
				return errors.New("--keys, --limit and --window must be > 0")
			}

			var store ratelimit.Store
			switch backend {
			case "memory":
				store = memstore.New(memstore.Config{})
			case "redis":
				client, closeRedis, err := openRedis(cmd.ErrOrStderr(), g.redisAddr)
				if err != nil {
					return err
				}
				defer closeRedis()
				store = redisstore.New(client, "lg:rl:loadtest")
			default:
				return fmt.Errorf("unknown backend %q", backend)
			}

			res := limitRun(cmd.Context(), ratelimit.New(store), keys, limit, window, g.ops, g.workers)
			if err := g.print(cmd.OutOrStdout(), res.result); err != nil {
				return err
			}
			if n := res.overAdmitted(limit, g.ops); n > 0 {
				return fmt.Errorf("%w: %d", errOverAdmitted, n)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&backend, "backend", "memory", "rate-limit store: memory or redis")
	f.IntVar(&keys, "keys", 1000, "distinct identifiers")
	f.IntVar(&limit, "limit", 100, "requests allowed per identifier per window")
	f.DurationVar(&window, "window", time.Minute, "window length")
	return cmd
}

type limitResult struct {
	result
	// admitted[i] counts admissions of identifier i.
	admitted []atomic.Int64
}

// limitRun spreads ops round-robin over keys identifiers.
func limitRun(ctx context.Context, l *ratelimit.Limiter, keys, limit int, window time.Duration, ops, workers int) *limitResult {
	res := &limitResult{admitted: make([]atomic.Int64, keys)}
	res.result = hammer(ctx, "limit", ops, workers, func(ctx context.Context, i int) error {
		k := i % keys
		d, err := l.Allow(ctx, fmt.Sprintf("load:%d", k), limit, window)
		if err == nil && d.Allowed {
			res.admitted[k].Add(1)
		}
		return err
	})
	return res
}

// overAdmitted returns how many identifiers got more admissions than the
// smaller of limit and the attempts they received.
func (r *limitResult) overAdmitted(limit, ops int) int {
	keys := len(r.admitted)
	n := 0
	for k := range r.admitted {
		attempts := ops / keys
		if k < ops%keys {
			attempts++
		}
		if r.admitted[k].Load() > int64(min(limit, attempts)) {
			n++
		}
	}
	return n
}

/*
====================================
RESOLVE
====================================
*/

func newResolveCmd(g *globalOpts) *cobra.Command {
	var seed int
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Read random sessions from the Redis session store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.check(); err != nil {
				return err
			}
			if seed <= 0 {
				return errors.New("--sessions must be > 0")
			}
			client, closeRedis, err := openRedis(cmd.ErrOrStderr(), g.redisAddr)
			if err != nil {
				return err
			}
			defer closeRedis()

			store := session.NewStore(client, "lg:s:loadtest", 0)
			ids, err := seedSessions(cmd.Context(), store, seed)
			if err != nil {
				return fmt.Errorf("seed sessions: %w", err)
			}
			return g.print(cmd.OutOrStdout(), resolveRun(cmd.Context(), store, ids, g.ops, g.workers))
		},
	}
	cmd.Flags().IntVar(&seed, "sessions", 10_000, "sessions to create before reading")
	return cmd
}

func seedSessions(ctx context.Context, store *session.Store, n int) ([]string, error) {
	roles := permission.Roles()
	now := time.Now()
	ids := make([]string, n)
	for i := range ids {
		s := session.New(fmt.Sprintf("u-%d", i), roles[i%len(roles)], now, 24*time.Hour)
		if err := store.Save(ctx, s, 24*time.Hour); err != nil {
			return nil, err
		}
		ids[i] = s.ID
	}
	return ids, nil
}

// resolveRun reads sessions in a fixed stride so every worker touches the
// whole key space.
func resolveRun(ctx context.Context, store *session.Store, ids []string, ops, workers int) result {
	const stride = 7919
	return hammer(ctx, "resolve", ops, workers, func(ctx context.Context, i int) error {
		_, err := store.Get(ctx, ids[(i*stride)%len(ids)])
		return err
	})
}

/*
====================================
DRIVER
====================================
*/

type result struct {
	Name     string        `json:"name"`
	Ops      int           `json:"ops"`
	Failures int64         `json:"failures"`
	Elapsed  time.Duration `json:"elapsed_ns"`
	PerSec   float64       `json:"ops_per_sec"`
	P50      time.Duration `json:"p50_ns"`
	P95      time.Duration `json:"p95_ns"`
	P99      time.Duration `json:"p99_ns"`
	Max      time.Duration `json:"max_ns"`
}

// hammer calls op with indices 0..ops-1 from workers goroutines. Each
// worker keeps its own latency slice; they are merged once all finish.
// op errors count as failures and never stop the run.
func hammer(ctx context.Context, name string, ops, workers int, op func(context.Context, int) error) result {
	var (
		next      atomic.Int64
		failures  atomic.Int64
		perWorker = make([][]time.Duration, workers)
	)

	eg, ctx := errgroup.WithContext(ctx)
	start := time.Now()
	for w := range workers {
		eg.Go(func() error {
			lat := make([]time.Duration, 0, ops/workers+1)
			for {
				i := int(next.Add(1)) - 1
				if i >= ops {
					break
				}
				t0 := time.Now()
				if err := op(ctx, i); err != nil {
					failures.Add(1)
				}
				lat = append(lat, time.Since(t0))
			}
			perWorker[w] = lat
			return nil
		})
	}
	_ = eg.Wait()
	elapsed := time.Since(start)

	all := slices.Concat(perWorker...)
	slices.Sort(all)
	r := result{Name: name, Ops: len(all), Failures: failures.Load(), Elapsed: elapsed}
	if len(all) > 0 {
		r.PerSec = float64(len(all)) / elapsed.Seconds()
		r.P50, r.P95, r.P99 = quantile(all, 0.50), quantile(all, 0.95), quantile(all, 0.99)
		r.Max = all[len(all)-1]
	}
	return r
}

// quantile picks from sorted samples by nearest rank.
func quantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(q*float64(len(sorted))+0.5) - 1
	return sorted[min(max(i, 0), len(sorted)-1)]
}

func (g *globalOpts) print(w io.Writer, r result) error {
	if g.asJSON {
		return json.NewEncoder(w).Encode(r)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tOPS\tFAILED\tELAPSED\tOPS/S\tP50\tP95\tP99\tMAX")
	fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%.0f\t%s\t%s\t%s\t%s\n",
		r.Name, r.Ops, r.Failures, r.Elapsed.Round(time.Millisecond), r.PerSec,
		r.P50.Round(time.Microsecond), r.P95.Round(time.Microsecond),
		r.P99.Round(time.Microsecond), r.Max.Round(time.Microsecond))
	return tw.Flush()
}

// openRedis connects to addr, or to an embedded miniredis when addr is
// empty.
func openRedis(log io.Writer, addr string) (redis.UniversalClient, func(), error) {
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Fprintf(log, "redis: %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Fprintf(log, "redis: embedded miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}
