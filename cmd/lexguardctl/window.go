package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/MrEthical07/lexguard/ratelimit/redisstore"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func newWindowCmd() *cobra.Command {
	var (
		addr   string
		prefix string
		window time.Duration
		limit  int
		reset  bool
	)
	cmd := &cobra.Command{
		Use:   "window IDENTIFIER",
		Short: "Show the requests recorded in a Redis-backed rate window",
		Long: `Reads the sorted set behind IDENTIFIER without recording anything.
Identifiers are namespaced by policy, for example "api:user:<id>",
"signin:ip:<addr>" or "signin:<email>".`,
		Example: `  lexguardctl window api:ip:203.0.113.7 --window 1m --limit 100`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := redis.NewClient(&redis.Options{Addr: addr})
			defer client.Close()
			store := redisstore.New(client, prefix)
			if reset {
				if err := store.Reset(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", args[0])
				return nil
			}
			return printWindow(cmd.Context(), cmd, store, args[0], window, limit, time.Now())
		},
	}
	cmd.Flags().StringVar(&addr, "redis", envOr("REDIS_ADDR", "localhost:6379"), "Redis address")
	cmd.Flags().StringVar(&prefix, "prefix", "lg:rl", "rate-limit key prefix")
	cmd.Flags().DurationVar(&window, "window", time.Minute, "window length")
	cmd.Flags().IntVar(&limit, "limit", 100, "limit, for the remaining count")
	cmd.Flags().BoolVar(&reset, "reset", false, "delete the window instead of printing it")
	return cmd
}

func printWindow(ctx context.Context, cmd *cobra.Command, store *redisstore.Store, id string, window time.Duration, limit int, now time.Time) error {
	if ctx == nil {
		ctx = context.Background()
	}
	entries, err := store.Entries(ctx, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	cut := now.Add(-window)
	live := 0
	for _, ts := range entries {
		state := "expired"
		if ts.After(cut) {
			state = "live"
			live++
		}
		fmt.Fprintf(out, "%s\t%s\t-%s\n", ts.UTC().Format(time.RFC3339Nano), state, now.Sub(ts).Round(time.Millisecond))
	}
	fmt.Fprintf(out, "%s: %d in window, %d remaining of %d\n", id, live, max(limit-live, 0), limit)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
