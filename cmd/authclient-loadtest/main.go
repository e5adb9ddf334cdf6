// Command authclient-loadtest measures sign-in and session-restore throughput of the
// client against an in-process fake backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authclient"
	"github.com/MrEthical07/authclient/authtest"
	"github.com/MrEthical07/authclient/credential"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type account struct {
	email    string
	password string
	ns       string
}

func main() {
	var (
		users       = flag.Int("users", 200, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 32, "number of concurrent workers")
		ops         = flag.Int("ops", 2000, "operations per phase (login + restore)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "lt", "credential namespace prefix")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		rdb     redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = rdb.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = rdb.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	backend := authtest.NewServer()
	defer backend.Close()

	accounts := make([]account, *users)
	startSeed := time.Now()
	for i := range accounts {
		accounts[i] = account{
			email:    fmt.Sprintf("user%d@loadtest.local", i),
			password: fmt.Sprintf("pw-%d", i),
			ns:       fmt.Sprintf("%s-%d", *prefix, i),
		}
		backend.AddUser(authtest.Account{Email: accounts[i].email, Password: accounts[i].password, Name: fmt.Sprintf("user%d", i)})
	}
	fmt.Printf("seeded %d accounts in %s\n", *users, time.Since(startSeed).Round(time.Millisecond))

	loginStats := runPhase(ctx, *ops, *concurrency, func(ctx context.Context, i int) error {
		acc := accounts[i%len(accounts)]
		client, err := newClient(backend.URL(), rdb, acc.ns)
		if err != nil {
			return err
		}
		defer client.Close()
		_, err = client.Login(ctx, acc.email, acc.password)
		return err
	})

	restoreStats := runPhase(ctx, *ops, *concurrency, func(ctx context.Context, i int) error {
		acc := accounts[i%len(accounts)]
		client, err := newClient(backend.URL(), rdb, acc.ns)
		if err != nil {
			return err
		}
		defer client.Close()
		if err := client.Initialize(ctx); err != nil {
			return err
		}
		if !client.Authenticated() {
			return authclient.ErrNotAuthenticated
		}
		return nil
	})

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("restore", restoreStats)
}

func newClient(baseURL string, rdb redis.UniversalClient, ns string) (*authclient.Client, error) {
	repo, err := credential.NewRedis(rdb, ns)
	if err != nil {
		return nil, err
	}
	return authclient.New().
		WithBaseURL(baseURL).
		WithRepository(repo).
		WithMetricsEnabled(false).
		Build()
}

func runPhase(ctx context.Context, ops, concurrency int, op func(context.Context, int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(ctx, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
