// Command bench runs a synthetic workload against a two-index cache and exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/agebag/cache"
	pmet "github.com/IvanBrykalov/agebag/metrics/prom"
)

// contract is the benchmark payload, reachable by numeric id and by symbol.
type contract struct {
	ID     uint64
	Symbol string
}

func symbolOf(id uint64) string { return "SYM" + strconv.FormatUint(id, 10) }

func main() {
	// ---- Flags (override the config file) ----
	var (
		cfgPath  = flag.String("config", "", "YAML config file")
		capacity = flag.Int("cap", 0, "cache capacity (entries); 0 = config")
		workers  = flag.Int("workers", 0, "worker goroutines; 0 = config or 2*GOMAXPROCS")
		duration = flag.Duration("duration", 0, "benchmark duration; 0 = config")
		readPct  = flag.Int("reads", -1, "read percentage [0..100]; -1 = config")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	)
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *capacity > 0 {
		cfg.Cache.Capacity = *capacity
	}
	if *workers > 0 {
		cfg.Workload.Workers = *workers
	}
	if *duration > 0 {
		cfg.Workload.Duration = duration.String()
	}
	if *readPct >= 0 {
		cfg.Workload.Reads = *readPct
	}
	if cfg.Workload.Workers <= 0 {
		cfg.Workload.Workers = 2 * runtime.GOMAXPROCS(0)
	}

	logger := cfg.newLogger()
	d, err := cfg.durations()
	if err != nil {
		level.Error(logger).Log("msg", "bad config", "err", err)
		os.Exit(2)
	}

	// ---- pprof server (on DefaultServeMux) ----
	if cfg.Metrics.Pprof != "" {
		go serve(logger, "pprof", cfg.Metrics.Pprof)
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := pmet.New(nil, "agebag", "bench", nil)
	if cfg.Metrics.Listen != "" {
		http.Handle("/metrics", promhttp.Handler())
		go serve(logger, "metrics", cfg.Metrics.Listen)
	}

	// ---- Build cache ----
	c := cache.New(cache.Options[contract]{
		Capacity:         cfg.Cache.Capacity,
		MinAge:           d.minAge,
		MaxAge:           d.maxAge,
		LockTimeout:      d.lockTimeout,
		ValidateInterval: d.validate,
		CoalesceLoads:    cfg.Cache.CoalesceLoads,
		Metrics:          metrics,
		Logger:           log.With(logger, "component", "cache"),
	})

	loadCost := d.loadCost
	byID, err := cache.AddIndex(c, "id", func(ct *contract) uint64 { return ct.ID },
		func(ctx context.Context, id uint64) (*contract, error) {
			if loadCost > 0 {
				select {
				case <-time.After(loadCost):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return &contract{ID: id, Symbol: symbolOf(id)}, nil
		})
	if err != nil {
		level.Error(logger).Log("msg", "add index", "err", err)
		os.Exit(1)
	}
	bySymbol, err := cache.AddIndex(c, "symbol", func(ct *contract) string { return ct.Symbol }, nil)
	if err != nil {
		level.Error(logger).Log("msg", "add index", "err", err)
		os.Exit(1)
	}

	// ---- Load generation ----
	var reads, writes, hits, symHits, total atomic.Uint64
	ctx, cancel := context.WithTimeout(context.Background(), d.run)
	defer cancel()

	keysMax := uint64(max(cfg.Workload.Keys-1, 1))
	readPctVal := cfg.Workload.Reads

	level.Info(logger).Log("msg", "bench start", "cap", cfg.Cache.Capacity, "workers", cfg.Workload.Workers,
		"keys", cfg.Workload.Keys, "duration", d.run, "seed", *seed)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Workload.Workers; w++ {
		id := int64(w)
		g.Go(func() error {
			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			r := rand.New(rand.NewSource(*seed + id*9973))
			zipf := rand.NewZipf(r, cfg.Workload.ZipfS, 1, keysMax)

			for gctx.Err() == nil {
				total.Add(1)
				key := zipf.Uint64()
				if int(r.Int31n(100)) < readPctVal {
					reads.Add(1)
					_, ok, err := byID.Get(gctx, key)
					switch {
					case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
						return nil
					case err != nil:
						return err
					case ok:
						hits.Add(1)
					}
					if ok, _ := bySymbol.Contains(symbolOf(key)); ok {
						symHits.Add(1)
					}
				} else {
					writes.Add(1)
					if err := c.AddItem(&contract{ID: key, Symbol: symbolOf(key)}); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		level.Error(logger).Log("msg", "worker failed", "err", err)
	}
	elapsed := time.Since(start)

	// ---- Report ----
	ops, readsN, hitsN := total.Load(), reads.Load(), hits.Load()
	hitRate := 0.0
	if readsN > 0 {
		hitRate = float64(hitsN) / float64(readsN) * 100
	}
	st := c.Stats()

	fmt.Printf("cap=%d workers=%d keys=%d dur=%v seed=%d\n",
		cfg.Cache.Capacity, cfg.Workload.Workers, cfg.Workload.Keys, elapsed, *seed)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d\n",
		ops, float64(ops)/elapsed.Seconds(), readsN, writes.Load())
	fmt.Printf("id-hits=%d  hit-rate=%.2f%%  symbol-hits=%d\n", hitsN, hitRate, symHits.Load())
	fmt.Printf("live=%d total=%d indexes=%v\n", st.Live, st.Total, st.Indexes)
}

func serve(logger log.Logger, what, addr string) {
	level.Info(logger).Log("msg", "serving", "what", what, "addr", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		level.Error(logger).Log("msg", "serve failed", "what", what, "err", err)
	}
}
