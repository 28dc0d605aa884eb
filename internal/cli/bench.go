package cli

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync/atomic"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/shmcache/pkg/shmcache"
)

// benchCounters implements shmcache.Metrics for the bench workers.
type benchCounters struct {
	hits, misses, evictions, resets atomic.Int64
}

func (b *benchCounters) Hit()            { b.hits.Add(1) }
func (b *benchCounters) Miss()           { b.misses.Add(1) }
func (b *benchCounters) Evict()          { b.evictions.Add(1) }
func (b *benchCounters) Reset()          { b.resets.Add(1) }
func (b *benchCounters) Size(int, int64) {}

type benchOptions struct {
	workers   int
	ops       int
	keys      uint64
	readPct   int
	valueSize int
	zipfS     float64
	seed      uint64
}

// BenchCmd returns the bench command.
func BenchCmd(sess *session) *Command {
	flags := flag.NewFlagSet("bench", flag.ContinueOnError)

	var opts benchOptions

	flags.IntVar(&opts.workers, "workers", 4, "Worker goroutines, each with its own handle")
	flags.IntVar(&opts.ops, "ops", 10000, "Operations per worker")
	flags.Uint64Var(&opts.keys, "keys", 1000, "Keyspace size")
	flags.IntVar(&opts.readPct, "reads", 80, "Read percentage [0..100]")
	flags.IntVar(&opts.valueSize, "value-size", 64, "Value size in bytes")
	flags.Float64Var(&opts.zipfS, "zipf-s", 1.1, "Zipf skew (> 1)")
	flags.Uint64Var(&opts.seed, "seed", 1, "Random seed")

	return &Command{
		Flags: flags,
		Usage: "bench [flags]",
		Short: "Run a read/write workload against the cache",
		Long: "Run a Zipf-distributed get/set workload from several handles at once\n" +
			"and report throughput and hit rate. Writes real entries to the cache.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := argsExactly(args, 0, "bench [flags]"); err != nil {
				return err
			}

			return execBench(ctx, o, sess, opts)
		},
	}
}

func execBench(ctx context.Context, o *IO, sess *session, opts benchOptions) error {
	if opts.workers < 1 || opts.ops < 1 || opts.keys < 1 {
		return fmt.Errorf("%w: --workers, --ops and --keys must be positive", ErrUsage)
	}

	if opts.readPct < 0 || opts.readPct > 100 || opts.zipfS <= 1 || opts.valueSize < 0 {
		return fmt.Errorf("%w: need 0 <= --reads <= 100, --zipf-s > 1 and --value-size >= 0", ErrUsage)
	}

	counters := &benchCounters{}
	value := make([]byte, opts.valueSize)

	var reads, writes atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()

	for w := range opts.workers {
		g.Go(func() error {
			c, err := shmcache.Open(sess.cfg.Options(sess.logger, counters))
			if err != nil {
				return err
			}

			// Each worker gets its own RNG; rand.Rand is not goroutine-safe.
			r := rand.New(rand.NewPCG(opts.seed, uint64(w)))
			zipf := rand.NewZipf(r, opts.zipfS, 1, opts.keys-1)
			buf := make([]byte, 0, opts.valueSize)

			for i := range opts.ops {
				if i%256 == 0 && gctx.Err() != nil {
					break
				}

				key := "bench:" + strconv.FormatUint(zipf.Uint64(), 10)

				if r.IntN(100) < opts.readPct {
					reads.Add(1)

					_, _, err = c.GetInto(key, buf)
				} else {
					writes.Add(1)

					err = c.Set(key, value)
				}

				if err != nil {
					return errors.Join(err, c.Close())
				}
			}

			return c.Close()
		})
	}

	err := g.Wait()
	elapsed := time.Since(start)

	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		o.Note("interrupted; results cover the operations completed so far")
	}

	total := reads.Load() + writes.Load()
	hits, misses := counters.hits.Load(), counters.misses.Load()

	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses) * 100
	}

	o.Printf("workers=%d keys=%d reads=%d%% value_size=%d seed=%d\n",
		opts.workers, opts.keys, opts.readPct, opts.valueSize, opts.seed)
	o.Printf("ops=%d (%.0f ops/s) elapsed=%v\n", total, float64(total)/elapsed.Seconds(), elapsed.Round(time.Millisecond))
	o.Printf("gets=%d sets=%d\n", reads.Load(), writes.Load())
	o.Printf("hits=%d misses=%d hit_rate=%.2f%%\n", hits, misses, hitRate)
	o.Printf("evictions=%d resets=%d\n", counters.evictions.Load(), counters.resets.Load())

	return nil
}
